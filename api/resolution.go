// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import "time"

// resolutionSteps maps inclusive span upper bounds to bucket sizes.
var resolutionSteps = []struct {
	maxSpan    time.Duration
	resolution string
}{
	{6 * time.Hour, "1m"},
	{24 * time.Hour, "5m"},
	{168 * time.Hour, "30m"},
	{720 * time.Hour, "1h"},
}

// ResolutionForSpan picks the bucketing resolution for a requested span.
// Boundaries resolve to the finer bucket, so exactly 6h is "1m".
func ResolutionForSpan(span time.Duration) string {
	for _, step := range resolutionSteps {
		if span <= step.maxSpan {
			return step.resolution
		}
	}
	return "3h"
}
