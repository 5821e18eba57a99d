// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plugins

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/soothill/tempest-dashboard/pkg/logger"
)

//go:embed manifest.schema.json
var manifestSchema []byte

const maxManifestSize = 1 << 20

// Descriptor is one manifest entry.
type Descriptor struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required"`
}

var descriptorValidator = validator.New(validator.WithRequiredStructEnabled())

// FetchManifest downloads and validates the plugin manifest. A document
// that is not a JSON array of objects is an error. Entries without a name
// or url are dropped with a warning; the rest keep manifest order.
func FetchManifest(ctx context.Context, client *http.Client, manifestURL string) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("manifest request returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(body)
}

// ParseManifest validates a manifest document and returns its usable entries.
func ParseManifest(data []byte) ([]Descriptor, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(manifestSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.Field()+": "+e.Description())
		}
		return nil, fmt.Errorf("manifest rejected: %s", strings.Join(msgs, "; "))
	}

	var entries []Descriptor
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	valid := make([]Descriptor, 0, len(entries))
	for i, d := range entries {
		if err := descriptorValidator.Struct(d); err != nil {
			logger.Warn().Int("index", i).Str("name", d.Name).Err(err).Msg("Skipping manifest entry")
			continue
		}
		valid = append(valid, d)
	}
	return valid, nil
}
