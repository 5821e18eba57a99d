// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package monitoring provides the refresh orchestrator: polling, the
// countdown, visibility-driven pause and resume, and the fan-out of a
// refresh cycle into current conditions, chart data and plugin refresh.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/controls"
	"github.com/soothill/tempest-dashboard/pkg/interfaces"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/pkg/metrics"
	"github.com/soothill/tempest-dashboard/state"
)

// Connection states shown by the status indicator.
const (
	StatusOnline  = "online"
	StatusStale   = "stale"
	StatusOffline = "offline"
)

// Refresh triggers, used as the trigger label on cycle metrics.
const (
	TriggerTick       = "tick"
	TriggerVisibility = "visibility"
	TriggerStation    = "station"
	TriggerUnits      = "units"
	TriggerManual     = "manual"
)

const (
	countdownInterval = time.Second
	notifyTimeout     = 10 * time.Second
)

// Options configures an Orchestrator.
type Options struct {
	PollInterval time.Duration
	Scheduler    Scheduler
	Notifier     interfaces.StatusNotifier
}

// Snapshot is a point-in-time view of the orchestrator.
type Snapshot struct {
	Status       string         `json:"status"`
	Label        string         `json:"label"`
	LastUpdated  time.Time      `json:"last_updated"`
	Countdown    int            `json:"countdown"`
	Polling      bool           `json:"polling"`
	Hidden       bool           `json:"hidden"`
	PollInterval string         `json:"poll_interval"`
	LastCycle    string         `json:"last_cycle"`
	Server       string         `json:"server"`
	State        map[string]any `json:"state"`
}

// Orchestrator owns the polling timer, the countdown and refresh cycles.
//
// A cycle that starts before the previous one settles is not cancelled;
// whichever fetch completes last wins. Each cycle gets an id for logs and
// overlapping cycles are counted in RefreshCycleOverlaps.
type Orchestrator struct {
	store    *state.Store
	client   interfaces.TelemetryClient
	controls *controls.Controls
	renderer interfaces.Renderer
	notifier interfaces.StatusNotifier
	sched    Scheduler
	log      zerolog.Logger

	mu              sync.Mutex
	plugins         interfaces.PluginRefresher
	pollInterval    time.Duration
	pollCtx         context.Context
	cancelPoll      func()
	cancelCountdown func()
	hidden          bool
	countdown       int
	status          string
	label           string
	alerted         bool
	server          string
	lastUpdated     time.Time
	lastCycle       string
	inFlight        int
	selfWrites      map[int64]string // endTime (unix nanos) -> cycle id

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. It does nothing until
// Subscribe, Refresh or StartPolling is called.
func NewOrchestrator(store *state.Store, client interfaces.TelemetryClient, ctl *controls.Controls, renderer interfaces.Renderer, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler{}
	}
	return &Orchestrator{
		store:        store,
		client:       client,
		controls:     ctl,
		renderer:     renderer,
		notifier:     opts.Notifier,
		sched:        opts.Scheduler,
		log:          logger.Component("orchestrator"),
		pollInterval: opts.PollInterval,
		selfWrites:   make(map[int64]string),
	}
}

// SetPlugins attaches the plugin runtime whose hooks run every cycle.
func (o *Orchestrator) SetPlugins(p interfaces.PluginRefresher) {
	o.mu.Lock()
	o.plugins = p
	o.mu.Unlock()
}

// SetServer records the server origin used in alerts.
func (o *Orchestrator) SetServer(origin string) {
	o.mu.Lock()
	o.server = origin
	o.mu.Unlock()
}

// Subscribe wires the store reactions: a station change or a unit change
// refetches everything, and an endTime change not caused by the
// orchestrator itself refetches chart data and plugins. Reactions run on
// tracked goroutines under ctx.
func (o *Orchestrator) Subscribe(ctx context.Context) (unsubscribe func()) {
	unsubs := []func(){
		state.On(o.store, state.StationID, func(int) {
			o.renderer.ShowLoading()
			o.renderer.ResetZoom()
			o.goTracked(func() { o.refresh(ctx, TriggerStation) })
		}),
		state.On(o.store, state.Units, func(state.UnitSystem) {
			o.renderer.ShowLoading()
			o.goTracked(func() { o.refresh(ctx, TriggerUnits) })
		}),
		state.On(o.store, state.EndTime, func(end time.Time) {
			if id, ok := o.consumeSelfWrite(end); ok {
				o.log.Debug().Str("cycle", id).Msg("Skipping self-written endTime")
				return
			}
			o.renderer.ResetZoom()
			o.goTracked(func() {
				o.FetchChartData(ctx)
				o.refreshPlugins(ctx)
			})
		}),
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}

// Refresh runs one full cycle and blocks until every sub-operation settles.
func (o *Orchestrator) Refresh(ctx context.Context) {
	o.refresh(ctx, TriggerManual)
}

func (o *Orchestrator) refresh(ctx context.Context, trigger string) {
	id := uuid.NewString()
	start := time.Now()
	log := o.log.With().Str("cycle", id).Str("trigger", trigger).Logger()

	o.mu.Lock()
	o.inFlight++
	overlap := o.inFlight > 1
	o.lastCycle = id
	o.mu.Unlock()
	if overlap {
		metrics.RefreshCycleOverlaps.Inc()
		log.Debug().Msg("Refresh cycle overlaps a cycle in flight")
	}
	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	o.refreshTimeRange(id)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_ = o.FetchCurrentConditions(ctx)
	}()
	go func() {
		defer wg.Done()
		o.FetchChartData(ctx)
	}()
	go func() {
		defer wg.Done()
		o.refreshPlugins(ctx)
	}()
	wg.Wait()

	o.updateLastUpdated()
	o.startCountdown()

	metrics.RefreshCyclesTotal.WithLabelValues(trigger).Inc()
	metrics.RefreshCycleDuration.Observe(time.Since(start).Seconds())
	log.Debug().Dur("duration", time.Since(start)).Msg("Refresh cycle settled")
}

// refreshTimeRange moves a live window forward. The endTime write is
// registered as a self-write so the endTime reaction skips it; leftover
// registrations are dropped before the fetches start.
func (o *Orchestrator) refreshTimeRange(cycle string) {
	start, end, ok := o.controls.NextWindow()
	if ok {
		o.mu.Lock()
		o.selfWrites[end.UnixNano()] = cycle
		o.mu.Unlock()
		o.controls.ApplyWindow(start, end)
	}

	o.mu.Lock()
	for k, id := range o.selfWrites {
		if id == cycle {
			delete(o.selfWrites, k)
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) consumeSelfWrite(end time.Time) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := end.UnixNano()
	id, ok := o.selfWrites[key]
	if ok {
		delete(o.selfWrites, key)
	}
	return id, ok
}

// FetchCurrentConditions fetches the latest observation. On failure the
// last observation stays displayed and the status becomes stale, or
// offline when nothing was ever fetched.
func (o *Orchestrator) FetchCurrentConditions(ctx context.Context) error {
	stationID, ok := state.Get(o.store, state.StationID)
	if !ok || stationID == 0 {
		return nil
	}
	units := state.GetOr(o.store, state.Units, state.Metric)

	obs, err := o.client.GetCurrentObservation(ctx, stationID, string(units))
	if err != nil {
		metrics.FetchErrors.WithLabelValues("current").Inc()
		o.log.Error().Err(err).Int("station_id", stationID).Msg("Failed to fetch current conditions")
		if prev, _ := state.Get(o.store, state.CurrentObservation); prev != nil {
			o.SetStatus(StatusStale, "Cached", err)
		} else {
			o.SetStatus(StatusOffline, "Error", err)
		}
		return err
	}

	state.Set(o.store, state.CurrentObservation, obs)
	o.renderer.RenderCurrent(obs)
	o.SetStatus(StatusOnline, "Connected", nil)
	return nil
}

// FetchChartData fetches the series for the current window. Failures are
// logged and the charts keep their previous data.
func (o *Orchestrator) FetchChartData(ctx context.Context) {
	stationID, ok := state.Get(o.store, state.StationID)
	if !ok || stationID == 0 {
		return
	}
	start, okStart := state.Get(o.store, state.StartTime)
	end, okEnd := state.Get(o.store, state.EndTime)
	if !okStart || !okEnd || start.IsZero() || end.IsZero() {
		return
	}
	units := state.GetOr(o.store, state.Units, state.Metric)

	series, err := o.client.GetObservations(ctx, stationID, start, end, api.ObservationOptions{Units: string(units)})
	if err != nil {
		metrics.FetchErrors.WithLabelValues("chart").Inc()
		o.log.Error().Err(err).Int("station_id", stationID).Msg("Failed to fetch chart data")
		return
	}
	if series != nil && series.Observations != nil {
		o.renderer.UpdateCharts(series.Observations)
	}
}

func (o *Orchestrator) refreshPlugins(ctx context.Context) {
	o.mu.Lock()
	p := o.plugins
	o.mu.Unlock()
	if p == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("panic", fmt.Sprint(r)).Msg("Plugin refresh escaped its boundary")
		}
	}()
	p.RefreshAll(ctx)
}

// StartPolling arms the poll timer and the countdown, replacing any timers
// already armed. In preset mode a tick runs a full cycle; in custom mode it
// only refetches current conditions. Nothing is armed while hidden.
func (o *Orchestrator) StartPolling(ctx context.Context) {
	o.mu.Lock()
	// cancel and re-arm under one lock
	if o.cancelPoll != nil {
		o.cancelPoll()
		o.cancelPoll = nil
	}
	if o.cancelCountdown != nil {
		o.cancelCountdown()
		o.cancelCountdown = nil
	}
	if o.hidden {
		o.mu.Unlock()
		o.log.Debug().Msg("Not polling while hidden")
		return
	}
	o.pollCtx = ctx
	o.cancelPoll = o.sched.Every(o.pollInterval, func() {
		o.goTracked(func() { o.tick(ctx) })
	})
	interval := o.pollInterval
	o.mu.Unlock()

	o.log.Info().Dur("interval", interval).Msg("Polling started")
	o.startCountdown()
}

func (o *Orchestrator) tick(ctx context.Context) {
	if state.GetOr(o.store, state.TimeRangeType, state.Preset) == state.Preset {
		o.refresh(ctx, TriggerTick)
		return
	}
	_ = o.FetchCurrentConditions(ctx)
	o.updateLastUpdated()
	o.startCountdown()
	metrics.RefreshCyclesTotal.WithLabelValues(TriggerTick).Inc()
}

// StopPolling cancels both timers. It is safe to call when already stopped.
func (o *Orchestrator) StopPolling() {
	o.mu.Lock()
	cancelPoll, cancelCountdown := o.cancelPoll, o.cancelCountdown
	o.cancelPoll, o.cancelCountdown = nil, nil
	o.mu.Unlock()

	if cancelPoll != nil {
		cancelPoll()
		o.log.Debug().Msg("Polling stopped")
	}
	if cancelCountdown != nil {
		cancelCountdown()
	}
}

// SetVisibility pauses polling while hidden. Becoming visible again fires
// an immediate cycle and re-arms the timers.
func (o *Orchestrator) SetVisibility(ctx context.Context, hidden bool) {
	o.mu.Lock()
	changed := o.hidden != hidden
	o.hidden = hidden
	o.mu.Unlock()
	if !changed {
		return
	}

	if hidden {
		o.log.Info().Msg("Hidden, pausing polling")
		o.StopPolling()
		return
	}
	o.log.Info().Msg("Visible, refreshing and resuming polling")
	o.goTracked(func() { o.refresh(ctx, TriggerVisibility) })
	o.StartPolling(ctx)
}

// UpdatePollInterval changes the poll period, re-arming the timer if
// polling is active.
func (o *Orchestrator) UpdatePollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	o.pollInterval = d
	active := o.cancelPoll != nil
	ctx := o.pollCtx
	o.mu.Unlock()

	if active {
		o.StartPolling(ctx)
	}
}

// startCountdown resets the countdown to the poll period and, while
// polling, re-arms the one-second decrement.
func (o *Orchestrator) startCountdown() {
	o.mu.Lock()
	if o.cancelCountdown != nil {
		o.cancelCountdown()
		o.cancelCountdown = nil
	}
	o.countdown = int(o.pollInterval / time.Second)
	seconds := o.countdown
	if o.cancelPoll != nil {
		o.cancelCountdown = o.sched.Every(countdownInterval, o.decrementCountdown)
	}
	o.mu.Unlock()

	o.showCountdown(seconds)
}

func (o *Orchestrator) decrementCountdown() {
	o.mu.Lock()
	o.countdown--
	if o.countdown < 0 {
		o.countdown = 0
	}
	seconds := o.countdown
	o.mu.Unlock()

	o.showCountdown(seconds)
}

func (o *Orchestrator) showCountdown(seconds int) {
	metrics.CountdownSeconds.Set(float64(seconds))
	o.renderer.SetCountdown(seconds)
}

func (o *Orchestrator) updateLastUpdated() {
	now := time.Now()
	o.mu.Lock()
	o.lastUpdated = now
	o.mu.Unlock()
	o.renderer.SetLastUpdated(now)
}

// SetStatus updates the status indicator. Entering offline sends a server
// offline alert; returning online afterwards sends a recovery alert.
func (o *Orchestrator) SetStatus(status, label string, cause error) {
	o.mu.Lock()
	o.status, o.label = status, label
	server := o.server
	var send func(context.Context) error
	switch {
	case status == StatusOffline && !o.alerted:
		o.alerted = true
		send = func(ctx context.Context) error { return o.notifier.SendServerOffline(ctx, server, cause) }
	case status == StatusOnline && o.alerted:
		o.alerted = false
		send = func(ctx context.Context) error { return o.notifier.SendServerRecovery(ctx, server) }
	}
	o.mu.Unlock()

	metrics.SetConnectionStatus(status)
	o.renderer.SetStatus(status, label)

	if send == nil || o.notifier == nil || !o.notifier.IsEnabled() {
		return
	}
	o.goTracked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			o.log.Warn().Err(err).Str("status", status).Msg("Failed to send status notification")
		}
	})
}

// Status returns the current indicator state.
func (o *Orchestrator) Status() (status, label string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status, o.label
}

// Snapshot returns the orchestrator state together with the store contents.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Status:       o.status,
		Label:        o.label,
		LastUpdated:  o.lastUpdated,
		Countdown:    o.countdown,
		Polling:      o.cancelPoll != nil,
		Hidden:       o.hidden,
		PollInterval: o.pollInterval.String(),
		LastCycle:    o.lastCycle,
		Server:       o.server,
	}
	o.mu.Unlock()
	snap.State = o.store.Snapshot()
	return snap
}

// Wait blocks until every tracked goroutine has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) goTracked(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}
