// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package monitoring

import (
	"sync"
	"time"
)

// Scheduler arms repeating tasks. The returned cancel stops future runs,
// does not wait for a run in progress and is safe to call more than once.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler runs tasks on time.Ticker goroutines.
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// ManualScheduler only runs tasks when told to. It is meant for tests and
// for driving the orchestrator step by step.
type ManualScheduler struct {
	mu    sync.Mutex
	next  int
	tasks map[int]manualTask
}

type manualTask struct {
	interval time.Duration
	fn       func()
}

// NewManualScheduler creates an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]manualTask)}
}

// Every implements Scheduler.
func (m *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.tasks[id] = manualTask{interval: interval, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
	}
}

// Fire runs every armed task with the given interval once and returns how
// many ran.
func (m *ManualScheduler) Fire(interval time.Duration) int {
	m.mu.Lock()
	var fns []func()
	for id := 0; id < m.next; id++ {
		if t, ok := m.tasks[id]; ok && t.interval == interval {
			fns = append(fns, t.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Active counts armed tasks with the given interval.
func (m *ManualScheduler) Active(interval time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.interval == interval {
			n++
		}
	}
	return n
}
