// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package state implements the dashboard's reactive store.
//
// The store maps key names to values and notifies subscribers synchronously
// on every write, identical values included. Subscribers for a key run in
// registration order on the writer's goroutine with no store lock held, so a
// subscriber that writes another key runs that key's subscribers before the
// outer write returns. The store does not guard against cascades; each
// subscriber owns that.
//
// Declared keys (see keys.go) carry a value type. The generic Get, Set and On
// functions are checked at compile time; GetAny, SetAny and OnAny serve
// plugins that only know key names.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/logger"
)

type listener struct {
	id uint64
	fn func(any)
}

// Store is a key/value map with per-key synchronous subscriptions.
// It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	values    map[string]any
	listeners map[string][]listener
	nextID    uint64
	log       zerolog.Logger
}

// New creates an empty store.
func New() *Store {
	return &Store{
		values:    make(map[string]any),
		listeners: make(map[string][]listener),
		log:       logger.Component("state"),
	}
}

// GetAny returns the value stored under name.
func (s *Store) GetAny(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// SetAny stores v under name and notifies name's subscribers. Values for
// declared keys are coerced to the key's type; a value that cannot be
// coerced is rejected with ErrTypeMismatch and nothing is stored.
func (s *Store) SetAny(name string, v any) error {
	if decl, ok := lookupDecl(name); ok {
		coerced, err := decl.coerce(v)
		if err != nil {
			return apperrors.WrapValidationError(name, v, fmt.Sprintf("expected %s", decl.typeName), apperrors.ErrTypeMismatch)
		}
		v = coerced
	}
	s.set(name, v)
	return nil
}

// OnAny subscribes fn to writes of name. The returned function removes
// exactly this registration and may be called any number of times.
// A registration removed during delivery is not called for that write;
// one added during delivery first sees the next write.
func (s *Store) OnAny(name string, fn func(any)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[name] = append(s.listeners[name], listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(name, id) })
	}
}

// Keys returns the names of all stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of every stored value.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// SubscriberCount returns the number of live registrations for name.
func (s *Store) SubscriberCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[name])
}

func (s *Store) set(name string, v any) {
	s.mu.Lock()
	s.values[name] = v
	ls := make([]listener, len(s.listeners[name]))
	copy(ls, s.listeners[name])
	s.mu.Unlock()

	s.log.Trace().Str("key", name).Int("subscribers", len(ls)).Msg("set")
	for _, l := range ls {
		// an earlier callback may have unsubscribed this one
		if !s.registered(name, l.id) {
			continue
		}
		l.fn(v)
	}
}

func (s *Store) registered(name string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners[name] {
		if l.id == id {
			return true
		}
	}
	return false
}

func (s *Store) remove(name string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.listeners[name]
	for i, l := range ls {
		if l.id == id {
			s.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(s.listeners[name]) == 0 {
		delete(s.listeners, name)
	}
}

// Get returns the value for k and whether a value of k's type is stored.
func Get[T any](s *Store, k Key[T]) (T, bool) {
	v, ok := s.GetAny(k.name)
	if !ok {
		var zero T
		return zero, false
	}
	tv, ok := v.(T)
	return tv, ok
}

// GetOr returns the value for k, or def when none is stored.
func GetOr[T any](s *Store, k Key[T], def T) T {
	if v, ok := Get(s, k); ok {
		return v
	}
	return def
}

// Set stores v under k and notifies k's subscribers.
func Set[T any](s *Store, k Key[T], v T) {
	s.set(k.name, v)
}

// On subscribes fn to writes of k. Writes of a foreign type through the
// untyped API to an undeclared key are not delivered to fn.
func On[T any](s *Store, k Key[T], fn func(T)) (unsubscribe func()) {
	return s.OnAny(k.name, func(v any) {
		tv, ok := v.(T)
		if !ok {
			if v != nil {
				s.log.Debug().Str("key", k.name).Str("type", fmt.Sprintf("%T", v)).Msg("Skipping subscriber for mistyped value")
				return
			}
			var zero T
			tv = zero
		}
		fn(tv)
	})
}
