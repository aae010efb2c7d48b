// Package sync orchestrates offline synchronization with the FieldCheck
// backend.
package sync

import (
	"sync"

	"github.com/fieldcheck/backend/internal/models"
)

// ProgressFunc receives coarse phase-boundary progress notifications.
// Percent is a 0-100 estimate.
type ProgressFunc func(phase string, percent int)

// ErrorFunc receives non-fatal phase failures as they happen.
type ErrorFunc func(err error)

// ConflictFunc receives the conflicts detected by an upload batch.
type ConflictFunc func(conflicts []models.SyncConflict)

// observers fans events out to registered callbacks in registration
// order, synchronously. Callbacks must not block; heavy work belongs on
// the caller's side of a channel.
type observers struct {
	mu         sync.RWMutex
	onProgress []ProgressFunc
	onError    []ErrorFunc
	onConflict []ConflictFunc
}

func (o *observers) addProgress(fn ProgressFunc) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.onProgress = append(o.onProgress, fn)
	o.mu.Unlock()
}

func (o *observers) addError(fn ErrorFunc) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.onError = append(o.onError, fn)
	o.mu.Unlock()
}

func (o *observers) addConflict(fn ConflictFunc) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.onConflict = append(o.onConflict, fn)
	o.mu.Unlock()
}

func (o *observers) emitProgress(phase string, percent int) {
	o.mu.RLock()
	fns := o.onProgress
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(phase, percent)
	}
}

func (o *observers) emitError(err error) {
	o.mu.RLock()
	fns := o.onError
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (o *observers) emitConflict(conflicts []models.SyncConflict) {
	if len(conflicts) == 0 {
		return
	}
	o.mu.RLock()
	fns := o.onConflict
	o.mu.RUnlock()
	for _, fn := range fns {
		fn(conflicts)
	}
}
