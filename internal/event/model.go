package event

import (
	"sync/atomic"

	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/thread"
	apperrors "github.com/vmti/pkg/errors"
)

// Model is one observer's enablement state. Updates run under the subsystem lock; the
// queries the interpreter runs on every event are lock-free loads.
type Model struct {
	slot int

	global    atomic.Uint64
	callbacks atomic.Pointer[Callbacks]
	callBits  atomic.Uint64
	combined  atomic.Uint64
}

// NewModel creates an empty model for the observer in slot.
func NewModel(slot int) *Model {
	m := &Model{slot: slot}
	m.callbacks.Store(&Callbacks{})
	return m
}

// Slot returns the observer slot used to index per-thread event bits.
func (m *Model) Slot() int {
	return m.slot
}

// Enabled reports whether any thread could receive k for this observer. It is the single
// comparison dispatch runs before any per-thread lookup.
func (m *Model) Enabled(k Kind) bool {
	return m.combined.Load()&k.Bit() != 0
}

// ShouldNotify reports whether k is enabled globally or for rec.
func (m *Model) ShouldNotify(k Kind, rec *thread.Record) bool {
	if m.global.Load()&k.Bit() != 0 {
		return true
	}
	return rec != nil && rec.EventBits(m.slot)&k.Bit() != 0
}

// GlobalEnabled reports whether k is enabled globally.
func (m *Model) GlobalEnabled(k Kind) bool {
	return m.global.Load()&k.Bit() != 0
}

// Callback returns the callback registered for k.
func (m *Model) Callback(k Kind) Callback {
	return (*m.callbacks.Load())[k]
}

// SetEnabled turns k on or off, globally when rec is nil or for one thread otherwise.
func (m *Model) SetEnabled(g *lock.Guard, reg *thread.Registry, k Kind, rec *thread.Record, on bool) error {
	if !k.Valid() {
		return apperrors.Newf(apperrors.CodeInvalidEventKind, "event kind %d", int(k))
	}
	if rec != nil && k.GlobalOnly() {
		return apperrors.Newf(apperrors.CodeIllegalArgument, "%s cannot be filtered by thread", k)
	}

	if rec == nil {
		if on {
			m.global.Or(k.Bit())
		} else {
			m.global.And(^k.Bit())
		}
	} else {
		rec.EnableEvent(m.slot, uint(k), on)
	}
	m.Recompute(g, reg)
	return nil
}

// SetCallbacks replaces the registered callbacks. Nil entries are dropped.
func (m *Model) SetCallbacks(g *lock.Guard, reg *thread.Registry, cbs Callbacks) {
	copied := make(Callbacks, len(cbs))
	var bits uint64
	for k, cb := range cbs {
		if cb == nil || !k.Valid() {
			continue
		}
		copied[k] = cb
		bits |= k.Bit()
	}
	m.callbacks.Store(&copied)
	m.callBits.Store(bits)
	m.Recompute(g, reg)
}

// Recompute refreshes the cached combined mask. Called after any enablement, callback, or
// thread-registry change.
func (m *Model) Recompute(g *lock.Guard, reg *thread.Registry) {
	union := m.global.Load()
	reg.Each(g, func(rec *thread.Record) bool {
		union |= rec.EventBits(m.slot)
		return true
	})
	m.combined.Store(union & m.callBits.Load())
}

// Clear drops every enablement bit of this observer, including per-thread bits.
func (m *Model) Clear(g *lock.Guard, reg *thread.Registry) {
	m.global.Store(0)
	reg.Each(g, func(rec *thread.Record) bool {
		rec.SetEventBits(m.slot, 0)
		return true
	})
	m.SetCallbacks(g, reg, nil)
}
