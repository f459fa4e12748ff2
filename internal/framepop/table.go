// Package framepop implements one-shot frame-pop notifications. The table is consulted on
// every frame unwind instead of rewriting return addresses, so it stays correct when an
// exception unwinds frames.
package framepop

import (
	"github.com/vmti/internal/lock"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// Key identifies an active frame.
type Key struct {
	Thread vm.ThreadID
	Frame  vm.FrameID
}

// Slots is a bitmask of the observer slots that requested a notification for a frame.
type Slots uint32

// Has reports whether slot is in the mask.
func (s Slots) Has(slot int) bool {
	return s&(1<<uint(slot)) != 0
}

// Table holds the frames whose unwinding must be reported, and for each frame the
// observers that asked. Every method requires the subsystem lock.
type Table struct {
	lock    *lock.Lock
	entries map[Key]Slots
}

// NewTable creates an empty frame-pop table.
func NewTable(l *lock.Lock) *Table {
	return &Table{lock: l, entries: make(map[Key]Slots)}
}

// Register requests, on behalf of the observer in slot, a notification when the frame at
// depth (0 is innermost) of frames unwinds. The outermost frame has no caller to pop into
// and native frames cannot be inspected; both are opaque.
func (t *Table) Register(g *lock.Guard, slot int, thread vm.ThreadID, frames []vm.Frame, depth int) (vm.FrameID, error) {
	g.Check(t.lock)
	if depth < 0 {
		return 0, apperrors.Newf(apperrors.CodeIllegalArgument, "negative depth %d", depth)
	}
	if depth >= len(frames) {
		return 0, apperrors.Newf(apperrors.CodeNoMoreFrames, "depth %d, %d frames", depth, len(frames))
	}
	f := frames[depth]
	if depth == len(frames)-1 || f.Method == nil || f.Method.Native {
		return 0, apperrors.Newf(apperrors.CodeOpaqueFrame, "frame at depth %d", depth)
	}
	key := Key{Thread: thread, Frame: f.ID}
	if t.entries[key].Has(slot) {
		return 0, apperrors.Newf(apperrors.CodeDuplicate, "frame pop already requested at depth %d", depth)
	}
	t.entries[key] |= 1 << uint(slot)
	return f.ID, nil
}

// ConsumeIfPresent is called once per unwinding frame. It removes the request and returns
// the slots that made it.
func (t *Table) ConsumeIfPresent(g *lock.Guard, thread vm.ThreadID, frame vm.FrameID) (Slots, bool) {
	g.Check(t.lock)
	key := Key{Thread: thread, Frame: frame}
	slots, ok := t.entries[key]
	if !ok {
		return 0, false
	}
	delete(t.entries, key)
	return slots, true
}

// ClearThread drops every request of a terminated thread.
func (t *Table) ClearThread(g *lock.Guard, thread vm.ThreadID) {
	g.Check(t.lock)
	for key := range t.entries {
		if key.Thread == thread {
			delete(t.entries, key)
		}
	}
}

// ClearSlot drops the requests of a detached observer.
func (t *Table) ClearSlot(g *lock.Guard, slot int) {
	g.Check(t.lock)
	for key, slots := range t.entries {
		if slots &^= 1 << uint(slot); slots == 0 {
			delete(t.entries, key)
		} else {
			t.entries[key] = slots
		}
	}
}

// Clear drops every request.
func (t *Table) Clear(g *lock.Guard) {
	g.Check(t.lock)
	clear(t.entries)
}

// Len returns the number of frames with an outstanding request.
func (t *Table) Len(g *lock.Guard) int {
	g.Check(t.lock)
	return len(t.entries)
}
