// Package thread implements the registry of per-thread records the tool interface keeps
// for every runtime thread it has seen start.
package thread

import (
	"sync/atomic"

	"github.com/vmti/internal/lock"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// MaxEnvs is the number of observer slots each record carries event bits for.
const MaxEnvs = 8

// PendingKind is the kind of frame operation waiting for the interpreter.
type PendingKind int

const (
	PendingNone PendingKind = iota
	PendingPopFrame
	PendingEarlyReturn
)

// Pending is a pop-frame or early-return request recorded on a suspended thread and
// consumed once by the interpreter when the thread resumes.
type Pending struct {
	Kind  PendingKind
	Frame vm.FrameID
	Value vm.Value

	ref vm.StrongRef
}

// Record is the per-thread state. Handle fields are mutated only under the subsystem lock;
// event bits are read lock-free.
type Record struct {
	ID vm.ThreadID

	thread    vm.StrongRef
	exception vm.StrongRef
	events    [MaxEnvs]atomic.Uint64
	pending   Pending

	// StartPosted is set once a thread-start notification went out for this thread.
	StartPosted bool
}

// Object returns the thread's language-level object.
func (r *Record) Object() vm.ObjectID {
	return r.thread.Object()
}

// EventBits returns the thread-filtered event bits of the observer in slot.
func (r *Record) EventBits(slot int) uint64 {
	return r.events[slot].Load()
}

// SetEventBits overwrites the event bits of the observer in slot.
func (r *Record) SetEventBits(slot int, bits uint64) {
	r.events[slot].Store(bits)
}

// EnableEvent sets or clears a single event bit for slot.
func (r *Record) EnableEvent(slot int, bit uint, on bool) {
	if on {
		r.events[slot].Or(1 << bit)
	} else {
		r.events[slot].And(^(uint64(1) << bit))
	}
}

// LastException returns the last exception detected on the thread, or vm.Null.
func (r *Record) LastException(g *lock.Guard) vm.ObjectID {
	return r.exception.Object()
}

// SetLastException replaces the last-exception slot. On allocation failure the old value
// is kept.
func (r *Record) SetLastException(g *lock.Guard, h vm.Handles, exc vm.ObjectID) error {
	ref, err := h.NewStrongRef(exc)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeOutOfMemory, "last exception handle", err)
	}
	r.exception.Release()
	r.exception = ref
	return nil
}

// SetPending records a frame operation. ref, if non-nil, keeps a reference return value
// alive and is released when the operation is taken or the thread ends.
func (r *Record) SetPending(g *lock.Guard, p Pending, ref vm.StrongRef) {
	r.clearPending()
	p.ref = ref
	r.pending = p
}

// TakePending returns and clears the waiting frame operation.
func (r *Record) TakePending(g *lock.Guard) (Pending, bool) {
	p := r.pending
	if p.Kind == PendingNone {
		return p, false
	}
	r.clearPending()
	return p, true
}

func (r *Record) clearPending() {
	if r.pending.ref != nil {
		r.pending.ref.Release()
	}
	r.pending = Pending{}
}

func (r *Record) release() {
	r.clearPending()
	r.exception.Release()
	r.thread.Release()
}

// Registry maps thread identities to records. Every method requires the subsystem lock.
type Registry struct {
	lock    *lock.Lock
	handles vm.Handles
	records map[vm.ThreadID]*Record
	order   []*Record
}

// NewRegistry creates an empty registry guarded by l.
func NewRegistry(l *lock.Lock, h vm.Handles) *Registry {
	return &Registry{
		lock:    l,
		handles: h,
		records: make(map[vm.ThreadID]*Record),
	}
}

// Find returns the record of id.
func (r *Registry) Find(g *lock.Guard, id vm.ThreadID) (*Record, bool) {
	g.Check(r.lock)
	rec, ok := r.records[id]
	return rec, ok
}

// Insert returns the record of id, creating it if needed. Handle allocation never collects
// but may fail, in which case nothing is registered.
func (r *Registry) Insert(g *lock.Guard, id vm.ThreadID, threadObj vm.ObjectID) (*Record, error) {
	g.Check(r.lock)
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}

	threadRef, err := r.handles.NewStrongRef(threadObj)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeOutOfMemory, "thread handle", err)
	}
	excRef, err := r.handles.NewStrongRef(vm.Null)
	if err != nil {
		threadRef.Release()
		return nil, apperrors.Wrap(apperrors.CodeOutOfMemory, "exception handle", err)
	}

	rec := &Record{ID: id, thread: threadRef, exception: excRef}
	r.records[id] = rec
	r.order = append(r.order, rec)
	return rec, nil
}

// Remove destroys the record of id and releases its handles. It returns false when id was
// never registered.
func (r *Registry) Remove(g *lock.Guard, id vm.ThreadID) bool {
	g.Check(r.lock)
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	delete(r.records, id)
	for i, o := range r.order {
		if o == rec {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	rec.release()
	return true
}

// Each calls fn for every record in registration order until fn returns false.
func (r *Registry) Each(g *lock.Guard, fn func(*Record) bool) {
	g.Check(r.lock)
	for _, rec := range r.order {
		if !fn(rec) {
			return
		}
	}
}

// Len returns the number of registered threads.
func (r *Registry) Len(g *lock.Guard) int {
	g.Check(r.lock)
	return len(r.order)
}
