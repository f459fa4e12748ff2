package breakpoint

import (
	"sync/atomic"

	"github.com/vmti/internal/lock"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// WatchKind selects the access or the modification table.
type WatchKind int

const (
	WatchAccess WatchKind = iota
	WatchModification
)

func (k WatchKind) String() string {
	if k == WatchAccess {
		return "access"
	}
	return "modification"
}

type watchTable map[vm.FieldID]vm.StrongRef

// Watches holds both field-watch tables and the process-wide "any field watched" flag the
// interpreter tests before looking a field up.
type Watches struct {
	lock    *lock.Lock
	handles vm.Handles
	tables  [2]watchTable
	any     atomic.Bool
}

// NewWatches creates empty watch tables.
func NewWatches(l *lock.Lock, h vm.Handles) *Watches {
	return &Watches{
		lock:    l,
		handles: h,
		tables:  [2]watchTable{make(watchTable), make(watchTable)},
	}
}

// Set starts watching field, pinning its declaring class.
func (w *Watches) Set(g *lock.Guard, kind WatchKind, field vm.FieldID, class vm.ObjectID) error {
	g.Check(w.lock)
	table := w.tables[kind]
	if _, ok := table[field]; ok {
		return apperrors.Newf(apperrors.CodeDuplicate, "field %d already has a %s watch", field, kind)
	}
	ref, err := w.handles.NewStrongRef(class)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeOutOfMemory, "watch class handle", err)
	}
	table[field] = ref
	w.refresh()
	return nil
}

// Clear stops watching field.
func (w *Watches) Clear(g *lock.Guard, kind WatchKind, field vm.FieldID) error {
	g.Check(w.lock)
	table := w.tables[kind]
	ref, ok := table[field]
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "field %d has no %s watch", field, kind)
	}
	ref.Release()
	delete(table, field)
	w.refresh()
	return nil
}

// ClearAll drops every watch of both kinds.
func (w *Watches) ClearAll(g *lock.Guard) {
	g.Check(w.lock)
	for _, table := range w.tables {
		for field, ref := range table {
			ref.Release()
			delete(table, field)
		}
	}
	w.refresh()
}

// Watched reports whether field has a watch of kind.
func (w *Watches) Watched(g *lock.Guard, kind WatchKind, field vm.FieldID) bool {
	g.Check(w.lock)
	_, ok := w.tables[kind][field]
	return ok
}

// Len returns the number of watches of kind.
func (w *Watches) Len(g *lock.Guard, kind WatchKind) int {
	g.Check(w.lock)
	return len(w.tables[kind])
}

// AnyWatched reports whether any field is watched. Lock-free.
func (w *Watches) AnyWatched() bool {
	return w.any.Load()
}

func (w *Watches) refresh() {
	w.any.Store(len(w.tables[WatchAccess])+len(w.tables[WatchModification]) > 0)
}
