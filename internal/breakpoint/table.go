package breakpoint

import (
	"errors"
	"sort"

	"github.com/vmti/internal/lock"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// Record is an installed breakpoint. It keeps the declaring class alive.
type Record struct {
	Address  vm.Address
	Original byte

	class vm.StrongRef
}

// Class returns the declaring class of the patched method.
func (r *Record) Class() vm.ObjectID {
	return r.class.Object()
}

// Table maps code addresses to installed breakpoints. Every method requires the subsystem
// lock.
type Table struct {
	lock    *lock.Lock
	patcher *CodePatcher
	handles vm.Handles
	entries map[vm.Address]*Record
}

// NewTable creates an empty breakpoint table.
func NewTable(l *lock.Lock, patcher *CodePatcher, h vm.Handles) *Table {
	return &Table{
		lock:    l,
		patcher: patcher,
		handles: h,
		entries: make(map[vm.Address]*Record),
	}
}

// Set installs a trap at addr. A second Set on the same address fails with DUPLICATE and
// leaves the first trap intact.
func (t *Table) Set(g *lock.Guard, addr vm.Address, class vm.ObjectID) error {
	g.Check(t.lock)
	if _, ok := t.entries[addr]; ok {
		return apperrors.Newf(apperrors.CodeDuplicate, "breakpoint at %#x", uint64(addr))
	}

	ref, err := t.handles.NewStrongRef(class)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeOutOfMemory, "breakpoint class handle", err)
	}
	orig, err := t.patcher.Install(addr)
	if err != nil {
		ref.Release()
		return err
	}
	t.entries[addr] = &Record{Address: addr, Original: orig, class: ref}
	return nil
}

// Clear restores the original opcode at addr and drops the breakpoint.
func (t *Table) Clear(g *lock.Guard, addr vm.Address) error {
	g.Check(t.lock)
	rec, ok := t.entries[addr]
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "no breakpoint at %#x", uint64(addr))
	}
	if err := t.patcher.Restore(addr, rec.Original); err != nil {
		return err
	}
	rec.class.Release()
	delete(t.entries, addr)
	return nil
}

// ClearAll removes every breakpoint, restoring original opcodes. A breakpoint whose
// opcode cannot be restored stays installed and its error is returned.
func (t *Table) ClearAll(g *lock.Guard) error {
	var errs []error
	for _, addr := range t.Addresses(g) {
		if err := t.Clear(g, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the breakpoint at addr.
func (t *Table) Lookup(g *lock.Guard, addr vm.Address) (*Record, bool) {
	g.Check(t.lock)
	rec, ok := t.entries[addr]
	return rec, ok
}

// Opcode returns the instruction at addr as the interpreter should execute it: the
// recorded original when a trap is installed, the raw byte otherwise.
func (t *Table) Opcode(g *lock.Guard, addr vm.Address) (op byte, trapped bool, err error) {
	g.Check(t.lock)
	if rec, ok := t.entries[addr]; ok {
		return rec.Original, true, nil
	}
	op, err = t.patcher.Read(addr)
	return op, false, err
}

// Addresses returns the installed breakpoint addresses in ascending order.
func (t *Table) Addresses(g *lock.Guard) []vm.Address {
	g.Check(t.lock)
	out := make([]vm.Address, 0, len(t.entries))
	for addr := range t.entries {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of installed breakpoints.
func (t *Table) Len(g *lock.Guard) int {
	g.Check(t.lock)
	return len(t.entries)
}
