package agent

import (
	"github.com/vmti/internal/breakpoint"
	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/phase"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

func breakpointAddress(m *vm.Method, loc vm.Location) (vm.Address, error) {
	if m == nil {
		return 0, apperrors.New(apperrors.CodeIllegalArgument, "nil method")
	}
	if m.Native {
		return 0, apperrors.Newf(apperrors.CodeInvalidLocation, "%s is native", m.Name)
	}
	if loc < 0 || int(loc) >= m.CodeLength {
		return 0, apperrors.Newf(apperrors.CodeInvalidLocation, "location %d outside %s", loc, m.Name)
	}
	return m.AddressOf(loc), nil
}

// SetBreakpoint installs a trap at loc in m. The declaring class stays alive until the
// breakpoint is cleared.
func (e *Env) SetBreakpoint(m *vm.Method, loc vm.Location) error {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := e.require(g, capability.GenerateBreakpointEvents); err != nil {
		return err
	}
	addr, err := breakpointAddress(m, loc)
	if err != nil {
		return err
	}
	if err := e.s.breakpoints.Set(g, addr, m.Class); err != nil {
		return err
	}
	e.log.Debug("Breakpoint set at %s+%d (%#x)", m.Name, loc, addr)
	return nil
}

// ClearBreakpoint removes the trap at loc in m and restores the original instruction.
func (e *Env) ClearBreakpoint(m *vm.Method, loc vm.Location) error {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := e.require(g, capability.GenerateBreakpointEvents); err != nil {
		return err
	}
	addr, err := breakpointAddress(m, loc)
	if err != nil {
		return err
	}
	if err := e.s.breakpoints.Clear(g, addr); err != nil {
		return err
	}
	e.log.Debug("Breakpoint cleared at %s+%d (%#x)", m.Name, loc, addr)
	return nil
}

// SetFieldAccessWatch watches reads of field, declared by class.
func (e *Env) SetFieldAccessWatch(class vm.ObjectID, field vm.FieldID) error {
	return e.setWatch(breakpoint.WatchAccess, class, field)
}

// ClearFieldAccessWatch stops watching reads of field.
func (e *Env) ClearFieldAccessWatch(class vm.ObjectID, field vm.FieldID) error {
	return e.clearWatch(breakpoint.WatchAccess, class, field)
}

// SetFieldModificationWatch watches writes of field, declared by class.
func (e *Env) SetFieldModificationWatch(class vm.ObjectID, field vm.FieldID) error {
	return e.setWatch(breakpoint.WatchModification, class, field)
}

// ClearFieldModificationWatch stops watching writes of field.
func (e *Env) ClearFieldModificationWatch(class vm.ObjectID, field vm.FieldID) error {
	return e.clearWatch(breakpoint.WatchModification, class, field)
}

func watchCapability(kind breakpoint.WatchKind) capability.Capability {
	if kind == breakpoint.WatchAccess {
		return capability.GenerateFieldAccessEvents
	}
	return capability.GenerateFieldModificationEvents
}

// resolveField checks that field is declared by class.
func (e *Env) resolveField(class vm.ObjectID, field vm.FieldID) error {
	if _, ok := e.s.rt.Class(class); !ok {
		return apperrors.Newf(apperrors.CodeInvalidClass, "class %d", class)
	}
	declaring, _, ok := e.s.rt.FieldByID(field)
	if !ok || declaring != class {
		return apperrors.Newf(apperrors.CodeInvalidField, "field %d of class %d", field, class)
	}
	return nil
}

func (e *Env) watchCall(kind breakpoint.WatchKind, class vm.ObjectID, field vm.FieldID) (*lock.Guard, error) {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return nil, err
	}
	if err := e.require(g, watchCapability(kind)); err != nil {
		g.Release()
		return nil, err
	}
	if err := e.resolveField(class, field); err != nil {
		g.Release()
		return nil, err
	}
	return g, nil
}

func (e *Env) setWatch(kind breakpoint.WatchKind, class vm.ObjectID, field vm.FieldID) error {
	g, err := e.watchCall(kind, class, field)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := e.s.watches.Set(g, kind, field, class); err != nil {
		return err
	}
	e.log.Debug("Field %s watch set on field %d", kind, field)
	return nil
}

func (e *Env) clearWatch(kind breakpoint.WatchKind, class vm.ObjectID, field vm.FieldID) error {
	g, err := e.watchCall(kind, class, field)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := e.s.watches.Clear(g, kind, field); err != nil {
		return err
	}
	e.log.Debug("Field %s watch cleared on field %d", kind, field)
	return nil
}

// NotifyFramePop requests a single FramePop notification when the frame at depth on
// thread t unwinds. Depth 0 is the innermost frame.
func (e *Env) NotifyFramePop(t vm.ThreadID, depth int) error {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := e.require(g, capability.GenerateFramePopEvents); err != nil {
		return err
	}
	if _, ok := e.s.threads.Find(g, t); !ok {
		return apperrors.Newf(apperrors.CodeInvalidThread, "thread %d", t)
	}
	_, err = e.s.framePops.Register(g, e.slot, t, e.s.rt.Frames(t), depth)
	return err
}

// GetTag returns the tag of obj, 0 when untagged.
func (e *Env) GetTag(obj vm.ObjectID) (uint64, error) {
	g, err := e.enter(phase.StartOrLive)
	if err != nil {
		return 0, err
	}
	defer g.Release()

	if err := e.require(g, capability.TagObjects); err != nil {
		return 0, err
	}
	if obj == vm.Null || !e.s.rt.IsLive(obj) {
		return 0, apperrors.Newf(apperrors.CodeInvalidObject, "object %d", obj)
	}
	return e.s.tags.Get(g, obj), nil
}

// SetTag tags obj; a zero tag removes an existing tag.
func (e *Env) SetTag(obj vm.ObjectID, tag uint64) error {
	g, err := e.enter(phase.StartOrLive)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := e.require(g, capability.TagObjects); err != nil {
		return err
	}
	return e.s.tags.Set(g, obj, tag)
}

// GetObjectsWithTags returns the live objects carrying any of tags, with their tags.
func (e *Env) GetObjectsWithTags(tags []uint64) ([]vm.ObjectID, []uint64, error) {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return nil, nil, err
	}
	defer g.Release()

	if err := e.require(g, capability.TagObjects); err != nil {
		return nil, nil, err
	}
	return e.s.tags.ObjectsWithTags(g, tags)
}
