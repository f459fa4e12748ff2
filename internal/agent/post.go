package agent

import (
	"github.com/vmti/internal/breakpoint"
	"github.com/vmti/internal/event"
	"github.com/vmti/internal/phase"
	"github.com/vmti/internal/thread"
	"github.com/vmti/pkg/vm"
)

// The Post* methods are called by the runtime. They never fail the caller: anything that
// goes wrong while posting drops the notification and is logged.

// anyEnabled is the fast path every posting entry point starts with.
func (s *Subsystem) anyEnabled(k event.Kind) bool {
	for _, e := range s.attached() {
		if e.model.Enabled(k) {
			return true
		}
	}
	return false
}

// dispatch delivers ev to every observer that wants it on rec's thread. It runs without
// the subsystem lock; each callback gets its own copy of ev.
func (s *Subsystem) dispatch(k event.Kind, rec *thread.Record, ev *event.Event) int {
	return s.dispatchTo(k, rec, ev, nil)
}

// dispatchTo is dispatch restricted to the Envs accepted by want. A nil want accepts all.
func (s *Subsystem) dispatchTo(k event.Kind, rec *thread.Record, ev *event.Event, want func(*Env) bool) int {
	if !s.gate.Allows(k.Phases()) {
		return 0
	}
	ev.Kind = k
	if rec != nil {
		ev.Thread = rec.ID
		ev.ThreadObject = rec.Object()
	}
	delivered := 0
	for _, e := range s.attached() {
		if want != nil && !want(e) {
			continue
		}
		if !e.model.Enabled(k) || !e.model.ShouldNotify(k, rec) {
			continue
		}
		cb := e.model.Callback(k)
		if cb == nil {
			continue
		}
		c := *ev
		cb(&c)
		delivered++
	}
	return delivered
}

func (s *Subsystem) postGlobal(k event.Kind) {
	s.dispatch(k, nil, &event.Event{})
}

// threadEvent runs the common prologue of a thread-filtered event: the fast check, then
// the record lookup.
func (s *Subsystem) threadEvent(k event.Kind, t vm.ThreadID) (*thread.Record, bool) {
	if !s.gate.Allows(k.Phases()) || !s.anyEnabled(k) {
		return nil, false
	}
	rec := s.record(t)
	if rec == nil {
		s.log.Warn("Dropped %s for unregistered thread %d", k, t)
		return nil, false
	}
	return rec, true
}

// PostThreadStart registers a newly started thread and notifies observers. A start
// before EARLY is posted by the LIVE flush instead.
func (s *Subsystem) PostThreadStart(t vm.ThreadID) {
	g := s.lock.Acquire()
	rec, err := s.threads.Insert(g, t, s.rt.ThreadObject(t))
	if err != nil {
		g.Release()
		s.log.Warn("Failed to register thread %d: %v", t, err)
		return
	}
	allowed := s.gate.Allows(event.ThreadStart.Phases()) && !rec.StartPosted
	if allowed {
		rec.StartPosted = true
	}
	g.Release()

	if allowed {
		s.dispatch(event.ThreadStart, rec, &event.Event{})
	}
}

// PostThreadEnd notifies observers and drops the thread's record and frame-pop requests.
// It reports false for a thread that was never registered, which the caller must treat as
// fatal.
func (s *Subsystem) PostThreadEnd(t vm.ThreadID) bool {
	if rec, ok := s.threadEvent(event.ThreadEnd, t); ok {
		s.dispatch(event.ThreadEnd, rec, &event.Event{})
	}

	g := s.lock.Acquire()
	defer g.Release()
	s.framePops.ClearThread(g, t)
	if !s.threads.Remove(g, t) {
		s.log.Error("Thread %d ended without having started", t)
		return false
	}
	s.recomputeAll(g)
	return true
}

// PostClassLoad notifies observers that class was loaded on thread t.
func (s *Subsystem) PostClassLoad(t vm.ThreadID, class vm.ObjectID) {
	s.postClass(event.ClassLoad, t, class)
}

// PostClassPrepare notifies observers that class was prepared on thread t.
func (s *Subsystem) PostClassPrepare(t vm.ThreadID, class vm.ObjectID) {
	s.postClass(event.ClassPrepare, t, class)
}

func (s *Subsystem) postClass(k event.Kind, t vm.ThreadID, class vm.ObjectID) {
	if !s.gate.Allows(k.Phases()) {
		return
	}
	g := s.lock.Acquire()
	rec, _ := s.threads.Find(g, t)
	if s.postedClasses != nil {
		s.postedClasses[class] = true
	}
	g.Release()

	if rec == nil || !s.anyEnabled(k) {
		return
	}
	s.dispatch(k, rec, &event.Event{Class: class})
}

// PostException records exc as the thread's last exception and notifies observers.
// catch is nil when the exception will not be caught.
func (s *Subsystem) PostException(t vm.ThreadID, m *vm.Method, loc vm.Location, exc vm.ObjectID, catch *vm.Method, catchLoc vm.Location) {
	if !s.gate.Allows(event.Exception.Phases()) {
		return
	}
	g := s.lock.Acquire()
	rec, ok := s.threads.Find(g, t)
	if ok {
		if err := rec.SetLastException(g, s.rt, exc); err != nil {
			s.log.Warn("Failed to record exception on thread %d: %v", t, err)
		}
	}
	g.Release()

	if !ok || !s.anyEnabled(event.Exception) {
		return
	}
	s.dispatch(event.Exception, rec, &event.Event{
		Method:        m,
		Location:      loc,
		Object:        exc,
		CatchMethod:   catch,
		CatchLocation: catchLoc,
	})
}

// PostExceptionCatch notifies observers that the thread's pending exception was caught
// at loc in m.
func (s *Subsystem) PostExceptionCatch(t vm.ThreadID, m *vm.Method, loc vm.Location, exc vm.ObjectID) {
	if !s.gate.Allows(event.ExceptionCatch.Phases()) {
		return
	}
	g := s.lock.Acquire()
	rec, ok := s.threads.Find(g, t)
	if ok {
		if err := rec.SetLastException(g, s.rt, vm.Null); err != nil {
			s.log.Warn("Failed to clear exception on thread %d: %v", t, err)
		}
	}
	g.Release()

	if !ok || !s.anyEnabled(event.ExceptionCatch) {
		return
	}
	s.dispatch(event.ExceptionCatch, rec, &event.Event{Method: m, Location: loc, Object: exc})
}

// GetOpcode returns the instruction byte the interpreter should execute at addr: the
// original byte when a breakpoint is installed there. With notify set, a hit breakpoint is
// posted after the read.
func (s *Subsystem) GetOpcode(t vm.ThreadID, addr vm.Address, notify bool) (byte, error) {
	g := s.lock.Acquire()
	op, trapped, err := s.breakpoints.Opcode(g, addr)
	g.Release()
	if err != nil {
		return 0, err
	}
	if trapped && notify {
		s.postBreakpoint(t, addr)
	}
	return op, nil
}

func (s *Subsystem) postBreakpoint(t vm.ThreadID, addr vm.Address) {
	rec, ok := s.threadEvent(event.Breakpoint, t)
	if !ok {
		return
	}
	m, loc, ok := s.rt.MethodAt(addr)
	if !ok {
		s.log.Warn("Dropped breakpoint at unmapped address %#x", addr)
		return
	}
	s.dispatch(event.Breakpoint, rec, &event.Event{Method: m, Location: loc})
}

// PostSingleStep notifies observers that thread t is about to execute loc in m.
func (s *Subsystem) PostSingleStep(t vm.ThreadID, m *vm.Method, loc vm.Location) {
	if rec, ok := s.threadEvent(event.SingleStep, t); ok {
		s.dispatch(event.SingleStep, rec, &event.Event{Method: m, Location: loc})
	}
}

// PostFieldAccess notifies observers of a read of a watched field. obj is vm.Null for
// static fields.
func (s *Subsystem) PostFieldAccess(t vm.ThreadID, m *vm.Method, loc vm.Location, obj vm.ObjectID, field vm.FieldID) {
	s.postField(event.FieldAccess, breakpoint.WatchAccess, t, m, loc, obj, field, vm.Value{})
}

// PostFieldModification notifies observers of a write of v to a watched field.
func (s *Subsystem) PostFieldModification(t vm.ThreadID, m *vm.Method, loc vm.Location, obj vm.ObjectID, field vm.FieldID, v vm.Value) {
	s.postField(event.FieldModification, breakpoint.WatchModification, t, m, loc, obj, field, v)
}

func (s *Subsystem) postField(k event.Kind, kind breakpoint.WatchKind, t vm.ThreadID, m *vm.Method, loc vm.Location, obj vm.ObjectID, field vm.FieldID, v vm.Value) {
	if !s.watches.AnyWatched() || !s.gate.Allows(k.Phases()) || !s.anyEnabled(k) {
		return
	}
	g := s.lock.Acquire()
	watched := s.watches.Watched(g, kind, field)
	rec, _ := s.threads.Find(g, t)
	g.Release()
	if !watched || rec == nil {
		return
	}

	class, f, ok := s.rt.FieldByID(field)
	if !ok {
		return
	}
	s.dispatch(k, rec, &event.Event{
		Method:     m,
		Location:   loc,
		Object:     obj,
		Field:      f,
		FieldClass: class,
		Value:      v,
	})
}

// PostMethodEntry notifies observers that thread t entered m.
func (s *Subsystem) PostMethodEntry(t vm.ThreadID, m *vm.Method) {
	if rec, ok := s.threadEvent(event.MethodEntry, t); ok {
		s.dispatch(event.MethodEntry, rec, &event.Event{Method: m})
	}
}

// PostMethodExit is called exactly once for every frame that unwinds, normally or by an
// exception. It posts MethodExit, then consumes a frame-pop request for the frame and posts
// FramePop if there was one.
func (s *Subsystem) PostMethodExit(t vm.ThreadID, f vm.Frame, poppedByException bool, ret vm.Value) {
	ev := event.Event{
		Method:               f.Method,
		Location:             f.PC,
		Value:                ret,
		WasPoppedByException: poppedByException,
	}
	if rec, ok := s.threadEvent(event.MethodExit, t); ok {
		c := ev
		s.dispatch(event.MethodExit, rec, &c)
	}

	g := s.lock.Acquire()
	requested, consumed := s.framePops.ConsumeIfPresent(g, t, f.ID)
	rec, _ := s.threads.Find(g, t)
	g.Release()

	if consumed && rec != nil && s.gate.Allows(event.FramePop.Phases()) {
		ev.Value = vm.Value{}
		s.dispatchTo(event.FramePop, rec, &ev, func(e *Env) bool { return requested.Has(e.slot) })
	}
}

// PostVMObjectAlloc reports an object the runtime allocated on its own behalf. Before
// LIVE the report is held and posted by the LIVE flush.
func (s *Subsystem) PostVMObjectAlloc(t vm.ThreadID, obj vm.ObjectID) {
	if !s.anyEnabled(event.VMObjectAlloc) {
		return
	}
	switch s.gate.Current() {
	case phase.Live:
		if rec := s.record(t); rec != nil {
			s.dispatch(event.VMObjectAlloc, rec, s.allocEvent(obj))
		}
	case phase.Shutdown:
	default:
		ref, err := s.rt.NewStrongRef(obj)
		if err != nil {
			s.log.Warn("Dropped early allocation report for object %d: %v", obj, err)
			return
		}
		g := s.lock.Acquire()
		s.deferred.Add(deferredAlloc{thread: t, ref: ref})
		g.Release()
	}
}

func (s *Subsystem) allocEvent(obj vm.ObjectID) *event.Event {
	return &event.Event{
		Object: obj,
		Class:  s.rt.ClassOf(obj),
		Size:   s.rt.Size(obj),
	}
}

// PostGarbageCollectionStart notifies observers that a collection is starting.
func (s *Subsystem) PostGarbageCollectionStart() {
	if s.anyEnabled(event.GarbageCollectionStart) {
		s.postGlobal(event.GarbageCollectionStart)
	}
}

// PostGarbageCollectionFinish sweeps the tag store of collected objects, notifies
// observers that the collection finished, then posts ObjectFree for every swept tag.
func (s *Subsystem) PostGarbageCollectionFinish() {
	g := s.lock.Acquire()
	freed := s.tags.Rehash(g)
	g.Release()

	if s.anyEnabled(event.GarbageCollectionFinish) {
		s.postGlobal(event.GarbageCollectionFinish)
	}
	if len(freed) > 0 {
		s.log.Debug("Swept %d tags of collected objects", len(freed))
	}
	if !s.anyEnabled(event.ObjectFree) {
		return
	}
	for _, tag := range freed {
		s.dispatch(event.ObjectFree, nil, &event.Event{Tag: tag})
	}
}

// TakePendingFrameOp returns and clears the pop-frame or early-return request recorded
// for thread t. The interpreter calls it when t resumes.
func (s *Subsystem) TakePendingFrameOp(t vm.ThreadID) (thread.Pending, bool) {
	g := s.lock.Acquire()
	defer g.Release()
	rec, ok := s.threads.Find(g, t)
	if !ok {
		return thread.Pending{}, false
	}
	return rec.TakePending(g)
}
