package agent

import (
	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/phase"
	"github.com/vmti/internal/thread"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// suspendCall runs the common checks of the thread-control calls. It returns with the
// suspend lock held and the subsystem lock released.
func (e *Env) suspendCall(t vm.ThreadID, c capability.Capability) error {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return err
	}
	err = e.require(g, c)
	if err == nil {
		if _, ok := e.s.threads.Find(g, t); !ok {
			err = apperrors.Newf(apperrors.CodeInvalidThread, "thread %d", t)
		}
	}
	g.Release()
	if err != nil {
		return err
	}
	e.s.suspendMu.Lock()
	return nil
}

// SuspendThread suspends thread t.
func (e *Env) SuspendThread(t vm.ThreadID) error {
	if err := e.suspendCall(t, capability.Suspend); err != nil {
		return err
	}
	defer e.s.suspendMu.Unlock()
	return e.s.rt.Suspend(t)
}

// ResumeThread resumes thread t.
func (e *Env) ResumeThread(t vm.ThreadID) error {
	if err := e.suspendCall(t, capability.Suspend); err != nil {
		return err
	}
	defer e.s.suspendMu.Unlock()
	return e.s.rt.Resume(t)
}

// PopFrame asks the interpreter to pop the innermost frame of the suspended thread t when
// it resumes, re-executing the invoke in the caller.
func (e *Env) PopFrame(t vm.ThreadID) error {
	if err := e.suspendCall(t, capability.PopFrame); err != nil {
		return err
	}
	defer e.s.suspendMu.Unlock()

	if !e.s.rt.IsSuspended(t) {
		return apperrors.Newf(apperrors.CodeThreadNotSuspended, "thread %d", t)
	}
	frames := e.s.rt.Frames(t)
	if len(frames) < 2 {
		return apperrors.Newf(apperrors.CodeNoMoreFrames, "thread %d has no caller frame", t)
	}
	if frames[0].Method == nil || frames[0].Method.Native || frames[1].Method == nil || frames[1].Method.Native {
		return apperrors.Newf(apperrors.CodeOpaqueFrame, "thread %d", t)
	}
	return e.setPending(t, thread.Pending{Kind: thread.PendingPopFrame, Frame: frames[0].ID}, nil)
}

// ForceEarlyReturn asks the interpreter to return v from the innermost frame of the
// suspended thread t when it resumes.
func (e *Env) ForceEarlyReturn(t vm.ThreadID, v vm.Value) error {
	if err := e.suspendCall(t, capability.ForceEarlyReturn); err != nil {
		return err
	}
	defer e.s.suspendMu.Unlock()

	if !e.s.rt.IsSuspended(t) {
		return apperrors.Newf(apperrors.CodeThreadNotSuspended, "thread %d", t)
	}
	frames := e.s.rt.Frames(t)
	if len(frames) == 0 {
		return apperrors.Newf(apperrors.CodeNoMoreFrames, "thread %d has no frames", t)
	}
	if frames[0].Method == nil || frames[0].Method.Native {
		return apperrors.Newf(apperrors.CodeOpaqueFrame, "thread %d", t)
	}

	var ref vm.StrongRef
	if v.IsRef() && v.Ref != vm.Null {
		if !e.s.rt.IsLive(v.Ref) {
			return apperrors.Newf(apperrors.CodeInvalidObject, "return value %d", v.Ref)
		}
		r, err := e.s.rt.NewStrongRef(v.Ref)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeOutOfMemory, "early return value", err)
		}
		ref = r
	}
	p := thread.Pending{Kind: thread.PendingEarlyReturn, Frame: frames[0].ID, Value: v}
	if err := e.setPending(t, p, ref); err != nil {
		if ref != nil {
			ref.Release()
		}
		return err
	}
	return nil
}

// setPending records p on t's record. Called with the suspend lock held.
func (e *Env) setPending(t vm.ThreadID, p thread.Pending, ref vm.StrongRef) error {
	g := e.s.lock.Acquire()
	defer g.Release()
	rec, ok := e.s.threads.Find(g, t)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidThread, "thread %d", t)
	}
	rec.SetPending(g, p, ref)
	return nil
}
