package capability

import (
	"sync"
	"sync/atomic"

	apperrors "github.com/vmti/pkg/errors"
)

// Flags are behavioral switches derived from every capability ever granted. They only
// ever turn on, so fast paths that observed them once may rely on them afterwards.
type Flags struct {
	CanTagObjects                  bool
	CanAccessLocalVariables        bool
	CanHotswapOrPostBreakpoint     bool
	CanModifyAnyClass              bool
	CanWalkAnySpace                bool
	CanRedefineClasses             bool
	CanRetransformClasses          bool
	CanPostInterpreterEvents       bool
	CanPostExceptions              bool
	CanPostBreakpoint              bool
	CanPostFieldAccess             bool
	CanPostFieldModification       bool
	CanPostMethodEntry             bool
	CanPostMethodExit              bool
	CanPostFramePop                bool
	CanPostSingleStep              bool
	CanPopFrame                    bool
	CanForceEarlyReturn            bool
	CanPostObjectFree              bool
	CanPostVMObjectAlloc           bool
	CanPostSampledObjectAlloc      bool
	CanGetSourceDebugExtension     bool
	CanMaintainOriginalMethodOrder bool
	CanPostClassFileLoadHook       bool
	CanSuspend                     bool
}

// Pool is the process-wide negotiation state shared by every observer.
type Pool struct {
	mu sync.Mutex

	always              Set
	onload              Set
	alwaysSolo          Set
	onloadSolo          Set
	alwaysSoloRemaining Set
	onloadSoloRemaining Set
	acquired            Set

	early func() bool
	flags atomic.Pointer[Flags]
}

// NewPool creates the pools. early reports whether the runtime is still in the phase in
// which early-only capabilities can be granted; nil means never.
func NewPool(early func() bool) *Pool {
	p := &Pool{
		always: Of(
			TagObjects,
			GetBytecodes,
			GetSyntheticAttribute,
			GetOwnedMonitorInfo,
			GetOwnedMonitorStackDepthInfo,
			GetCurrentContendedMonitor,
			GetMonitorInfo,
			GetConstantPool,
			SignalThread,
			GetSourceFileName,
			GetLineNumbers,
			GetCurrentThreadCPUTime,
			GetThreadCPUTime,
			RedefineClasses,
			RetransformClasses,
			PopFrame,
			ForceEarlyReturn,
			AccessLocalVariables,
			GenerateSingleStepEvents,
			GenerateExceptionEvents,
			GenerateFramePopEvents,
			GenerateMethodEntryEvents,
			GenerateMethodExitEvents,
			GenerateMonitorEvents,
			GenerateGarbageCollectionEvents,
			GenerateObjectFreeEvents,
			GenerateVMObjectAllocEvents,
			GenerateNativeMethodBindEvents,
			GenerateCompiledMethodLoadEvents,
			GenerateResourceExhaustionHeapEvents,
			GenerateResourceExhaustionThreadsEvents,
		),
		onload: Of(
			GenerateBreakpointEvents,
			GetSourceDebugExtension,
			MaintainOriginalMethodOrder,
			GenerateAllClassHookEvents,
			RedefineAnyClass,
			RetransformAnyClass,
			SetNativeMethodPrefix,
			GenerateEarlyVMStart,
			GenerateEarlyClassHookEvents,
		),
		alwaysSolo: Of(
			Suspend,
			GenerateSampledObjectAllocEvents,
		),
		onloadSolo: Of(
			GenerateFieldAccessEvents,
			GenerateFieldModificationEvents,
		),
		acquired: Of(),
		early:    early,
	}
	p.alwaysSoloRemaining = p.alwaysSolo
	p.onloadSoloRemaining = p.onloadSolo
	p.flags.Store(&Flags{})
	return p
}

func (p *Pool) inEarlyPhase() bool {
	return p.early != nil && p.early()
}

// Potential returns the capabilities an observer holding current could be granted.
func (p *Pool) Potential(current, prohibited Set) Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.potentialLocked(current, prohibited)
}

func (p *Pool) potentialLocked(current, prohibited Set) Set {
	// current is added after the prohibition since it may already hold solo capabilities
	result := p.always.Exclude(prohibited).Union(current).Union(p.alwaysSoloRemaining)
	if p.inEarlyPhase() {
		result = result.Union(p.onload).Union(p.onloadSoloRemaining)
	}
	return result
}

// Add grants desired on top of current, or fails with NOT_AVAILABLE leaving every pool
// untouched.
func (p *Pool) Add(current, prohibited, desired Set) (Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	missing := desired.Exclude(p.potentialLocked(current, prohibited))
	if !missing.IsEmpty() {
		return current, apperrors.Newf(apperrors.CodeNotAvailable, "capabilities not available: %s", missing)
	}

	p.acquired = p.acquired.Union(desired)

	// early-only capabilities, once granted, stay grantable for the process lifetime
	promoted := p.onload.Intersect(desired)
	p.always = p.always.Union(promoted)
	p.onload = p.onload.Exclude(promoted)

	promotedSolo := p.onloadSolo.Intersect(desired)
	p.alwaysSolo = p.alwaysSolo.Union(promotedSolo)
	p.onloadSolo = p.onloadSolo.Exclude(promotedSolo)

	p.alwaysSoloRemaining = p.alwaysSoloRemaining.Exclude(desired)
	p.onloadSoloRemaining = p.onloadSoloRemaining.Exclude(desired)

	p.update()
	return current.Union(desired), nil
}

// Relinquish gives up unwanted, returning exclusive capabilities to the remaining pools.
func (p *Pool) Relinquish(current, unwanted Set) Set {
	p.mu.Lock()
	defer p.mu.Unlock()

	trash := current.Intersect(unwanted)
	p.alwaysSoloRemaining = p.alwaysSoloRemaining.Union(trash.Intersect(p.alwaysSolo))
	p.onloadSoloRemaining = p.onloadSoloRemaining.Union(trash.Intersect(p.onloadSolo))

	p.update()
	return current.Exclude(unwanted)
}

// Acquired returns every capability granted since the pool was created.
func (p *Pool) Acquired() Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Flags returns the derived behavioral flags. Lock-free.
func (p *Pool) Flags() Flags {
	return *p.flags.Load()
}

// update recomputes the derived flags. Caller holds p.mu.
func (p *Pool) update() {
	a := p.acquired
	f := &Flags{
		CanTagObjects:                  a.Has(TagObjects),
		CanRedefineClasses:             a.Has(RedefineClasses),
		CanRetransformClasses:          a.Has(RetransformClasses),
		CanModifyAnyClass:              a.Has(RedefineAnyClass) || a.Has(RetransformAnyClass),
		CanPostExceptions:              a.Has(GenerateExceptionEvents),
		CanPostBreakpoint:              a.Has(GenerateBreakpointEvents),
		CanPostFieldAccess:             a.Has(GenerateFieldAccessEvents),
		CanPostFieldModification:       a.Has(GenerateFieldModificationEvents),
		CanPostMethodEntry:             a.Has(GenerateMethodEntryEvents),
		CanPostMethodExit:              a.Has(GenerateMethodExitEvents) || a.Has(GenerateFramePopEvents),
		CanPostFramePop:                a.Has(GenerateFramePopEvents),
		CanPostSingleStep:              a.Has(GenerateSingleStepEvents),
		CanPopFrame:                    a.Has(PopFrame),
		CanForceEarlyReturn:            a.Has(ForceEarlyReturn),
		CanPostObjectFree:              a.Has(GenerateObjectFreeEvents),
		CanPostVMObjectAlloc:           a.Has(GenerateVMObjectAllocEvents),
		CanPostSampledObjectAlloc:      a.Has(GenerateSampledObjectAllocEvents),
		CanGetSourceDebugExtension:     a.Has(GetSourceDebugExtension),
		CanMaintainOriginalMethodOrder: a.Has(MaintainOriginalMethodOrder),
		CanSuspend:                     a.Has(Suspend),
		CanWalkAnySpace:                a.Has(TagObjects),
		CanPostClassFileLoadHook: a.Has(GenerateAllClassHookEvents) ||
			a.Has(RetransformClasses) || a.Has(RedefineClasses),
	}
	f.CanHotswapOrPostBreakpoint = f.CanPostBreakpoint || f.CanRedefineClasses || f.CanRetransformClasses
	f.CanAccessLocalVariables = a.Has(AccessLocalVariables) || f.CanPostBreakpoint || f.CanPostFramePop
	f.CanPostInterpreterEvents = f.CanPostSingleStep || f.CanPopFrame || f.CanForceEarlyReturn ||
		f.CanPostFramePop || f.CanPostMethodEntry || f.CanPostMethodExit ||
		f.CanPostFieldAccess || f.CanPostFieldModification || f.CanPostBreakpoint
	p.flags.Store(f)
}
