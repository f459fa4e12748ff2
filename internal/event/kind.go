// Package event defines event kinds and the per-observer enablement model consulted by every
// notification the runtime posts.
package event

import (
	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/phase"
	"github.com/vmti/pkg/vm"
)

// Kind is an event kind. Kinds double as bit positions in enablement masks.
type Kind int

const (
	VMInit Kind = iota
	VMStart
	VMDeath
	ThreadStart
	ThreadEnd
	ClassLoad
	ClassPrepare
	Exception
	ExceptionCatch
	SingleStep
	FramePop
	Breakpoint
	FieldAccess
	FieldModification
	MethodEntry
	MethodExit
	VMObjectAlloc
	GarbageCollectionStart
	GarbageCollectionFinish
	ObjectFree

	NumKinds
)

type kindInfo struct {
	name       string
	globalOnly bool
	capability capability.Capability
	needsCap   bool
	phases     phase.Range
}

var kinds = [NumKinds]kindInfo{
	VMInit:                  {name: "VMInit", globalOnly: true, phases: phase.OnlyLive},
	VMStart:                 {name: "VMStart", globalOnly: true, phases: phase.Range{From: phase.Early, To: phase.Early}},
	VMDeath:                 {name: "VMDeath", globalOnly: true, phases: phase.OnlyLive},
	ThreadStart:             {name: "ThreadStart", globalOnly: true, phases: phase.StartOrLive},
	ThreadEnd:               {name: "ThreadEnd", phases: phase.StartOrLive},
	ClassLoad:               {name: "ClassLoad", phases: phase.StartOrLive},
	ClassPrepare:            {name: "ClassPrepare", phases: phase.StartOrLive},
	Exception:               {name: "Exception", capability: capability.GenerateExceptionEvents, needsCap: true, phases: phase.OnlyLive},
	ExceptionCatch:          {name: "ExceptionCatch", capability: capability.GenerateExceptionEvents, needsCap: true, phases: phase.OnlyLive},
	SingleStep:              {name: "SingleStep", capability: capability.GenerateSingleStepEvents, needsCap: true, phases: phase.OnlyLive},
	FramePop:                {name: "FramePop", capability: capability.GenerateFramePopEvents, needsCap: true, phases: phase.OnlyLive},
	Breakpoint:              {name: "Breakpoint", capability: capability.GenerateBreakpointEvents, needsCap: true, phases: phase.OnlyLive},
	FieldAccess:             {name: "FieldAccess", capability: capability.GenerateFieldAccessEvents, needsCap: true, phases: phase.OnlyLive},
	FieldModification:       {name: "FieldModification", capability: capability.GenerateFieldModificationEvents, needsCap: true, phases: phase.OnlyLive},
	MethodEntry:             {name: "MethodEntry", capability: capability.GenerateMethodEntryEvents, needsCap: true, phases: phase.OnlyLive},
	MethodExit:              {name: "MethodExit", capability: capability.GenerateMethodExitEvents, needsCap: true, phases: phase.OnlyLive},
	VMObjectAlloc:           {name: "VMObjectAlloc", capability: capability.GenerateVMObjectAllocEvents, needsCap: true, phases: phase.StartOrLive},
	GarbageCollectionStart:  {name: "GarbageCollectionStart", globalOnly: true, capability: capability.GenerateGarbageCollectionEvents, needsCap: true, phases: phase.StartOrLive},
	GarbageCollectionFinish: {name: "GarbageCollectionFinish", globalOnly: true, capability: capability.GenerateGarbageCollectionEvents, needsCap: true, phases: phase.StartOrLive},
	ObjectFree:              {name: "ObjectFree", globalOnly: true, capability: capability.GenerateObjectFreeEvents, needsCap: true, phases: phase.StartOrLive},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < NumKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return "Unknown"
	}
	return kinds[k].name
}

// Bit returns the mask bit of k.
func (k Kind) Bit() uint64 {
	return 1 << uint(k)
}

// GlobalOnly reports whether k cannot be filtered per thread.
func (k Kind) GlobalOnly() bool {
	return kinds[k].globalOnly
}

// RequiredCapability returns the capability an observer must hold to enable k.
func (k Kind) RequiredCapability() (capability.Capability, bool) {
	return kinds[k].capability, kinds[k].needsCap
}

// Phases returns the phases in which k is delivered.
func (k Kind) Phases() phase.Range {
	return kinds[k].phases
}

// ParseKind looks a kind up by name.
func ParseKind(name string) (Kind, bool) {
	for i, info := range kinds {
		if info.name == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// Event is the payload handed to callbacks. Only the fields relevant to Kind are set.
type Event struct {
	Kind         Kind
	Thread       vm.ThreadID
	ThreadObject vm.ObjectID

	Method   *vm.Method
	Location vm.Location

	// Object is the exception, the object whose field is accessed, the allocated object,
	// or the loaded class, depending on Kind.
	Object vm.ObjectID
	Class  vm.ObjectID

	Field      *vm.Field
	FieldClass vm.ObjectID
	Value      vm.Value

	CatchMethod   *vm.Method
	CatchLocation vm.Location

	WasPoppedByException bool

	Tag  uint64
	Size int64
}

// Callback receives events. It runs on the posting thread without the subsystem lock.
type Callback func(*Event)

// Callbacks maps event kinds to callbacks.
type Callbacks map[Kind]Callback
