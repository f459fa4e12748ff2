package vm

// ObjectModel exposes read-only access to the heap and class metadata.
// Object reads are valid only while SafeToRead reports true.
type ObjectModel interface {
	IsLive(obj ObjectID) bool
	ClassOf(obj ObjectID) ObjectID
	Class(id ObjectID) (*Class, bool)
	// MetaClass returns the class of all class mirrors.
	MetaClass() ObjectID
	Size(obj ObjectID) int64
	// ArrayLength returns the element count of an array, or -1 for non-arrays.
	ArrayLength(obj ObjectID) int
	Elements(obj ObjectID) []Value
	FieldValue(obj ObjectID, f *Field) Value
	StaticValue(class ObjectID, f *Field) Value
	// Text returns the character buffer of an instance of the text type.
	Text(obj ObjectID) ([]uint16, bool)
	// IdentityHash returns false for objects that have no identity hash.
	IdentityHash(obj ObjectID) (uint32, bool)
	AddressOf(obj ObjectID) uintptr
	FieldByID(id FieldID) (ObjectID, *Field, bool)
	ForEachObject(fn func(ObjectID) bool)
	LoadedClasses() []ObjectID
	ResidentClasses() []ObjectID
	SafeToRead() bool
}

// Interpreter exposes threads, frames and liveness maps.
type Interpreter interface {
	Threads() []ThreadID
	ThreadObject(t ThreadID) ObjectID
	// Frames returns the thread's frames, innermost first.
	Frames(t ThreadID) []Frame
	// LiveLocals returns the liveness of each local slot at pc.
	LiveLocals(m *Method, pc Location) []bool
	LocalHandles(t ThreadID) []ObjectID
	Method(id MethodID) (*Method, bool)
	MethodAt(addr Address) (*Method, Location, bool)
}

// CodeMemory gives byte access to instruction memory.
type CodeMemory interface {
	ReadCode(addr Address) (byte, error)
	WriteCode(addr Address, b byte) error
}

// StrongRef keeps its object alive until released.
type StrongRef interface {
	Object() ObjectID
	Release()
}

// WeakRef observes an object without extending its lifetime.
type WeakRef interface {
	Get() (ObjectID, bool)
	Release()
}

// Handles allocates handles through an allocator path that never triggers collection.
// Allocation may fail outright under memory pressure.
type Handles interface {
	NewStrongRef(obj ObjectID) (StrongRef, error)
	NewWeakRef(obj ObjectID) (WeakRef, error)
}

// RootScanner invokes fn once per root pointer the collector manages.
type RootScanner interface {
	ScanGlobalRoots(fn func(ObjectID))
	ScanMonitors(fn func(ObjectID))
}

// Suspender suspends and resumes runtime threads.
type Suspender interface {
	Suspend(t ThreadID) error
	Resume(t ThreadID) error
	IsSuspended(t ThreadID) bool
}

// Runtime is everything the tool interface consumes from its host.
type Runtime interface {
	ObjectModel
	Interpreter
	CodeMemory
	Handles
	RootScanner
	Suspender
}
