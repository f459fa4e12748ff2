// Package heap implements the heap dumper: an edge-reporting traversal of the object graph
// from the roots, and a summary iteration over every object. Both run synchronously on the
// caller's thread with the subsystem lock held and the world stopped; callbacks must not
// call back into the tool interface.
package heap

import (
	"github.com/vmti/pkg/vm"
)

// ReferenceKind is the kind of an edge reported to the reference callback.
type ReferenceKind int

const (
	RefClass            ReferenceKind = 1
	RefField            ReferenceKind = 2
	RefArrayElement     ReferenceKind = 3
	RefClassLoader      ReferenceKind = 4
	RefSigners          ReferenceKind = 5
	RefProtectionDomain ReferenceKind = 6
	RefInterface        ReferenceKind = 7
	RefStaticField      ReferenceKind = 8
	RefConstantPool     ReferenceKind = 9
	RefSuperclass       ReferenceKind = 10
	RefJNIGlobal        ReferenceKind = 21
	RefSystemClass      ReferenceKind = 22
	RefMonitor          ReferenceKind = 23
	RefStackLocal       ReferenceKind = 24
	RefJNILocal         ReferenceKind = 25
	RefThread           ReferenceKind = 26
	RefOther            ReferenceKind = 27
)

var kindNames = map[ReferenceKind]string{
	RefClass:            "class",
	RefField:            "field",
	RefArrayElement:     "array_element",
	RefClassLoader:      "class_loader",
	RefSigners:          "signers",
	RefProtectionDomain: "protection_domain",
	RefInterface:        "interface",
	RefStaticField:      "static_field",
	RefConstantPool:     "constant_pool",
	RefSuperclass:       "superclass",
	RefJNIGlobal:        "jni_global",
	RefSystemClass:      "system_class",
	RefMonitor:          "monitor",
	RefStackLocal:       "stack_local",
	RefJNILocal:         "jni_local",
	RefThread:           "thread",
	RefOther:            "other",
}

func (k ReferenceKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsRoot reports whether edges of kind k originate outside the object graph.
func (k ReferenceKind) IsRoot() bool {
	return k >= RefJNIGlobal
}

// Filter is a heap filter bitmask. Each set bit excludes objects from reporting.
type Filter uint32

const (
	FilterTagged        Filter = 0x4
	FilterUntagged      Filter = 0x8
	FilterClassTagged   Filter = 0x10
	FilterClassUntagged Filter = 0x20
)

// ParseFilter builds a filter from names: tagged, untagged, class_tagged, class_untagged.
func ParseFilter(names []string) (Filter, bool) {
	var f Filter
	for _, n := range names {
		switch n {
		case "tagged":
			f |= FilterTagged
		case "untagged":
			f |= FilterUntagged
		case "class_tagged":
			f |= FilterClassTagged
		case "class_untagged":
			f |= FilterClassUntagged
		default:
			return 0, false
		}
	}
	return f, true
}

// excludes reports whether an object with the given tags is filtered out.
func (f Filter) excludes(tag, classTag uint64) bool {
	if tag != 0 {
		if f&FilterTagged != 0 {
			return true
		}
	} else if f&FilterUntagged != 0 {
		return true
	}
	if classTag != 0 {
		return f&FilterClassTagged != 0
	}
	return f&FilterClassUntagged != 0
}

// Action tells the traversal how to proceed after a callback.
type Action int

const (
	// Continue reports the edge without following the referenced object from it.
	Continue Action = iota
	// VisitChildren schedules the referenced object for a visit of its own references.
	VisitChildren
	// Abort stops the whole traversal.
	Abort
)

// Result is returned by every callback. The traversal applies the tag updates itself.
type Result struct {
	Action Action

	setTag         bool
	tag            uint64
	setReferrerTag bool
	referrerTag    uint64
}

// Skip continues without visiting.
func Skip() Result { return Result{Action: Continue} }

// Visit continues and follows the referenced object.
func Visit() Result { return Result{Action: VisitChildren} }

// Stop aborts the traversal.
func Stop() Result { return Result{Action: Abort} }

// WithTag sets the reported object's tag; 0 untags it.
func (r Result) WithTag(tag uint64) Result {
	r.setTag = true
	r.tag = tag
	return r
}

// WithReferrerTag sets the referrer's tag. Ignored on root edges, and on self references
// when WithTag is also given.
func (r Result) WithReferrerTag(tag uint64) Result {
	r.setReferrerTag = true
	r.referrerTag = tag
	return r
}

// ReferenceInfo carries the kind-specific details of an edge.
type ReferenceInfo struct {
	// Index is the field, array, or constant-pool index.
	Index int

	// Stack and native-local roots.
	Thread    vm.ThreadID
	ThreadTag uint64
	Depth     int
	Method    *vm.Method
	Location  vm.Location
	Slot      int
}

// Reference is one reported edge.
type Reference struct {
	Kind             ReferenceKind
	Info             ReferenceInfo
	ClassTag         uint64
	ReferrerClassTag uint64
	Size             int64
	Tag              uint64
	// HasReferrer is false for root edges.
	HasReferrer bool
	ReferrerTag uint64
	// Length is the array length, or -1.
	Length int
}

// Object is reported by the summary iteration.
type Object struct {
	ClassTag uint64
	Size     int64
	Tag      uint64
	Length   int
}

// PrimitiveField is a scalar instance or static field.
type PrimitiveField struct {
	Kind     ReferenceKind
	Index    int
	ClassTag uint64
	Tag      uint64
	Value    vm.Value
}

// ArrayPrimitive is the bulk content of a primitive array. Data holds the elements
// big-endian.
type ArrayPrimitive struct {
	ClassTag    uint64
	Size        int64
	Tag         uint64
	Length      int
	ElementType vm.BasicType
	Data        []byte
}

// StringPrimitive is the character buffer of a text object.
type StringPrimitive struct {
	ClassTag uint64
	Size     int64
	Tag      uint64
	Value    []uint16
}

// Callbacks are the optional callbacks of a traversal. Any may be nil.
type Callbacks struct {
	HeapIteration   func(*Object) Result
	HeapReference   func(*Reference) Result
	PrimitiveField  func(*PrimitiveField) Result
	ArrayPrimitive  func(*ArrayPrimitive) Result
	StringPrimitive func(*StringPrimitive) Result
}

// Options select the objects a traversal reports.
type Options struct {
	// InitialObject, if set, replaces root enumeration.
	InitialObject vm.ObjectID
	// Class restricts reporting to instances of this class.
	Class  vm.ObjectID
	Filter Filter
}

// Stats summarize a traversal.
type Stats struct {
	Roots      int
	Edges      int
	Objects    int
	Primitives int
	Aborted    bool
}

// Runtime is what the dumper reads from the host.
type Runtime interface {
	vm.ObjectModel
	vm.Interpreter
	vm.RootScanner
}
