// Package vmsim is an in-memory runtime implementing every contract in pkg/vm: a heap with
// mark/sweep collection, class metadata, handles, threads with interpreter frames, and
// instruction memory. It backs the tests and the CLI demo.
package vmsim

import (
	"sort"
	"sync"

	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// Well-known class names.
const (
	ClassClass  = "java/lang/Class"
	ClassObject = "java/lang/Object"
	ClassString = "java/lang/String"
	ClassThread = "java/lang/Thread"
)

const (
	headerSize   = 16
	addressBase  = 0x10000
	addressAlign = 16
)

type object struct {
	class  vm.ObjectID
	fields map[vm.FieldID]vm.Value
	elems  []vm.Value
	text   []uint16
}

type fieldRef struct {
	class vm.ObjectID
	field *vm.Field
}

// Runtime is the simulated runtime. All methods are safe for concurrent use.
type Runtime struct {
	mu sync.RWMutex

	nextObject vm.ObjectID
	nextField  vm.FieldID
	objects    map[vm.ObjectID]*object
	classes    map[vm.ObjectID]*vm.Class
	byName     map[string]vm.ObjectID
	loaded     []vm.ObjectID
	fields     map[vm.FieldID]fieldRef

	metaClass vm.ObjectID
	globals   []vm.ObjectID
	monitors  []vm.ObjectID

	strong map[*strongRef]struct{}
	weak   map[*weakRef]struct{}

	// allocBudget is the number of handle allocations left before they fail; negative means
	// unlimited.
	allocBudget int
	unsafeRead  bool

	th  threadState
	mem codeState
}

// New creates a runtime with the core system classes loaded and resident.
func New() *Runtime {
	r := &Runtime{
		objects:     make(map[vm.ObjectID]*object),
		classes:     make(map[vm.ObjectID]*vm.Class),
		byName:      make(map[string]vm.ObjectID),
		fields:      make(map[vm.FieldID]fieldRef),
		strong:      make(map[*strongRef]struct{}),
		weak:        make(map[*weakRef]struct{}),
		allocBudget: -1,
	}
	r.th.init()
	r.mem.init()

	// the metaclass is its own class
	r.metaClass = r.defineClassLocked(ClassSpec{Name: ClassClass, Resident: true})
	object := r.defineClassLocked(ClassSpec{Name: ClassObject, Resident: true})
	r.classes[r.metaClass].Super = object
	r.defineClassLocked(ClassSpec{
		Name:     ClassString,
		Super:    object,
		Resident: true,
		Text:     true,
		Fields:   []vm.Field{{Name: "hash", Signature: "I", Type: vm.TypeInt}},
	})
	r.defineClassLocked(ClassSpec{
		Name:     ClassThread,
		Super:    object,
		Resident: true,
		Fields: []vm.Field{
			{Name: "name", Signature: "Ljava/lang/String;", Type: vm.TypeObject},
			{Name: "priority", Signature: "I", Type: vm.TypeInt},
		},
	})
	return r
}

// ClassSpec describes a class to define.
type ClassSpec struct {
	Name             string
	Super            vm.ObjectID
	Interfaces       []vm.ObjectID
	Loader           vm.ObjectID
	Signers          vm.ObjectID
	ProtectionDomain vm.ObjectID
	Fields           []vm.Field
	ConstantPool     []vm.ConstantRef
	Array            bool
	ElementType      vm.BasicType
	Text             bool
	Resident         bool
}

// DefineClass loads a class and returns its mirror. Field IDs are assigned here; a
// non-resident class without a superclass extends java/lang/Object.
func (r *Runtime) DefineClass(spec ClassSpec) vm.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec.Super == vm.Null {
		spec.Super = r.byName[ClassObject]
	}
	return r.defineClassLocked(spec)
}

func (r *Runtime) defineClassLocked(spec ClassSpec) vm.ObjectID {
	id := r.allocLocked(r.metaClass)
	if r.metaClass == vm.Null {
		r.objects[id].class = id
	}
	fields := make([]vm.Field, len(spec.Fields))
	for i, f := range spec.Fields {
		r.nextField++
		f.ID = r.nextField
		fields[i] = f
	}
	c := &vm.Class{
		ID:               id,
		Name:             spec.Name,
		Super:            spec.Super,
		Interfaces:       append([]vm.ObjectID(nil), spec.Interfaces...),
		Loader:           spec.Loader,
		Signers:          spec.Signers,
		ProtectionDomain: spec.ProtectionDomain,
		Fields:           fields,
		ConstantPool:     append([]vm.ConstantRef(nil), spec.ConstantPool...),
		Array:            spec.Array,
		ElementType:      spec.ElementType,
		Text:             spec.Text,
		Resident:         spec.Resident,
	}
	for i := range c.Fields {
		r.fields[c.Fields[i].ID] = fieldRef{class: id, field: &c.Fields[i]}
	}
	r.classes[id] = c
	r.byName[spec.Name] = id
	r.loaded = append(r.loaded, id)
	return id
}

// DefineArrayClass loads the array class with the given element type.
func (r *Runtime) DefineArrayClass(name string, elem vm.BasicType) vm.ObjectID {
	return r.DefineClass(ClassSpec{Name: name, Array: true, ElementType: elem})
}

// UnloadClass drops the class from the loaded set so the collector may reclaim it.
func (r *Runtime) UnloadClass(id vm.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.loaded {
		if c == id {
			r.loaded = append(r.loaded[:i], r.loaded[i+1:]...)
			return
		}
	}
}

// ClassByName returns the mirror of a loaded class.
func (r *Runtime) ClassByName(name string) (vm.ObjectID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// AddConstant appends a resolved constant-pool entry to a class.
func (r *Runtime) AddConstant(class vm.ObjectID, index int, obj vm.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[class]; ok {
		c.ConstantPool = append(c.ConstantPool, vm.ConstantRef{Index: index, Object: obj})
	}
}

func (r *Runtime) allocLocked(class vm.ObjectID) vm.ObjectID {
	r.nextObject++
	id := r.nextObject
	r.objects[id] = &object{class: class, fields: make(map[vm.FieldID]vm.Value)}
	return id
}

// NewObject allocates an instance of class with zeroed fields.
func (r *Runtime) NewObject(class vm.ObjectID) vm.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocLocked(class)
}

// NewArray allocates an array of n zeroed elements.
func (r *Runtime) NewArray(class vm.ObjectID, n int) vm.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocLocked(class)
	elem := vm.TypeObject
	if c, ok := r.classes[class]; ok && c.Array {
		elem = c.ElementType
	}
	elems := make([]vm.Value, n)
	for i := range elems {
		elems[i] = vm.Value{Type: elem}
	}
	r.objects[id].elems = elems
	return id
}

// NewString allocates an instance of the text type holding s.
func (r *Runtime) NewString(s string) vm.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocLocked(r.byName[ClassString])
	text := make([]uint16, 0, len(s))
	for _, c := range s {
		text = append(text, uint16(c))
	}
	r.objects[id].text = text
	return id
}

// SetField stores an instance or static field value by name, searching the superclass
// chain. It reports whether the field was found.
func (r *Runtime) SetField(obj vm.ObjectID, name string, v vm.Value) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[obj]
	if !ok {
		return false
	}
	start := o.class
	if _, isClass := r.classes[obj]; isClass {
		start = obj
	}
	for c := start; c != vm.Null; {
		class, ok := r.classes[c]
		if !ok {
			break
		}
		for i := range class.Fields {
			if class.Fields[i].Name == name {
				o.fields[class.Fields[i].ID] = v
				return true
			}
		}
		c = class.Super
	}
	return false
}

// SetElement stores an array element.
func (r *Runtime) SetElement(arr vm.ObjectID, i int, v vm.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.objects[arr]; ok && i >= 0 && i < len(o.elems) {
		o.elems[i] = v
	}
}

// AddGlobalRoot registers a persistent global handle.
func (r *Runtime) AddGlobalRoot(obj vm.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals = append(r.globals, obj)
}

// AddMonitor registers an object as a bound monitor.
func (r *Runtime) AddMonitor(obj vm.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors = append(r.monitors, obj)
}

// FailAllocationsAfter lets n more handle allocations succeed, then fails the rest.
// A negative n removes the limit.
func (r *Runtime) FailAllocationsAfter(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocBudget = n
}

// SetSafeToRead toggles the GC-safe window.
func (r *Runtime) SetSafeToRead(safe bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsafeRead = !safe
}

// ObjectCount returns the number of live objects, class mirrors included.
func (r *Runtime) ObjectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// IsLive implements vm.ObjectModel.
func (r *Runtime) IsLive(obj vm.ObjectID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.objects[obj]
	return ok
}

// ClassOf implements vm.ObjectModel.
func (r *Runtime) ClassOf(obj vm.ObjectID) vm.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.objects[obj]; ok {
		return o.class
	}
	return vm.Null
}

// Class implements vm.ObjectModel.
func (r *Runtime) Class(id vm.ObjectID) (*vm.Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[id]
	return c, ok
}

// MetaClass implements vm.ObjectModel.
func (r *Runtime) MetaClass() vm.ObjectID {
	return r.metaClass
}

// Size implements vm.ObjectModel.
func (r *Runtime) Size(obj vm.ObjectID) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[obj]
	if !ok {
		return 0
	}
	if o.elems != nil {
		elem := vm.TypeObject
		if c, ok := r.classes[o.class]; ok {
			elem = c.ElementType
		}
		size := elem.Size()
		if size == 0 {
			size = 8
		}
		return headerSize + int64(len(o.elems)*size)
	}
	if o.text != nil {
		return headerSize + 8 + int64(len(o.text)*2)
	}
	n := 0
	if c, ok := r.classes[obj]; ok {
		for _, f := range c.Fields {
			if f.Static {
				n++
			}
		}
		return headerSize + int64(n)*8
	}
	for c := o.class; c != vm.Null; {
		class, ok := r.classes[c]
		if !ok {
			break
		}
		for _, f := range class.Fields {
			if !f.Static {
				n++
			}
		}
		c = class.Super
	}
	return headerSize + int64(n)*8
}

// ArrayLength implements vm.ObjectModel.
func (r *Runtime) ArrayLength(obj vm.ObjectID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[obj]
	if !ok || o.elems == nil {
		return -1
	}
	return len(o.elems)
}

// Elements implements vm.ObjectModel.
func (r *Runtime) Elements(obj vm.ObjectID) []vm.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[obj]
	if !ok {
		return nil
	}
	return append([]vm.Value(nil), o.elems...)
}

// FieldValue implements vm.ObjectModel.
func (r *Runtime) FieldValue(obj vm.ObjectID, f *vm.Field) vm.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.objects[obj]; ok {
		if v, ok := o.fields[f.ID]; ok {
			return v
		}
	}
	return vm.Value{Type: f.Type}
}

// StaticValue implements vm.ObjectModel.
func (r *Runtime) StaticValue(class vm.ObjectID, f *vm.Field) vm.Value {
	return r.FieldValue(class, f)
}

// Text implements vm.ObjectModel.
func (r *Runtime) Text(obj vm.ObjectID) ([]uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[obj]
	if !ok || o.text == nil {
		return nil, false
	}
	return append([]uint16(nil), o.text...), true
}

// IdentityHash implements vm.ObjectModel. Resident class mirrors have no identity hash.
func (r *Runtime) IdentityHash(obj vm.ObjectID) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.classes[obj]; ok && c.Resident {
		return 0, false
	}
	if _, ok := r.objects[obj]; !ok {
		return 0, false
	}
	return uint32(obj) * 2654435761, true
}

// AddressOf implements vm.ObjectModel.
func (r *Runtime) AddressOf(obj vm.ObjectID) uintptr {
	return uintptr(addressBase + uint64(obj)*addressAlign)
}

// FieldByID implements vm.ObjectModel.
func (r *Runtime) FieldByID(id vm.FieldID) (vm.ObjectID, *vm.Field, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.fields[id]
	if !ok || ref.field == nil {
		return vm.Null, nil, false
	}
	if _, loaded := r.classes[ref.class]; !loaded {
		return vm.Null, nil, false
	}
	return ref.class, ref.field, true
}

// FieldID returns the ID of a field declared directly by class.
func (r *Runtime) FieldID(class vm.ObjectID, name string) (vm.FieldID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[class]
	if !ok {
		return 0, false
	}
	for _, f := range c.Fields {
		if f.Name == name {
			return f.ID, true
		}
	}
	return 0, false
}

// ForEachObject implements vm.ObjectModel. Objects are visited in allocation order.
func (r *Runtime) ForEachObject(fn func(vm.ObjectID) bool) {
	r.mu.RLock()
	ids := make([]vm.ObjectID, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}

// LoadedClasses implements vm.ObjectModel.
func (r *Runtime) LoadedClasses() []vm.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]vm.ObjectID(nil), r.loaded...)
}

// ResidentClasses implements vm.ObjectModel.
func (r *Runtime) ResidentClasses() []vm.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []vm.ObjectID
	for _, id := range r.loaded {
		if r.classes[id].Resident {
			out = append(out, id)
		}
	}
	return out
}

// SafeToRead implements vm.ObjectModel.
func (r *Runtime) SafeToRead() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.unsafeRead
}

// ScanGlobalRoots implements vm.RootScanner.
func (r *Runtime) ScanGlobalRoots(fn func(vm.ObjectID)) {
	r.mu.RLock()
	roots := append([]vm.ObjectID(nil), r.globals...)
	r.mu.RUnlock()
	for _, obj := range roots {
		fn(obj)
	}
}

// ScanMonitors implements vm.RootScanner.
func (r *Runtime) ScanMonitors(fn func(vm.ObjectID)) {
	r.mu.RLock()
	roots := append([]vm.ObjectID(nil), r.monitors...)
	r.mu.RUnlock()
	for _, obj := range roots {
		fn(obj)
	}
}

type strongRef struct {
	rt  *Runtime
	obj vm.ObjectID
}

func (s *strongRef) Object() vm.ObjectID {
	return s.obj
}

func (s *strongRef) Release() {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	delete(s.rt.strong, s)
}

type weakRef struct {
	rt      *Runtime
	obj     vm.ObjectID
	cleared bool
}

func (w *weakRef) Get() (vm.ObjectID, bool) {
	w.rt.mu.RLock()
	defer w.rt.mu.RUnlock()
	if w.cleared {
		return vm.Null, false
	}
	return w.obj, true
}

func (w *weakRef) Release() {
	w.rt.mu.Lock()
	defer w.rt.mu.Unlock()
	delete(w.rt.weak, w)
}

func (r *Runtime) takeAllocLocked() error {
	if r.allocBudget == 0 {
		return apperrors.ErrOutOfMemory
	}
	if r.allocBudget > 0 {
		r.allocBudget--
	}
	return nil
}

// NewStrongRef implements vm.Handles.
func (r *Runtime) NewStrongRef(obj vm.ObjectID) (vm.StrongRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeAllocLocked(); err != nil {
		return nil, err
	}
	ref := &strongRef{rt: r, obj: obj}
	r.strong[ref] = struct{}{}
	return ref, nil
}

// NewWeakRef implements vm.Handles.
func (r *Runtime) NewWeakRef(obj vm.ObjectID) (vm.WeakRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeAllocLocked(); err != nil {
		return nil, err
	}
	ref := &weakRef{rt: r, obj: obj}
	if _, ok := r.objects[obj]; !ok {
		ref.cleared = true
	}
	r.weak[ref] = struct{}{}
	return ref, nil
}

// HandleCount returns the number of unreleased strong and weak handles.
func (r *Runtime) HandleCount() (strong, weak int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strong), len(r.weak)
}

// Collect runs a full mark/sweep collection, clears weak handles to dead objects, and
// returns the reclaimed objects in ascending order.
func (r *Runtime) Collect() []vm.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := make(map[vm.ObjectID]bool)
	var stack []vm.ObjectID
	push := func(obj vm.ObjectID) {
		if obj == vm.Null || marked[obj] {
			return
		}
		if _, ok := r.objects[obj]; !ok {
			return
		}
		marked[obj] = true
		stack = append(stack, obj)
	}

	for _, obj := range r.globals {
		push(obj)
	}
	for _, obj := range r.monitors {
		push(obj)
	}
	for _, obj := range r.loaded {
		push(obj)
	}
	for ref := range r.strong {
		push(ref.obj)
	}
	r.th.roots(push)

	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		o := r.objects[obj]
		push(o.class)
		for _, v := range o.fields {
			if v.IsRef() {
				push(v.Ref)
			}
		}
		for _, v := range o.elems {
			if v.IsRef() {
				push(v.Ref)
			}
		}
		if c, ok := r.classes[obj]; ok {
			push(c.Super)
			push(c.Loader)
			push(c.Signers)
			push(c.ProtectionDomain)
			for _, i := range c.Interfaces {
				push(i)
			}
			for _, cp := range c.ConstantPool {
				push(cp.Object)
			}
		}
	}

	var freed []vm.ObjectID
	for id := range r.objects {
		if !marked[id] {
			freed = append(freed, id)
		}
	}
	sort.Slice(freed, func(i, j int) bool { return freed[i] < freed[j] })
	for _, id := range freed {
		delete(r.objects, id)
		if c, ok := r.classes[id]; ok {
			delete(r.classes, id)
			if r.byName[c.Name] == id {
				delete(r.byName, c.Name)
			}
		}
	}
	for ref := range r.weak {
		if !ref.cleared && !marked[ref.obj] {
			ref.cleared = true
		}
	}
	return freed
}

var _ vm.Runtime = (*Runtime)(nil)
