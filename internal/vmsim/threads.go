package vmsim

import (
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

const codeBase vm.Address = 0x1000

type simThread struct {
	id        vm.ThreadID
	object    vm.ObjectID
	frames    []vm.Frame // outermost first
	handles   []vm.ObjectID
	suspended bool
}

type livenessKey struct {
	method vm.MethodID
	pc     vm.Location
}

type threadState struct {
	next     vm.ThreadID
	list     []*simThread
	byID     map[vm.ThreadID]*simThread
	liveness map[livenessKey][]bool
}

func (s *threadState) init() {
	s.byID = make(map[vm.ThreadID]*simThread)
	s.liveness = make(map[livenessKey][]bool)
}

func (s *threadState) roots(push func(vm.ObjectID)) {
	for _, t := range s.list {
		push(t.object)
		for _, f := range t.frames {
			for _, v := range f.Locals {
				if v.IsRef() {
					push(v.Ref)
				}
			}
		}
		for _, h := range t.handles {
			push(h)
		}
	}
}

type codeState struct {
	text       []byte
	nextMethod vm.MethodID
	methods    map[vm.MethodID]*vm.Method
	ordered    []*vm.Method
}

func (c *codeState) init() {
	c.methods = make(map[vm.MethodID]*vm.Method)
}

func (c *codeState) index(addr vm.Address) (int, bool) {
	if addr < codeBase || addr >= codeBase+vm.Address(len(c.text)) {
		return 0, false
	}
	return int(addr - codeBase), true
}

// frameID derives a frame identity from its stack slot, so a new frame pushed at the same
// depth after a pop reuses the identity.
func frameID(t vm.ThreadID, depth int) vm.FrameID {
	return vm.FrameID(uint64(t)<<16 | uint64(depth+1))
}

// StartThread creates a runtime thread with its language-level object.
func (r *Runtime) StartThread(name string) vm.ThreadID {
	nameObj := r.NewString(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	class := r.byName[ClassThread]
	obj := r.allocLocked(class)
	if c, ok := r.classes[class]; ok {
		for _, f := range c.Fields {
			if f.Name == "name" {
				r.objects[obj].fields[f.ID] = vm.RefValue(nameObj)
			}
		}
	}
	r.th.next++
	t := &simThread{id: r.th.next, object: obj}
	r.th.list = append(r.th.list, t)
	r.th.byID[t.id] = t
	return t.id
}

// EndThread terminates a thread. It reports false for unknown threads.
func (r *Runtime) EndThread(id vm.ThreadID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.th.byID[id]; !ok {
		return false
	}
	delete(r.th.byID, id)
	for i, t := range r.th.list {
		if t.id == id {
			r.th.list = append(r.th.list[:i], r.th.list[i+1:]...)
			break
		}
	}
	return true
}

// DefineMethod installs a method's code into instruction memory.
func (r *Runtime) DefineMethod(class vm.ObjectID, name, signature string, code []byte, maxLocals int) *vm.Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem.nextMethod++
	m := &vm.Method{
		ID:         r.mem.nextMethod,
		Class:      class,
		Name:       name,
		Signature:  signature,
		Start:      codeBase + vm.Address(len(r.mem.text)),
		CodeLength: len(code),
		MaxLocals:  maxLocals,
	}
	r.mem.text = append(r.mem.text, code...)
	r.mem.methods[m.ID] = m
	r.mem.ordered = append(r.mem.ordered, m)
	return m
}

// DefineNativeMethod declares a method without bytecode.
func (r *Runtime) DefineNativeMethod(class vm.ObjectID, name, signature string) *vm.Method {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem.nextMethod++
	m := &vm.Method{ID: r.mem.nextMethod, Class: class, Name: name, Signature: signature, Native: true}
	r.mem.methods[m.ID] = m
	return m
}

// PushFrame invokes m on thread t and returns the new frame's identity.
func (r *Runtime) PushFrame(t vm.ThreadID, m *vm.Method, locals ...vm.Value) (vm.FrameID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.th.byID[t]
	if !ok {
		return 0, apperrors.ErrInvalidThread
	}
	slots := make([]vm.Value, m.MaxLocals)
	copy(slots, locals)
	f := vm.Frame{ID: frameID(t, len(th.frames)), Method: m, Locals: slots}
	th.frames = append(th.frames, f)
	return f.ID, nil
}

// PopFrame unwinds the innermost frame of t.
func (r *Runtime) PopFrame(t vm.ThreadID) (vm.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.th.byID[t]
	if !ok || len(th.frames) == 0 {
		return vm.Frame{}, false
	}
	f := th.frames[len(th.frames)-1]
	th.frames = th.frames[:len(th.frames)-1]
	return f, true
}

// SetPC moves the innermost frame of t to pc.
func (r *Runtime) SetPC(t vm.ThreadID, pc vm.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if th, ok := r.th.byID[t]; ok && len(th.frames) > 0 {
		th.frames[len(th.frames)-1].PC = pc
	}
}

// SetLocal stores a local slot of the innermost frame of t.
func (r *Runtime) SetLocal(t vm.ThreadID, slot int, v vm.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.th.byID[t]
	if !ok || len(th.frames) == 0 {
		return
	}
	f := &th.frames[len(th.frames)-1]
	if slot >= 0 && slot < len(f.Locals) {
		f.Locals[slot] = v
	}
}

// AddLocalHandle registers a native local handle on thread t.
func (r *Runtime) AddLocalHandle(t vm.ThreadID, obj vm.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if th, ok := r.th.byID[t]; ok {
		th.handles = append(th.handles, obj)
	}
}

// SetLiveness overrides the liveness map of m at pc. Slots default to live.
func (r *Runtime) SetLiveness(m *vm.Method, pc vm.Location, live []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.th.liveness[livenessKey{m.ID, pc}] = append([]bool(nil), live...)
}

// Threads implements vm.Interpreter.
func (r *Runtime) Threads() []vm.ThreadID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]vm.ThreadID, len(r.th.list))
	for i, t := range r.th.list {
		out[i] = t.id
	}
	return out
}

// ThreadObject implements vm.Interpreter.
func (r *Runtime) ThreadObject(t vm.ThreadID) vm.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if th, ok := r.th.byID[t]; ok {
		return th.object
	}
	return vm.Null
}

// Frames implements vm.Interpreter.
func (r *Runtime) Frames(t vm.ThreadID) []vm.Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	th, ok := r.th.byID[t]
	if !ok {
		return nil
	}
	out := make([]vm.Frame, 0, len(th.frames))
	for i := len(th.frames) - 1; i >= 0; i-- {
		f := th.frames[i]
		f.Locals = append([]vm.Value(nil), f.Locals...)
		out = append(out, f)
	}
	return out
}

// LiveLocals implements vm.Interpreter.
func (r *Runtime) LiveLocals(m *vm.Method, pc vm.Location) []bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if live, ok := r.th.liveness[livenessKey{m.ID, pc}]; ok {
		return append([]bool(nil), live...)
	}
	live := make([]bool, m.MaxLocals)
	for i := range live {
		live[i] = true
	}
	return live
}

// LocalHandles implements vm.Interpreter.
func (r *Runtime) LocalHandles(t vm.ThreadID) []vm.ObjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if th, ok := r.th.byID[t]; ok {
		return append([]vm.ObjectID(nil), th.handles...)
	}
	return nil
}

// Method implements vm.Interpreter.
func (r *Runtime) Method(id vm.MethodID) (*vm.Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mem.methods[id]
	return m, ok
}

// MethodAt implements vm.Interpreter.
func (r *Runtime) MethodAt(addr vm.Address) (*vm.Method, vm.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mem.ordered {
		if addr >= m.Start && addr < m.Start+vm.Address(m.CodeLength) {
			return m, vm.Location(addr - m.Start), true
		}
	}
	return nil, 0, false
}

// ReadCode implements vm.CodeMemory.
func (r *Runtime) ReadCode(addr vm.Address) (byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.mem.index(addr)
	if !ok {
		return 0, apperrors.Newf(apperrors.CodeInvalidLocation, "no code at %#x", uint64(addr))
	}
	return r.mem.text[i], nil
}

// WriteCode implements vm.CodeMemory.
func (r *Runtime) WriteCode(addr vm.Address, b byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.mem.index(addr)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidLocation, "no code at %#x", uint64(addr))
	}
	r.mem.text[i] = b
	return nil
}

// Suspend implements vm.Suspender.
func (r *Runtime) Suspend(t vm.ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.th.byID[t]
	if !ok {
		return apperrors.ErrInvalidThread
	}
	if th.suspended {
		return apperrors.ErrThreadSuspended
	}
	th.suspended = true
	return nil
}

// Resume implements vm.Suspender.
func (r *Runtime) Resume(t vm.ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.th.byID[t]
	if !ok {
		return apperrors.ErrInvalidThread
	}
	if !th.suspended {
		return apperrors.ErrThreadNotSuspended
	}
	th.suspended = false
	return nil
}

// IsSuspended implements vm.Suspender.
func (r *Runtime) IsSuspended(t vm.ThreadID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	th, ok := r.th.byID[t]
	return ok && th.suspended
}
