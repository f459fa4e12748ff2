package heap

import (
	"github.com/eapache/queue"

	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/tag"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

type walker struct {
	rt     Runtime
	tags   *tag.Store
	g      *lock.Guard
	cb     Callbacks
	opts   Options
	fields *fieldMaps

	visited map[vm.ObjectID]bool
	pending *queue.Queue

	stats Stats
	err   error
}

func newWalker(g *lock.Guard, rt Runtime, tags *tag.Store, opts Options, cb Callbacks) *walker {
	if !rt.SafeToRead() {
		panic("heap: traversal outside a GC-safe window")
	}
	return &walker{
		rt:      rt,
		tags:    tags,
		g:       g,
		cb:      cb,
		opts:    opts,
		fields:  newFieldMaps(rt),
		visited: make(map[vm.ObjectID]bool),
		pending: queue.New(),
	}
}

func (w *walker) result() (Stats, error) {
	if w.err != nil {
		w.stats.Aborted = true
	}
	return w.stats, w.err
}

// subject is an object about to be reported with the tags it had before the callback.
type subject struct {
	obj      vm.ObjectID
	entry    *tag.Entry
	tag      uint64
	classTag uint64
}

func (w *walker) subject(obj vm.ObjectID) subject {
	s := subject{obj: obj, entry: w.tags.Find(w.g, obj)}
	if s.entry != nil {
		s.tag = s.entry.Tag()
	}
	s.classTag = w.tags.Get(w.g, w.rt.ClassOf(obj))
	return s
}

// admit applies the class filter and the heap filter. Filtering affects reporting only.
func (w *walker) admit(obj vm.ObjectID) (subject, bool) {
	if w.opts.Class != vm.Null && w.rt.ClassOf(obj) != w.opts.Class {
		return subject{}, false
	}
	s := w.subject(obj)
	if w.opts.Filter.excludes(s.tag, s.classTag) {
		return subject{}, false
	}
	return s, true
}

// apply performs the tag update a callback asked for and reports whether to keep going.
func (w *walker) apply(s *subject, res Result) bool {
	if res.setTag {
		if err := w.tags.UpdateAfterCallback(w.g, s.obj, s.entry, res.tag); err != nil {
			w.err = err
			return false
		}
		s.entry = w.tags.Find(w.g, s.obj)
		s.tag = res.tag
	}
	if res.Action == Abort {
		w.stats.Aborted = true
		return false
	}
	return true
}

func (w *walker) checkForVisit(obj vm.ObjectID) {
	if !w.visited[obj] {
		w.pending.Add(obj)
	}
}

// FollowReferences walks the object graph from the roots, or from opts.InitialObject, and
// reports every edge that passes the filters. Filtered objects and objects without a
// reference callback are still traversed. Allocation failure while updating tags aborts
// the walk; edges already reported stay reported.
func FollowReferences(g *lock.Guard, rt Runtime, tags *tag.Store, opts Options, cb Callbacks) (Stats, error) {
	w := newWalker(g, rt, tags, opts, cb)

	if opts.InitialObject != vm.Null {
		if !rt.IsLive(opts.InitialObject) {
			return w.stats, apperrors.Newf(apperrors.CodeInvalidObject, "initial object %d", opts.InitialObject)
		}
		w.pending.Add(opts.InitialObject)
	} else if !w.collectRoots() {
		return w.result()
	}

	for w.pending.Length() > 0 {
		obj := w.pending.Remove().(vm.ObjectID)
		if w.visited[obj] {
			continue
		}
		w.visited[obj] = true
		w.stats.Objects++
		if !w.visit(obj) {
			break
		}
	}
	return w.result()
}

// report delivers one edge. referrer is vm.Null for roots.
func (w *walker) report(kind ReferenceKind, info ReferenceInfo, referrer, obj vm.ObjectID) bool {
	if obj == vm.Null {
		return true
	}
	if w.cb.HeapReference == nil {
		w.checkForVisit(obj)
		return true
	}
	s, ok := w.admit(obj)
	if !ok {
		w.checkForVisit(obj)
		return true
	}

	ref := &Reference{
		Kind:     kind,
		Info:     info,
		ClassTag: s.classTag,
		Size:     w.rt.Size(obj),
		Tag:      s.tag,
		Length:   w.rt.ArrayLength(obj),
	}
	var r subject
	if referrer != vm.Null {
		r = w.subject(referrer)
		ref.HasReferrer = true
		ref.ReferrerTag = r.tag
		ref.ReferrerClassTag = r.classTag
	}
	if kind.IsRoot() {
		w.stats.Roots++
	}
	w.stats.Edges++

	res := w.cb.HeapReference(ref)

	if res.setReferrerTag && referrer != vm.Null && !(referrer == obj && res.setTag) {
		if err := w.tags.UpdateAfterCallback(w.g, referrer, r.entry, res.referrerTag); err != nil {
			w.err = err
			return false
		}
		if referrer == obj {
			s.entry = w.tags.Find(w.g, obj)
		}
	}
	if !w.apply(&s, res) {
		return false
	}
	if res.Action == VisitChildren {
		w.checkForVisit(obj)
	}
	return true
}

func (w *walker) collectRoots() bool {
	ok := true
	w.rt.ScanGlobalRoots(func(obj vm.ObjectID) {
		ok = ok && w.report(RefJNIGlobal, ReferenceInfo{}, vm.Null, obj)
	})
	if !ok {
		return false
	}

	// the metaclass goes first so its tag is known when other classes report it
	meta := w.rt.MetaClass()
	if !w.report(RefSystemClass, ReferenceInfo{}, vm.Null, meta) {
		return false
	}
	resident := map[vm.ObjectID]bool{meta: true}
	for _, c := range w.rt.ResidentClasses() {
		resident[c] = true
		if c != meta && !w.report(RefSystemClass, ReferenceInfo{}, vm.Null, c) {
			return false
		}
	}
	// the class table keeps every other loaded class alive, with its statics
	for _, c := range w.rt.LoadedClasses() {
		if !resident[c] && !w.report(RefOther, ReferenceInfo{}, vm.Null, c) {
			return false
		}
	}

	threads := w.rt.Threads()
	for _, t := range threads {
		obj := w.rt.ThreadObject(t)
		info := ReferenceInfo{Thread: t, ThreadTag: w.tags.Get(w.g, obj)}
		if !w.report(RefThread, info, vm.Null, obj) {
			return false
		}
		for _, h := range w.rt.LocalHandles(t) {
			if !w.report(RefJNILocal, info, vm.Null, h) {
				return false
			}
		}
	}

	w.rt.ScanMonitors(func(obj vm.ObjectID) {
		ok = ok && w.report(RefMonitor, ReferenceInfo{}, vm.Null, obj)
	})
	if !ok {
		return false
	}

	for _, t := range threads {
		if !w.collectStack(t) {
			return false
		}
	}
	return true
}

// collectStack reports the live reference slots of each frame, innermost first.
func (w *walker) collectStack(t vm.ThreadID) bool {
	threadTag := w.tags.Get(w.g, w.rt.ThreadObject(t))
	for depth, f := range w.rt.Frames(t) {
		if f.Method == nil || f.Method.Native {
			continue
		}
		live := w.rt.LiveLocals(f.Method, f.PC)
		for slot, v := range f.Locals {
			if slot >= len(live) || !live[slot] || !v.IsRef() || v.Ref == vm.Null {
				continue
			}
			info := ReferenceInfo{
				Thread:    t,
				ThreadTag: threadTag,
				Depth:     depth,
				Method:    f.Method,
				Location:  f.PC,
				Slot:      slot,
			}
			if !w.report(RefStackLocal, info, vm.Null, v.Ref) {
				return false
			}
		}
	}
	return true
}

func (w *walker) visit(obj vm.ObjectID) bool {
	if class, ok := w.rt.Class(obj); ok {
		return w.visitClass(obj, class)
	}
	classID := w.rt.ClassOf(obj)
	class, ok := w.rt.Class(classID)
	if !ok {
		return true
	}
	if !w.report(RefClass, ReferenceInfo{}, obj, classID) {
		return false
	}
	if class.Array {
		return w.visitArray(obj, class)
	}
	return w.visitInstance(obj, class)
}

func (w *walker) visitClass(mirror vm.ObjectID, class *vm.Class) bool {
	none := ReferenceInfo{}
	if !w.report(RefSuperclass, none, mirror, class.Super) ||
		!w.report(RefClassLoader, none, mirror, class.Loader) ||
		!w.report(RefProtectionDomain, none, mirror, class.ProtectionDomain) ||
		!w.report(RefSigners, none, mirror, class.Signers) {
		return false
	}
	for _, cp := range class.ConstantPool {
		if !w.report(RefConstantPool, ReferenceInfo{Index: cp.Index}, mirror, cp.Object) {
			return false
		}
	}
	for _, iface := range class.Interfaces {
		if !w.report(RefInterface, none, mirror, iface) {
			return false
		}
	}
	for _, f := range w.fields.statics(mirror) {
		v := w.rt.StaticValue(mirror, f.field)
		if f.field.Type == vm.TypeObject {
			if !w.report(RefStaticField, ReferenceInfo{Index: f.index}, mirror, v.Ref) {
				return false
			}
		} else if !w.reportPrimitiveField(RefStaticField, mirror, f.index, v) {
			return false
		}
	}
	return true
}

func (w *walker) visitInstance(obj vm.ObjectID, class *vm.Class) bool {
	for _, f := range w.fields.instance(class.ID) {
		v := w.rt.FieldValue(obj, f.field)
		if f.field.Type == vm.TypeObject {
			if !w.report(RefField, ReferenceInfo{Index: f.index}, obj, v.Ref) {
				return false
			}
		} else if !w.reportPrimitiveField(RefField, obj, f.index, v) {
			return false
		}
	}
	if class.Text && w.cb.StringPrimitive != nil {
		if s, ok := w.admit(obj); ok {
			return w.emitString(&s)
		}
	}
	return true
}

func (w *walker) visitArray(obj vm.ObjectID, class *vm.Class) bool {
	if class.ElementType == vm.TypeObject {
		for i, v := range w.rt.Elements(obj) {
			if v.Ref == vm.Null {
				continue
			}
			if !w.report(RefArrayElement, ReferenceInfo{Index: i}, obj, v.Ref) {
				return false
			}
		}
		return true
	}
	if w.cb.ArrayPrimitive != nil {
		if s, ok := w.admit(obj); ok {
			return w.emitArray(&s, class)
		}
	}
	return true
}

func (w *walker) reportPrimitiveField(kind ReferenceKind, obj vm.ObjectID, index int, v vm.Value) bool {
	if w.cb.PrimitiveField == nil {
		return true
	}
	s, ok := w.admit(obj)
	if !ok {
		return true
	}
	return w.emitPrimitiveField(&s, kind, index, v)
}

func (w *walker) emitPrimitiveField(s *subject, kind ReferenceKind, index int, v vm.Value) bool {
	w.stats.Primitives++
	res := w.cb.PrimitiveField(&PrimitiveField{
		Kind:     kind,
		Index:    index,
		ClassTag: s.classTag,
		Tag:      s.tag,
		Value:    v,
	})
	return w.apply(s, res)
}

func (w *walker) emitString(s *subject) bool {
	text, ok := w.rt.Text(s.obj)
	if !ok {
		return true
	}
	w.stats.Primitives++
	res := w.cb.StringPrimitive(&StringPrimitive{
		ClassTag: s.classTag,
		Size:     w.rt.Size(s.obj),
		Tag:      s.tag,
		Value:    text,
	})
	return w.apply(s, res)
}

func (w *walker) emitArray(s *subject, class *vm.Class) bool {
	elems := w.rt.Elements(s.obj)
	w.stats.Primitives++
	res := w.cb.ArrayPrimitive(&ArrayPrimitive{
		ClassTag:    s.classTag,
		Size:        w.rt.Size(s.obj),
		Tag:         s.tag,
		Length:      len(elems),
		ElementType: class.ElementType,
		Data:        encodeElements(class.ElementType, elems),
	})
	return w.apply(s, res)
}
