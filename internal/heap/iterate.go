package heap

import (
	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/tag"
	"github.com/vmti/pkg/vm"
)

// IterateThroughHeap visits every object in the heap, reachable or not, without reporting
// edges. Objects passing the class and heap filters go to the heap-iteration callback, then
// to the primitive field, string, and array callbacks. opts.InitialObject is ignored.
func IterateThroughHeap(g *lock.Guard, rt Runtime, tags *tag.Store, opts Options, cb Callbacks) (Stats, error) {
	w := newWalker(g, rt, tags, opts, cb)
	rt.ForEachObject(func(obj vm.ObjectID) bool {
		w.stats.Objects++
		return w.iterateOne(obj)
	})
	return w.result()
}

func (w *walker) iterateOne(obj vm.ObjectID) bool {
	s, ok := w.admit(obj)
	if !ok {
		return true
	}
	length := w.rt.ArrayLength(obj)

	if w.cb.HeapIteration != nil {
		res := w.cb.HeapIteration(&Object{
			ClassTag: s.classTag,
			Size:     w.rt.Size(obj),
			Tag:      s.tag,
			Length:   length,
		})
		if !w.apply(&s, res) {
			return false
		}
	}

	if mirror, isClass := w.rt.Class(obj); isClass {
		if w.cb.PrimitiveField != nil {
			for _, f := range w.fields.statics(mirror.ID) {
				if f.field.Type == vm.TypeObject {
					continue
				}
				if !w.emitPrimitiveField(&s, RefStaticField, f.index, w.rt.StaticValue(obj, f.field)) {
					return false
				}
			}
		}
		return true
	}

	class, ok := w.rt.Class(w.rt.ClassOf(obj))
	if !ok {
		return true
	}
	if length < 0 {
		if w.cb.PrimitiveField != nil {
			for _, f := range w.fields.instance(class.ID) {
				if f.field.Type == vm.TypeObject {
					continue
				}
				if !w.emitPrimitiveField(&s, RefField, f.index, w.rt.FieldValue(obj, f.field)) {
					return false
				}
			}
		}
		if class.Text && w.cb.StringPrimitive != nil && !w.emitString(&s) {
			return false
		}
		return true
	}
	if class.ElementType.IsPrimitive() && w.cb.ArrayPrimitive != nil {
		return w.emitArray(&s, class)
	}
	return true
}
