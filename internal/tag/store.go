// Package tag implements the object tag store: a hash table from live objects to 64-bit
// client tags. Nodes hold weak handles, so tagging never extends an object's lifetime;
// nodes whose objects were collected are removed by Rehash.
package tag

import (
	"github.com/vmti/internal/lock"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// DefaultBuckets is the initial bucket count.
const DefaultBuckets = 4096

// maxLoad is the average chain length that triggers growth.
const maxLoad = 4

// Entry is a tag node.
type Entry struct {
	ref  vm.WeakRef
	obj  vm.ObjectID
	hash uint32
	tag  uint64
	next *Entry
}

// Tag returns the entry's current tag.
func (e *Entry) Tag() uint64 {
	return e.tag
}

// Store is the tag table. Every method requires the subsystem lock and a GC-safe context.
type Store struct {
	lock    *lock.Lock
	model   vm.ObjectModel
	handles vm.Handles
	buckets []*Entry
	count   int
}

// NewStore creates a store with the given initial bucket count, rounded up to a power of two.
func NewStore(l *lock.Lock, model vm.ObjectModel, h vm.Handles, buckets int) *Store {
	n := 1
	for n < buckets {
		n <<= 1
	}
	return &Store{
		lock:    l,
		model:   model,
		handles: h,
		buckets: make([]*Entry, n),
	}
}

// hash uses the identity hash, falling back to the address for permanently resident
// objects that have none.
func (s *Store) hash(obj vm.ObjectID) uint32 {
	if h, ok := s.model.IdentityHash(obj); ok {
		return h
	}
	addr := uint64(s.model.AddressOf(obj)) >> 3
	return uint32(addr ^ addr>>32)
}

func (s *Store) index(h uint32) int {
	return int(h & uint32(len(s.buckets)-1))
}

// Find returns the live entry for obj, or nil.
func (s *Store) Find(g *lock.Guard, obj vm.ObjectID) *Entry {
	g.Check(s.lock)
	if obj == vm.Null {
		return nil
	}
	h := s.hash(obj)
	for e := s.buckets[s.index(h)]; e != nil; e = e.next {
		if e.obj != obj || e.hash != h {
			continue
		}
		if _, live := e.ref.Get(); live {
			return e
		}
	}
	return nil
}

// Get returns the tag of obj, 0 when untagged.
func (s *Store) Get(g *lock.Guard, obj vm.ObjectID) uint64 {
	if e := s.Find(g, obj); e != nil {
		return e.tag
	}
	return 0
}

// Set tags obj. A zero tag deletes the node; zeroing an object that has no node is an
// error, as is tagging a dead or null object.
func (s *Store) Set(g *lock.Guard, obj vm.ObjectID, tag uint64) error {
	g.Check(s.lock)
	if obj == vm.Null || !s.model.IsLive(obj) {
		return apperrors.Newf(apperrors.CodeInvalidObject, "object %d", obj)
	}
	e := s.Find(g, obj)
	if e == nil && tag == 0 {
		return apperrors.Newf(apperrors.CodeInvalidObject, "object %d is not tagged", obj)
	}
	return s.UpdateAfterCallback(g, obj, e, tag)
}

// UpdateAfterCallback reconciles a tag a heap callback may have changed. e is the entry
// that existed before the callback, or nil. An untagged object left untagged allocates
// nothing.
func (s *Store) UpdateAfterCallback(g *lock.Guard, obj vm.ObjectID, e *Entry, tag uint64) error {
	g.Check(s.lock)
	switch {
	case e == nil && tag == 0:
		return nil
	case e == nil:
		return s.insert(obj, tag)
	case tag == 0:
		s.remove(e)
		return nil
	default:
		e.tag = tag
		return nil
	}
}

func (s *Store) insert(obj vm.ObjectID, tag uint64) error {
	ref, err := s.handles.NewWeakRef(obj)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeOutOfMemory, "tag handle", err)
	}
	h := s.hash(obj)
	i := s.index(h)
	s.buckets[i] = &Entry{ref: ref, obj: obj, hash: h, tag: tag, next: s.buckets[i]}
	s.count++
	if s.count > maxLoad*len(s.buckets) {
		s.resize(len(s.buckets) * 2)
	}
	return nil
}

func (s *Store) remove(target *Entry) {
	i := s.index(target.hash)
	for p := &s.buckets[i]; *p != nil; p = &(*p).next {
		if *p == target {
			*p = target.next
			target.ref.Release()
			s.count--
			return
		}
	}
}

func (s *Store) resize(n int) {
	buckets := make([]*Entry, n)
	for _, head := range s.buckets {
		for e := head; e != nil; {
			next := e.next
			i := int(e.hash & uint32(n-1))
			e.next = buckets[i]
			buckets[i] = e
			e = next
		}
	}
	s.buckets = buckets
}

// Rehash removes every node whose object has been collected and returns the tags they
// carried.
func (s *Store) Rehash(g *lock.Guard) []uint64 {
	g.Check(s.lock)
	var freed []uint64
	for i := range s.buckets {
		for p := &s.buckets[i]; *p != nil; {
			e := *p
			if _, live := e.ref.Get(); live {
				p = &e.next
				continue
			}
			*p = e.next
			e.ref.Release()
			s.count--
			freed = append(freed, e.tag)
		}
	}
	return freed
}

// Each calls fn for every live tagged object until fn returns false.
func (s *Store) Each(g *lock.Guard, fn func(obj vm.ObjectID, tag uint64) bool) {
	g.Check(s.lock)
	for _, head := range s.buckets {
		for e := head; e != nil; e = e.next {
			if _, live := e.ref.Get(); !live {
				continue
			}
			if !fn(e.obj, e.tag) {
				return
			}
		}
	}
}

// ObjectsWithTags returns the live objects carrying any of tags, with their tags.
func (s *Store) ObjectsWithTags(g *lock.Guard, tags []uint64) ([]vm.ObjectID, []uint64, error) {
	want := make(map[uint64]bool, len(tags))
	for _, t := range tags {
		if t == 0 {
			return nil, nil, apperrors.New(apperrors.CodeIllegalArgument, "zero tag in query")
		}
		want[t] = true
	}
	var objs []vm.ObjectID
	var found []uint64
	s.Each(g, func(obj vm.ObjectID, tag uint64) bool {
		if want[tag] {
			objs = append(objs, obj)
			found = append(found, tag)
		}
		return true
	})
	return objs, found, nil
}

// Len returns the number of nodes, including dead ones not yet swept.
func (s *Store) Len(g *lock.Guard) int {
	g.Check(s.lock)
	return s.count
}

// Buckets returns the current bucket count.
func (s *Store) Buckets(g *lock.Guard) int {
	g.Check(s.lock)
	return len(s.buckets)
}

// Clear drops every node.
func (s *Store) Clear(g *lock.Guard) {
	g.Check(s.lock)
	for i, head := range s.buckets {
		for e := head; e != nil; e = e.next {
			e.ref.Release()
		}
		s.buckets[i] = nil
	}
	s.count = 0
}
