package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/vmsim"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

func newStore(t *testing.T, buckets int) (*Store, *lock.Lock, *vmsim.Runtime) {
	t.Helper()
	rt := vmsim.New()
	l := lock.New("test")
	return NewStore(l, rt, rt, buckets), l, rt
}

func TestStore_SetGetDelete(t *testing.T) {
	s, l, rt := newStore(t, 16)
	obj := rt.NewObject(rt.MetaClass())

	g := l.Acquire()
	defer g.Release()

	err := s.Set(g, obj, 0)
	assert.True(t, hasCode(err, apperrors.CodeInvalidObject))

	require.NoError(t, s.Set(g, obj, 42))
	assert.Equal(t, uint64(42), s.Get(g, obj))

	require.NoError(t, s.Set(g, obj, 43))
	assert.Equal(t, uint64(43), s.Get(g, obj))
	assert.Equal(t, 1, s.Len(g))

	require.NoError(t, s.Set(g, obj, 0))
	assert.Zero(t, s.Get(g, obj))
	assert.Zero(t, s.Len(g))

	seen := 0
	s.Each(g, func(vm.ObjectID, uint64) bool {
		seen++
		return true
	})
	assert.Zero(t, seen, "deleted node is gone from a full scan")

	_, weak := rt.HandleCount()
	assert.Zero(t, weak)
}

func hasCode(err error, code string) bool {
	return apperrors.GetErrorCode(err) == code
}

func TestStore_InvalidObjects(t *testing.T) {
	s, l, rt := newStore(t, 16)
	dead := rt.NewObject(rt.MetaClass())
	rt.Collect()

	g := l.Acquire()
	defer g.Release()

	assert.True(t, hasCode(s.Set(g, dead, 1), apperrors.CodeInvalidObject))
	assert.True(t, hasCode(s.Set(g, vm.Null, 1), apperrors.CodeInvalidObject))
	assert.Zero(t, s.Get(g, vm.Null))
}

func TestStore_ResidentObjectsUseAddressHash(t *testing.T) {
	s, l, rt := newStore(t, 16)
	object, _ := rt.ClassByName(vmsim.ClassObject)

	g := l.Acquire()
	defer g.Release()

	require.NoError(t, s.Set(g, object, 7))
	require.NoError(t, s.Set(g, rt.MetaClass(), 8))
	assert.Equal(t, uint64(7), s.Get(g, object))
	assert.Equal(t, uint64(8), s.Get(g, rt.MetaClass()))
}

func TestStore_RehashSweepsCollected(t *testing.T) {
	s, l, rt := newStore(t, 16)
	kept := rt.NewObject(rt.MetaClass())
	rt.AddGlobalRoot(kept)
	lost := rt.NewObject(rt.MetaClass())

	g := l.Acquire()
	require.NoError(t, s.Set(g, kept, 1))
	require.NoError(t, s.Set(g, lost, 2))
	g.Release()

	rt.Collect()

	g = l.Acquire()
	defer g.Release()
	assert.Zero(t, s.Get(g, lost), "a collected object reads as untagged")
	assert.Equal(t, 2, s.Len(g), "dead node stays until rehash")

	freed := s.Rehash(g)
	assert.Equal(t, []uint64{2}, freed)
	assert.Equal(t, 1, s.Len(g))
	assert.Equal(t, uint64(1), s.Get(g, kept))
	assert.Empty(t, s.Rehash(g))
}

func TestStore_GrowsAndKeepsEntries(t *testing.T) {
	s, l, rt := newStore(t, 1)

	g := l.Acquire()
	defer g.Release()

	var objs []vm.ObjectID
	for i := 0; i < 100; i++ {
		obj := rt.NewObject(rt.MetaClass())
		objs = append(objs, obj)
		require.NoError(t, s.Set(g, obj, uint64(i+1)))
	}
	assert.Greater(t, s.Buckets(g), 1)
	for i, obj := range objs {
		assert.Equal(t, uint64(i+1), s.Get(g, obj))
	}
}

func TestStore_UpdateAfterCallback(t *testing.T) {
	s, l, rt := newStore(t, 16)
	a := rt.NewObject(rt.MetaClass())
	b := rt.NewObject(rt.MetaClass())

	g := l.Acquire()
	defer g.Release()

	tests := []struct {
		name   string
		obj    vm.ObjectID
		setup  uint64
		newTag uint64
		want   uint64
		nodes  int
	}{
		{"untagged stays untagged", a, 0, 0, 0, 0},
		{"untagged becomes tagged", a, 0, 5, 5, 1},
		{"tagged is overwritten", b, 3, 4, 4, 1},
		{"tagged is cleared", b, 3, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Clear(g)
			if tt.setup != 0 {
				require.NoError(t, s.Set(g, tt.obj, tt.setup))
			}
			require.NoError(t, s.UpdateAfterCallback(g, tt.obj, s.Find(g, tt.obj), tt.newTag))
			assert.Equal(t, tt.want, s.Get(g, tt.obj))
			assert.Equal(t, tt.nodes, s.Len(g))
		})
	}
}

func TestStore_ObjectsWithTags(t *testing.T) {
	s, l, rt := newStore(t, 16)
	a := rt.NewObject(rt.MetaClass())
	b := rt.NewObject(rt.MetaClass())
	c := rt.NewObject(rt.MetaClass())

	g := l.Acquire()
	defer g.Release()
	require.NoError(t, s.Set(g, a, 10))
	require.NoError(t, s.Set(g, b, 20))
	require.NoError(t, s.Set(g, c, 10))

	objs, tags, err := s.ObjectsWithTags(g, []uint64{10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []vm.ObjectID{a, c}, objs)
	assert.Equal(t, []uint64{10, 10}, tags)

	_, _, err = s.ObjectsWithTags(g, []uint64{0})
	assert.True(t, hasCode(err, apperrors.CodeIllegalArgument))
}

func TestStore_AllocationFailure(t *testing.T) {
	s, l, rt := newStore(t, 16)
	obj := rt.NewObject(rt.MetaClass())

	g := l.Acquire()
	defer g.Release()

	rt.FailAllocationsAfter(0)
	assert.True(t, apperrors.IsOutOfMemory(s.Set(g, obj, 1)))
	assert.Zero(t, s.Len(g))
}
