package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/vmsim"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

func newRegistry(t *testing.T) (*Registry, *lock.Lock, *vmsim.Runtime) {
	t.Helper()
	rt := vmsim.New()
	l := lock.New("test")
	return NewRegistry(l, rt), l, rt
}

func TestRegistry_InsertFindRemove(t *testing.T) {
	reg, l, rt := newRegistry(t)
	tid := rt.StartThread("worker")

	g := l.Acquire()
	defer g.Release()

	_, ok := reg.Find(g, tid)
	assert.False(t, ok)

	rec, err := reg.Insert(g, tid, rt.ThreadObject(tid))
	require.NoError(t, err)
	assert.Equal(t, rt.ThreadObject(tid), rec.Object())

	again, err := reg.Insert(g, tid, rt.ThreadObject(tid))
	require.NoError(t, err)
	assert.Same(t, rec, again, "insert is idempotent")

	found, ok := reg.Find(g, tid)
	require.True(t, ok)
	assert.Same(t, rec, found)
	assert.Equal(t, 1, reg.Len(g))

	assert.True(t, reg.Remove(g, tid))
	assert.False(t, reg.Remove(g, tid))
	_, ok = reg.Find(g, tid)
	assert.False(t, ok)

	strong, _ := rt.HandleCount()
	assert.Equal(t, 0, strong, "handles are released on removal")
}

func TestRegistry_InsertReleasesPartialHandles(t *testing.T) {
	reg, l, rt := newRegistry(t)
	tid := rt.StartThread("worker")

	g := l.Acquire()
	defer g.Release()

	rt.FailAllocationsAfter(1)
	_, err := reg.Insert(g, tid, rt.ThreadObject(tid))
	assert.True(t, apperrors.IsOutOfMemory(err))

	_, ok := reg.Find(g, tid)
	assert.False(t, ok)
	strong, _ := rt.HandleCount()
	assert.Equal(t, 0, strong)
}

func TestRegistry_RequiresLock(t *testing.T) {
	reg, _, rt := newRegistry(t)
	other := lock.New("other")
	g := other.Acquire()
	defer g.Release()

	assert.Panics(t, func() { reg.Find(g, rt.StartThread("x")) })
}

func TestRegistry_EachInOrder(t *testing.T) {
	reg, l, rt := newRegistry(t)
	ids := []vm.ThreadID{rt.StartThread("a"), rt.StartThread("b"), rt.StartThread("c")}

	g := l.Acquire()
	defer g.Release()
	for _, id := range ids {
		_, err := reg.Insert(g, id, rt.ThreadObject(id))
		require.NoError(t, err)
	}
	reg.Remove(g, ids[1])

	var seen []vm.ThreadID
	reg.Each(g, func(r *Record) bool {
		seen = append(seen, r.ID)
		return true
	})
	assert.Equal(t, []vm.ThreadID{ids[0], ids[2]}, seen)
}

func TestRecord_EventBitsAndState(t *testing.T) {
	reg, l, rt := newRegistry(t)
	tid := rt.StartThread("worker")
	exc := rt.NewObject(rt.MetaClass())

	g := l.Acquire()
	defer g.Release()
	rec, err := reg.Insert(g, tid, rt.ThreadObject(tid))
	require.NoError(t, err)

	rec.EnableEvent(2, 5, true)
	rec.EnableEvent(2, 7, true)
	assert.Equal(t, uint64(1<<5|1<<7), rec.EventBits(2))
	rec.EnableEvent(2, 5, false)
	assert.Equal(t, uint64(1<<7), rec.EventBits(2))
	assert.Zero(t, rec.EventBits(0))

	assert.Equal(t, vm.Null, rec.LastException(g))
	require.NoError(t, rec.SetLastException(g, rt, exc))
	assert.Equal(t, exc, rec.LastException(g))

	_, ok := rec.TakePending(g)
	assert.False(t, ok)
	rec.SetPending(g, Pending{Kind: PendingEarlyReturn, Value: vm.IntValue(3)}, nil)
	p, ok := rec.TakePending(g)
	require.True(t, ok)
	assert.Equal(t, int32(3), p.Value.Int())
	_, ok = rec.TakePending(g)
	assert.False(t, ok)
}
