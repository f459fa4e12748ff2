package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/thread"
	"github.com/vmti/internal/vmsim"
	apperrors "github.com/vmti/pkg/errors"
)

type fixture struct {
	lock *lock.Lock
	reg  *thread.Registry
	recs []*thread.Record
}

func newFixture(t *testing.T, threads int) *fixture {
	t.Helper()
	rt := vmsim.New()
	f := &fixture{lock: lock.New("test")}
	f.reg = thread.NewRegistry(f.lock, rt)

	g := f.lock.Acquire()
	defer g.Release()
	for i := 0; i < threads; i++ {
		tid := rt.StartThread("t")
		rec, err := f.reg.Insert(g, tid, rt.ThreadObject(tid))
		require.NoError(t, err)
		f.recs = append(f.recs, rec)
	}
	return f
}

func noop(*Event) {}

func TestModel_ShouldNotify(t *testing.T) {
	f := newFixture(t, 2)
	m := NewModel(1)
	g := f.lock.Acquire()
	defer g.Release()

	for k := Kind(0); k < NumKinds; k++ {
		for _, rec := range f.recs {
			assert.False(t, m.ShouldNotify(k, rec))
		}
	}

	require.NoError(t, m.SetEnabled(g, f.reg, Breakpoint, f.recs[0], true))
	assert.True(t, m.ShouldNotify(Breakpoint, f.recs[0]))
	assert.False(t, m.ShouldNotify(Breakpoint, f.recs[1]))
	assert.False(t, m.GlobalEnabled(Breakpoint))

	require.NoError(t, m.SetEnabled(g, f.reg, Breakpoint, nil, true))
	assert.True(t, m.ShouldNotify(Breakpoint, f.recs[1]))
	assert.True(t, m.ShouldNotify(Breakpoint, nil))

	require.NoError(t, m.SetEnabled(g, f.reg, Breakpoint, nil, false))
	assert.True(t, m.ShouldNotify(Breakpoint, f.recs[0]))
	assert.False(t, m.ShouldNotify(Breakpoint, f.recs[1]))

	// slots are independent
	other := NewModel(2)
	assert.False(t, other.ShouldNotify(Breakpoint, f.recs[0]))
}

func TestModel_GlobalOnlyRejectsThreadFilter(t *testing.T) {
	f := newFixture(t, 1)
	m := NewModel(0)
	g := f.lock.Acquire()
	defer g.Release()

	for k := Kind(0); k < NumKinds; k++ {
		if !k.GlobalOnly() {
			continue
		}
		t.Run(k.String(), func(t *testing.T) {
			err := m.SetEnabled(g, f.reg, k, f.recs[0], true)
			assert.True(t, apperrors.GetErrorCode(err) == apperrors.CodeIllegalArgument)
			assert.False(t, m.ShouldNotify(k, f.recs[0]))
			assert.Zero(t, f.recs[0].EventBits(0))
		})
	}

	err := m.SetEnabled(g, f.reg, NumKinds, nil, true)
	assert.Equal(t, apperrors.CodeInvalidEventKind, apperrors.GetErrorCode(err))
}

func TestModel_CombinedMask(t *testing.T) {
	f := newFixture(t, 2)
	m := NewModel(0)
	g := f.lock.Acquire()
	defer g.Release()

	require.NoError(t, m.SetEnabled(g, f.reg, MethodEntry, f.recs[1], true))
	assert.False(t, m.Enabled(MethodEntry), "no callback registered")

	m.SetCallbacks(g, f.reg, Callbacks{MethodEntry: noop, MethodExit: nil})
	assert.True(t, m.Enabled(MethodEntry))
	assert.False(t, m.Enabled(MethodExit))
	assert.NotNil(t, m.Callback(MethodEntry))
	assert.Nil(t, m.Callback(MethodExit))

	require.NoError(t, m.SetEnabled(g, f.reg, MethodEntry, f.recs[1], false))
	assert.False(t, m.Enabled(MethodEntry))

	require.NoError(t, m.SetEnabled(g, f.reg, MethodEntry, f.recs[0], true))
	f.reg.Remove(g, f.recs[0].ID)
	assert.True(t, m.Enabled(MethodEntry), "stale until recomputed")
	m.Recompute(g, f.reg)
	assert.False(t, m.Enabled(MethodEntry))
}

func TestModel_Clear(t *testing.T) {
	f := newFixture(t, 1)
	m := NewModel(3)
	g := f.lock.Acquire()
	defer g.Release()

	m.SetCallbacks(g, f.reg, Callbacks{Exception: noop})
	require.NoError(t, m.SetEnabled(g, f.reg, Exception, f.recs[0], true))
	require.NoError(t, m.SetEnabled(g, f.reg, ThreadStart, nil, true))

	m.Clear(g, f.reg)
	assert.False(t, m.Enabled(Exception))
	assert.False(t, m.ShouldNotify(Exception, f.recs[0]))
	assert.False(t, m.GlobalEnabled(ThreadStart))
	assert.Nil(t, m.Callback(Exception))
}

func TestKind_Metadata(t *testing.T) {
	c, ok := Breakpoint.RequiredCapability()
	assert.True(t, ok)
	assert.Equal(t, capability.GenerateBreakpointEvents, c)

	_, ok = ThreadStart.RequiredCapability()
	assert.False(t, ok)

	k, ok := ParseKind("FieldAccess")
	require.True(t, ok)
	assert.Equal(t, FieldAccess, k)
	assert.Equal(t, "Unknown", Kind(-1).String())

	for k := Kind(0); k < NumKinds; k++ {
		assert.NotEmpty(t, k.String())
	}
}
