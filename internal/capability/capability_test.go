package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vmti/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect Capability
		ok     bool
	}{
		{"plain", "tag_objects", TagObjects, true},
		{"prefixed", "can_suspend", Suspend, true},
		{"mixed case", "  Generate_Breakpoint_Events ", GenerateBreakpointEvents, true},
		{"unknown", "fly", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := Parse(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expect, c)
			}
		})
	}
}

func TestNames_AllDefined(t *testing.T) {
	seen := make(map[string]bool)
	for c := Capability(0); c < NumCapabilities; c++ {
		name := c.String()
		require.NotEmpty(t, name, "capability %d has no name", c)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
	assert.Equal(t, "unknown", NumCapabilities.String())
}

func TestSet_Algebra(t *testing.T) {
	a := Of(TagObjects, Suspend, PopFrame)
	b := Of(Suspend, GenerateBreakpointEvents)

	assert.True(t, a.Union(b).Equal(Of(TagObjects, Suspend, PopFrame, GenerateBreakpointEvents)))
	assert.True(t, a.Intersect(b).Equal(Of(Suspend)))
	assert.True(t, a.Exclude(b).Equal(Of(TagObjects, PopFrame)))
	assert.True(t, Of(Suspend).SubsetOf(a))
	assert.False(t, b.SubsetOf(a))

	// operands are never mutated
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 2, b.Len())

	var zero Set
	assert.True(t, zero.IsEmpty())
	assert.True(t, zero.Equal(Of()))
	assert.True(t, zero.Union(a).Equal(a))
	assert.True(t, a.With(ForceEarlyReturn).Has(ForceEarlyReturn))
	assert.False(t, a.Has(ForceEarlyReturn))
}

func TestSet_Names(t *testing.T) {
	s, unknown := ParseSet([]string{"suspend", "tag_objects", "bogus"})
	assert.Equal(t, []string{"bogus"}, unknown)
	assert.Equal(t, []string{"suspend", "tag_objects"}, s.Names())
	assert.Equal(t, "[suspend tag_objects]", s.String())
	assert.Equal(t, []Capability{TagObjects, Suspend}, s.List())
}

func TestPool_AddRequiresSubsetOfPotential(t *testing.T) {
	p := NewPool(nil)
	current := Of()

	potential := p.Potential(current, Of())
	assert.True(t, potential.Has(TagObjects))
	assert.True(t, potential.Has(Suspend))
	assert.False(t, potential.Has(GenerateBreakpointEvents), "early-only capability outside the early phase")

	got, err := p.Add(current, Of(), Of(TagObjects))
	require.NoError(t, err)
	assert.True(t, got.Equal(Of(TagObjects)))

	_, err = p.Add(got, Of(), Of(GenerateBreakpointEvents))
	assert.True(t, apperrors.IsNotAvailable(err))
}

func TestPool_Prohibited(t *testing.T) {
	p := NewPool(nil)

	_, err := p.Add(Of(), Of(PopFrame), Of(PopFrame))
	assert.True(t, errors.Is(err, apperrors.ErrNotAvailable))

	// an already-held capability stays potential even when prohibited
	assert.True(t, p.Potential(Of(PopFrame), Of(PopFrame)).Has(PopFrame))
}

func TestPool_ExclusiveRelinquishThenAdd(t *testing.T) {
	p := NewPool(nil)

	first, err := p.Add(Of(), Of(), Of(Suspend))
	require.NoError(t, err)

	_, err = p.Add(Of(), Of(), Of(Suspend))
	assert.True(t, apperrors.IsNotAvailable(err), "second observer must not get an exclusive capability")
	assert.True(t, p.Potential(first, Of()).Has(Suspend), "holder still sees it as potential")

	first = p.Relinquish(first, Of(Suspend))
	assert.True(t, first.IsEmpty())

	second, err := p.Add(Of(), Of(), Of(Suspend))
	require.NoError(t, err)
	assert.True(t, second.Has(Suspend))
}

func TestPool_EarlyPhasePromotion(t *testing.T) {
	early := true
	p := NewPool(func() bool { return early })

	assert.True(t, p.Potential(Of(), Of()).Has(GenerateBreakpointEvents))
	assert.True(t, p.Potential(Of(), Of()).Has(GenerateFieldAccessEvents))

	first, err := p.Add(Of(), Of(), Of(GenerateBreakpointEvents, GenerateFieldAccessEvents))
	require.NoError(t, err)

	early = false

	// promoted into the always pool, so a second observer can still get breakpoints
	second, err := p.Add(Of(), Of(), Of(GenerateBreakpointEvents))
	require.NoError(t, err)
	assert.True(t, second.Has(GenerateBreakpointEvents))

	// exclusive and taken
	_, err = p.Add(Of(), Of(), Of(GenerateFieldAccessEvents))
	assert.True(t, apperrors.IsNotAvailable(err))

	// returned after the early phase, it becomes grantable again
	p.Relinquish(first, Of(GenerateFieldAccessEvents))
	_, err = p.Add(Of(), Of(), Of(GenerateFieldAccessEvents))
	assert.NoError(t, err)

	// never granted early-only capabilities stay unavailable
	_, err = p.Add(Of(), Of(), Of(GenerateFieldModificationEvents))
	assert.True(t, apperrors.IsNotAvailable(err))
}

func TestPool_FailedAddLeavesPoolsUntouched(t *testing.T) {
	p := NewPool(nil)

	_, err := p.Add(Of(), Of(), Of(Suspend, GenerateFieldAccessEvents))
	require.Error(t, err)

	assert.True(t, p.Acquired().IsEmpty())
	assert.True(t, p.Potential(Of(), Of()).Has(Suspend))
	assert.False(t, p.Flags().CanSuspend)
}

func TestPool_FlagsFrozenAfterRelinquish(t *testing.T) {
	p := NewPool(nil)
	assert.False(t, p.Flags().CanPostInterpreterEvents)

	held, err := p.Add(Of(), Of(), Of(GenerateFramePopEvents, TagObjects))
	require.NoError(t, err)

	flags := p.Flags()
	assert.True(t, flags.CanPostFramePop)
	assert.True(t, flags.CanPostMethodExit)
	assert.True(t, flags.CanAccessLocalVariables)
	assert.True(t, flags.CanPostInterpreterEvents)
	assert.True(t, flags.CanTagObjects)
	assert.False(t, flags.CanPostBreakpoint)

	p.Relinquish(held, held)
	assert.True(t, p.Flags().CanPostInterpreterEvents)
	assert.True(t, p.Acquired().Has(GenerateFramePopEvents))
}
