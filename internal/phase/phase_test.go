package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vmti/pkg/errors"
)

func TestGate_AdvanceStrictlyForward(t *testing.T) {
	g := NewGate()
	assert.Equal(t, PreInit, g.Current())

	require.NoError(t, g.Advance(Starting))
	require.NoError(t, g.Advance(Live))
	assert.Equal(t, Live, g.Current())

	err := g.Advance(Early)
	assert.True(t, apperrors.IsWrongPhase(err))
	err = g.Advance(Live)
	assert.True(t, apperrors.IsWrongPhase(err))
	assert.Equal(t, Live, g.Current())

	require.NoError(t, g.Advance(Shutdown))
	assert.Error(t, g.Advance(Phase(9)))
}

func TestGate_CheckAndAllows(t *testing.T) {
	tests := []struct {
		name    string
		phase   Phase
		r       Range
		allowed bool
	}{
		{"pre-init only", PreInit, OnlyPreInit, true},
		{"pre-init only in live", Live, OnlyPreInit, false},
		{"start or live in early", Early, StartOrLive, true},
		{"start or live in starting", Starting, StartOrLive, false},
		{"any in shutdown", Shutdown, AnyPhase, true},
		{"not shutdown", Shutdown, NotShutdown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate()
			if tt.phase != PreInit {
				require.NoError(t, g.Advance(tt.phase))
			}
			assert.Equal(t, tt.allowed, g.Allows(tt.r))
			if tt.allowed {
				assert.NoError(t, g.Check(tt.r))
			} else {
				assert.True(t, apperrors.IsWrongPhase(g.Check(tt.r)))
			}
		})
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "LIVE", Live.String())
	assert.Equal(t, "EARLY..LIVE", StartOrLive.String())
	assert.Equal(t, "LIVE", OnlyLive.String())
}
