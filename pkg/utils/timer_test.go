package utils

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestMockClock(t *testing.T) {
	c := NewMockClock(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(2 * time.Second)
	assert.Equal(t, 2*time.Second, c.Since(epoch))

	c.Set(epoch.Add(time.Hour))
	assert.Equal(t, time.Hour, c.Since(epoch))
}

func TestRealClock(t *testing.T) {
	c := NewRealClock()
	before := time.Now()
	assert.False(t, c.Now().Before(before))
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))
}

func TestTimer_Phases(t *testing.T) {
	c := NewMockClock(epoch)
	timer := NewTimer("snapshot", WithClock(c))

	walk := timer.Start("walk")
	c.Advance(30 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, walk.Stop())

	c.Advance(time.Second)
	assert.Equal(t, 30*time.Millisecond, walk.Stop(), "second stop keeps the first duration")

	hist := timer.Start("histogram")
	c.Advance(5 * time.Millisecond)

	phases := timer.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "walk", phases[0].Name)
	assert.Equal(t, epoch, phases[0].Start)
	assert.Equal(t, "histogram", phases[1].Name)
	assert.Zero(t, phases[1].Duration)

	assert.Equal(t, "snapshot: walk=30ms histogram=running total=1.035s", timer.Summary())
	hist.Stop()
	assert.Equal(t, "snapshot: walk=30ms histogram=5ms total=1.035s", timer.Summary())
	assert.Equal(t, 1035*time.Millisecond, timer.Total())
}

func TestTimer_Time(t *testing.T) {
	c := NewMockClock(epoch)
	timer := NewTimer("walk", WithClock(c))
	boom := errors.New("boom")

	d, err := timer.Time("follow", func() error {
		c.Advance(time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, time.Millisecond, d)
	assert.Len(t, timer.Phases(), 1)
}

func TestTimer_LogsPhases(t *testing.T) {
	var buf bytes.Buffer
	c := NewMockClock(epoch)
	timer := NewTimer("FollowReferences", WithLogger(NewDefaultLogger(LevelDebug, &buf)), WithClock(c))

	pt := timer.Start("walk")
	c.Advance(2 * time.Millisecond)
	pt.Stop()
	pt.Stop()

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), "[DEBUG] FollowReferences/walk took 2ms")
}

func TestTimer_NilOptions(t *testing.T) {
	timer := NewTimer("x", WithLogger(nil), WithClock(nil))
	assert.NotNil(t, timer.clock)
	assert.NotNil(t, timer.log)
	timer.Start("p").Stop()
}
