package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is one timed step of a Timer.
type Phase struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	done     bool
}

// Timer records named phases of a longer operation, such as the walks of a heap snapshot.
type Timer struct {
	mu     sync.Mutex
	name   string
	clock  Clock
	log    Logger
	start  time.Time
	phases []*Phase
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithLogger makes the timer log each completed phase at debug level.
func WithLogger(logger Logger) TimerOption {
	return func(t *Timer) {
		if logger != nil {
			t.log = logger
		}
	}
}

// WithClock sets the timer's clock.
func WithClock(clock Clock) TimerOption {
	return func(t *Timer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTimer starts a timer.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{name: name, clock: NewRealClock(), log: &NullLogger{}}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.clock.Now()
	return t
}

// PhaseTimer stops a phase started with Timer.Start.
type PhaseTimer struct {
	t *Timer
	p *Phase
}

// Start begins a phase. Phase names need not be unique.
func (t *Timer) Start(name string) *PhaseTimer {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Phase{Name: name, Start: t.clock.Now()}
	t.phases = append(t.phases, p)
	return &PhaseTimer{t: t, p: p}
}

// Stop ends the phase and returns its duration. Only the first call records.
func (pt *PhaseTimer) Stop() time.Duration {
	t := pt.t
	t.mu.Lock()
	if pt.p.done {
		d := pt.p.Duration
		t.mu.Unlock()
		return d
	}
	pt.p.Duration = t.clock.Since(pt.p.Start)
	pt.p.done = true
	d := pt.p.Duration
	t.mu.Unlock()

	t.log.Debug("%s/%s took %v", t.name, pt.p.Name, d)
	return d
}

// Time runs fn as a phase.
func (t *Timer) Time(name string, fn func() error) (time.Duration, error) {
	pt := t.Start(name)
	err := fn()
	return pt.Stop(), err
}

// Phases returns copies of the recorded phases in start order.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, len(t.phases))
	for i, p := range t.phases {
		out[i] = *p
	}
	return out
}

// Total is the time since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.start)
}

// Summary renders the phases on one line, e.g. "snapshot: walk=3ms histogram=1ms total=4ms".
// Unfinished phases are shown as "running".
func (t *Timer) Summary() string {
	var sb strings.Builder
	sb.WriteString(t.name)
	sb.WriteString(":")
	for _, p := range t.Phases() {
		if p.done {
			fmt.Fprintf(&sb, " %s=%v", p.Name, p.Duration)
		} else {
			fmt.Fprintf(&sb, " %s=running", p.Name)
		}
	}
	fmt.Fprintf(&sb, " total=%v", t.Total())
	return sb.String()
}
