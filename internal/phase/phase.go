// Package phase implements the process-global lifecycle phase and the gate every API call
// and notification consults.
package phase

import (
	"sync/atomic"

	apperrors "github.com/vmti/pkg/errors"
)

// Phase is a lifecycle phase. Phases only move forward.
type Phase int32

const (
	PreInit Phase = iota
	Starting
	Early
	Live
	Shutdown
)

func (p Phase) String() string {
	switch p {
	case PreInit:
		return "PRE_INIT"
	case Starting:
		return "STARTING"
	case Early:
		return "EARLY"
	case Live:
		return "LIVE"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Range is an inclusive phase interval.
type Range struct {
	From Phase
	To   Phase
}

// Contains reports whether p lies in r.
func (r Range) Contains(p Phase) bool {
	return p >= r.From && p <= r.To
}

func (r Range) String() string {
	if r.From == r.To {
		return r.From.String()
	}
	return r.From.String() + ".." + r.To.String()
}

// Common ranges.
var (
	OnlyPreInit = Range{PreInit, PreInit}
	OnlyLive    = Range{Live, Live}
	StartOrLive = Range{Early, Live}
	AnyPhase    = Range{PreInit, Shutdown}
	NotShutdown = Range{PreInit, Live}
)

// Gate holds the current phase.
type Gate struct {
	current atomic.Int32
}

// NewGate creates a gate in PRE_INIT.
func NewGate() *Gate {
	return &Gate{}
}

// Current returns the current phase.
func (g *Gate) Current() Phase {
	return Phase(g.current.Load())
}

// Advance moves to next. Moving backwards or staying put fails with WRONG_PHASE.
func (g *Gate) Advance(next Phase) error {
	for {
		cur := g.current.Load()
		if int32(next) <= cur || next > Shutdown {
			return apperrors.Newf(apperrors.CodeWrongPhase, "cannot move from %s to %s", Phase(cur), next)
		}
		if g.current.CompareAndSwap(cur, int32(next)) {
			return nil
		}
	}
}

// Check is used by explicit API calls: outside r it returns WRONG_PHASE.
func (g *Gate) Check(r Range) error {
	if cur := g.Current(); !r.Contains(cur) {
		return apperrors.Newf(apperrors.CodeWrongPhase, "operation valid in %s, current phase is %s", r, cur)
	}
	return nil
}

// Allows is used by notification delivery, which drops silently outside r.
func (g *Gate) Allows(r Range) bool {
	return r.Contains(g.Current())
}
