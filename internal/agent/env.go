package agent

import (
	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/event"
	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/phase"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/utils"
	"github.com/vmti/pkg/vm"
)

// AllThreads selects global enablement in SetEventNotificationMode.
const AllThreads vm.ThreadID = 0

// Env is one observer's view of the tool interface. Its methods are safe for concurrent
// use and must not be called from heap traversal callbacks.
type Env struct {
	s     *Subsystem
	slot  int
	model *event.Model
	log   utils.Logger

	// guarded by the subsystem lock
	caps     capability.Set
	disposed bool
}

func newEnv(s *Subsystem, slot int) *Env {
	return &Env{
		s:     s,
		slot:  slot,
		model: event.NewModel(slot),
		log:   s.log.WithField("env", slot),
		caps:  capability.Of(),
	}
}

// Slot returns the observer slot the Env occupies.
func (e *Env) Slot() int {
	return e.slot
}

// enter acquires the subsystem lock for an API call, after the phase check.
func (e *Env) enter(ranges ...phase.Range) (*lock.Guard, error) {
	if err := e.s.checkPhase(ranges...); err != nil {
		return nil, err
	}
	g := e.s.lock.Acquire()
	if e.disposed {
		g.Release()
		return nil, apperrors.New(apperrors.CodeIllegalArgument, "environment disposed")
	}
	return g, nil
}

// require fails with MUST_POSSESS_CAPABILITY unless the Env holds c.
func (e *Env) require(g *lock.Guard, c capability.Capability) error {
	g.Check(e.s.lock)
	if !e.caps.Has(c) {
		return apperrors.Newf(apperrors.CodeMustPossessCapability, "%s", c)
	}
	return nil
}

// GetPotentialCapabilities returns what this Env could be granted right now.
func (e *Env) GetPotentialCapabilities() (capability.Set, error) {
	g, err := e.enter(phase.OnlyPreInit, phase.OnlyLive)
	if err != nil {
		return capability.Set{}, err
	}
	defer g.Release()
	return e.s.pool.Potential(e.caps, e.s.prohibited).Exclude(e.denied()), nil
}

// denied is the prohibited set minus what the Env already holds. The pool only excludes
// prohibitions from the always-available capabilities; exclusive and early-only ones are
// checked here.
func (e *Env) denied() capability.Set {
	return e.s.prohibited.Exclude(e.caps)
}

// AddCapabilities grants desired or fails with NOT_AVAILABLE, granting nothing.
func (e *Env) AddCapabilities(desired capability.Set) error {
	g, err := e.enter(phase.OnlyPreInit, phase.OnlyLive)
	if err != nil {
		return err
	}
	defer g.Release()

	if denied := desired.Intersect(e.denied()); !denied.IsEmpty() {
		return apperrors.Newf(apperrors.CodeNotAvailable, "capabilities prohibited: %s", denied)
	}
	caps, err := e.s.pool.Add(e.caps, e.s.prohibited, desired)
	if err != nil {
		return err
	}
	e.caps = caps
	e.log.Debug("Granted %s", desired)
	return nil
}

// RelinquishCapabilities gives up unwanted. Capabilities the Env does not hold are ignored.
func (e *Env) RelinquishCapabilities(unwanted capability.Set) error {
	g, err := e.enter(phase.OnlyPreInit, phase.OnlyLive)
	if err != nil {
		return err
	}
	defer g.Release()

	e.caps = e.s.pool.Relinquish(e.caps, unwanted)
	e.log.Debug("Relinquished %s", unwanted)
	return nil
}

// GetCapabilities returns the capabilities this Env holds.
func (e *Env) GetCapabilities() capability.Set {
	g := e.s.lock.Acquire()
	defer g.Release()
	return e.caps
}

// SetEventCallbacks replaces the Env's callbacks. A kind without a callback is never
// delivered, whatever its enablement.
func (e *Env) SetEventCallbacks(cbs event.Callbacks) error {
	g, err := e.enter(phase.NotShutdown)
	if err != nil {
		return err
	}
	defer g.Release()
	e.model.SetCallbacks(g, e.s.threads, cbs)
	return nil
}

// SetEventNotificationMode enables or disables k globally (t == AllThreads) or for one
// thread.
func (e *Env) SetEventNotificationMode(on bool, k event.Kind, t vm.ThreadID) error {
	g, err := e.enter(phase.OnlyPreInit, phase.OnlyLive)
	if err != nil {
		return err
	}
	defer g.Release()

	if !k.Valid() {
		return apperrors.Newf(apperrors.CodeInvalidEventKind, "event kind %d", int(k))
	}
	if t != AllThreads && k.GlobalOnly() {
		return apperrors.Newf(apperrors.CodeIllegalArgument, "%s cannot be filtered by thread", k)
	}
	if c, ok := k.RequiredCapability(); ok && on {
		if err := e.require(g, c); err != nil {
			return err
		}
	}
	if t == AllThreads {
		return e.model.SetEnabled(g, e.s.threads, k, nil, on)
	}
	rec, ok := e.s.threads.Find(g, t)
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidThread, "thread %d", t)
	}
	return e.model.SetEnabled(g, e.s.threads, k, rec, on)
}

// IsEventEnabled reports whether k would be delivered to this Env on thread t.
func (e *Env) IsEventEnabled(k event.Kind, t vm.ThreadID) bool {
	if !e.model.Enabled(k) {
		return false
	}
	return e.model.ShouldNotify(k, e.s.record(t))
}

// Dispose detaches the Env: its capabilities go back to the pools, every enablement bit
// it set is cleared and its frame-pop requests are dropped. Breakpoints, watches and tags
// are shared and stay in place until the last Env detaches.
func (e *Env) Dispose() error {
	g := e.s.lock.Acquire()
	defer g.Release()

	if e.disposed {
		return apperrors.New(apperrors.CodeIllegalArgument, "environment disposed")
	}
	e.model.Clear(g, e.s.threads)
	e.s.framePops.ClearSlot(g, e.slot)
	e.caps = e.s.pool.Relinquish(e.caps, e.caps)
	e.disposed = true
	e.s.slots[e.slot] = nil
	e.s.publishEnvs(g)
	e.log.Debug("Detached")

	if len(e.s.attached()) == 0 {
		e.s.releaseTables(g)
	}
	return nil
}
