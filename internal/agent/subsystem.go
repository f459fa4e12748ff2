// Package agent is the tool interface itself. A Subsystem owns the subsystem lock and
// every table behind it; observers attach through Envs. The runtime drives the Subsystem
// through its phase transitions and the Post* entry points, observers through Env methods.
//
// Lock order: the suspend lock, when taken, is taken before the subsystem lock. Event
// callbacks always run with neither held. Heap traversal callbacks run with the subsystem
// lock held and must not call back into an Env.
package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/vmti/internal/breakpoint"
	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/event"
	"github.com/vmti/internal/framepop"
	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/phase"
	"github.com/vmti/internal/tag"
	"github.com/vmti/internal/thread"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/utils"
	"github.com/vmti/pkg/vm"
)

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger utils.Logger) Option {
	return func(s *Subsystem) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTagBuckets sets the initial bucket count of the tag store.
func WithTagBuckets(n int) Option {
	return func(s *Subsystem) {
		if n > 0 {
			s.tagBuckets = n
		}
	}
}

// WithProhibited removes capabilities from what any observer may be granted.
func WithProhibited(caps capability.Set) Option {
	return func(s *Subsystem) {
		s.prohibited = caps
	}
}

// deferredAlloc is an allocation reported before LIVE, held until the flush.
type deferredAlloc struct {
	thread vm.ThreadID
	ref    vm.StrongRef
}

// Subsystem is one instance of the tool interface attached to a runtime.
type Subsystem struct {
	rt         vm.Runtime
	log        utils.Logger
	tagBuckets int
	prohibited capability.Set

	lock      *lock.Lock
	suspendMu sync.Mutex

	gate        *phase.Gate
	pool        *capability.Pool
	threads     *thread.Registry
	breakpoints *breakpoint.Table
	watches     *breakpoint.Watches
	framePops   *framepop.Table
	tags        *tag.Store

	// guarded by lock
	slots         [thread.MaxEnvs]*Env
	initialized   bool
	postedClasses map[vm.ObjectID]bool
	deferred      *queue.Queue

	// envs is the published snapshot of attached observers read by dispatch.
	envs atomic.Pointer[[]*Env]
}

// New creates a Subsystem in the PRE_INIT phase.
func New(rt vm.Runtime, opts ...Option) *Subsystem {
	s := &Subsystem{
		rt:            rt,
		log:           &utils.NullLogger{},
		tagBuckets:    tag.DefaultBuckets,
		lock:          lock.New("vmti"),
		gate:          phase.NewGate(),
		postedClasses: make(map[vm.ObjectID]bool),
		deferred:      queue.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pool = capability.NewPool(func() bool { return s.gate.Current() == phase.PreInit })
	s.threads = thread.NewRegistry(s.lock, rt)
	s.breakpoints = breakpoint.NewTable(s.lock, breakpoint.NewCodePatcher(rt), rt)
	s.watches = breakpoint.NewWatches(s.lock, rt)
	s.framePops = framepop.NewTable(s.lock)
	s.tags = tag.NewStore(s.lock, rt, rt, s.tagBuckets)
	s.envs.Store(&[]*Env{})
	return s
}

// Initialize registers every thread already running. No start notifications are
// synthesized for them, now or at the LIVE flush.
func (s *Subsystem) Initialize() error {
	g := s.lock.Acquire()
	defer g.Release()

	if s.initialized {
		return apperrors.New(apperrors.CodeIllegalArgument, "subsystem already initialized")
	}
	for _, t := range s.rt.Threads() {
		rec, err := s.threads.Insert(g, t, s.rt.ThreadObject(t))
		if err != nil {
			return err
		}
		rec.StartPosted = true
	}
	s.initialized = true
	s.log.Info("Tool interface initialized with %d existing threads", s.threads.Len(g))
	return nil
}

// Phase returns the current phase.
func (s *Subsystem) Phase() phase.Phase {
	return s.gate.Current()
}

// Advance moves the subsystem to the next phase and posts the notifications that go with
// it: VMStart on entering EARLY, VMInit and the missed-notification flush on entering LIVE,
// VMDeath just before entering SHUTDOWN.
func (s *Subsystem) Advance(ctx context.Context, next phase.Phase) error {
	if next == phase.Shutdown && s.gate.Current() == phase.Live {
		s.postGlobal(event.VMDeath)
	}
	prev := s.gate.Current()
	if err := s.gate.Advance(next); err != nil {
		return err
	}
	s.log.Info("Phase %s -> %s", prev, next)

	switch next {
	case phase.Early:
		s.postGlobal(event.VMStart)
	case phase.Live:
		s.postGlobal(event.VMInit)
		s.flushMissed(ctx)
	case phase.Shutdown:
		s.releaseDeferred()
		g := s.lock.Acquire()
		s.releaseTables(g)
		g.Release()
	}
	return nil
}

// releaseTables restores patched code and drops every handle the shared tables hold. It
// runs at SHUTDOWN and when the last observer detaches.
func (s *Subsystem) releaseTables(g *lock.Guard) {
	g.Check(s.lock)
	if err := s.breakpoints.ClearAll(g); err != nil {
		s.log.Error("Failed to restore breakpoint opcodes: %v", err)
	}
	s.watches.ClearAll(g)
	s.framePops.Clear(g)
	s.tags.Clear(g)
}

// NewEnv attaches a new observer.
func (s *Subsystem) NewEnv() (*Env, error) {
	if s.gate.Current() == phase.Shutdown {
		return nil, apperrors.Newf(apperrors.CodeWrongPhase, "cannot attach in %s", phase.Shutdown)
	}
	g := s.lock.Acquire()
	defer g.Release()

	for slot, e := range s.slots {
		if e != nil {
			continue
		}
		env := newEnv(s, slot)
		s.slots[slot] = env
		s.publishEnvs(g)
		s.log.Debug("Attached observer in slot %d", slot)
		return env, nil
	}
	return nil, apperrors.Newf(apperrors.CodeOutOfMemory, "all %d observer slots in use", thread.MaxEnvs)
}

func (s *Subsystem) publishEnvs(g *lock.Guard) {
	g.Check(s.lock)
	envs := make([]*Env, 0, len(s.slots))
	for _, e := range s.slots {
		if e != nil {
			envs = append(envs, e)
		}
	}
	s.envs.Store(&envs)
}

func (s *Subsystem) attached() []*Env {
	return *s.envs.Load()
}

// AnyFieldWatched reports whether any field watch is set. The interpreter checks it before
// calling PostFieldAccess or PostFieldModification.
func (s *Subsystem) AnyFieldWatched() bool {
	return s.watches.AnyWatched()
}

// Capabilities returns the derived flags of every capability ever granted.
func (s *Subsystem) Capabilities() capability.Flags {
	return s.pool.Flags()
}

// checkPhase returns WRONG_PHASE unless the current phase is in one of ranges.
func (s *Subsystem) checkPhase(ranges ...phase.Range) error {
	cur := s.gate.Current()
	for _, r := range ranges {
		if r.Contains(cur) {
			return nil
		}
	}
	return apperrors.Newf(apperrors.CodeWrongPhase, "not allowed in %s", cur)
}

// record looks up a thread record without keeping the lock.
func (s *Subsystem) record(t vm.ThreadID) *thread.Record {
	g := s.lock.Acquire()
	defer g.Release()
	rec, _ := s.threads.Find(g, t)
	return rec
}

// recomputeAll refreshes every observer's cached mask after the registry changed.
func (s *Subsystem) recomputeAll(g *lock.Guard) {
	for _, e := range s.slots {
		if e != nil {
			e.model.Recompute(g, s.threads)
		}
	}
}
