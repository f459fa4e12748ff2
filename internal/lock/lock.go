// Package lock provides the subsystem lock. Table mutators take a *Guard, which can only
// be obtained by acquiring the lock, so lock discipline is visible in every signature.
package lock

import "sync"

// Lock is the subsystem-wide mutual exclusion lock.
type Lock struct {
	mu   sync.Mutex
	name string
}

// New creates a named lock.
func New(name string) *Lock {
	return &Lock{name: name}
}

// Name returns the lock name.
func (l *Lock) Name() string {
	return l.name
}

// Acquire blocks until the lock is held and returns the guard proving it.
func (l *Lock) Acquire() *Guard {
	l.mu.Lock()
	return &Guard{lock: l, held: true}
}

// Guard is proof that a Lock is held.
type Guard struct {
	lock *Lock
	held bool
}

// Release unlocks the lock. Releasing twice panics.
func (g *Guard) Release() {
	if !g.held {
		panic("lock: release of unheld " + g.lock.name)
	}
	g.held = false
	g.lock.mu.Unlock()
}

// Check panics unless g currently holds l.
func (g *Guard) Check(l *Lock) {
	if g == nil || !g.held || g.lock != l {
		panic("lock: " + l.name + " not held")
	}
}
