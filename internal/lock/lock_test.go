package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_Check(t *testing.T) {
	l := New("subsystem")
	other := New("other")

	g := l.Acquire()
	assert.NotPanics(t, func() { g.Check(l) })
	assert.Panics(t, func() { g.Check(other) })

	g.Release()
	assert.Panics(t, func() { g.Check(l) })
	assert.Panics(t, func() { g.Release() })

	var nilGuard *Guard
	assert.Panics(t, func() { nilGuard.Check(l) })
}

func TestLock_MutualExclusion(t *testing.T) {
	l := New("subsystem")
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g := l.Acquire()
				counter++
				g.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1600, counter)
	assert.Equal(t, "subsystem", l.Name())
}
