package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vmti/internal/event"
	"github.com/vmti/internal/thread"
	"github.com/vmti/pkg/telemetry"
	"github.com/vmti/pkg/vm"
)

// flushMissed posts, once, the notifications for threads, classes and allocations that
// predate LIVE, in that order.
func (s *Subsystem) flushMissed(ctx context.Context) {
	_, span := telemetry.Tracer().Start(ctx, "vmti.flush_missed")
	defer span.End()

	threads := s.flushThreads()
	classes := s.flushClasses()
	objects := s.flushAllocations()

	span.SetAttributes(
		attribute.Int("vmti.flush.threads", threads),
		attribute.Int("vmti.flush.classes", classes),
		attribute.Int("vmti.flush.objects", objects),
	)
	s.log.Info("Flushed missed notifications: %d threads, %d classes, %d objects", threads, classes, objects)
}

func (s *Subsystem) flushThreads() int {
	g := s.lock.Acquire()
	var missed []*thread.Record
	s.threads.Each(g, func(rec *thread.Record) bool {
		if !rec.StartPosted {
			rec.StartPosted = true
			missed = append(missed, rec)
		}
		return true
	})
	g.Release()

	for _, rec := range missed {
		s.dispatch(event.ThreadStart, rec, &event.Event{})
	}
	return len(missed)
}

func (s *Subsystem) flushClasses() int {
	g := s.lock.Acquire()
	posted := s.postedClasses
	s.postedClasses = nil
	g.Release()

	var missed []vm.ObjectID
	for _, c := range s.rt.LoadedClasses() {
		if !posted[c] {
			missed = append(missed, c)
		}
	}
	for _, c := range missed {
		s.dispatch(event.ClassLoad, nil, &event.Event{Class: c})
		s.dispatch(event.ClassPrepare, nil, &event.Event{Class: c})
	}
	return len(missed)
}

func (s *Subsystem) flushAllocations() int {
	g := s.lock.Acquire()
	var pending []deferredAlloc
	for s.deferred.Length() > 0 {
		pending = append(pending, s.deferred.Remove().(deferredAlloc))
	}
	g.Release()

	for _, d := range pending {
		s.dispatch(event.VMObjectAlloc, s.record(d.thread), s.allocEvent(d.ref.Object()))
		d.ref.Release()
	}
	return len(pending)
}

// releaseDeferred drops held allocation reports that were never flushed.
func (s *Subsystem) releaseDeferred() {
	g := s.lock.Acquire()
	defer g.Release()
	for s.deferred.Length() > 0 {
		s.deferred.Remove().(deferredAlloc).ref.Release()
	}
}
