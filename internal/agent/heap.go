package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vmti/internal/capability"
	"github.com/vmti/internal/heap"
	"github.com/vmti/internal/lock"
	"github.com/vmti/internal/phase"
	"github.com/vmti/internal/tag"
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/telemetry"
	"github.com/vmti/pkg/utils"
	"github.com/vmti/pkg/vm"
)

type traversal func(*lock.Guard, heap.Runtime, *tag.Store, heap.Options, heap.Callbacks) (heap.Stats, error)

// FollowReferences reports the object graph reachable from the roots, or from
// opts.InitialObject, to cb. The world must be stopped for the duration of the call.
func (e *Env) FollowReferences(ctx context.Context, opts heap.Options, cb heap.Callbacks) (heap.Stats, error) {
	return e.walkHeap(ctx, "FollowReferences", heap.FollowReferences, opts, cb)
}

// IterateThroughHeap reports every object in the heap to cb without edges. The world must
// be stopped for the duration of the call.
func (e *Env) IterateThroughHeap(ctx context.Context, opts heap.Options, cb heap.Callbacks) (heap.Stats, error) {
	opts.InitialObject = vm.Null
	return e.walkHeap(ctx, "IterateThroughHeap", heap.IterateThroughHeap, opts, cb)
}

func (e *Env) walkHeap(ctx context.Context, name string, walk traversal, opts heap.Options, cb heap.Callbacks) (heap.Stats, error) {
	_, span := telemetry.Tracer().Start(ctx, "vmti."+name)
	defer span.End()

	stats, err := e.doWalkHeap(name, walk, opts, cb)
	span.SetAttributes(
		attribute.Int("vmti.heap.roots", stats.Roots),
		attribute.Int("vmti.heap.edges", stats.Edges),
		attribute.Int("vmti.heap.objects", stats.Objects),
		attribute.Int("vmti.heap.primitives", stats.Primitives),
		attribute.Bool("vmti.heap.aborted", stats.Aborted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return stats, err
}

func (e *Env) doWalkHeap(name string, walk traversal, opts heap.Options, cb heap.Callbacks) (heap.Stats, error) {
	g, err := e.enter(phase.OnlyLive)
	if err != nil {
		return heap.Stats{}, err
	}
	defer g.Release()

	if err := e.require(g, capability.TagObjects); err != nil {
		return heap.Stats{}, err
	}
	if opts.Class != vm.Null {
		if _, ok := e.s.rt.Class(opts.Class); !ok {
			return heap.Stats{}, apperrors.Newf(apperrors.CodeInvalidClass, "class filter %d", opts.Class)
		}
	}

	timer := utils.NewTimer(name, utils.WithLogger(e.log))
	pt := timer.Start("walk")
	stats, err := walk(g, e.s.rt, e.s.tags, opts, cb)
	elapsed := pt.Stop()

	if err != nil {
		e.log.Warn("%s aborted after %d edges: %v", name, stats.Edges, err)
		return stats, err
	}
	e.log.Info("%s: %d roots, %d edges, %d objects, %d primitives in %v (aborted=%v)",
		name, stats.Roots, stats.Edges, stats.Objects, stats.Primitives, elapsed, stats.Aborted)
	return stats, nil
}
