package snapshot

import (
	"context"
	"fmt"

	"github.com/vmti/internal/heap"
	"github.com/vmti/pkg/utils"
	"github.com/vmti/pkg/vm"
)

// Walker is the observer surface the recorder drives. *agent.Env implements it.
type Walker interface {
	SetTag(obj vm.ObjectID, tag uint64) error
	FollowReferences(ctx context.Context, opts heap.Options, cb heap.Callbacks) (heap.Stats, error)
	IterateThroughHeap(ctx context.Context, opts heap.Options, cb heap.Callbacks) (heap.Stats, error)
}

// Classes lists loaded classes and their metadata.
type Classes interface {
	LoadedClasses() []vm.ObjectID
	Class(id vm.ObjectID) (*vm.Class, bool)
}

// Options configure a recording.
type Options struct {
	Name string
	// MaxEdges caps the number of recorded edges; 0 means unlimited.
	MaxEdges int
	Heap     heap.Options
}

// Recorder turns heap callbacks into a Snapshot. It owns the tag space of the walker it
// drives: classes are tagged first, then objects in the order they are first reported.
// Tags are never reused across recordings, so objects keep their identity between
// snapshots taken by the same Recorder.
type Recorder struct {
	walker  Walker
	classes Classes
	log     utils.Logger
	clock   utils.Clock
	next    uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the recorder's logger.
func WithLogger(log utils.Logger) RecorderOption {
	return func(r *Recorder) {
		r.log = log
	}
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(c utils.Clock) RecorderOption {
	return func(r *Recorder) {
		r.clock = c
	}
}

// NewRecorder creates a recorder.
func NewRecorder(w Walker, classes Classes, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		walker:  w,
		classes: classes,
		log:     &utils.NullLogger{},
		clock:   utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type recording struct {
	opts      Options
	next      uint64
	names     map[uint64]string
	snap      *Snapshot
	truncated bool
	histogram []ClassStat
	rows      map[string]int
}

func (rc *recording) assign() uint64 {
	rc.next++
	return rc.next
}

// Record walks the heap twice: once following references for roots and edges, once over
// every object for the histogram.
func (r *Recorder) Record(ctx context.Context, opts Options) (*Snapshot, error) {
	rc := &recording{
		opts:  opts,
		next:  r.next,
		names: make(map[uint64]string),
		rows:  make(map[string]int),
		snap:  &Snapshot{Name: opts.Name, TakenAt: r.clock.Now()},
	}
	defer func() { r.next = rc.next }()
	timer := utils.NewTimer("snapshot "+opts.Name, utils.WithLogger(r.log), utils.WithClock(r.clock))
	if _, err := timer.Time("tag_classes", func() error { return r.tagClasses(rc) }); err != nil {
		return nil, err
	}

	if _, err := timer.Time("follow_references", func() error {
		_, err := r.walker.FollowReferences(ctx, opts.Heap, heap.Callbacks{HeapReference: rc.reference})
		return err
	}); err != nil {
		return nil, fmt.Errorf("follow references: %w", err)
	}

	var stats heap.Stats
	if _, err := timer.Time("iterate_heap", func() error {
		var err error
		stats, err = r.walker.IterateThroughHeap(ctx, opts.Heap, heap.Callbacks{HeapIteration: rc.object})
		return err
	}); err != nil {
		return nil, fmt.Errorf("iterate heap: %w", err)
	}

	rc.snap.Truncated = rc.truncated
	rc.snap.Objects = stats.Objects
	rc.snap.Histogram = rc.histogram
	sortHistogram(rc.snap.Histogram)
	for _, row := range rc.snap.Histogram {
		rc.snap.Bytes += row.Bytes
	}
	r.log.Info("Recorded snapshot %q: %d roots, %d edges, %d objects, %d classes",
		opts.Name, len(rc.snap.Roots), len(rc.snap.Edges), rc.snap.Objects, len(rc.snap.Histogram))
	if rc.truncated {
		r.log.Warn("Snapshot %q truncated at %d edges", opts.Name, opts.MaxEdges)
	}
	r.log.Debug("%s", timer.Summary())
	return rc.snap, nil
}

func (r *Recorder) tagClasses(rc *recording) error {
	for _, id := range r.classes.LoadedClasses() {
		c, ok := r.classes.Class(id)
		if !ok {
			continue
		}
		tag := rc.assign()
		if err := r.walker.SetTag(id, tag); err != nil {
			return fmt.Errorf("tag class %s: %w", c.Name, err)
		}
		rc.names[tag] = c.Name
	}
	return nil
}

func (rc *recording) reference(ref *heap.Reference) heap.Result {
	res := heap.Visit()
	tag := ref.Tag
	if tag == 0 {
		tag = rc.assign()
		res = res.WithTag(tag)
	}
	if !ref.HasReferrer {
		rc.snap.Roots = append(rc.snap.Roots, rootOf(ref, tag))
		return res
	}

	if rc.opts.MaxEdges > 0 && len(rc.snap.Edges) >= rc.opts.MaxEdges {
		rc.truncated = true
		return heap.Stop()
	}
	from := ref.ReferrerTag
	if from == 0 {
		// the initial object is never reported itself
		from = rc.assign()
		res = res.WithReferrerTag(from)
	}
	rc.snap.Edges = append(rc.snap.Edges, Edge{
		Kind:  ref.Kind.String(),
		From:  from,
		To:    tag,
		Index: ref.Info.Index,
	})
	return res
}

func (rc *recording) object(obj *heap.Object) heap.Result {
	name, ok := rc.names[obj.ClassTag]
	if !ok {
		name = "<unknown>"
	}
	row := rc.row(name)
	row.Instances++
	row.Bytes += obj.Size
	return heap.Skip()
}

func (rc *recording) row(name string) *ClassStat {
	i, ok := rc.rows[name]
	if !ok {
		i = len(rc.histogram)
		rc.rows[name] = i
		rc.histogram = append(rc.histogram, ClassStat{Class: name})
	}
	return &rc.histogram[i]
}
