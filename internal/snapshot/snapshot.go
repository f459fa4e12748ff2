// Package snapshot records heap traversals into a serializable form: the root set, the
// reference edges between objects, and a per-class histogram. Objects are identified by the
// tags the recorder assigns to them.
package snapshot

import (
	"sort"
	"time"

	"github.com/vmti/internal/heap"
)

// Root is a reference from outside the heap.
type Root struct {
	Kind   string `json:"kind"`
	Object uint64 `json:"object"`
	Thread uint64 `json:"thread,omitempty"`
	Depth  int    `json:"depth,omitempty"`
	Slot   int    `json:"slot,omitempty"`
}

// Edge is a reference between two recorded objects.
type Edge struct {
	Kind  string `json:"kind"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Index int    `json:"index,omitempty"`
}

// ClassStat is one histogram row.
type ClassStat struct {
	Class     string `json:"class"`
	Instances int    `json:"instances"`
	Bytes     int64  `json:"bytes"`
}

// Snapshot is a recorded heap.
type Snapshot struct {
	Name      string      `json:"name"`
	TakenAt   time.Time   `json:"taken_at"`
	Objects   int         `json:"objects"`
	Bytes     int64       `json:"bytes"`
	Truncated bool        `json:"truncated"`
	Roots     []Root      `json:"roots"`
	Edges     []Edge      `json:"edges"`
	Histogram []ClassStat `json:"histogram"`
}

// Top returns the n largest histogram rows.
func (s *Snapshot) Top(n int) []ClassStat {
	if n <= 0 || n > len(s.Histogram) {
		n = len(s.Histogram)
	}
	return s.Histogram[:n]
}

// RootsByKind counts roots per reference kind.
func (s *Snapshot) RootsByKind() map[string]int {
	out := make(map[string]int)
	for _, r := range s.Roots {
		out[r.Kind]++
	}
	return out
}

// sortHistogram orders rows by retained bytes, largest first, then by name.
func sortHistogram(rows []ClassStat) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Bytes != rows[j].Bytes {
			return rows[i].Bytes > rows[j].Bytes
		}
		return rows[i].Class < rows[j].Class
	})
}

func rootOf(ref *heap.Reference, tag uint64) Root {
	r := Root{Kind: ref.Kind.String(), Object: tag}
	switch ref.Kind {
	case heap.RefStackLocal:
		r.Thread = ref.Info.ThreadTag
		r.Depth = ref.Info.Depth
		r.Slot = ref.Info.Slot
	case heap.RefJNILocal:
		r.Thread = ref.Info.ThreadTag
		r.Depth = ref.Info.Depth
	}
	return r
}
