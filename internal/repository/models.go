package repository

import (
	"time"

	"github.com/vmti/internal/snapshot"
)

// HeapSnapshot represents the heap_snapshots table.
type HeapSnapshot struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string    `gorm:"column:name;type:varchar(128);uniqueIndex"`
	StorageKey string    `gorm:"column:storage_key;type:varchar(512)"`
	TakenAt    time.Time `gorm:"column:taken_at;index"`
	Objects    int       `gorm:"column:objects"`
	Bytes      int64     `gorm:"column:bytes"`
	Roots      int       `gorm:"column:roots"`
	Edges      int       `gorm:"column:edges"`
	Truncated  bool      `gorm:"column:truncated"`
	Classes    int       `gorm:"column:classes"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for HeapSnapshot.
func (HeapSnapshot) TableName() string {
	return "heap_snapshots"
}

// ToModel converts HeapSnapshot to SnapshotRecord.
func (s *HeapSnapshot) ToModel() *SnapshotRecord {
	return &SnapshotRecord{
		ID:         s.ID,
		Name:       s.Name,
		StorageKey: s.StorageKey,
		TakenAt:    s.TakenAt,
		Objects:    s.Objects,
		Bytes:      s.Bytes,
		Roots:      s.Roots,
		Edges:      s.Edges,
		Truncated:  s.Truncated,
		Classes:    s.Classes,
	}
}

func heapSnapshotFrom(snap *snapshot.Snapshot, storageKey string) *HeapSnapshot {
	return &HeapSnapshot{
		Name:       snap.Name,
		StorageKey: storageKey,
		TakenAt:    snap.TakenAt,
		Objects:    snap.Objects,
		Bytes:      snap.Bytes,
		Roots:      len(snap.Roots),
		Edges:      len(snap.Edges),
		Truncated:  snap.Truncated,
		Classes:    len(snap.Histogram),
	}
}

// ClassHistogram represents the class_histograms table. Position orders rows within a snapshot.
type ClassHistogram struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotID int64  `gorm:"column:snapshot_id;index"`
	Position   int    `gorm:"column:position"`
	Class      string `gorm:"column:class;type:varchar(512)"`
	Instances  int    `gorm:"column:instances"`
	Bytes      int64  `gorm:"column:bytes"`
}

// TableName returns the table name for ClassHistogram.
func (ClassHistogram) TableName() string {
	return "class_histograms"
}

// ToModel converts ClassHistogram to snapshot.ClassStat.
func (h *ClassHistogram) ToModel() snapshot.ClassStat {
	return snapshot.ClassStat{
		Class:     h.Class,
		Instances: h.Instances,
		Bytes:     h.Bytes,
	}
}

// Models lists every table the repository migrates.
func Models() []interface{} {
	return []interface{}{&HeapSnapshot{}, &ClassHistogram{}}
}
