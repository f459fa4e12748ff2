// Package repository persists heap snapshot summaries and their class histograms.
package repository

import (
	"context"
	"time"

	"github.com/vmti/internal/snapshot"
)

// SnapshotRepository defines the persistence operations for recorded snapshots.
type SnapshotRepository interface {
	// SaveSnapshot stores the summary and histogram of snap, replacing any earlier
	// snapshot with the same name. It returns the stored record ID.
	SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot, storageKey string) (int64, error)

	// GetSnapshot retrieves a snapshot summary by name.
	GetSnapshot(ctx context.Context, name string) (*SnapshotRecord, error)

	// ListSnapshots returns the most recent snapshots first.
	ListSnapshots(ctx context.Context, limit int) ([]*SnapshotRecord, error)

	// GetHistogram returns the largest histogram rows of a snapshot. limit <= 0 returns all rows.
	GetHistogram(ctx context.Context, snapshotID int64, limit int) ([]snapshot.ClassStat, error)

	// DeleteSnapshot removes a snapshot and its histogram.
	DeleteSnapshot(ctx context.Context, name string) error
}

// SnapshotRecord is the stored summary of a snapshot.
type SnapshotRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	StorageKey string    `json:"storage_key"`
	TakenAt    time.Time `json:"taken_at"`
	Objects    int       `json:"objects"`
	Bytes      int64     `json:"bytes"`
	Roots      int       `json:"roots"`
	Edges      int       `json:"edges"`
	Truncated  bool      `json:"truncated"`
	Classes    int       `json:"classes"`
}
