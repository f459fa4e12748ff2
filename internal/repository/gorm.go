package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vmti/internal/snapshot"
	apperrors "github.com/vmti/pkg/errors"
)

// histogramBatchSize bounds the rows per INSERT statement.
const histogramBatchSize = 200

// GormSnapshotRepository implements SnapshotRepository using GORM.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository.
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// SaveSnapshot stores the summary and histogram in one transaction.
func (r *GormSnapshotRepository) SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot, storageKey string) (int64, error) {
	if snap == nil || snap.Name == "" {
		return 0, apperrors.New(apperrors.CodeIllegalArgument, "snapshot name is required")
	}

	row := heapSnapshotFrom(snap, storageKey)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := deleteByName(tx, snap.Name); err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		if len(snap.Histogram) == 0 {
			return nil
		}

		rows := make([]ClassHistogram, len(snap.Histogram))
		for i, stat := range snap.Histogram {
			rows[i] = ClassHistogram{
				SnapshotID: row.ID,
				Position:   i,
				Class:      stat.Class,
				Instances:  stat.Instances,
				Bytes:      stat.Bytes,
			}
		}
		if err := tx.CreateInBatches(rows, histogramBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert histogram: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// GetSnapshot retrieves a snapshot summary by name.
func (r *GormSnapshotRepository) GetSnapshot(ctx context.Context, name string) (*SnapshotRecord, error) {
	var row HeapSnapshot

	err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return row.ToModel(), nil
}

// ListSnapshots returns the most recent snapshots first.
func (r *GormSnapshotRepository) ListSnapshots(ctx context.Context, limit int) ([]*SnapshotRecord, error) {
	var rows []HeapSnapshot

	q := r.db.WithContext(ctx).Order("taken_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	result := make([]*SnapshotRecord, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return result, nil
}

// GetHistogram returns histogram rows in recorded order.
func (r *GormSnapshotRepository) GetHistogram(ctx context.Context, snapshotID int64, limit int) ([]snapshot.ClassStat, error) {
	var rows []ClassHistogram

	q := r.db.WithContext(ctx).Where("snapshot_id = ?", snapshotID).Order("position")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get histogram: %w", err)
	}

	result := make([]snapshot.ClassStat, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return result, nil
}

// DeleteSnapshot removes a snapshot and its histogram.
func (r *GormSnapshotRepository) DeleteSnapshot(ctx context.Context, name string) error {
	var found bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		found, err = deleteByName(tx, name)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %s", name)
	}
	return nil
}

// deleteByName reports whether a snapshot with that name existed.
func deleteByName(tx *gorm.DB, name string) (bool, error) {
	var ids []int64
	if err := tx.Model(&HeapSnapshot{}).Where("name = ?", name).Pluck("id", &ids).Error; err != nil {
		return false, fmt.Errorf("failed to find snapshot: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}
	if err := tx.Where("snapshot_id IN ?", ids).Delete(&ClassHistogram{}).Error; err != nil {
		return false, fmt.Errorf("failed to delete histogram: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&HeapSnapshot{}).Error; err != nil {
		return false, fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return true, nil
}
