package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/vmti/pkg/errors"
)

func newPostgresMock(t *testing.T) (*GormSnapshotRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormSnapshotRepository(gdb), mock
}

var snapshotColumns = []string{
	"id", "name", "storage_key", "taken_at", "objects", "bytes",
	"roots", "edges", "truncated", "classes", "created_at",
}

func TestPostgresSnapshotRepository_GetSnapshot(t *testing.T) {
	repo, mock := newPostgresMock(t)
	taken := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	t.Run("Found", func(t *testing.T) {
		rows := sqlmock.NewRows(snapshotColumns).
			AddRow(int64(7), "heap-7", "snapshots/heap-7.json", taken, 10, int64(320), 4, 9, false, 3, taken)
		mock.ExpectQuery(`SELECT \* FROM "heap_snapshots" WHERE name = \$1`).
			WillReturnRows(rows)

		rec, err := repo.GetSnapshot(context.Background(), "heap-7")
		require.NoError(t, err)
		assert.Equal(t, int64(7), rec.ID)
		assert.Equal(t, "snapshots/heap-7.json", rec.StorageKey)
		assert.Equal(t, 9, rec.Edges)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "heap_snapshots" WHERE name = \$1`).
			WillReturnRows(sqlmock.NewRows(snapshotColumns))

		_, err := repo.GetSnapshot(context.Background(), "missing")
		assert.True(t, apperrors.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("QueryError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "heap_snapshots"`).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.GetSnapshot(context.Background(), "heap-7")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get snapshot")
		assert.False(t, apperrors.IsNotFound(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresSnapshotRepository_ListSnapshots(t *testing.T) {
	repo, mock := newPostgresMock(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(snapshotColumns).
		AddRow(int64(2), "b", "b.json", now, 1, int64(16), 1, 0, false, 1, now).
		AddRow(int64(1), "a", "a.json", now.Add(-time.Hour), 1, int64(16), 1, 0, true, 1, now)
	mock.ExpectQuery(`SELECT \* FROM "heap_snapshots" ORDER BY taken_at DESC,id DESC LIMIT \$1`).
		WillReturnRows(rows)

	recs, err := repo.ListSnapshots(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].Name)
	assert.True(t, recs[1].Truncated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotRepository_GetHistogram(t *testing.T) {
	repo, mock := newPostgresMock(t)

	rows := sqlmock.NewRows([]string{"id", "snapshot_id", "position", "class", "instances", "bytes"}).
		AddRow(int64(1), int64(7), 0, "app/Node", 2, int64(64)).
		AddRow(int64(2), int64(7), 1, "[I", 1, int64(32))
	mock.ExpectQuery(`SELECT \* FROM "class_histograms" WHERE snapshot_id = \$1 ORDER BY position`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	hist, err := repo.GetHistogram(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "app/Node", hist[0].Class)
	assert.Equal(t, int64(32), hist[1].Bytes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotRepository_DeleteRollsBack(t *testing.T) {
	repo, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "heap_snapshots" WHERE name = \$1`).
		WithArgs("heap-7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`DELETE FROM "class_histograms" WHERE snapshot_id IN \(\$1\)`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := repo.DeleteSnapshot(context.Background(), "heap-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete histogram")
	require.NoError(t, mock.ExpectationsWereMet())
}
