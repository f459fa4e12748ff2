package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vmti/internal/repository"
	"github.com/vmti/internal/snapshot"
)

// MockSnapshotRepository is a mock implementation of the SnapshotRepository interface.
type MockSnapshotRepository struct {
	mock.Mock
}

// SaveSnapshot mocks the SaveSnapshot method.
func (m *MockSnapshotRepository) SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot, storageKey string) (int64, error) {
	args := m.Called(ctx, snap, storageKey)
	return args.Get(0).(int64), args.Error(1)
}

// GetSnapshot mocks the GetSnapshot method.
func (m *MockSnapshotRepository) GetSnapshot(ctx context.Context, name string) (*repository.SnapshotRecord, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.SnapshotRecord), args.Error(1)
}

// ListSnapshots mocks the ListSnapshots method.
func (m *MockSnapshotRepository) ListSnapshots(ctx context.Context, limit int) ([]*repository.SnapshotRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.SnapshotRecord), args.Error(1)
}

// GetHistogram mocks the GetHistogram method.
func (m *MockSnapshotRepository) GetHistogram(ctx context.Context, snapshotID int64, limit int) ([]snapshot.ClassStat, error) {
	args := m.Called(ctx, snapshotID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]snapshot.ClassStat), args.Error(1)
}

// DeleteSnapshot mocks the DeleteSnapshot method.
func (m *MockSnapshotRepository) DeleteSnapshot(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// ExpectSave sets up an expectation for SaveSnapshot of the named snapshot.
func (m *MockSnapshotRepository) ExpectSave(name string, id int64, err error) *mock.Call {
	return m.On("SaveSnapshot", mock.Anything, mock.MatchedBy(func(s *snapshot.Snapshot) bool {
		return s != nil && s.Name == name
	}), mock.Anything).Return(id, err)
}

var _ repository.SnapshotRepository = (*MockSnapshotRepository)(nil)
