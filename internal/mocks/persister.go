package mocks

import (
	"github.com/brettbedarf/memfs/filesystem"
	"github.com/stretchr/testify/mock"
)

// MockPersister implements filesystem.Persister for testing across packages
type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) Persist(s *filesystem.Store) error {
	args := m.Called(s)

	// Handle function return types (for tests inspecting the store)
	if fn, ok := args.Get(0).(func(*filesystem.Store) error); ok {
		return fn(s)
	}
	return args.Error(0)
}

func (m *MockPersister) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ filesystem.Persister = (*MockPersister)(nil)

// MockRecorder implements filesystem.Recorder for testing across packages
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveOp(op string, err error) {
	m.Called(op, err)
}

func (m *MockRecorder) SetNodes(counts map[filesystem.NodeKind]int) {
	m.Called(counts)
}

var _ filesystem.Recorder = (*MockRecorder)(nil)
