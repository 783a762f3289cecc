package api

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/storage"
)

// MockStore wraps an in-memory store, counting calls and injecting failures for testing
type MockStore struct {
	domain.Store

	mu              sync.RWMutex
	failures        map[string]error
	createJobCalls  int
	cancelJobCalls  int
	deleteCollCalls int
}

// NewMockStore creates a mock store over a fresh in-memory engine
func NewMockStore() *MockStore {
	return &MockStore{
		Store:    storage.NewStorageEngine(),
		failures: make(map[string]error),
	}
}

// FailOn makes every later call to op return err. A nil err clears the failure.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MockStore) failure(op string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[op]
}

// CreateJob records the call and delegates
func (m *MockStore) CreateJob(ctx context.Context, job *domain.BatchJob) error {
	m.mu.Lock()
	m.createJobCalls++
	m.mu.Unlock()
	if err := m.failure("CreateJob"); err != nil {
		return err
	}
	return m.Store.CreateJob(ctx, job)
}

// GetJob delegates unless a failure is injected
func (m *MockStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	if err := m.failure("GetJob"); err != nil {
		return nil, err
	}
	return m.Store.GetJob(ctx, id)
}

// CancelJob records the call and delegates
func (m *MockStore) CancelJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	m.mu.Lock()
	m.cancelJobCalls++
	m.mu.Unlock()
	if err := m.failure("CancelJob"); err != nil {
		return nil, err
	}
	return m.Store.CancelJob(ctx, id)
}

// CollectionExists delegates unless a failure is injected
func (m *MockStore) CollectionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := m.failure("CollectionExists"); err != nil {
		return false, err
	}
	return m.Store.CollectionExists(ctx, id)
}

// DeleteCollection records the call and delegates
func (m *MockStore) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.deleteCollCalls++
	m.mu.Unlock()
	if err := m.failure("DeleteCollection"); err != nil {
		return err
	}
	return m.Store.DeleteCollection(ctx, id)
}

// GetCreateJobCalls returns the number of CreateJob calls
func (m *MockStore) GetCreateJobCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createJobCalls
}

// GetCancelJobCalls returns the number of CancelJob calls
func (m *MockStore) GetCancelJobCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelJobCalls
}

// GetDeleteCollectionCalls returns the number of DeleteCollection calls
func (m *MockStore) GetDeleteCollectionCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deleteCollCalls
}
