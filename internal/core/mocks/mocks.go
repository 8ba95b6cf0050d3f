package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

// MockUpstreamSource is a mock implementation of ports.UpstreamSource
type MockUpstreamSource struct {
	mock.Mock
}

func NewMockUpstreamSource() *MockUpstreamSource {
	return &MockUpstreamSource{}
}

func (m *MockUpstreamSource) Followers(ctx context.Context) ([]domain.FollowerEvent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FollowerEvent), args.Error(1)
}

// MockCredentialInvalidator is a mock implementation of ports.CredentialInvalidator
type MockCredentialInvalidator struct {
	mock.Mock
}

func NewMockCredentialInvalidator() *MockCredentialInvalidator {
	return &MockCredentialInvalidator{}
}

func (m *MockCredentialInvalidator) Invalidate(reason string) {
	m.Called(reason)
}

// MockEventBroadcaster is a mock implementation of ports.EventBroadcaster
type MockEventBroadcaster struct {
	mock.Mock
}

func NewMockEventBroadcaster() *MockEventBroadcaster {
	return &MockEventBroadcaster{}
}

func (m *MockEventBroadcaster) Broadcast(msg domain.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

// MockEventHistory is a mock implementation of ports.EventHistory
type MockEventHistory struct {
	mock.Mock
}

func NewMockEventHistory() *MockEventHistory {
	return &MockEventHistory{}
}

func (m *MockEventHistory) Record(ctx context.Context, e domain.FollowerEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockEventHistory) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.FollowerEvent, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FollowerEvent), args.Error(1)
}

func (m *MockEventHistory) Prune(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockFollowerService is a mock implementation of ports.FollowerService
type MockFollowerService struct {
	mock.Mock
}

func NewMockFollowerService() *MockFollowerService {
	return &MockFollowerService{}
}

func (m *MockFollowerService) Combined() []domain.FollowerEvent {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.FollowerEvent)
}

func (m *MockFollowerService) TriggerTest() domain.FollowerEvent {
	args := m.Called()
	return args.Get(0).(domain.FollowerEvent)
}

func (m *MockFollowerService) Recent(ctx context.Context, since time.Time, limit int) ([]domain.FollowerEvent, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FollowerEvent), args.Error(1)
}
