package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dtroode/identity-server/internal/model"
)

// IdentityCache is a mock implementation of model.IdentityCache.
type IdentityCache struct {
	mock.Mock
}

func (m *IdentityCache) Get(ctx context.Context, sessionID string) (model.UserRecord, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(model.UserRecord), args.Error(1)
}

func (m *IdentityCache) Set(ctx context.Context, record model.UserRecord, ttl time.Duration) error {
	args := m.Called(ctx, record, ttl)
	return args.Error(0)
}

func (m *IdentityCache) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *IdentityCache) Keys(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *IdentityCache) IdleTime(ctx context.Context, sessionID string) (time.Duration, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(time.Duration), args.Error(1)
}
