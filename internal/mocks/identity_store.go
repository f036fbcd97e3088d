// Package mocks contains testify mocks for the model interfaces.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dtroode/identity-server/internal/model"
)

// IdentityStore is a mock implementation of model.IdentityStore.
type IdentityStore struct {
	mock.Mock
}

func (m *IdentityStore) GetByEmail(ctx context.Context, email string) (model.Identity, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(model.Identity), args.Error(1)
}

func (m *IdentityStore) GetBySession(ctx context.Context, sessionID string) (model.Identity, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(model.Identity), args.Error(1)
}

func (m *IdentityStore) Create(ctx context.Context, identity model.Identity) (model.Identity, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(model.Identity), args.Error(1)
}

func (m *IdentityStore) RebindSession(ctx context.Context, aliasID uuid.UUID, sessionID string) (model.Identity, error) {
	args := m.Called(ctx, aliasID, sessionID)
	return args.Get(0).(model.Identity), args.Error(1)
}

func (m *IdentityStore) BindEmail(ctx context.Context, aliasID uuid.UUID, email, name string) (model.Identity, error) {
	args := m.Called(ctx, aliasID, email, name)
	return args.Get(0).(model.Identity), args.Error(1)
}

func (m *IdentityStore) InTx(ctx context.Context, fn func(model.IdentityStore) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}
