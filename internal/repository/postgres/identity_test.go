package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/identity-server/internal/model"
)

func TestNewIdentityRepository(t *testing.T) {
	db := &Connection{}
	repo := NewIdentityRepository(db)

	assert.NotNil(t, repo)
	assert.Equal(t, db.Pool, repo.pool)
}

func TestIdentityRepository_InTxWithoutPool(t *testing.T) {
	// A tx-scoped repository reuses the enclosing transaction instead of
	// opening a new one.
	repo := &IdentityRepository{}

	called := false
	err := repo.InTx(context.Background(), func(s model.IdentityStore) error {
		called = true
		assert.Equal(t, repo, s)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}
