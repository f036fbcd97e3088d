package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dtroode/identity-server/internal/model"
)

// Ensure IdentityRepository implements the model.IdentityStore interface.
var _ model.IdentityStore = (*IdentityRepository)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same
// repository code serves pooled and transaction-scoped calls.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const identityColumns = `alias_id, COALESCE(email, ''), COALESCE(name, ''), session_id, created_at, updated_at`

type IdentityRepository struct {
	db   querier
	pool *pgxpool.Pool
}

func NewIdentityRepository(db *Connection) *IdentityRepository {
	return &IdentityRepository{
		db:   db.Pool,
		pool: db.Pool,
	}
}

// InTx runs fn against a transaction-scoped copy of the repository. The
// transaction commits when fn returns nil and rolls back otherwise. Nested
// calls reuse the enclosing transaction.
func (r *IdentityRepository) InTx(ctx context.Context, fn func(model.IdentityStore) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&IdentityRepository{db: tx})
	})
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (model.Identity, error) {
	query := `SELECT ` + identityColumns + `
			  FROM identities WHERE email = $1`

	identity, err := r.scanIdentity(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, fmt.Errorf("failed to get identity by email: %w", err)
	}

	return identity, nil
}

func (r *IdentityRepository) GetBySession(ctx context.Context, sessionID string) (model.Identity, error) {
	// A session token can transiently reach more than one row after a
	// rebind; the most recently touched row wins.
	query := `SELECT ` + identityColumns + `
			  FROM identities WHERE session_id = $1
			  ORDER BY updated_at DESC, created_at DESC
			  LIMIT 1`

	identity, err := r.scanIdentity(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, fmt.Errorf("failed to get identity by session: %w", err)
	}

	return identity, nil
}

func (r *IdentityRepository) Create(ctx context.Context, identity model.Identity) (model.Identity, error) {
	if identity.Email == "" {
		query := `INSERT INTO identities (alias_id, session_id)
				  VALUES ($1, $2)
				  RETURNING ` + identityColumns

		saved, err := r.scanIdentity(r.db.QueryRow(ctx, query, identity.AliasID, identity.SessionID))
		if err != nil {
			return model.Identity{}, fmt.Errorf("failed to create anonymous identity: %w", err)
		}
		return saved, nil
	}

	// Insert keyed by the unique email index: when a concurrent resolve
	// already created a row for this email, the insert collapses into a
	// session rebind on the existing row and that row is returned.
	query := `INSERT INTO identities (alias_id, email, name, session_id)
			  VALUES ($1, $2, NULLIF($3, ''), $4)
			  ON CONFLICT (email) WHERE email IS NOT NULL
			  DO UPDATE SET session_id = EXCLUDED.session_id, updated_at = now()
			  RETURNING ` + identityColumns

	saved, err := r.scanIdentity(r.db.QueryRow(ctx, query,
		identity.AliasID, identity.Email, identity.Name, identity.SessionID,
	))
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to create identity: %w", err)
	}

	return saved, nil
}

func (r *IdentityRepository) RebindSession(ctx context.Context, aliasID uuid.UUID, sessionID string) (model.Identity, error) {
	query := `UPDATE identities
			  SET session_id = $2, updated_at = now()
			  WHERE alias_id = $1
			  RETURNING ` + identityColumns

	identity, err := r.scanIdentity(r.db.QueryRow(ctx, query, aliasID, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, fmt.Errorf("failed to rebind session: %w", err)
	}

	return identity, nil
}

func (r *IdentityRepository) BindEmail(ctx context.Context, aliasID uuid.UUID, email, name string) (model.Identity, error) {
	query := `UPDATE identities
			  SET email = $2, name = NULLIF($3, ''), updated_at = now()
			  WHERE alias_id = $1
			  RETURNING ` + identityColumns

	identity, err := r.scanIdentity(r.db.QueryRow(ctx, query, aliasID, email, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, fmt.Errorf("failed to bind email: %w", err)
	}

	return identity, nil
}

func (r *IdentityRepository) scanIdentity(row pgx.Row) (model.Identity, error) {
	var identity model.Identity
	err := row.Scan(
		&identity.AliasID, &identity.Email, &identity.Name, &identity.SessionID,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}
