package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jupiterclapton/cenackle/services/social-service/internal/core/domain"
)

// DBTX est le sous-ensemble de *pgxpool.Pool utilisé par les repos.
// Permet d'injecter pgxmock dans les tests.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pools : écritures sur le primaire, lectures sur la réplique si configurée.
type Pools struct {
	Primary DBTX
	Replica DBTX
}

func (p Pools) reader() DBTX {
	if p.Replica != nil {
		return p.Replica
	}
	return p.Primary
}

// schema est idempotent. En prod les migrations restent la source de vérité.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		pwd TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS friends (
		initiator_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		friend_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'subscriber', 'blocked')),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (initiator_id, friend_id),
		CHECK (initiator_id <> friend_id)
	)`,
	// Une seule relation logique par paire non ordonnée
	`CREATE UNIQUE INDEX IF NOT EXISTS friends_pair_uidx
		ON friends (LEAST(initiator_id, friend_id), GREATEST(initiator_id, friend_id))`,
	`CREATE INDEX IF NOT EXISTS friends_friend_status_idx ON friends (friend_id, status)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS posts_user_created_idx ON posts (user_id, created_at DESC)`,
}

// EnsureSchema crée tables et index (Idempotent)
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, q := range schema {
		if _, err := db.Exec(ctx, q); err != nil {
			return storageError("ensure schema", err)
		}
	}
	return nil
}

// storageError traduit une erreur technique pgx en erreur du Domaine.
// Les erreurs d'acquisition de connexion deviennent ErrPool, le reste ErrStorage.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", domain.ErrPool, op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}
