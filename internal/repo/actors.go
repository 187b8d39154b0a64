package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"floorline/internal/domain"
)

// EnsureActor inserts an actor row if missing. New actors default to the
// worker role.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT OR IGNORE INTO actors(id, role, created_at) VALUES (?,'worker',?)`, actorID, now)
	return err
}

func (r Repo) GetActor(ctx context.Context, actorID string) (domain.Actor, error) {
	var a domain.Actor
	err := r.DB.QueryRowContext(ctx, `SELECT id, role, created_at FROM actors WHERE id=?`, actorID).
		Scan(&a.ID, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// SetActorRole creates or updates an actor with the given role.
func (r Repo) SetActorRole(ctx context.Context, actorID, role string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id, role, created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role`, actorID, role, now)
	return err
}
