// Package auth is the engine's seam to the external authorization gate. The
// policy itself lives upstream; here we only keep actor bookkeeping and the
// manager check guarding job creation and release.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("manager role required for %s", e.Action)
}

// Service provides actor helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, role, created_at) VALUES (?,'worker',?)`, actorID, now)
	return err
}

// ActorIsManager reports whether the actor holds the manager role.
func (s Service) ActorIsManager(ctx context.Context, actorID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM actors WHERE id=? AND role='manager' LIMIT 1`, actorID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// RequireManager returns ForbiddenError unless the actor is a manager.
func (s Service) RequireManager(ctx context.Context, actorID, action string) error {
	ok, err := s.ActorIsManager(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Action: action}
	}
	return nil
}
