package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"floorline/internal/domain"
)

const entryColumns = `id,job_id,actor_id,ts,kind,item_id,hours,notes,deltas_json`

func scanEntry(scan func(dest ...any) error) (domain.WorkLogEntry, error) {
	var e domain.WorkLogEntry
	var itemID, notes, deltas sql.NullString
	var hours sql.NullFloat64
	err := scan(&e.ID, &e.JobID, &e.ActorID, &e.TS, &e.Kind, &itemID, &hours, &notes, &deltas)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if itemID.Valid {
		e.ItemID = &itemID.String
	}
	if hours.Valid {
		e.Hours = &hours.Float64
	}
	if notes.Valid {
		e.Notes = &notes.String
	}
	if deltas.Valid && deltas.String != "" {
		_ = json.Unmarshal([]byte(deltas.String), &e.Deltas)
	}
	return e, nil
}

func (r Repo) GetWorkLogEntry(ctx context.Context, id int64) (domain.WorkLogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM work_log_entries WHERE id=?`, id)
	return scanEntry(row.Scan)
}

// ListWorkLog returns entries for a job, most recent first, for audit
// display. A cursor (stringified entry id) pages backwards.
func (r Repo) ListWorkLog(ctx context.Context, jobID string, limit int, cursor string) ([]domain.WorkLogEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM work_log_entries WHERE job_id=?`
	args := []any{jobID}
	if cursor != "" {
		before, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, err
		}
		query += ` AND id < ?`
		args = append(args, before)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryEntries(ctx, query, args...)
}

// ListWorkLogAsc returns all entries for a job in commit order, for replay.
func (r Repo) ListWorkLogAsc(ctx context.Context, jobID string) ([]domain.WorkLogEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM work_log_entries WHERE job_id=? ORDER BY id ASC`, jobID)
}

// ListWorkLogAscTx is ListWorkLogAsc inside an open transaction, so a replay
// reads the same snapshot it writes against.
func (r Repo) ListWorkLogAscTx(ctx context.Context, tx *sql.Tx, jobID string) ([]domain.WorkLogEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+entryColumns+` FROM work_log_entries WHERE job_id=? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// EntriesAfter returns up to limit entries with id greater than after, oldest
// first, across all jobs. Used by the webhook dispatcher cursor.
func (r Repo) EntriesAfter(ctx context.Context, limit int, after int64) ([]domain.WorkLogEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM work_log_entries WHERE id > ? ORDER BY id ASC LIMIT ?`, after, limit)
}

// LatestEntryID returns the highest committed entry id, or 0 when empty.
func (r Repo) LatestEntryID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM work_log_entries`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEntries(ctx context.Context, query string, args ...any) ([]domain.WorkLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]domain.WorkLogEntry, error) {
	var res []domain.WorkLogEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
