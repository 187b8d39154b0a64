package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"floorline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const jobColumns = `id,name,status,scheduled_start,scheduled_end,created_by,created_at,completed_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var schedStart, schedEnd, completedAt sql.NullString
	err := scan(&j.ID, &j.Name, &j.Status, &schedStart, &schedEnd, &j.CreatedBy, &j.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if schedStart.Valid {
		j.ScheduledStart = &schedStart.String
	}
	if schedEnd.Valid {
		j.ScheduledEnd = &schedEnd.String
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.String
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.Status, nullableStringPtr(j.ScheduledStart), nullableStringPtr(j.ScheduledEnd), j.CreatedBy, j.CreatedAt, nullableStringPtr(j.CompletedAt))
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) ListJobs(ctx context.Context, status string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// UpdateJobStatusTx advances a job's status. completedAt is only written when
// non-nil, so a completed stamp is never overwritten by re-aggregation.
func (r Repo) UpdateJobStatusTx(ctx context.Context, tx *sql.Tx, id, status string, completedAt *string) error {
	var (
		fields = []string{"status=?"}
		args   = []any{status}
	)
	if completedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *completedAt)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE jobs SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateJobSchedule(ctx context.Context, id string, start, end *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE jobs SET scheduled_start=?, scheduled_end=? WHERE id=?`,
		nullableStringPtr(start), nullableStringPtr(end), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const itemColumns = `id,job_id,name,order_qty,stock_qty,order_completed,stock_completed,status,version,created_at,updated_at`

func scanItem(scan func(dest ...any) error) (domain.Item, error) {
	var it domain.Item
	err := scan(&it.ID, &it.JobID, &it.Name, &it.OrderQty, &it.StockQty, &it.OrderCompleted, &it.StockCompleted, &it.Status, &it.Version, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.JobID, it.Name, it.OrderQty, it.StockQty, it.OrderCompleted, it.StockCompleted, it.Status, it.Version, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) ListItems(ctx context.Context, jobID string) ([]domain.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE job_id=? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r Repo) ListItemsTx(ctx context.Context, tx *sql.Tx, jobID string) ([]domain.Item, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE job_id=? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]domain.Item, error) {
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// UpdateItemTx writes an item's counters and status conditionally on the
// version read earlier in the same operation. The read-compute-write of the
// counters hinges on this check: a false return means another submission
// committed first and the caller must re-read and recompute.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE items SET order_completed=?, stock_completed=?, status=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		it.OrderCompleted, it.StockCompleted, it.Status, it.UpdatedAt, it.ID, it.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) CountItemsByStatus(ctx context.Context, jobID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM items WHERE job_id=? GROUP BY status`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
