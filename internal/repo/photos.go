package repo

import (
	"context"
	"database/sql"

	"floorline/internal/domain"
)

func (r Repo) InsertPhoto(ctx context.Context, p domain.PhotoAttachment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO photo_attachments(id,entry_id,url,caption,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.EntryID, p.URL, nullable(p.Caption), p.CreatedBy, p.CreatedAt)
	return err
}

func (r Repo) ListPhotosForEntry(ctx context.Context, entryID int64) ([]domain.PhotoAttachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entry_id,url,COALESCE(caption,''),created_by,created_at FROM photo_attachments WHERE entry_id=? ORDER BY created_at ASC, id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPhotos(rows)
}

// ListPhotosForJob returns every attachment hanging off the job's work log.
func (r Repo) ListPhotosForJob(ctx context.Context, jobID string) ([]domain.PhotoAttachment, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT p.id, p.entry_id, p.url, COALESCE(p.caption,''), p.created_by, p.created_at
FROM photo_attachments p
JOIN work_log_entries e ON e.id = p.entry_id
WHERE e.job_id=? ORDER BY p.entry_id ASC, p.created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPhotos(rows)
}

func collectPhotos(rows *sql.Rows) ([]domain.PhotoAttachment, error) {
	var res []domain.PhotoAttachment
	for rows.Next() {
		var p domain.PhotoAttachment
		if err := rows.Scan(&p.ID, &p.EntryID, &p.URL, &p.Caption, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
