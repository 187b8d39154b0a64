// Package ledger appends work log entries. The ledger is the sole audit
// trail: entries are inserted inside the caller's transaction and never
// updated or deleted, and the AUTOINCREMENT id orders them by commit.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"floorline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts one immutable entry and returns its sequential id. The
// entry's TS is stamped here unless already set.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entry domain.WorkLogEntry) (int64, error) {
	if entry.TS == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		entry.TS = now().UTC().Format(time.RFC3339)
	}
	var deltas any
	if len(entry.Deltas) > 0 {
		data, err := json.Marshal(entry.Deltas)
		if err != nil {
			return 0, fmt.Errorf("marshal deltas: %w", err)
		}
		deltas = string(data)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO work_log_entries(job_id,actor_id,ts,kind,item_id,hours,notes,deltas_json) VALUES (?,?,?,?,?,?,?,?)`,
		entry.JobID, entry.ActorID, entry.TS, entry.Kind, nullableStringPtr(entry.ItemID), nullableFloatPtr(entry.Hours), nullableStringPtr(entry.Notes), deltas)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
