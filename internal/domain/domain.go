package domain

// Job lifecycle statuses. Order matters: a job only ever moves forward.
const (
	JobDraft             = "draft"
	JobInProduction      = "in_production"
	JobProductionStarted = "production_started"
	JobCompleted         = "completed"
)

// Item statuses.
const (
	ItemNotStarted        = "not_started"
	ItemWorking           = "working"
	ItemPartiallyComplete = "partially_complete"
	ItemComplete          = "complete"
)

// Work log entry kinds.
const (
	EntryStartWorking  = "start_working"
	EntryLogCompletion = "log_completion"
)

type Job struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status" enum:"draft,in_production,production_started,completed"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
}

// Item is one line of assigned work within a job. Completed counters are
// cumulative and bounded by their assigned quantities. Version backs the
// conditional update on the counters.
type Item struct {
	ID             string `json:"id"`
	JobID          string `json:"job_id"`
	Name           string `json:"name"`
	OrderQty       int    `json:"order_qty"`
	StockQty       int    `json:"stock_qty"`
	OrderCompleted int    `json:"order_completed"`
	StockCompleted int    `json:"stock_completed"`
	Status         string `json:"status" enum:"not_started,working,partially_complete,complete"`
	Version        int64  `json:"-"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

// CompletionDelta is the per-item outcome recorded on a log_completion entry.
type CompletionDelta struct {
	ItemID         string `json:"item_id"`
	QtyCompleted   int    `json:"qty_completed"`
	Discarded      int    `json:"discarded,omitempty"`
	OrderCompleted int    `json:"order_completed"`
	StockCompleted int    `json:"stock_completed"`
	Status         string `json:"status" enum:"not_started,working,partially_complete,complete"`
}

// WorkLogEntry is an immutable fact in the ledger. The sequential ID reflects
// commit order.
type WorkLogEntry struct {
	ID      int64             `json:"id"`
	JobID   string            `json:"job_id"`
	ActorID string            `json:"actor_id"`
	TS      string            `json:"ts" format:"date-time"`
	Kind    string            `json:"kind" enum:"start_working,log_completion"`
	ItemID  *string           `json:"item_id,omitempty"`
	Hours   *float64          `json:"hours,omitempty"`
	Notes   *string           `json:"notes,omitempty"`
	Deltas  []CompletionDelta `json:"deltas,omitempty"`
}

type PhotoAttachment struct {
	ID        string `json:"id"`
	EntryID   int64  `json:"entry_id"`
	URL       string `json:"url"`
	Caption   string `json:"caption,omitempty"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"worker,manager"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
