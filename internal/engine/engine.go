package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"floorline/internal/alloc"
	"floorline/internal/config"
	"floorline/internal/domain"
	"floorline/internal/engine/auth"
	"floorline/internal/ledger"
	"floorline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Ledger: ledger.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError rejects a request before any mutation.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ErrConflict surfaces when concurrent submissions for the same item keep
// winning the version check past the retry bound.
var ErrConflict = errors.New("item was modified concurrently; retries exhausted")

// errRetry signals a lost version check inside one attempt.
var errRetry = errors.New("stale item version")

// ItemSpec describes an item at job creation or while the job is a draft.
type ItemSpec struct {
	ID       string
	Name     string
	OrderQty int
	StockQty int
}

// JobCreateOptions are parameters for creating a job.
type JobCreateOptions struct {
	ID             string
	Name           string
	ScheduledStart string
	ScheduledEnd   string
	Items          []ItemSpec
	ActorID        string
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, []domain.Item, error) {
	if opts.Name == "" {
		return domain.Job{}, nil, validationErrorf("name is required")
	}
	for _, spec := range opts.Items {
		if spec.OrderQty < 0 || spec.StockQty < 0 {
			return domain.Job{}, nil, validationErrorf("item %s quantities must be non-negative", spec.Name)
		}
	}
	if err := e.Auth.RequireManager(ctx, opts.ActorID, "job.create"); err != nil {
		return domain.Job{}, nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	j := domain.Job{
		ID:             id,
		Name:           opts.Name,
		Status:         domain.JobDraft,
		ScheduledStart: optionalString(opts.ScheduledStart),
		ScheduledEnd:   optionalString(opts.ScheduledEnd),
		CreatedBy:      opts.ActorID,
		CreatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, nil, fmt.Errorf("insert job: %w", err)
	}
	items := make([]domain.Item, 0, len(opts.Items))
	for _, spec := range opts.Items {
		it, err := e.insertItem(ctx, tx, j.ID, spec, now)
		if err != nil {
			return domain.Job{}, nil, err
		}
		items = append(items, it)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, nil, err
	}
	return j, items, nil
}

func (e Engine) insertItem(ctx context.Context, tx *sql.Tx, jobID string, spec ItemSpec, now string) (domain.Item, error) {
	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	it := domain.Item{
		ID:        id,
		JobID:     jobID,
		Name:      spec.Name,
		OrderQty:  spec.OrderQty,
		StockQty:  spec.StockQty,
		Status:    domain.ItemNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// AddItem appends an item to a job still in draft.
func (e Engine) AddItem(ctx context.Context, jobID string, spec ItemSpec, actorID string) (domain.Item, error) {
	if spec.Name == "" {
		return domain.Item{}, validationErrorf("name is required")
	}
	if spec.OrderQty < 0 || spec.StockQty < 0 {
		return domain.Item{}, validationErrorf("quantities must be non-negative")
	}
	if err := e.Auth.RequireManager(ctx, actorID, "item.add"); err != nil {
		return domain.Item{}, err
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Item{}, err
	}
	if j.Status != domain.JobDraft {
		return domain.Item{}, validationErrorf("items can only be added while job is draft, status is %s", j.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	it, err := e.insertItem(ctx, tx, j.ID, spec, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// ReleaseJob moves a draft job into production. This is the one manager
// transition; everything after it is driven by aggregation.
func (e Engine) ReleaseJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	if err := e.Auth.RequireManager(ctx, actorID, "job.release"); err != nil {
		return domain.Job{}, err
	}
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status != domain.JobDraft {
		return domain.Job{}, validationErrorf("job is %s, only draft jobs can be released", j.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, j.ID, domain.JobInProduction, nil); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	j.Status = domain.JobInProduction
	return j, nil
}

// StartWorking marks an item as picked up and appends the ledger entry.
// Calling it on an already-started item keeps the current status (no
// regression) but still records the fact.
func (e Engine) StartWorking(ctx context.Context, jobID, itemID, actorID string) (domain.WorkLogEntry, error) {
	if actorID == "" {
		return domain.WorkLogEntry{}, validationErrorf("actor_id is required")
	}
	var entry domain.WorkLogEntry
	retries := e.Config.MaxRetries()
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		entry, err = e.tryStartWorking(ctx, jobID, itemID, actorID)
		if errors.Is(err, errRetry) {
			continue
		}
		break
	}
	if errors.Is(err, errRetry) {
		return domain.WorkLogEntry{}, ErrConflict
	}
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	e.aggregateAfterCommit(ctx, jobID)
	return entry, nil
}

func (e Engine) tryStartWorking(ctx context.Context, jobID, itemID, actorID string) (domain.WorkLogEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetJobTx(ctx, tx, jobID); err != nil {
		return domain.WorkLogEntry{}, err
	}
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	if it.JobID != jobID {
		return domain.WorkLogEntry{}, repo.ErrNotFound
	}
	if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
		return domain.WorkLogEntry{}, err
	}
	if it.Status == domain.ItemNotStarted {
		it.Status = domain.ItemWorking
		it.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		ok, err := e.Repo.UpdateItemTx(ctx, tx, it)
		if err != nil {
			return domain.WorkLogEntry{}, err
		}
		if !ok {
			return domain.WorkLogEntry{}, errRetry
		}
	}
	entry := domain.WorkLogEntry{
		JobID:   jobID,
		ActorID: actorID,
		TS:      e.now().UTC().Format(time.RFC3339),
		Kind:    domain.EntryStartWorking,
		ItemID:  &itemID,
	}
	id, err := e.Ledger.Append(ctx, tx, entry)
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkLogEntry{}, err
	}
	entry.ID = id
	return entry, nil
}

// CompletionEntry is one reported quantity against one item.
type CompletionEntry struct {
	ItemID       string
	QtyCompleted int
}

// CompletionOptions are parameters for LogCompletion.
type CompletionOptions struct {
	JobID   string
	ActorID string
	Hours   *float64
	Notes   *string
	Entries []CompletionEntry
}

// LogCompletion applies reported quantities to the referenced items and
// appends a single ledger entry, atomically. Entries referencing the same
// item are applied sequentially in array order; unknown item ids are skipped.
// A lost version race rolls the whole attempt back and retries with fresh
// reads, bounded by config.
func (e Engine) LogCompletion(ctx context.Context, opts CompletionOptions) (domain.WorkLogEntry, error) {
	if opts.ActorID == "" {
		return domain.WorkLogEntry{}, validationErrorf("actor_id is required")
	}
	if len(opts.Entries) == 0 {
		return domain.WorkLogEntry{}, validationErrorf("entries must not be empty")
	}
	for _, en := range opts.Entries {
		if en.ItemID == "" {
			return domain.WorkLogEntry{}, validationErrorf("entry item_id is required")
		}
		if en.QtyCompleted <= 0 {
			return domain.WorkLogEntry{}, validationErrorf("qty_completed must be a positive integer, got %d", en.QtyCompleted)
		}
	}
	if opts.Hours != nil && *opts.Hours < 0 {
		return domain.WorkLogEntry{}, validationErrorf("hours must be non-negative")
	}

	var entry domain.WorkLogEntry
	retries := e.Config.MaxRetries()
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		entry, err = e.tryLogCompletion(ctx, opts)
		if errors.Is(err, errRetry) {
			continue
		}
		break
	}
	if errors.Is(err, errRetry) {
		return domain.WorkLogEntry{}, ErrConflict
	}
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	e.aggregateAfterCommit(ctx, opts.JobID)
	return entry, nil
}

func (e Engine) tryLogCompletion(ctx context.Context, opts CompletionOptions) (domain.WorkLogEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetJobTx(ctx, tx, opts.JobID); err != nil {
		return domain.WorkLogEntry{}, err
	}
	if err := e.Auth.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return domain.WorkLogEntry{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	// Working copies keyed by item id so a later entry for the same item
	// sees the earlier entry's result. Version stays the one read from the
	// database; the conditional update checks against it.
	touched := map[string]*domain.Item{}
	var order []string
	var deltas []domain.CompletionDelta
	for _, en := range opts.Entries {
		it, ok := touched[en.ItemID]
		if !ok {
			got, err := e.Repo.GetItemTx(ctx, tx, en.ItemID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && got.JobID != opts.JobID) {
				// Lenient: unknown or foreign items are skipped, not rejected.
				continue
			}
			if err != nil {
				return domain.WorkLogEntry{}, err
			}
			it = &got
			touched[en.ItemID] = it
			order = append(order, en.ItemID)
		}
		res := alloc.Apply(alloc.Counters{
			OrderQty:       it.OrderQty,
			StockQty:       it.StockQty,
			OrderCompleted: it.OrderCompleted,
			StockCompleted: it.StockCompleted,
		}, en.QtyCompleted, it.Status)
		it.OrderCompleted = res.OrderCompleted
		it.StockCompleted = res.StockCompleted
		it.Status = res.Status
		it.UpdatedAt = now
		delta := domain.CompletionDelta{
			ItemID:         it.ID,
			QtyCompleted:   en.QtyCompleted,
			OrderCompleted: res.OrderCompleted,
			StockCompleted: res.StockCompleted,
			Status:         res.Status,
		}
		if e.Config.FlagOverage() {
			delta.Discarded = res.Discarded
		}
		deltas = append(deltas, delta)
	}

	for _, id := range order {
		ok, err := e.Repo.UpdateItemTx(ctx, tx, *touched[id])
		if err != nil {
			return domain.WorkLogEntry{}, err
		}
		if !ok {
			return domain.WorkLogEntry{}, errRetry
		}
	}

	entry := domain.WorkLogEntry{
		JobID:   opts.JobID,
		ActorID: opts.ActorID,
		TS:      now,
		Kind:    domain.EntryLogCompletion,
		Hours:   opts.Hours,
		Notes:   opts.Notes,
		Deltas:  deltas,
	}
	id, err := e.Ledger.Append(ctx, tx, entry)
	if err != nil {
		return domain.WorkLogEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkLogEntry{}, err
	}
	entry.ID = id
	return entry, nil
}

// aggregateAfterCommit recomputes the job status after a successful
// completion commit. A failure here is a soft warning: the status will
// self-correct on the next mutation.
func (e Engine) aggregateAfterCommit(ctx context.Context, jobID string) {
	if _, err := e.AggregateJob(ctx, jobID); err != nil {
		log.Printf("WARNING: job %s aggregation failed after commit: %v", jobID, err)
	}
}

// AttachPhoto links a photo URL to an existing ledger entry. Runs in its own
// transaction, independent of the completion commit.
func (e Engine) AttachPhoto(ctx context.Context, entryID int64, url, caption, actorID string) (domain.PhotoAttachment, error) {
	if url == "" {
		return domain.PhotoAttachment{}, validationErrorf("url is required")
	}
	if _, err := e.Repo.GetWorkLogEntry(ctx, entryID); err != nil {
		return domain.PhotoAttachment{}, err
	}
	p := domain.PhotoAttachment{
		ID:        uuid.New().String(),
		EntryID:   entryID,
		URL:       url,
		Caption:   caption,
		CreatedBy: actorID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPhoto(ctx, p); err != nil {
		return domain.PhotoAttachment{}, err
	}
	return p, nil
}

// JobSnapshot is the read model consumed by presentation layers.
type JobSnapshot struct {
	Job     domain.Job
	Items   []domain.Item
	WorkLog []domain.WorkLogEntry
	Photos  []domain.PhotoAttachment
}

func (e Engine) Snapshot(ctx context.Context, jobID string) (JobSnapshot, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, err
	}
	items, err := e.Repo.ListItems(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, err
	}
	entries, err := e.Repo.ListWorkLog(ctx, jobID, 0, "")
	if err != nil {
		return JobSnapshot{}, err
	}
	photos, err := e.Repo.ListPhotosForJob(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, err
	}
	return JobSnapshot{Job: j, Items: items, WorkLog: entries, Photos: photos}, nil
}

// RebuildItemCounters refolds the job's ledger into the item counters. The
// counters are a materialized view of the ledger; this makes reconciliation
// after a suspect write a single call.
func (e Engine) RebuildItemCounters(ctx context.Context, jobID, actorID string) ([]domain.Item, error) {
	if err := e.Auth.RequireManager(ctx, actorID, "job.rebuild"); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetJobTx(ctx, tx, jobID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListItemsTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListWorkLogAscTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	rebuilt := make(map[string]*domain.Item, len(items))
	for i := range items {
		it := items[i]
		it.OrderCompleted = 0
		it.StockCompleted = 0
		it.Status = domain.ItemNotStarted
		rebuilt[it.ID] = &it
	}
	for _, en := range entries {
		switch en.Kind {
		case domain.EntryStartWorking:
			if en.ItemID == nil {
				continue
			}
			if it, ok := rebuilt[*en.ItemID]; ok && it.Status == domain.ItemNotStarted {
				it.Status = domain.ItemWorking
			}
		case domain.EntryLogCompletion:
			for _, d := range en.Deltas {
				it, ok := rebuilt[d.ItemID]
				if !ok {
					continue
				}
				res := alloc.Apply(alloc.Counters{
					OrderQty:       it.OrderQty,
					StockQty:       it.StockQty,
					OrderCompleted: it.OrderCompleted,
					StockCompleted: it.StockCompleted,
				}, d.QtyCompleted, it.Status)
				it.OrderCompleted = res.OrderCompleted
				it.StockCompleted = res.StockCompleted
				it.Status = res.Status
			}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	result := make([]domain.Item, 0, len(items))
	for _, orig := range items {
		it := rebuilt[orig.ID]
		it.UpdatedAt = now
		ok, err := e.Repo.UpdateItemTx(ctx, tx, *it)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		it.Version++
		result = append(result, *it)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.aggregateAfterCommit(ctx, jobID)
	return result, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
