package engine

import (
	"context"
	"time"

	"floorline/internal/domain"
)

// jobRank orders the forward-only job lifecycle.
func jobRank(status string) int {
	switch status {
	case domain.JobDraft:
		return 0
	case domain.JobInProduction:
		return 1
	case domain.JobProductionStarted:
		return 2
	case domain.JobCompleted:
		return 3
	}
	return 0
}

// AggregateJob derives the job status from its item statuses. Idempotent:
// re-running on the same snapshot changes nothing and never re-stamps
// completed_at. A job with zero items is left alone, and the status never
// moves backwards.
func (e Engine) AggregateJob(ctx context.Context, jobID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	items, err := e.Repo.ListItemsTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if len(items) == 0 {
		return j, nil
	}

	allComplete := true
	anyProgress := false
	for _, it := range items {
		switch it.Status {
		case domain.ItemComplete:
			anyProgress = true
		case domain.ItemWorking, domain.ItemPartiallyComplete:
			anyProgress = true
			allComplete = false
		default:
			allComplete = false
		}
	}

	target := j.Status
	var completedAt *string
	switch {
	case allComplete:
		target = domain.JobCompleted
		if j.CompletedAt == nil {
			ts := e.now().UTC().Format(time.RFC3339)
			completedAt = &ts
		}
	case anyProgress:
		target = domain.JobProductionStarted
	}
	if jobRank(target) <= jobRank(j.Status) {
		return j, nil
	}
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, j.ID, target, completedAt); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	j.Status = target
	if completedAt != nil {
		j.CompletedAt = completedAt
	}
	return j, nil
}
