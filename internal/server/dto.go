package server

import (
	"floorline/internal/domain"
	"floorline/internal/engine"
)

// Request payloads

type ItemSpecRequest struct {
	ID       *string `json:"id,omitempty"`
	Name     string  `json:"name"`
	OrderQty int     `json:"order_qty" minimum:"0"`
	StockQty int     `json:"stock_qty,omitempty" minimum:"0"`
}

type CreateJobRequest struct {
	ID             *string           `json:"id,omitempty"`
	Name           string            `json:"name"`
	ScheduledStart *string           `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string           `json:"scheduled_end,omitempty" format:"date-time"`
	Items          []ItemSpecRequest `json:"items,omitempty"`
}

type CompletionEntryRequest struct {
	ItemID       string `json:"item_id"`
	QtyCompleted int    `json:"qty_completed"`
}

type LogCompletionRequest struct {
	Hours   *float64                 `json:"hours,omitempty"`
	Notes   *string                  `json:"notes,omitempty"`
	Entries []CompletionEntryRequest `json:"entries"`
}

type AttachPhotoRequest struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type JobResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status" enum:"draft,in_production,production_started,completed"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	CompletedAt    *string `json:"completed_at,omitempty" format:"date-time"`
}

type ItemResponse struct {
	ID             string `json:"id"`
	JobID          string `json:"job_id"`
	Name           string `json:"name"`
	OrderQty       int    `json:"order_qty"`
	StockQty       int    `json:"stock_qty"`
	OrderCompleted int    `json:"order_completed"`
	StockCompleted int    `json:"stock_completed"`
	Status         string `json:"status" enum:"not_started,working,partially_complete,complete"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type WorkLogEntryResponse struct {
	ID      int64                    `json:"id"`
	JobID   string                   `json:"job_id"`
	ActorID string                   `json:"actor_id"`
	TS      string                   `json:"ts" format:"date-time"`
	Kind    string                   `json:"kind" enum:"start_working,log_completion"`
	ItemID  *string                  `json:"item_id,omitempty"`
	Hours   *float64                 `json:"hours,omitempty"`
	Notes   *string                  `json:"notes,omitempty"`
	Deltas  []domain.CompletionDelta `json:"deltas,omitempty"`
}

type PhotoResponse struct {
	ID        string `json:"id"`
	EntryID   int64  `json:"entry_id"`
	URL       string `json:"url"`
	Caption   string `json:"caption,omitempty"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type JobWithItemsResponse struct {
	Job   JobResponse    `json:"job"`
	Items []ItemResponse `json:"items"`
}

type JobSnapshotResponse struct {
	Job     JobResponse            `json:"job"`
	Items   []ItemResponse         `json:"items"`
	WorkLog []WorkLogEntryResponse `json:"work_log"`
	Photos  []PhotoResponse        `json:"photos"`
}

type paginatedWorkLog struct {
	Items      []WorkLogEntryResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func jobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:             j.ID,
		Name:           j.Name,
		Status:         j.Status,
		ScheduledStart: j.ScheduledStart,
		ScheduledEnd:   j.ScheduledEnd,
		CreatedBy:      j.CreatedBy,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:             it.ID,
		JobID:          it.JobID,
		Name:           it.Name,
		OrderQty:       it.OrderQty,
		StockQty:       it.StockQty,
		OrderCompleted: it.OrderCompleted,
		StockCompleted: it.StockCompleted,
		Status:         it.Status,
		CreatedAt:      it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
	}
}

func entryResponse(e domain.WorkLogEntry) WorkLogEntryResponse {
	return WorkLogEntryResponse{
		ID:      e.ID,
		JobID:   e.JobID,
		ActorID: e.ActorID,
		TS:      e.TS,
		Kind:    e.Kind,
		ItemID:  e.ItemID,
		Hours:   e.Hours,
		Notes:   e.Notes,
		Deltas:  e.Deltas,
	}
}

func photoResponse(p domain.PhotoAttachment) PhotoResponse {
	return PhotoResponse{
		ID:        p.ID,
		EntryID:   p.EntryID,
		URL:       p.URL,
		Caption:   p.Caption,
		CreatedBy: p.CreatedBy,
		CreatedAt: p.CreatedAt,
	}
}

func mapItems(items []domain.Item) []ItemResponse {
	res := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		res = append(res, itemResponse(it))
	}
	return res
}

func mapEntries(entries []domain.WorkLogEntry) []WorkLogEntryResponse {
	res := make([]WorkLogEntryResponse, 0, len(entries))
	for _, e := range entries {
		res = append(res, entryResponse(e))
	}
	return res
}

func mapPhotos(photos []domain.PhotoAttachment) []PhotoResponse {
	res := make([]PhotoResponse, 0, len(photos))
	for _, p := range photos {
		res = append(res, photoResponse(p))
	}
	return res
}

func snapshotResponse(s engine.JobSnapshot) JobSnapshotResponse {
	return JobSnapshotResponse{
		Job:     jobResponse(s.Job),
		Items:   mapItems(s.Items),
		WorkLog: mapEntries(s.WorkLog),
		Photos:  mapPhotos(s.Photos),
	}
}
