package atlas

import (
	"context"
	"time"
)

// HistoryEntry is one row of the search history.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Capability  string    `json:"capability"`
	BackendUsed string    `json:"backend_used"`
	Total       int       `json:"total"`
	Errors      []string  `json:"errors"`
	CreatedAt   time.Time `json:"created_at"`
}

// History is a Recorder that can list what it recorded, newest first.
type History interface {
	Recorder
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	Close() error
}

// Entry converts an outcome to its history row.
func (o *Outcome) Entry() HistoryEntry {
	errs := o.Errors
	if errs == nil {
		errs = []string{}
	}

	if o.Error != "" && len(errs) == 0 {
		errs = []string{o.Error}
	}

	return HistoryEntry{
		ID:          o.SearchID,
		Query:       o.Query,
		Capability:  string(o.Capability),
		BackendUsed: o.BackendUsed,
		Total:       o.Total,
		Errors:      errs,
		CreatedAt:   o.CreatedAt,
	}
}
