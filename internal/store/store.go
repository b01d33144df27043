// Package store persists tender records to a remote Postgres backend with a
// local key-value cache as fallback.
package store

import (
	"context"
	"time"

	"github.com/sells-group/tender-cli/internal/model"
)

// ListFilter narrows tender listings.
type ListFilter struct {
	ProjectID string `json:"projectId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// SuggestionQuery searches previously saved lines by name.
type SuggestionQuery struct {
	Query     string `json:"query"`
	ProjectID string `json:"projectId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// SaveParams identifies the tender to save. An empty ID creates a new one.
type SaveParams struct {
	ID        string             `json:"id,omitempty"`
	ProjectID string             `json:"projectId"`
	Tender    model.TenderRecord `json:"tender"`
}

// Backend is one place tenders can live. Records passed to Upsert are
// already normalized.
type Backend interface {
	Storage() model.Storage
	Upsert(ctx context.Context, id, projectID string, rec model.TenderRecord, now time.Time) error
	// Get returns nil, nil when id is unknown.
	Get(ctx context.Context, id string) (*model.TenderDetail, error)
	List(ctx context.Context, filter ListFilter) ([]model.TenderSummary, error)
	SearchLines(ctx context.Context, q SuggestionQuery) ([]model.LineSuggestion, error)
}
