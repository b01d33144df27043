package model

import "time"

// Storage identifies which backend holds a tender.
type Storage string

const (
	StorageRemote Storage = "remote"
	StorageLocal  Storage = "local"
)

// ParseStorage accepts "remote" or "local" (and the legacy "supabase" alias
// for remote).
func ParseStorage(s string) (Storage, error) {
	switch s {
	case "remote", "supabase":
		return StorageRemote, nil
	case "local":
		return StorageLocal, nil
	default:
		return "", Invalid("storage", "unknown storage %q", s)
	}
}

// SaveResult reports where a tender was written.
type SaveResult struct {
	ID     string  `json:"id"`
	Stored Storage `json:"stored"`
}

// TenderSummary is the list projection of a stored tender.
type TenderSummary struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"projectId"`
	TenderNumber string       `json:"tenderNumber"`
	Title        string       `json:"title"`
	Status       TenderStatus `json:"status"`
	Currency     string       `json:"currency"`
	ClosingDate  string       `json:"closingDate,omitempty"`
	TotalAmount  float64      `json:"totalAmount"`
	LineCount    int          `json:"lineCount"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Storage      Storage      `json:"storage"`
	LastEditedBy string       `json:"lastEditedBy,omitempty"`
}

// SummaryOf projects a record stored under id into a summary.
func SummaryOf(id, projectID string, r TenderRecord, updatedAt time.Time, storage Storage) TenderSummary {
	return TenderSummary{
		ID:           id,
		ProjectID:    projectID,
		TenderNumber: r.TenderNumber,
		Title:        r.Title,
		Status:       r.Status,
		Currency:     r.Currency,
		ClosingDate:  r.ClosingDate,
		TotalAmount:  r.TotalAmount,
		LineCount:    len(r.Lines),
		UpdatedAt:    updatedAt,
		Storage:      storage,
		LastEditedBy: r.LastEditedBy,
	}
}

// TenderDetail is a full tender read back from one backend.
type TenderDetail struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"projectId"`
	Tender    TenderRecord `json:"tender"`
	Storage   Storage      `json:"storage"`
}

// LineSuggestion is a previously saved line offered for reuse.
type LineSuggestion struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Unit         string     `json:"unit"`
	Quantity     *float64   `json:"quantity,omitempty"`
	UnitPrice    *float64   `json:"unitPrice"`
	Amount       *float64   `json:"amount"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	TenderID     string     `json:"tenderId,omitempty"`
	TenderNumber string     `json:"tenderNumber,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	Storage      Storage    `json:"storage"`
}
