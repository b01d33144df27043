package model

// PreviewStatus is the reconciliation state of a bulk-import row.
type PreviewStatus string

const (
	PreviewPending PreviewStatus = "pending"
	PreviewMatched PreviewStatus = "matched"
	PreviewCreated PreviewStatus = "created"
)

// BulkPreviewRow is one parsed import row and its catalog match. Rows live
// only for the duration of a reconciliation session.
type BulkPreviewRow struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Unit          string        `json:"unit"`
	Quantity      float64       `json:"quantity"`
	MatchedItemID *string       `json:"matchedItemId"`
	Confidence    float64       `json:"confidence"`
	Status        PreviewStatus `json:"status"`
}
