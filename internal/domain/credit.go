package domain

import "time"

// OperationType distinguishes batch enrichment from single-record enrichment.
type OperationType string

const (
	OperationBatch  OperationType = "batch"
	OperationSingle OperationType = "single"
)

// Valid reports whether the operation type is known.
func (o OperationType) Valid() bool {
	return o == OperationBatch || o == OperationSingle
}

// CreditStatus is the current admission picture of the metered service.
type CreditStatus struct {
	Balance          float64 `json:"balance"`
	BatchThreshold   float64 `json:"batch_threshold"`
	SingleThreshold  float64 `json:"single_threshold"`
	CanProcessBatch  bool    `json:"can_process_batch"`
	CanProcessSingle bool    `json:"can_process_single"`
	Reason           string  `json:"reason"`
}

// WaitingJob is an enrichment request parked until credits allow it.
type WaitingJob struct {
	ID           string        `json:"id"`
	Type         OperationType `json:"type"`
	PendingCount int           `json:"pending_count"`
	RecordID     int64         `json:"record_id,omitempty"`
	Reason       string        `json:"reason"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Classification is what the external classifier returns for one notice.
type Classification struct {
	Category            string   `json:"category"`
	SecondaryCategories []string `json:"secondary_categories"`
	RelevanceScore      float64  `json:"relevance_score"`
	School              string   `json:"school"`
	Municipality        string   `json:"municipality"`
	Complexity          string   `json:"complexity"`
	SupplierType        string   `json:"supplier_type"`
	Confidence          float64  `json:"confidence"`
	Keywords            []string `json:"keywords"`
	Summary             string   `json:"summary"`
}
