package domain

import (
	"strings"
	"time"
)

// NotInformed marks a text field the extractor could not find on the page.
const NotInformed = "Não informado"

// IsNotInformed reports whether v is empty or the sentinel value.
func IsNotInformed(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, NotInformed)
}

// Raw snapshot keys.
const (
	RawTenderNumber    = "tender_number"
	RawObject          = "object"
	RawModality        = "modality"
	RawPublicationDate = "publication_date"
	RawOpeningDate     = "opening_date"
	RawEstimatedValue  = "estimated_value"
	RawStatus          = "status"
)

// CandidateRecord is a tentative procurement notice extracted from HTML.
// It is never mutated after the extractor returns it.
type CandidateRecord struct {
	SourceCode      string            `json:"source_code"`
	DetailURL       string            `json:"detail_url"`
	TenderNumber    string            `json:"tender_number"`
	Object          string            `json:"object"`
	Modality        string            `json:"modality"`
	PublicationDate *time.Time        `json:"publication_date,omitempty"`
	OpeningDate     *time.Time        `json:"opening_date,omitempty"`
	EstimatedValue  *float64          `json:"estimated_value,omitempty"`
	Status          string            `json:"status"`
	Documents       []string          `json:"documents,omitempty"`
	Raw             map[string]string `json:"raw,omitempty"`
}

// HasTenderNumber is false when the number is the sentinel.
func (c CandidateRecord) HasTenderNumber() bool {
	return !IsNotInformed(c.TenderNumber)
}

// ObjectLength counts runes of the object text; the sentinel counts as zero.
func (c CandidateRecord) ObjectLength() int {
	if IsNotInformed(c.Object) {
		return 0
	}
	return len([]rune(strings.TrimSpace(c.Object)))
}

// ValidationReport is the deterministic verdict computed for a candidate.
type ValidationReport struct {
	QualityScore   int  `json:"quality_score"`
	RelevanceScore int  `json:"relevance_score"`
	IsRelevant     bool `json:"is_relevant"`
}

// Tender is the canonical stored notice.
type Tender struct {
	ID              int64             `json:"id"`
	SourceCode      string            `json:"source_code"`
	DedupKey        string            `json:"dedup_key"`
	DetailURL       string            `json:"detail_url"`
	TenderNumber    string            `json:"tender_number"`
	Object          string            `json:"object"`
	Modality        string            `json:"modality"`
	PublicationDate *time.Time        `json:"publication_date,omitempty"`
	OpeningDate     *time.Time        `json:"opening_date,omitempty"`
	EstimatedValue  *float64          `json:"estimated_value,omitempty"`
	Status          string            `json:"status"`
	Documents       []string          `json:"documents,omitempty"`
	Raw             map[string]string `json:"raw,omitempty"`
	QualityScore    int               `json:"quality_score"`
	Processed       bool              `json:"processed"`
	Enrichment      *Enrichment       `json:"enrichment,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Enrichment holds the classifier output written back to a tender.
// A tender either carries all of it or none of it.
type Enrichment struct {
	Category            string    `json:"category"`
	SecondaryCategories []string  `json:"secondary_categories"`
	RelevanceScore      float64   `json:"relevance_score"`
	School              string    `json:"school"`
	Municipality        string    `json:"municipality"`
	Complexity          string    `json:"complexity"`
	SupplierType        string    `json:"supplier_type"`
	Confidence          float64   `json:"confidence"`
	Summary             string    `json:"summary"`
	Keywords            []string  `json:"keywords"`
	ProcessedAt         time.Time `json:"processed_at"`
}

// UpsertResult reports the stored row and whether it was newly created.
type UpsertResult struct {
	Tender  Tender
	Created bool
}
