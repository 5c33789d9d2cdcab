package domain

import "time"

// SessionKind separates scraping runs from enrichment batches.
type SessionKind string

const (
	SessionScrape SessionKind = "scrape"
	SessionEnrich SessionKind = "enrich"
)

// Log entry statuses.
const (
	LogPending = "pending"
	LogRunning = "running"
	LogSuccess = "success"
	LogFailed  = "failed"
	LogInfo    = "info"
	LogSkipped = "skipped"
	LogDone    = "done"
)

// LogEntry is one line of a session's progress log.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Site       string    `json:"site,omitempty"`
	Page       int       `json:"page,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	RecordID   int64     `json:"record_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	LatencyMS  int64     `json:"latency_ms,omitempty"`
}

// ScrapeResult is the immutable outcome of one source in one run.
type ScrapeResult struct {
	Source         string        `json:"source"`
	Success        bool          `json:"success"`
	RecordsFound   int           `json:"records_found"`
	RecordsCreated int           `json:"records_created"`
	URLsVisited    int           `json:"urls_visited"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// ScrapeRun aggregates all per-source results of a run.
type ScrapeRun struct {
	SessionID      string         `json:"session_id"`
	Results        []ScrapeResult `json:"results"`
	Attempted      int            `json:"attempted"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	ValidRecords   int            `json:"valid_records"`
	CreatedRecords int            `json:"created_records"`
	Duration       time.Duration  `json:"duration"`
}

// EnrichmentRun summarises one enrichment batch.
type EnrichmentRun struct {
	SessionID string        `json:"session_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Session identifies one scrape or enrichment run and its log lifetime.
type Session struct {
	ID        string      `json:"id"`
	Kind      SessionKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
