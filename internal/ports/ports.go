package ports

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"TenderScanner/internal/domain"
)

// PageFetcher retrieves and parses remote HTML pages.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// TenderRepository persists tenders with natural-key deduplication.
type TenderRepository interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, candidate domain.CandidateRecord, report domain.ValidationReport) (domain.UpsertResult, error)
	All(ctx context.Context, limit int) ([]domain.Tender, error)
	BySource(ctx context.Context, sourceCode string, limit int) ([]domain.Tender, error)
	Pending(ctx context.Context, limit int) ([]domain.Tender, error)
	Get(ctx context.Context, id int64) (domain.Tender, error)
	SaveEnrichment(ctx context.Context, id int64, enrichment domain.Enrichment) error
	Count(ctx context.Context) (int, error)
	CountPending(ctx context.Context) (int, error)
}

// Classifier calls the metered external classification service.
type Classifier interface {
	Classify(ctx context.Context, tender domain.Tender) (domain.Classification, error)
}

// BalanceProvider reports the remaining credit on the metered service.
type BalanceProvider interface {
	Balance(ctx context.Context) (float64, error)
}

// SessionLog keeps pollable progress logs per session.
type SessionLog interface {
	Create(ctx context.Context, kind domain.SessionKind) (string, error)
	Append(ctx context.Context, sessionID string, entry domain.LogEntry) error
	Entries(ctx context.Context, sessionID string, limit int) ([]domain.LogEntry, error)
}

// Notifier streams digests and alerts to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
