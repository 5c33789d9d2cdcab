package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/metrics"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/textutil"
)

// EnrichConfig sizes and paces enrichment.
type EnrichConfig struct {
	BatchSize       int
	CallDelay       time.Duration
	CallTimeout     time.Duration
	DigestRelevance float64
}

// EnrichDeps wires the adapters used by the enrichment pipeline.
type EnrichDeps struct {
	Repository ports.TenderRepository
	Classifier ports.Classifier
	Sessions   ports.SessionLog
	Notifier   ports.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Enricher classifies pending tenders through the metered classifier.
type Enricher struct {
	repository ports.TenderRepository
	classifier ports.Classifier
	sessions   ports.SessionLog
	notifier   ports.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	cfg   EnrichConfig
	pacer *rate.Limiter
	now   func() time.Time
}

// NewEnricher constructs the enrichment pipeline.
func NewEnricher(deps EnrichDeps, cfg EnrichConfig) *Enricher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{
		repository: deps.Repository,
		classifier: deps.Classifier,
		sessions:   deps.Sessions,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     log.With("component", "enrich"),
		cfg:        cfg,
		pacer:      pacer(cfg.CallDelay),
		now:        time.Now,
	}
}

// BatchSize is the maximum number of tenders one batch processes.
func (e *Enricher) BatchSize() int {
	return e.cfg.BatchSize
}

// RunBatch processes up to BatchSize pending tenders in creation order. Item
// failures are logged and leave the tender pending; only failing to list the
// pending tenders aborts the batch.
func (e *Enricher) RunBatch(ctx context.Context, sessionID string, halt Halter) (domain.EnrichmentRun, error) {
	pending, err := e.repository.Pending(ctx, e.cfg.BatchSize)
	if err != nil {
		e.log(ctx, sessionID, domain.LogEntry{Status: domain.LogFailed, Message: "load pending tenders: " + err.Error()})
		return domain.EnrichmentRun{SessionID: sessionID}, fmt.Errorf("load pending: %w", err)
	}
	return e.process(ctx, sessionID, pending, halt), nil
}

// EnrichOne processes a single tender, enriched or not.
func (e *Enricher) EnrichOne(ctx context.Context, sessionID string, id int64) (domain.EnrichmentRun, error) {
	t, err := e.repository.Get(ctx, id)
	if err != nil {
		e.log(ctx, sessionID, domain.LogEntry{Status: domain.LogFailed, RecordID: id, Message: err.Error()})
		return domain.EnrichmentRun{SessionID: sessionID}, err
	}
	return e.process(ctx, sessionID, []domain.Tender{t}, nil), nil
}

func (e *Enricher) process(ctx context.Context, sessionID string, tenders []domain.Tender, halt Halter) domain.EnrichmentRun {
	start := e.now()
	run := domain.EnrichmentRun{SessionID: sessionID, Total: len(tenders)}

	e.log(ctx, sessionID, domain.LogEntry{Status: domain.LogRunning, Message: fmt.Sprintf("%d tenders to classify", len(tenders))})

	var digest []domain.Tender
	for i, t := range tenders {
		if halted(halt) {
			e.log(ctx, sessionID, domain.LogEntry{Status: domain.LogSkipped, Message: fmt.Sprintf("stop requested, %d tenders left pending", len(tenders)-i)})
			break
		}
		if err := e.pacer.Wait(ctx); err != nil {
			e.log(ctx, sessionID, domain.LogEntry{Status: domain.LogFailed, Message: err.Error()})
			break
		}

		enriched, err := e.enrichOne(ctx, sessionID, t)
		if err != nil {
			run.Failed++
			continue
		}
		run.Processed++
		if enriched.RelevanceScore >= e.cfg.DigestRelevance {
			t.Enrichment = &enriched
			digest = append(digest, t)
		}
	}

	run.Duration = e.now().Sub(start)
	e.log(ctx, sessionID, domain.LogEntry{
		Status:    domain.LogDone,
		Message:   fmt.Sprintf("batch finished: %d processed, %d failed of %d", run.Processed, run.Failed, run.Total),
		LatencyMS: run.Duration.Milliseconds(),
	})
	e.logger.Info("enrichment finished", "session", sessionID, "total", run.Total, "processed", run.Processed, "failed", run.Failed)

	if e.notifier != nil && len(digest) > 0 {
		if err := e.notifier.PublishDigest(ctx, buildDigestMessage(digest)); err != nil {
			e.logger.Warn("publish digest failed", "err", err)
		}
	}
	return run
}

func (e *Enricher) enrichOne(ctx context.Context, sessionID string, t domain.Tender) (domain.Enrichment, error) {
	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	started := e.now()
	cls, err := e.classifier.Classify(callCtx, t)
	latency := e.now().Sub(started)
	if err != nil {
		e.metrics.Enriched(false, latency)
		e.logger.Warn("classification failed", "tender", t.ID, "err", err)
		e.log(ctx, sessionID, domain.LogEntry{
			Status:    domain.LogFailed,
			RecordID:  t.ID,
			Message:   "classify: " + err.Error(),
			LatencyMS: latency.Milliseconds(),
		})
		return domain.Enrichment{}, err
	}

	enriched := domain.Enrichment{
		Category:            cls.Category,
		SecondaryCategories: cls.SecondaryCategories,
		RelevanceScore:      cls.RelevanceScore,
		School:              cls.School,
		Municipality:        cls.Municipality,
		Complexity:          cls.Complexity,
		SupplierType:        cls.SupplierType,
		Confidence:          cls.Confidence,
		Summary:             cls.Summary,
		Keywords:            cls.Keywords,
		ProcessedAt:         e.now().UTC(),
	}
	if err := e.repository.SaveEnrichment(ctx, t.ID, enriched); err != nil {
		e.metrics.Enriched(false, latency)
		e.logger.Warn("save enrichment failed", "tender", t.ID, "err", err)
		e.log(ctx, sessionID, domain.LogEntry{Status: domain.LogFailed, RecordID: t.ID, Message: "save: " + err.Error(), LatencyMS: latency.Milliseconds()})
		return domain.Enrichment{}, err
	}

	e.metrics.Enriched(true, latency)
	e.log(ctx, sessionID, domain.LogEntry{
		Status:     domain.LogSuccess,
		RecordID:   t.ID,
		Message:    textutil.Truncate(t.Object, 120),
		Category:   cls.Category,
		Confidence: cls.Confidence,
		LatencyMS:  latency.Milliseconds(),
	})
	return enriched, nil
}

func (e *Enricher) log(ctx context.Context, sessionID string, entry domain.LogEntry) {
	if e.sessions == nil || sessionID == "" {
		return
	}
	if err := e.sessions.Append(ctx, sessionID, entry); err != nil {
		e.logger.Debug("session log append failed", "session", sessionID, "err", err)
	}
}

func buildDigestMessage(tenders []domain.Tender) string {
	var b strings.Builder
	b.WriteString("Novos editais relevantes\n\n")
	for _, t := range tenders {
		fmt.Fprintf(&b, "- [%s] %s\n", t.SourceCode, textutil.Truncate(t.Object, 200))
		if t.Enrichment != nil {
			fmt.Fprintf(&b, "Categoria: %s | Relevância: %.0f\n", t.Enrichment.Category, t.Enrichment.RelevanceScore)
			if t.Enrichment.Summary != "" {
				b.WriteString(t.Enrichment.Summary + "\n")
			}
		}
		b.WriteString(t.DetailURL + "\n\n")
	}
	return b.String()
}
