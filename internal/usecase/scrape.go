package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/metrics"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/scanner"
)

const optionMaxDetailPages = "maxDetailPages"

// errRunStopped is recorded on sources skipped after a stop request.
var errRunStopped = errors.New("run stopped")

// ErrRepositoryUnavailable means the run cannot start because storage is unreachable.
var ErrRepositoryUnavailable = errors.New("tender repository unavailable")

// Halter is polled between units of work; a true result stops further fetches.
type Halter interface {
	Halted() bool
}

func halted(h Halter) bool {
	return h != nil && h.Halted()
}

// SourceCatalog resolves which sites a run covers.
type SourceCatalog interface {
	Select(codes []string) ([]domain.SourceSite, error)
}

// Validator scores candidates before persistence.
type Validator interface {
	Validate(c domain.CandidateRecord) domain.ValidationReport
}

// ScrapeConfig paces and bounds scraping.
type ScrapeConfig struct {
	SourceDelay    time.Duration
	DetailDelay    time.Duration
	Concurrency    int
	MaxDetailPages int
}

// ScrapeDeps wires the driven adapters into the orchestrator.
type ScrapeDeps struct {
	Sources    SourceCatalog
	Strategies *scanner.Registry
	Fetcher    ports.PageFetcher
	Validator  Validator
	Repository ports.TenderRepository
	Sessions   ports.SessionLog
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// ScrapeOrchestrator drives fetch, extraction, validation and persistence
// across the selected sources.
type ScrapeOrchestrator struct {
	sources    SourceCatalog
	strategies *scanner.Registry
	fetcher    ports.PageFetcher
	validator  Validator
	repository ports.TenderRepository
	sessions   ports.SessionLog
	metrics    *metrics.Metrics
	logger     *slog.Logger

	cfg         ScrapeConfig
	sourcePacer *rate.Limiter
	detailPacer *rate.Limiter
}

// NewScrapeOrchestrator constructs the orchestration component.
func NewScrapeOrchestrator(deps ScrapeDeps, cfg ScrapeConfig) *ScrapeOrchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ScrapeOrchestrator{
		sources:     deps.Sources,
		strategies:  deps.Strategies,
		fetcher:     deps.Fetcher,
		validator:   deps.Validator,
		repository:  deps.Repository,
		sessions:    deps.Sessions,
		metrics:     deps.Metrics,
		logger:      log.With("component", "scrape"),
		cfg:         cfg,
		sourcePacer: pacer(cfg.SourceDelay),
		detailPacer: pacer(cfg.DetailDelay),
	}
}

func pacer(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// Plan checks the entry conditions of a run: the codes must be known and
// the repository reachable. Its errors are the only ones a run surfaces.
func (o *ScrapeOrchestrator) Plan(ctx context.Context, codes []string) ([]domain.SourceSite, error) {
	sites, err := o.sources.Select(codes)
	if err != nil {
		return nil, err
	}
	if err := o.repository.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return sites, nil
}

// Run plans and executes a run synchronously.
func (o *ScrapeOrchestrator) Run(ctx context.Context, sessionID string, codes []string, halt Halter) (domain.ScrapeRun, error) {
	sites, err := o.Plan(ctx, codes)
	if err != nil {
		return domain.ScrapeRun{SessionID: sessionID}, err
	}
	return o.Execute(ctx, sessionID, sites, halt), nil
}

// Execute scrapes every site. Per-source failures never escape; the result
// holds exactly one entry per site, in the order given.
func (o *ScrapeOrchestrator) Execute(ctx context.Context, sessionID string, sites []domain.SourceSite, halt Halter) domain.ScrapeRun {
	start := time.Now()
	results := make([]domain.ScrapeResult, len(sites))

	for _, site := range sites {
		o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Status: domain.LogPending, Message: "queued"})
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, o.cfg.Concurrency)
	)
	for i, site := range sites {
		if halted(halt) || ctx.Err() != nil {
			results[i] = o.skipped(ctx, sessionID, site)
			continue
		}

		if err := o.sourcePacer.Wait(ctx); err != nil {
			results[i] = o.skipped(ctx, sessionID, site)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, site domain.SourceSite) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.scrapeSource(ctx, sessionID, site, halt)
		}(i, site)
	}
	wg.Wait()

	run := domain.ScrapeRun{
		SessionID: sessionID,
		Results:   results,
		Attempted: len(results),
		Duration:  time.Since(start),
	}
	for _, r := range results {
		if r.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
		run.ValidRecords += r.RecordsFound
		run.CreatedRecords += r.RecordsCreated
	}

	summary := fmt.Sprintf("run finished: %d/%d sources succeeded, %d valid records, %d new",
		run.Succeeded, run.Attempted, run.ValidRecords, run.CreatedRecords)
	o.log(ctx, sessionID, domain.LogEntry{Status: domain.LogDone, Message: summary, LatencyMS: run.Duration.Milliseconds()})
	o.logger.Info("scrape run finished",
		"session", sessionID,
		"attempted", run.Attempted,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"valid", run.ValidRecords,
		"created", run.CreatedRecords,
		"duration", run.Duration)
	return run
}

func (o *ScrapeOrchestrator) skipped(ctx context.Context, sessionID string, site domain.SourceSite) domain.ScrapeResult {
	o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Status: domain.LogFailed, Message: errRunStopped.Error()})
	o.metrics.SourceDone(site.Code, false, 0)
	return domain.ScrapeResult{Source: site.Code, Error: errRunStopped.Error()}
}

func (o *ScrapeOrchestrator) scrapeSource(ctx context.Context, sessionID string, site domain.SourceSite, halt Halter) (result domain.ScrapeResult) {
	start := time.Now()
	result.Source = site.Code

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("source panicked", "source", site.Code, "panic", p)
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", p)
		}
		result.Duration = time.Since(start)
		o.metrics.SourceDone(site.Code, result.Success, result.Duration)

		entry := domain.LogEntry{
			Site:      site.Code,
			Status:    domain.LogSuccess,
			Message:   fmt.Sprintf("%d valid records, %d new, %d urls visited", result.RecordsFound, result.RecordsCreated, result.URLsVisited),
			LatencyMS: result.Duration.Milliseconds(),
		}
		if !result.Success {
			entry.Status = domain.LogFailed
			entry.Message = result.Error
		}
		o.log(ctx, sessionID, entry)
	}()

	o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Status: domain.LogRunning, Message: "scraping " + site.Name})

	strategy, err := o.strategies.Resolve(site.Strategy)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	candidates, visited, err := o.collect(ctx, sessionID, site, strategy, halt)
	result.URLsVisited = visited
	if err != nil {
		result.Error = err.Error()
		return result
	}

	for _, c := range candidates {
		report := o.validator.Validate(c)
		o.metrics.Candidate(site.Code, report.IsRelevant)
		if !report.IsRelevant {
			continue
		}
		result.RecordsFound++

		res, err := o.repository.Upsert(ctx, c, report)
		if err != nil {
			o.metrics.Upsert(site.Code, "failed")
			o.logger.Warn("persist candidate failed", "source", site.Code, "url", c.DetailURL, "err", err)
			o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Status: domain.LogFailed, Message: "persist " + c.DetailURL + ": " + err.Error()})
			continue
		}
		if res.Created {
			result.RecordsCreated++
			o.metrics.Upsert(site.Code, "created")
		} else {
			o.metrics.Upsert(site.Code, "updated")
		}
	}

	result.Success = true
	return result
}

// collect visits every listing URL and then the union of detail links. It
// fails only when no listing page could be fetched.
func (o *ScrapeOrchestrator) collect(ctx context.Context, sessionID string, site domain.SourceSite, strategy scanner.Strategy, halt Halter) ([]domain.CandidateRecord, int, error) {
	var (
		candidates []domain.CandidateRecord
		links      []scanner.Link
		seen       = map[string]bool{}
		visited    int
		fetched    int
		lastErr    error
	)

	for i, listingURL := range site.ListingURLs {
		if halted(halt) {
			return candidates, visited, errRunStopped
		}
		if i > 0 {
			if err := o.detailPacer.Wait(ctx); err != nil {
				return candidates, visited, err
			}
		}

		visited++
		page, err := o.page(ctx, site, listingURL)
		if err != nil {
			lastErr = err
			o.logger.Warn("listing fetch failed", "source", site.Code, "url", listingURL, "err", err)
			o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Page: i + 1, Status: domain.LogFailed, Message: err.Error()})
			continue
		}
		fetched++

		listing := strategy.Listing(page)
		candidates = append(candidates, listing.Inline...)
		fresh := 0
		for _, l := range listing.Links {
			if !seen[l.URL] {
				seen[l.URL] = true
				links = append(links, l)
				fresh++
			}
		}
		o.log(ctx, sessionID, domain.LogEntry{
			Site:    site.Code,
			Page:    i + 1,
			Status:  domain.LogInfo,
			Message: fmt.Sprintf("%d records found on page (%d detail links, %d inline)", fresh+len(listing.Inline), fresh, len(listing.Inline)),
		})
	}

	if fetched == 0 && lastErr != nil {
		return nil, visited, fmt.Errorf("no listing page reachable: %w", lastErr)
	}

	limit := o.cfg.MaxDetailPages
	if v, err := strconv.Atoi(site.Option(optionMaxDetailPages, "")); err == nil && v > 0 {
		limit = v
	}
	if limit > 0 && len(links) > limit {
		o.logger.Info("detail links capped", "source", site.Code, "found", len(links), "limit", limit)
		links = links[:limit]
	}

	for _, l := range links {
		if halted(halt) {
			o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Status: domain.LogSkipped, Message: "stop requested, remaining detail pages skipped"})
			break
		}
		if err := o.detailPacer.Wait(ctx); err != nil {
			break
		}

		visited++
		page, err := o.page(ctx, site, l.URL)
		if err != nil {
			o.logger.Debug("detail fetch failed", "source", site.Code, "url", l.URL, "err", err)
			o.log(ctx, sessionID, domain.LogEntry{Site: site.Code, Status: domain.LogSkipped, Message: err.Error()})
			continue
		}
		if c, ok := strategy.Detail(page); ok {
			candidates = append(candidates, c)
		}
	}

	return candidates, visited, nil
}

func (o *ScrapeOrchestrator) page(ctx context.Context, site domain.SourceSite, rawURL string) (scanner.Page, error) {
	doc, err := o.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return scanner.Page{}, err
	}
	u := doc.Url
	if u == nil {
		if u, err = url.Parse(rawURL); err != nil {
			return scanner.Page{}, fmt.Errorf("parse %s: %w", rawURL, err)
		}
	}
	return scanner.Page{Site: site, URL: u, Doc: doc}, nil
}

func (o *ScrapeOrchestrator) log(ctx context.Context, sessionID string, entry domain.LogEntry) {
	if o.sessions == nil || sessionID == "" {
		return
	}
	if err := o.sessions.Append(ctx, sessionID, entry); err != nil {
		o.logger.Debug("session log append failed", "session", sessionID, "err", err)
	}
}
