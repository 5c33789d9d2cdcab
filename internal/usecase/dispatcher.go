package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"TenderScanner/internal/credit"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/tasks"
)

var (
	// ErrInsufficientCredits is returned when the credit gate parks an enrichment request.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrBatchInProgress is returned while another batch enrichment session is running.
	ErrBatchInProgress = errors.New("batch enrichment already running")
)

// TaskRunner starts detached background work.
type TaskRunner interface {
	Go(kind, id string, fn tasks.Func) error
	Stop(id string) bool
}

// CreditGate is the admission contract the dispatcher relies on.
type CreditGate interface {
	Admit(ctx context.Context, op domain.OperationType, pending int, recordID int64) (credit.Decision, *domain.WaitingJob, error)
	Admissible(ctx context.Context) []domain.WaitingJob
	Remove(id string) error
}

// Launch describes a started (or parked) background session.
type Launch struct {
	SessionID string             `json:"session_id,omitempty"`
	Decision  *credit.Decision   `json:"decision,omitempty"`
	Job       *domain.WaitingJob `json:"job,omitempty"`
}

// DispatcherDeps wires the dispatcher.
type DispatcherDeps struct {
	Scrape     *ScrapeOrchestrator
	Enrich     *Enricher
	Gate       CreditGate
	Repository ports.TenderRepository
	Sessions   ports.SessionLog
	Runner     TaskRunner
	Logger     *slog.Logger
}

// Dispatcher turns trigger requests into background sessions: it validates
// synchronously, hands the work to the runner and returns the session id.
type Dispatcher struct {
	scrape   *ScrapeOrchestrator
	enrich   *Enricher
	gate     CreditGate
	repo     ports.TenderRepository
	sessions ports.SessionLog
	runner   TaskRunner
	logger   *slog.Logger

	// batch holds the session id of the running batch; empty when idle.
	batchMu sync.Mutex
	batch   string
	retryMu sync.Mutex
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		scrape:   deps.Scrape,
		enrich:   deps.Enrich,
		gate:     deps.Gate,
		repo:     deps.Repository,
		sessions: deps.Sessions,
		runner:   deps.Runner,
		logger:   log.With("component", "dispatcher"),
	}
}

// StartScrape validates the selection and starts a scrape session. Unknown
// sources and an unreachable repository fail here; everything after is
// reported through the session log.
func (d *Dispatcher) StartScrape(ctx context.Context, codes []string) (string, error) {
	sites, err := d.scrape.Plan(ctx, codes)
	if err != nil {
		return "", err
	}

	id, err := d.sessions.Create(ctx, domain.SessionScrape)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	err = d.runner.Go(string(domain.SessionScrape), id, func(taskCtx context.Context, h *tasks.Handle) error {
		d.scrape.Execute(taskCtx, id, sites, h)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("start scrape: %w", err)
	}
	d.logger.Info("scrape session started", "session", id, "sources", len(sites))
	return id, nil
}

// Stop asks a running session to stop issuing further work.
func (d *Dispatcher) Stop(sessionID string) bool {
	return d.runner.Stop(sessionID)
}

// StartEnrichBatch admits a batch through the credit gate and starts it.
// On denial the returned Launch carries the waiting job and the error wraps
// ErrInsufficientCredits. Only one batch runs at a time: while one is in
// flight the call fails with ErrBatchInProgress and nothing is queued.
func (d *Dispatcher) StartEnrichBatch(ctx context.Context) (Launch, error) {
	if running := d.activeBatch(); running != "" {
		return Launch{SessionID: running}, fmt.Errorf("%w: session %s", ErrBatchInProgress, running)
	}

	pending, err := d.repo.CountPending(ctx)
	if err != nil {
		return Launch{}, fmt.Errorf("count pending: %w", err)
	}
	if pending > d.enrich.BatchSize() {
		pending = d.enrich.BatchSize()
	}

	decision, job, err := d.gate.Admit(ctx, domain.OperationBatch, pending, 0)
	if err != nil {
		return Launch{Decision: &decision}, fmt.Errorf("admit batch: %w", err)
	}
	if !decision.Can {
		return Launch{Decision: &decision, Job: job}, fmt.Errorf("%w: %s", ErrInsufficientCredits, decision.Reason)
	}

	id, err := d.launchBatch(ctx)
	return Launch{SessionID: id, Decision: &decision}, err
}

// StartEnrichOne admits and starts enrichment of a single tender.
func (d *Dispatcher) StartEnrichOne(ctx context.Context, tenderID int64) (Launch, error) {
	if _, err := d.repo.Get(ctx, tenderID); err != nil {
		return Launch{}, err
	}

	decision, job, err := d.gate.Admit(ctx, domain.OperationSingle, 1, tenderID)
	if err != nil {
		return Launch{Decision: &decision}, fmt.Errorf("admit tender %d: %w", tenderID, err)
	}
	if !decision.Can {
		return Launch{Decision: &decision, Job: job}, fmt.Errorf("%w: %s", ErrInsufficientCredits, decision.Reason)
	}

	id, err := d.launchOne(ctx, tenderID)
	return Launch{SessionID: id, Decision: &decision}, err
}

// RetryWaiting re-evaluates the waiting queue in FIFO order and starts a
// session for each admitted job. A job leaves the queue only once its session
// started. At most one batch job is launched per call; further batch jobs
// stay queued.
func (d *Dispatcher) RetryWaiting(ctx context.Context) ([]Launch, error) {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	var (
		out        []Launch
		errs       []error
		batchTried bool
	)
	for _, job := range d.gate.Admissible(ctx) {
		var (
			id  string
			err error
		)
		if job.Type == domain.OperationSingle && job.RecordID > 0 {
			id, err = d.launchOne(ctx, job.RecordID)
		} else {
			if batchTried {
				continue
			}
			batchTried = true
			id, err = d.launchBatch(ctx)
			if errors.Is(err, ErrBatchInProgress) {
				d.logger.Info("waiting batch job deferred", "job", job.ID, "reason", err)
				continue
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}

		if err := d.gate.Remove(job.ID); err != nil {
			// cancelled while its session was starting
			d.logger.Warn("waiting job already removed", "job", job.ID, "session", id)
		}
		out = append(out, Launch{SessionID: id, Job: &job})
	}
	return out, errors.Join(errs...)
}

func (d *Dispatcher) activeBatch() string {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()
	return d.batch
}

func (d *Dispatcher) launchBatch(ctx context.Context) (string, error) {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()
	if d.batch != "" {
		return "", fmt.Errorf("%w: session %s", ErrBatchInProgress, d.batch)
	}

	id, err := d.sessions.Create(ctx, domain.SessionEnrich)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	err = d.runner.Go(string(domain.SessionEnrich), id, func(taskCtx context.Context, h *tasks.Handle) error {
		defer d.finishBatch(id)
		_, err := d.enrich.RunBatch(taskCtx, id, h)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start enrichment: %w", err)
	}
	d.batch = id
	d.logger.Info("enrichment session started", "session", id)
	return id, nil
}

func (d *Dispatcher) finishBatch(id string) {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()
	if d.batch == id {
		d.batch = ""
	}
}

func (d *Dispatcher) launchOne(ctx context.Context, tenderID int64) (string, error) {
	id, err := d.sessions.Create(ctx, domain.SessionEnrich)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	err = d.runner.Go(string(domain.SessionEnrich), id, func(taskCtx context.Context, _ *tasks.Handle) error {
		_, err := d.enrich.EnrichOne(taskCtx, id, tenderID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start enrichment: %w", err)
	}
	d.logger.Info("single enrichment started", "session", id, "tender", tenderID)
	return id, nil
}
