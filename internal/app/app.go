package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"TenderScanner/internal/api"
	"TenderScanner/internal/config"
	"TenderScanner/internal/credit"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/infrastructure/billing"
	"TenderScanner/internal/infrastructure/fetcher"
	"TenderScanner/internal/infrastructure/llm"
	"TenderScanner/internal/infrastructure/parser"
	"TenderScanner/internal/infrastructure/scheduler"
	"TenderScanner/internal/infrastructure/storage"
	"TenderScanner/internal/infrastructure/telegram"
	"TenderScanner/internal/logging"
	"TenderScanner/internal/metrics"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/scanner"
	"TenderScanner/internal/sessionlog"
	"TenderScanner/internal/sources"
	"TenderScanner/internal/tasks"
	"TenderScanner/internal/usecase"
	"TenderScanner/internal/validation"
)

const runnerShutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	registry  *prometheus.Registry
	sources   *sources.Registry
	repo      ports.TenderRepository
	sessions  sessionlog.Store
	runner    *tasks.Runner
	gate      *credit.Gate
	scrape    *usecase.ScrapeOrchestrator
	enrich    *usecase.Enricher
	dispatch  *usecase.Dispatcher
	scheduler *usecase.Scheduler

	closers []func() error
}

// Option customises an Application; tests use it to swap adapters.
type Option func(*options)

type options struct {
	repo       ports.TenderRepository
	classifier ports.Classifier
	balance    ports.BalanceProvider
	notifier   ports.Notifier
}

// WithRepository replaces the configured tender store.
func WithRepository(r ports.TenderRepository) Option {
	return func(o *options) { o.repo = r }
}

// WithClassifier replaces the HTTP classifier.
func WithClassifier(c ports.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithBalance replaces the billing client.
func WithBalance(b ports.BalanceProvider) Option {
	return func(o *options) { o.balance = b }
}

// WithNotifier replaces the Telegram notifier.
func WithNotifier(n ports.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New builds the application graph from configuration.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	var err error
	if a.sources, err = sources.NewRegistry(cfg.Sites); err != nil {
		return nil, fmt.Errorf("source registry: %w", err)
	}

	a.repo = o.repo
	if a.repo == nil {
		if a.repo, err = a.openRepository(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if a.sessions, err = a.openSessions(ctx); err != nil {
		a.Close()
		return nil, err
	}

	loc := cfg.Scheduler.Location()
	strategies := scanner.NewRegistry(
		parser.NewDefaultStrategy(loc, baseLogger.With("component", "strategy.default")),
		parser.NewInlineStrategy(loc, baseLogger.With("component", "strategy.inline")),
	)

	pageFetcher := fetcher.New(fetcher.Config{
		Timeout:      cfg.Fetcher.Timeout,
		UserAgent:    cfg.Fetcher.UserAgent,
		Retries:      cfg.Fetcher.Retries,
		RetryDelay:   cfg.Fetcher.RetryDelay,
		MaxRedirects: cfg.Fetcher.MaxRedirects,
	}, nil, baseLogger.With("component", "fetcher"))

	notifier := o.notifier
	if notifier == nil {
		if tg := telegram.NewNotifier(cfg.Notifications.Telegram); tg.Configured() {
			notifier = tg
		}
	}

	classifier := o.classifier
	if classifier == nil {
		classifier = llm.NewClassifier(cfg.Classifier)
	}
	balance := o.balance
	if balance == nil {
		balance = billing.NewClient(cfg.Billing)
	}

	a.scrape = usecase.NewScrapeOrchestrator(usecase.ScrapeDeps{
		Sources:    a.sources,
		Strategies: strategies,
		Fetcher:    pageFetcher,
		Validator:  validation.New(),
		Repository: a.repo,
		Sessions:   a.sessions,
		Metrics:    m,
		Logger:     baseLogger,
	}, usecase.ScrapeConfig{
		SourceDelay:    cfg.Scrape.SourceDelay,
		DetailDelay:    cfg.Scrape.DetailDelay,
		Concurrency:    cfg.Scrape.Concurrency,
		MaxDetailPages: cfg.Scrape.MaxDetailPages,
	})

	a.enrich = usecase.NewEnricher(usecase.EnrichDeps{
		Repository: a.repo,
		Classifier: classifier,
		Sessions:   a.sessions,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     baseLogger,
	}, usecase.EnrichConfig{
		BatchSize:       cfg.Enrichment.BatchSize,
		CallDelay:       cfg.Enrichment.CallDelay,
		CallTimeout:     cfg.Classifier.Timeout,
		DigestRelevance: cfg.Enrichment.DigestRelevance,
	})

	a.gate = credit.NewGate(balance, credit.Thresholds{
		Batch:  cfg.Credits.BatchThreshold,
		Single: cfg.Credits.SingleThreshold,
	}, notifier, m, baseLogger)

	a.runner = tasks.NewRunner(baseLogger.With("component", "tasks"), m)
	a.dispatch = usecase.NewDispatcher(usecase.DispatcherDeps{
		Scrape:     a.scrape,
		Enrich:     a.enrich,
		Gate:       a.gate,
		Repository: a.repo,
		Sessions:   a.sessions,
		Runner:     a.runner,
		Logger:     baseLogger,
	})

	if cfg.Scheduler.ScrapeCron != "" {
		if err := scheduler.Validate(cfg.Scheduler.ScrapeCron); err != nil {
			a.Close()
			return nil, err
		}
		driver := scheduler.NewCronScheduler(cfg.Scheduler.ScrapeCron, loc, baseLogger)
		a.scheduler = usecase.NewScheduler(driver, a.dispatch, baseLogger)
	}

	return a, nil
}

func (a *Application) openRepository(ctx context.Context) (ports.TenderRepository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database configured, tenders are kept in memory")
		return storage.NewMemoryRepository(), nil
	}

	db, err := sqlx.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if a.cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	}
	a.closers = append(a.closers, db.Close)

	repo := storage.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func (a *Application) openSessions(ctx context.Context) (sessionlog.Store, error) {
	switch a.cfg.Sessions.Backend {
	case "", "memory":
		return sessionlog.NewMemoryStore(a.cfg.Sessions.TTL, a.logger.With("component", "sessions")), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Sessions.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		return sessionlog.NewRedisStore(client, a.cfg.Sessions.TTL), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", a.cfg.Sessions.Backend)
	}
}

// Serve runs the HTTP API, the session janitor and the scrape schedule
// until ctx is cancelled, then drains background tasks.
func (a *Application) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if mem, ok := a.sessions.(*sessionlog.MemoryStore); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mem.Run(ctx, a.cfg.Sessions.PurgeInterval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-a.runner.Errors():
				a.logger.Warn("background task failed", "kind", f.Kind, "session", f.ID, "err", f.Err)
			}
		}
	}()

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.logger.Info("scrape schedule active", "cron", a.cfg.Scheduler.ScrapeCron)
	}

	handler := api.NewHandler(api.Deps{
		Dispatcher: a.dispatch,
		Credits:    a.gate,
		Sessions:   a.sessions,
		Tenders:    a.repo,
		Sources:    a.sources,
		Logger:     a.logger,
	})
	server := api.NewServer(a.cfg.HTTP, api.NewRouter(handler, a.registry, a.logger), a.logger)
	serveErr := server.Run(ctx)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), runnerShutdownTimeout)
	defer stop()
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop", "err", err)
		}
	}
	runnerErr := a.runner.Shutdown(shutdownCtx)
	wg.Wait()

	return errors.Join(serveErr, runnerErr)
}

// ScrapeOnce runs a scrape synchronously, logging into a fresh session.
func (a *Application) ScrapeOnce(ctx context.Context, codes []string) (domain.ScrapeRun, error) {
	sites, err := a.scrape.Plan(ctx, codes)
	if err != nil {
		return domain.ScrapeRun{}, err
	}
	id, err := a.sessions.Create(ctx, domain.SessionScrape)
	if err != nil {
		return domain.ScrapeRun{}, fmt.Errorf("create session: %w", err)
	}
	return a.scrape.Execute(ctx, id, sites, nil), nil
}

// EnrichOnce runs one enrichment batch synchronously behind the credit
// gate. A denial returns the gate's decision wrapped in
// usecase.ErrInsufficientCredits.
func (a *Application) EnrichOnce(ctx context.Context) (domain.EnrichmentRun, error) {
	decision := a.gate.CanAdmit(ctx, domain.OperationBatch)
	if !decision.Can {
		return domain.EnrichmentRun{}, fmt.Errorf("%w: %s", usecase.ErrInsufficientCredits, decision.Reason)
	}
	id, err := a.sessions.Create(ctx, domain.SessionEnrich)
	if err != nil {
		return domain.EnrichmentRun{}, fmt.Errorf("create session: %w", err)
	}
	return a.enrich.RunBatch(ctx, id, nil)
}

// Credits reports the current admission picture.
func (a *Application) Credits(ctx context.Context) domain.CreditStatus {
	return a.gate.Status(ctx)
}

// Sources lists the active sites.
func (a *Application) Sources() []domain.SourceSite {
	return a.sources.All()
}

// Sessions exposes the session log store.
func (a *Application) Sessions() sessionlog.Store {
	return a.sessions
}

// Close releases database and Redis connections.
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", "err", err)
		}
	}
	a.closers = nil
}
