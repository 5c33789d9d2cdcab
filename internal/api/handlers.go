package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"TenderScanner/internal/credit"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/infrastructure/storage"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/sources"
	"TenderScanner/internal/usecase"
)

const (
	defaultLogLimit    = 200
	defaultTenderLimit = 100
)

// Dispatcher starts and stops background sessions.
type Dispatcher interface {
	StartScrape(ctx context.Context, codes []string) (string, error)
	Stop(sessionID string) bool
	StartEnrichBatch(ctx context.Context) (usecase.Launch, error)
	StartEnrichOne(ctx context.Context, tenderID int64) (usecase.Launch, error)
	RetryWaiting(ctx context.Context) ([]usecase.Launch, error)
}

// CreditDesk exposes the credit status and the waiting-job queue.
type CreditDesk interface {
	Status(ctx context.Context) domain.CreditStatus
	Jobs() []domain.WaitingJob
	Enqueue(ctx context.Context, op domain.OperationType, pending int, recordID int64, reason string) (domain.WaitingJob, error)
	Remove(id string) error
}

// SourceLister lists the configured sites.
type SourceLister interface {
	All() []domain.SourceSite
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Dispatcher Dispatcher
	Credits    CreditDesk
	Sessions   ports.SessionLog
	Tenders    ports.TenderRepository
	Sources    SourceLister
	Logger     *slog.Logger
}

// Handler serves every API route.
type Handler struct {
	dispatcher Dispatcher
	credits    CreditDesk
	sessions   ports.SessionLog
	tenders    ports.TenderRepository
	sources    SourceLister
	logger     *slog.Logger
}

// NewHandler creates the route handlers.
func NewHandler(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		dispatcher: deps.Dispatcher,
		credits:    deps.Credits,
		sessions:   deps.Sessions,
		tenders:    deps.Tenders,
		sources:    deps.Sources,
		logger:     log.With("component", "api"),
	}
}

type scrapeRequest struct {
	Sources []string `json:"sources"`
}

type enqueueRequest struct {
	Type         domain.OperationType `json:"type" binding:"required"`
	PendingCount int                  `json:"pending_count"`
	RecordID     int64                `json:"record_id"`
	Reason       string               `json:"reason"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	if err := h.tenders.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartScrape handles POST /api/v1/scrape. The body is optional; without
// sources every active site is scraped.
func (h *Handler) StartScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.dispatcher.StartScrape(c.Request.Context(), req.Sources)
	switch {
	case errors.Is(err, sources.ErrUnknownSource):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, usecase.ErrRepositoryUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"session_id": id})
}

// StopSession handles POST /api/v1/scrape/:session/stop. The request is
// always accepted; running tells whether a task was still in flight.
func (h *Handler) StopSession(c *gin.Context) {
	id := c.Param("session")
	running := h.dispatcher.Stop(id)
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "running": running})
}

// SessionLogs handles GET /api/v1/sessions/:session/logs?limit=.
func (h *Handler) SessionLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultLogLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.sessions.Entries(c.Request.Context(), c.Param("session"), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// EnrichBatch handles POST /api/v1/enrich.
func (h *Handler) EnrichBatch(c *gin.Context) {
	launch, err := h.dispatcher.StartEnrichBatch(c.Request.Context())
	h.respondLaunch(c, launch, err)
}

// EnrichOne handles POST /api/v1/enrich/:id.
func (h *Handler) EnrichOne(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	launch, err := h.dispatcher.StartEnrichOne(c.Request.Context(), id)
	h.respondLaunch(c, launch, err)
}

func (h *Handler) respondLaunch(c *gin.Context, launch usecase.Launch, err error) {
	switch {
	case errors.Is(err, usecase.ErrInsufficientCredits):
		body := gin.H{"error": err.Error()}
		if launch.Job != nil {
			body["job_id"] = launch.Job.ID
			body["reason"] = launch.Job.Reason
		}
		if launch.Decision != nil {
			body["balance"] = launch.Decision.Balance
		}
		c.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, usecase.ErrBatchInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "session_id": launch.SessionID})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"session_id": launch.SessionID})
	}
}

// Credits handles GET /api/v1/credits.
func (h *Handler) Credits(c *gin.Context) {
	c.JSON(http.StatusOK, h.credits.Status(c.Request.Context()))
}

// ListJobs handles GET /api/v1/credits/jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.credits.Jobs())
}

// EnqueueJob handles POST /api/v1/credits/jobs.
func (h *Handler) EnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.credits.Enqueue(c.Request.Context(), req.Type, req.PendingCount, req.RecordID, req.Reason)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": job.ID, "job": job})
}

// RemoveJob handles DELETE /api/v1/credits/jobs/:id.
func (h *Handler) RemoveJob(c *gin.Context) {
	if err := h.credits.Remove(c.Param("id")); err != nil {
		if errors.Is(err, credit.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// RetryJobs handles POST /api/v1/credits/jobs/retry.
func (h *Handler) RetryJobs(c *gin.Context) {
	launches, err := h.dispatcher.RetryWaiting(c.Request.Context())
	if launches == nil {
		launches = []usecase.Launch{}
	}
	body := gin.H{"started": launches, "remaining": len(h.credits.Jobs())}
	if err != nil {
		_ = c.Error(err)
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// ListTenders handles GET /api/v1/tenders?source=&pending=&limit=.
func (h *Handler) ListTenders(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultTenderLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pending, _ := strconv.ParseBool(c.Query("pending"))

	ctx := c.Request.Context()
	var tenders []domain.Tender
	switch source := c.Query("source"); {
	case pending:
		tenders, err = h.tenders.Pending(ctx, limit)
	case source != "":
		tenders, err = h.tenders.BySource(ctx, source, limit)
	default:
		tenders, err = h.tenders.All(ctx, limit)
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tenders == nil {
		tenders = []domain.Tender{}
	}
	c.JSON(http.StatusOK, tenders)
}

// GetTender handles GET /api/v1/tenders/:id.
func (h *Handler) GetTender(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := h.tenders.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// CountTenders handles GET /api/v1/tenders/count.
func (h *Handler) CountTenders(c *gin.Context) {
	ctx := c.Request.Context()
	total, err := h.tenders.Count(ctx)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, err := h.tenders.CountPending(ctx)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "pending": pending, "processed": total - pending})
}

// ListSources handles GET /api/v1/sources.
func (h *Handler) ListSources(c *gin.Context) {
	c.JSON(http.StatusOK, h.sources.All())
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + key)
	}
	return v, nil
}
