// Package credit guards the metered classifier: enrichment only starts when
// the remaining balance covers the reserve of the requested operation.
package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/metrics"
	"TenderScanner/internal/ports"
)

var (
	// ErrJobNotFound is returned when removing an unknown waiting job.
	ErrJobNotFound = errors.New("waiting job not found")
	// ErrInvalidOperation is returned for operation types other than batch and single.
	ErrInvalidOperation = errors.New("invalid operation type")
)

// Thresholds are the minimum balances per operation type.
type Thresholds struct {
	Batch  float64
	Single float64
}

// Decision is the outcome of an admission check.
type Decision struct {
	Can     bool    `json:"can"`
	Reason  string  `json:"reason"`
	Balance float64 `json:"balance"`
}

// Gate decides admission and owns the waiting-job queue.
type Gate struct {
	balance    ports.BalanceProvider
	thresholds Thresholds
	notifier   ports.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	queue []domain.WaitingJob
}

// NewGate builds a gate; notifier and m may be nil.
func NewGate(balance ports.BalanceProvider, thresholds Thresholds, notifier ports.Notifier, m *metrics.Metrics, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		balance:    balance,
		thresholds: thresholds,
		notifier:   notifier,
		metrics:    m,
		logger:     log.With("component", "credit"),
		now:        time.Now,
	}
}

func (g *Gate) threshold(op domain.OperationType) float64 {
	if op == domain.OperationBatch {
		return g.thresholds.Batch
	}
	return g.thresholds.Single
}

// Status reads the balance once and evaluates both operation types. A
// failed lookup denies both.
func (g *Gate) Status(ctx context.Context) domain.CreditStatus {
	status := domain.CreditStatus{
		BatchThreshold:  g.thresholds.Batch,
		SingleThreshold: g.thresholds.Single,
	}

	balance, err := g.balance.Balance(ctx)
	if err != nil {
		status.Reason = "balance unavailable: " + err.Error()
		return status
	}
	g.metrics.Balance(balance)

	status.Balance = balance
	status.CanProcessBatch = balance >= g.thresholds.Batch
	status.CanProcessSingle = balance >= g.thresholds.Single

	switch {
	case status.CanProcessBatch:
		status.Reason = fmt.Sprintf("balance %.2f covers batch and single operations", balance)
	case status.CanProcessSingle:
		status.Reason = fmt.Sprintf("balance %.2f below batch threshold %.2f; single operations only", balance, g.thresholds.Batch)
	default:
		status.Reason = fmt.Sprintf("insufficient credits: balance %.2f below single threshold %.2f", balance, g.thresholds.Single)
	}
	return status
}

// CanAdmit checks whether op may run now. Lookup failures deny.
func (g *Gate) CanAdmit(ctx context.Context, op domain.OperationType) Decision {
	if !op.Valid() {
		return Decision{Reason: fmt.Sprintf("%s: %q", ErrInvalidOperation, op)}
	}

	balance, err := g.balance.Balance(ctx)
	if err != nil {
		return Decision{Reason: "balance unavailable: " + err.Error()}
	}
	g.metrics.Balance(balance)

	limit := g.threshold(op)
	if balance < limit {
		return Decision{
			Balance: balance,
			Reason:  fmt.Sprintf("insufficient credits: balance %.2f below %s threshold %.2f", balance, op, limit),
		}
	}
	return Decision{
		Can:     true,
		Balance: balance,
		Reason:  fmt.Sprintf("balance %.2f covers %s threshold %.2f", balance, op, limit),
	}
}

// Admit checks op and, when denied, parks exactly one waiting job carrying
// the denial reason.
func (g *Gate) Admit(ctx context.Context, op domain.OperationType, pending int, recordID int64) (Decision, *domain.WaitingJob, error) {
	d := g.CanAdmit(ctx, op)
	if d.Can {
		return d, nil, nil
	}

	job, err := g.Enqueue(ctx, op, pending, recordID, d.Reason)
	if err != nil {
		return d, nil, err
	}
	return d, &job, nil
}

// Enqueue appends a waiting job to the tail of the queue.
func (g *Gate) Enqueue(ctx context.Context, op domain.OperationType, pending int, recordID int64, reason string) (domain.WaitingJob, error) {
	if !op.Valid() {
		return domain.WaitingJob{}, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if pending < 0 {
		pending = 0
	}
	if reason == "" {
		reason = "queued manually"
	}

	job := domain.WaitingJob{
		ID:           uuid.NewString(),
		Type:         op,
		PendingCount: pending,
		RecordID:     recordID,
		Reason:       reason,
		CreatedAt:    g.now().UTC(),
	}

	g.mu.Lock()
	g.queue = append(g.queue, job)
	depth := len(g.queue)
	g.mu.Unlock()

	g.metrics.Waiting(depth)
	g.logger.Info("enrichment job queued", "job", job.ID, "type", op, "pending", pending, "reason", reason)
	g.alert(ctx, job)
	return job, nil
}

func (g *Gate) alert(ctx context.Context, job domain.WaitingJob) {
	if g.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Enriquecimento em espera (%s, %d pendentes): %s", job.Type, job.PendingCount, job.Reason)
	if err := g.notifier.PublishDigest(ctx, msg); err != nil {
		g.logger.Warn("credit alert failed", "job", job.ID, "err", err)
	}
}

// Jobs returns a snapshot of the queue in FIFO order.
func (g *Gate) Jobs() []domain.WaitingJob {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.WaitingJob, len(g.queue))
	copy(out, g.queue)
	return out
}

// Remove cancels a waiting job.
func (g *Gate) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, j := range g.queue {
		if j.ID == id {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			g.metrics.Waiting(len(g.queue))
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
}

// Admissible re-evaluates every waiting job in FIFO order and returns those
// the balance now covers. Jobs stay queued until the caller removes them.
func (g *Gate) Admissible(ctx context.Context) []domain.WaitingJob {
	var admitted []domain.WaitingJob
	for _, job := range g.Jobs() {
		if g.CanAdmit(ctx, job.Type).Can {
			admitted = append(admitted, job)
		}
	}
	return admitted
}
