package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TenderScanner/internal/dedup"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
)

// MemoryRepository keeps tenders in process memory. It mirrors the Postgres
// adapter and backs deployments without a database as well as tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	byKey  map[string]int64
	rows   map[int64]domain.Tender
	now    func() time.Time
}

var _ ports.TenderRepository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey: map[string]int64{},
		rows:  map[int64]domain.Tender{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

// Upsert inserts or refreshes the scraped fields of the row with c's key.
func (r *MemoryRepository) Upsert(_ context.Context, c domain.CandidateRecord, report domain.ValidationReport) (domain.UpsertResult, error) {
	key := dedup.Key(c)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		t := r.rows[id]
		applyScraped(&t, c, report)
		t.UpdatedAt = now
		r.rows[id] = t
		return domain.UpsertResult{Tender: clone(t), Created: false}, nil
	}

	r.nextID++
	t := domain.Tender{
		ID:         r.nextID,
		SourceCode: c.SourceCode,
		DedupKey:   key,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyScraped(&t, c, report)
	r.rows[t.ID] = t
	r.byKey[key] = t.ID
	return domain.UpsertResult{Tender: clone(t), Created: true}, nil
}

// All lists tenders newest first.
func (r *MemoryRepository) All(_ context.Context, limit int) ([]domain.Tender, error) {
	return r.filter(func(domain.Tender) bool { return true }, true, limit), nil
}

// BySource lists tenders of one source newest first.
func (r *MemoryRepository) BySource(_ context.Context, sourceCode string, limit int) ([]domain.Tender, error) {
	return r.filter(func(t domain.Tender) bool { return t.SourceCode == sourceCode }, true, limit), nil
}

// Pending lists unprocessed tenders in creation order.
func (r *MemoryRepository) Pending(_ context.Context, limit int) ([]domain.Tender, error) {
	return r.filter(func(t domain.Tender) bool { return !t.Processed }, false, limit), nil
}

// Get returns one tender or ErrNotFound.
func (r *MemoryRepository) Get(_ context.Context, id int64) (domain.Tender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.rows[id]
	if !ok {
		return domain.Tender{}, fmt.Errorf("tender %d: %w", id, ErrNotFound)
	}
	return clone(t), nil
}

// SaveEnrichment stores the whole enrichment and marks the tender processed.
func (r *MemoryRepository) SaveEnrichment(_ context.Context, id int64, e domain.Enrichment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("tender %d: %w", id, ErrNotFound)
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = r.now()
	}
	e.SecondaryCategories = append([]string(nil), e.SecondaryCategories...)
	e.Keywords = append([]string(nil), e.Keywords...)

	t.Enrichment = &e
	t.Processed = true
	t.UpdatedAt = r.now()
	r.rows[id] = t
	return nil
}

// Count returns the number of stored tenders.
func (r *MemoryRepository) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows), nil
}

// CountPending returns the number of unprocessed tenders.
func (r *MemoryRepository) CountPending(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, t := range r.rows {
		if !t.Processed {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) filter(keep func(domain.Tender) bool, newestFirst bool, limit int) []domain.Tender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Tender, 0, len(r.rows))
	for _, t := range r.rows {
		if keep(t) {
			out = append(out, clone(t))
		}
	}

	// ids grow with creation time, so they order rows the same way.
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func applyScraped(t *domain.Tender, c domain.CandidateRecord, report domain.ValidationReport) {
	t.DetailURL = c.DetailURL
	t.TenderNumber = c.TenderNumber
	t.Object = c.Object
	t.Modality = c.Modality
	t.PublicationDate = c.PublicationDate
	t.OpeningDate = c.OpeningDate
	t.EstimatedValue = c.EstimatedValue
	t.Status = c.Status
	t.Documents = append([]string(nil), c.Documents...)
	t.Raw = make(map[string]string, len(c.Raw))
	for k, v := range c.Raw {
		t.Raw[k] = v
	}
	t.QualityScore = report.QualityScore
}

func clone(t domain.Tender) domain.Tender {
	if t.Enrichment != nil {
		e := *t.Enrichment
		t.Enrichment = &e
	}
	return t
}
