package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"TenderScanner/internal/dedup"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
)

const tendersTable = "tenders"

// Schema bootstraps the tenders table on an empty database.
const Schema = `CREATE TABLE IF NOT EXISTS tenders (
    id                   BIGSERIAL PRIMARY KEY,
    source_code          TEXT NOT NULL,
    dedup_key            TEXT NOT NULL UNIQUE,
    detail_url           TEXT NOT NULL,
    tender_number        TEXT NOT NULL,
    object               TEXT NOT NULL,
    modality             TEXT NOT NULL,
    publication_date     TIMESTAMPTZ,
    opening_date         TIMESTAMPTZ,
    estimated_value      DOUBLE PRECISION,
    status               TEXT NOT NULL,
    documents            TEXT[] NOT NULL DEFAULT '{}',
    raw                  JSONB NOT NULL DEFAULT '{}',
    quality_score        INTEGER NOT NULL DEFAULT 0,
    processed            BOOLEAN NOT NULL DEFAULT FALSE,
    category             TEXT,
    secondary_categories TEXT[],
    enrichment_relevance DOUBLE PRECISION,
    school               TEXT,
    municipality         TEXT,
    complexity           TEXT,
    supplier_type        TEXT,
    confidence           DOUBLE PRECISION,
    summary              TEXT,
    keywords             TEXT[],
    processed_at         TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tenders_pending_idx ON tenders (created_at, id) WHERE NOT processed;
CREATE INDEX IF NOT EXISTS tenders_source_idx ON tenders (source_code);`

var tenderColumns = []string{
	"id", "source_code", "dedup_key", "detail_url", "tender_number", "object", "modality",
	"publication_date", "opening_date", "estimated_value", "status", "documents", "raw",
	"quality_score", "processed", "category", "secondary_categories", "enrichment_relevance",
	"school", "municipality", "complexity", "supplier_type", "confidence", "summary",
	"keywords", "processed_at", "created_at", "updated_at",
}

// scrapedColumns are refreshed on conflict; enrichment columns are left alone.
var scrapedColumns = []string{
	"detail_url", "tender_number", "object", "modality", "publication_date",
	"opening_date", "estimated_value", "status", "documents", "raw", "quality_score",
}

type tenderRow struct {
	ID                  int64           `db:"id"`
	SourceCode          string          `db:"source_code"`
	DedupKey            string          `db:"dedup_key"`
	DetailURL           string          `db:"detail_url"`
	TenderNumber        string          `db:"tender_number"`
	Object              string          `db:"object"`
	Modality            string          `db:"modality"`
	PublicationDate     sql.NullTime    `db:"publication_date"`
	OpeningDate         sql.NullTime    `db:"opening_date"`
	EstimatedValue      sql.NullFloat64 `db:"estimated_value"`
	Status              string          `db:"status"`
	Documents           pq.StringArray  `db:"documents"`
	Raw                 []byte          `db:"raw"`
	QualityScore        int             `db:"quality_score"`
	Processed           bool            `db:"processed"`
	Category            sql.NullString  `db:"category"`
	SecondaryCategories pq.StringArray  `db:"secondary_categories"`
	EnrichmentRelevance sql.NullFloat64 `db:"enrichment_relevance"`
	School              sql.NullString  `db:"school"`
	Municipality        sql.NullString  `db:"municipality"`
	Complexity          sql.NullString  `db:"complexity"`
	SupplierType        sql.NullString  `db:"supplier_type"`
	Confidence          sql.NullFloat64 `db:"confidence"`
	Summary             sql.NullString  `db:"summary"`
	Keywords            pq.StringArray  `db:"keywords"`
	ProcessedAt         sql.NullTime    `db:"processed_at"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

type upsertRow struct {
	tenderRow
	Inserted bool `db:"inserted"`
}

// PostgresRepository persists tenders into Postgres.
type PostgresRepository struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

var _ ports.TenderRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires an sqlx handle opened with the postgres driver.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the tenders table when it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Upsert inserts the candidate or refreshes the scraped columns of the row
// sharing its natural key.
func (r *PostgresRepository) Upsert(ctx context.Context, c domain.CandidateRecord, report domain.ValidationReport) (domain.UpsertResult, error) {
	raw, err := json.Marshal(nonNilRaw(c.Raw))
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("encode raw snapshot: %w", err)
	}

	set := make([]string, 0, len(scrapedColumns)+1)
	for _, col := range scrapedColumns {
		set = append(set, col+" = EXCLUDED."+col)
	}
	set = append(set, "updated_at = NOW()")

	query, args, err := r.sb.Insert(tendersTable).
		Columns(append([]string{"source_code", "dedup_key"}, scrapedColumns...)...).
		Values(
			c.SourceCode,
			dedup.Key(c),
			c.DetailURL,
			c.TenderNumber,
			c.Object,
			c.Modality,
			c.PublicationDate,
			c.OpeningDate,
			c.EstimatedValue,
			c.Status,
			pq.StringArray(nonNilStrings(c.Documents)),
			raw,
			report.QualityScore,
		).
		Suffix("ON CONFLICT (dedup_key) DO UPDATE SET " + strings.Join(set, ", ") +
			" RETURNING " + strings.Join(tenderColumns, ", ") + ", (xmax = 0) AS inserted").
		ToSql()
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("build upsert: %w", err)
	}

	var row upsertRow
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&row); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("upsert tender: %w", err)
	}

	return domain.UpsertResult{Tender: row.toDomain(), Created: row.Inserted}, nil
}

// All lists tenders newest first.
func (r *PostgresRepository) All(ctx context.Context, limit int) ([]domain.Tender, error) {
	q := r.sb.Select(tenderColumns...).From(tendersTable).OrderBy("created_at DESC", "id DESC")
	return r.list(ctx, limitQuery(q, limit))
}

// BySource lists tenders of one source newest first.
func (r *PostgresRepository) BySource(ctx context.Context, sourceCode string, limit int) ([]domain.Tender, error) {
	q := r.sb.Select(tenderColumns...).From(tendersTable).
		Where(sq.Eq{"source_code": sourceCode}).
		OrderBy("created_at DESC", "id DESC")
	return r.list(ctx, limitQuery(q, limit))
}

// Pending lists unprocessed tenders in creation order.
func (r *PostgresRepository) Pending(ctx context.Context, limit int) ([]domain.Tender, error) {
	q := r.sb.Select(tenderColumns...).From(tendersTable).
		Where(sq.Eq{"processed": false}).
		OrderBy("created_at", "id")
	return r.list(ctx, limitQuery(q, limit))
}

// Get returns one tender or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id int64) (domain.Tender, error) {
	query, args, err := r.sb.Select(tenderColumns...).From(tendersTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Tender{}, fmt.Errorf("build get: %w", err)
	}

	var row tenderRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tender{}, fmt.Errorf("tender %d: %w", id, ErrNotFound)
		}
		return domain.Tender{}, fmt.Errorf("get tender %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// SaveEnrichment writes every enrichment column and the processed flag in a
// single statement.
func (r *PostgresRepository) SaveEnrichment(ctx context.Context, id int64, e domain.Enrichment) error {
	processedAt := e.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	query, args, err := r.sb.Update(tendersTable).
		SetMap(map[string]interface{}{
			"category":             e.Category,
			"secondary_categories": pq.StringArray(nonNilStrings(e.SecondaryCategories)),
			"enrichment_relevance": e.RelevanceScore,
			"school":               e.School,
			"municipality":         e.Municipality,
			"complexity":           e.Complexity,
			"supplier_type":        e.SupplierType,
			"confidence":           e.Confidence,
			"summary":              e.Summary,
			"keywords":             pq.StringArray(nonNilStrings(e.Keywords)),
			"processed":            true,
			"processed_at":         processedAt,
			"updated_at":           sq.Expr("NOW()"),
		}).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build enrichment update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save enrichment %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save enrichment %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("tender %d: %w", id, ErrNotFound)
	}
	return nil
}

// Count returns the number of stored tenders.
func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, r.sb.Select("COUNT(*)").From(tendersTable))
}

// CountPending returns the number of tenders awaiting enrichment.
func (r *PostgresRepository) CountPending(ctx context.Context) (int, error) {
	return r.count(ctx, r.sb.Select("COUNT(*)").From(tendersTable).Where(sq.Eq{"processed": false}))
}

func (r *PostgresRepository) count(ctx context.Context, q sq.SelectBuilder) (int, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count tenders: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, q sq.SelectBuilder) ([]domain.Tender, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	var rows []tenderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tenders: %w", err)
	}

	out := make([]domain.Tender, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func limitQuery(q sq.SelectBuilder, limit int) sq.SelectBuilder {
	if limit > 0 {
		return q.Limit(uint64(limit))
	}
	return q
}

func (row tenderRow) toDomain() domain.Tender {
	t := domain.Tender{
		ID:           row.ID,
		SourceCode:   row.SourceCode,
		DedupKey:     row.DedupKey,
		DetailURL:    row.DetailURL,
		TenderNumber: row.TenderNumber,
		Object:       row.Object,
		Modality:     row.Modality,
		Status:       row.Status,
		Documents:    []string(row.Documents),
		QualityScore: row.QualityScore,
		Processed:    row.Processed,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.PublicationDate.Valid {
		v := row.PublicationDate.Time
		t.PublicationDate = &v
	}
	if row.OpeningDate.Valid {
		v := row.OpeningDate.Time
		t.OpeningDate = &v
	}
	if row.EstimatedValue.Valid {
		v := row.EstimatedValue.Float64
		t.EstimatedValue = &v
	}
	if len(row.Raw) > 0 {
		_ = json.Unmarshal(row.Raw, &t.Raw)
	}
	if row.Processed {
		t.Enrichment = &domain.Enrichment{
			Category:            row.Category.String,
			SecondaryCategories: []string(row.SecondaryCategories),
			RelevanceScore:      row.EnrichmentRelevance.Float64,
			School:              row.School.String,
			Municipality:        row.Municipality.String,
			Complexity:          row.Complexity.String,
			SupplierType:        row.SupplierType.String,
			Confidence:          row.Confidence.Float64,
			Summary:             row.Summary.String,
			Keywords:            []string(row.Keywords),
			ProcessedAt:         row.ProcessedAt.Time,
		}
	}
	return t
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilRaw(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}
