package margin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/execution"
	"github.com/quantwell/optioncore/backend/logging"
)

// AuditRecord is one margin-estimate check, kept for post-trade review of
// what the Estimator computed at the time an order or basket was admitted.
type AuditRecord struct {
	ID        string
	AccountID string
	Requests  []execution.OrderRequest
	Margin    decimal.Decimal
	At        time.Time
}

// Sink persists AuditRecords. Schema design is out of scope; Sink is the
// seam a durable implementation plugs into, not a schema.
type Sink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// NoopSink discards every record; the default when no pool is configured.
type NoopSink struct{}

func (NoopSink) Record(ctx context.Context, rec AuditRecord) error { return nil }

// PgxSink writes AuditRecords to a pre-existing `margin_audit` table via a
// pgx connection pool. The table's DDL is the operator's concern, not this
// package's — matching the non-goal that persistence schema design is out
// of scope here.
type PgxSink struct {
	pool *pgxpool.Pool
}

// NewPgxSink wraps an already-connected pgx pool.
func NewPgxSink(pool *pgxpool.Pool) *PgxSink {
	return &PgxSink{pool: pool}
}

func (s *PgxSink) Record(ctx context.Context, rec AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO margin_audit (id, account_id, margin, recorded_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.AccountID, rec.Margin.String(), rec.At,
	)
	if err != nil {
		logging.Error("margin: audit sink write failed", err, logging.String("accountId", rec.AccountID))
	}
	return err
}
