package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/event"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/pkg/config"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateTableName guards the identifiers interpolated into DDL and DML.
func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("table name %q exceeds 63 characters", name)
	}
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

var pgColumns = []string{"event_id", "ts", "classification", "reason", "action", "payload"}

// maxInsertRows keeps a multi-row INSERT under the 65535 bind parameter limit.
var maxInsertRows = 65535 / len(pgColumns)

// PGSink batches events and writes them with COPY, or multi-row INSERT when
// COPY is disabled.
type PGSink struct {
	cfg     config.PGSinkConfig
	db      *sql.DB
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	batch []event.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPGSink fills unset batch settings with defaults. m may be nil.
func NewPGSink(cfg config.PGSinkConfig, logger *zap.Logger, m *metrics.Metrics) *PGSink {
	if cfg.Table == "" {
		cfg.Table = "cloak_events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushMS <= 0 {
		cfg.FlushMS = 1000
	}
	if !cfg.UseCopy && cfg.BatchSize > maxInsertRows {
		cfg.BatchSize = maxInsertRows
	}
	return &PGSink{
		cfg:     cfg,
		logger:  logger.Named("postgres"),
		metrics: m,
		batch:   make([]event.Event, 0, cfg.BatchSize),
	}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.cfg.Table); err != nil {
		return err
	}
	if s.cfg.DSN == "" {
		return fmt.Errorf("postgres sink: PG_DSN is required")
	}

	db, err := sql.Open("postgres", s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.ensureSchema(); err != nil {
		s.cancel()
		_ = db.Close()
		return err
	}

	s.done = make(chan struct{})
	go s.flushRoutine()

	s.logger.Info("sink started",
		zap.String("table", s.cfg.Table),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Bool("copy", s.cfg.UseCopy))
	return nil
}

func (s *PGSink) ensureSchema() error {
	t := s.cfg.Table
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	classification TEXT NOT NULL,
	reason TEXT,
	action TEXT NOT NULL,
	payload JSONB NOT NULL
)`, t)
	if _, err := s.db.ExecContext(s.ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)", t, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (payload)", t, t),
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(s.ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Enqueue adds e to the pending batch and writes it once BatchSize is
// reached. A full batch that fails to write is dropped, so the batch never
// grows past BatchSize while the database is down.
func (s *PGSink) Enqueue(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, e)
	if len(s.batch) < s.cfg.BatchSize {
		return nil
	}
	if err := s.flushBatch(); err != nil {
		dropped := len(s.batch)
		s.batch = s.batch[:0]
		if s.metrics != nil {
			s.metrics.IncrementSinkErrors(s.Name(), "batch_dropped")
		}
		s.logger.Warn("batch dropped", zap.Error(err), zap.Int("dropped", dropped))
		return fmt.Errorf("dropped %d events: %w", dropped, err)
	}
	return nil
}

func (s *PGSink) flushRoutine() {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.cfg.FlushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if err := s.flushBatch(); err != nil {
				s.logger.Warn("periodic flush failed", zap.Error(err), zap.Int("pending", len(s.batch)))
			}
			s.mu.Unlock()
		}
	}
}

// flushBatch writes the pending batch. Callers hold mu. The batch is kept
// on failure; the ticker retries a partial batch, Enqueue drops a full one.
func (s *PGSink) flushBatch() error {
	if len(s.batch) == 0 {
		return nil
	}
	start := time.Now()

	var err error
	if s.cfg.UseCopy {
		err = s.flushWithCopy()
	} else {
		err = s.flushWithInsert()
	}
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveBatchFlushLatency(s.Name(), time.Since(start))
	}
	s.batch = s.batch[:0]
	return nil
}

func (s *PGSink) flushWithInsert() error {
	if len(s.batch) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.cfg.Table, strings.Join(pgColumns, ", "))

	args := make([]any, 0, len(s.batch)*len(pgColumns))
	for i, e := range s.batch {
		row, err := eventRow(e)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}

	if _, err := s.db.ExecContext(s.ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *PGSink) flushWithCopy() error {
	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(s.ctx, pq.CopyIn(s.cfg.Table, pgColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, e := range s.batch {
		row, err := eventRow(e)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(s.ctx, row...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to copy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(s.ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func eventRow(e event.Event) ([]any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", e.EventID, err)
	}
	ts := e.TS
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return []any{
		e.EventID,
		ts,
		string(e.Decision.Classification),
		e.Decision.Reason,
		string(e.Decision.Action),
		string(payload),
	}, nil
}

// Close stops the flush loop, writes what is pending and closes the pool.
func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.db == nil {
		return nil
	}

	s.mu.Lock()
	// the flush loop's context is gone; use a fresh one for the final write
	s.ctx = context.Background()
	flushErr := s.flushBatch()
	s.mu.Unlock()
	if flushErr != nil {
		s.logger.Error("final flush failed", zap.Error(flushErr), zap.Int("dropped", len(s.batch)))
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return flushErr
}
