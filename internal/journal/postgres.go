package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/czpavel/visionfeed/internal/models"
)

// Postgres mirrors task records into a shared database, for setups where
// several inspection stations report into one place.
type Postgres struct {
	pool       *pgxpool.Pool
	knownRunID string
}

// NewPostgres connects and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Record inserts one task record, registering the run on first sight.
func (p *Postgres) Record(rec models.TaskRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.knownRunID != rec.RunID {
		if _, err := p.pool.Exec(ctx,
			`INSERT INTO runs (id, started_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			rec.RunID, time.Now()); err != nil {
			return fmt.Errorf("failed to register run: %w", err)
		}
		p.knownRunID = rec.RunID
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO results
		(id, run_id, ts, filename, data, source_kind, status, latency_ms,
		 ok_nok, eval_status, complete_time_ms, detected_count,
		 file_action_operation, file_action_applied, file_action_target,
		 json_context_path, processed_image_path, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		rec.TaskID, rec.RunID, rec.Timestamp, rec.Filename, rec.Data,
		string(rec.SourceKind), rec.Status, rec.LatencyMS,
		rec.OKNOK, string(rec.EvalStatus), rec.CompleteTimeMS, rec.DetectedCount,
		rec.FileActionOperation, rec.FileActionApplied, rec.FileActionTarget,
		rec.JSONContextPath, rec.ProcessedImagePath, rec.Error, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// InitPostgresSchema creates the runs/results tables if they do not exist.
func InitPostgresSchema(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS results (
			id UUID PRIMARY KEY,
			run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
			ts TEXT NOT NULL,
			filename TEXT NOT NULL,
			data TEXT NOT NULL,
			source_kind TEXT NOT NULL,
			status TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			ok_nok TEXT,
			eval_status TEXT NOT NULL,
			complete_time_ms INTEGER NOT NULL,
			detected_count INTEGER NOT NULL,
			file_action_operation TEXT NOT NULL,
			file_action_applied BOOLEAN NOT NULL,
			file_action_target TEXT,
			json_context_path TEXT,
			processed_image_path TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}
