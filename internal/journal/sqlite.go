package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/czpavel/visionfeed/internal/models"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
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
		file_action_applied INTEGER NOT NULL,
		file_action_target TEXT,
		json_context_path TEXT,
		processed_image_path TEXT,
		error TEXT,
		created_at REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
`

// SQLite keeps a local history of task records for a single-operator
// machine. Pure-Go driver, no cgo.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and initializes) the history database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record inserts one task record.
func (s *SQLite) Record(rec models.TaskRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO results
		(id, run_id, timestamp, filename, data, source_kind, status, latency_ms,
		 ok_nok, eval_status, complete_time_ms, detected_count,
		 file_action_operation, file_action_applied, file_action_target,
		 json_context_path, processed_image_path, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.RunID, rec.Timestamp, rec.Filename, rec.Data,
		string(rec.SourceKind), rec.Status, rec.LatencyMS,
		rec.OKNOK, string(rec.EvalStatus), rec.CompleteTimeMS, rec.DetectedCount,
		rec.FileActionOperation, boolToInt(rec.FileActionApplied), rec.FileActionTarget,
		rec.JSONContextPath, rec.ProcessedImagePath, rec.Error,
		float64(time.Now().UnixNano())/1e9,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// CountForRun returns how many records a run produced.
func (s *SQLite) CountForRun(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM results WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
