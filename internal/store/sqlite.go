package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"saturn/internal/domain"
)

// Compile-time interface check.
var _ MetaStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	symbol       TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	is_active    INTEGER NOT NULL DEFAULT 1,
	added_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS download_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol        TEXT NOT NULL,
	data_type     TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL DEFAULT 0,
	records_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_symbol_type ON download_runs(symbol, data_type, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON download_runs(status, started_at);
`

// SQLiteStore implements MetaStore on a SQLite database. The Parquet files
// hold the data; this holds everything about the process of getting it.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the metadata database at path and
// ensures the schema exists. WAL mode keeps the status CLI readable while a
// daemon holds the write connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, IOErr("OpenSQLite", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, IOErr("OpenSQLite", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, IOErr("OpenSQLite", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Symbol registry
// ---------------------------------------------------------------------------

// AddSymbol registers a symbol, updating the display name and reactivating it
// if the symbol already exists.
func (s *SQLiteStore) AddSymbol(ctx context.Context, sym domain.Symbol) error {
	symbol := strings.ToUpper(strings.TrimSpace(sym.Symbol))
	if symbol == "" {
		return DataErr("AddSymbol", errors.New("empty symbol"))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (symbol, display_name, is_active, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			display_name = excluded.display_name,
			is_active    = excluded.is_active`,
		symbol, sym.DisplayName, boolInt(sym.IsActive), time.Now().UnixMilli())
	if err != nil {
		return IOErr("AddSymbol", err)
	}
	return nil
}

// ListSymbols returns registered symbols ordered by name.
func (s *SQLiteStore) ListSymbols(ctx context.Context, activeOnly bool) ([]domain.Symbol, error) {
	q := `SELECT symbol, display_name, is_active FROM symbols`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY symbol`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, IOErr("ListSymbols", err)
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		var sym domain.Symbol
		var active int
		if err := rows.Scan(&sym.Symbol, &sym.DisplayName, &active); err != nil {
			return nil, IOErr("ListSymbols", err)
		}
		sym.IsActive = active != 0
		out = append(out, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, IOErr("ListSymbols", err)
	}
	return out, nil
}

// SetSymbolActive toggles a symbol's active flag.
func (s *SQLiteStore) SetSymbolActive(ctx context.Context, symbol string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE symbols SET is_active = ? WHERE symbol = ?`,
		boolInt(active), strings.ToUpper(symbol))
	if err != nil {
		return IOErr("SetSymbolActive", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return IOErr("SetSymbolActive", err)
	}
	if n == 0 {
		return DataErr("SetSymbolActive", fmt.Errorf("unknown symbol %q", symbol))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Download runs
// ---------------------------------------------------------------------------

// LogRun creates a pending run record and returns it with its ID set.
func (s *SQLiteStore) LogRun(ctx context.Context, symbol, dataType string) (*domain.DownloadRun, error) {
	if dataType != domain.DataTypeSnapshot && dataType != domain.DataTypeArchive {
		return nil, DataErr("LogRun", fmt.Errorf("unknown data type %q", dataType))
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO download_runs (symbol, data_type, status, started_at)
		VALUES (?, ?, ?, ?)`,
		strings.ToUpper(symbol), dataType, string(domain.RunPending), now.UnixMilli())
	if err != nil {
		return nil, IOErr("LogRun", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, IOErr("LogRun", err)
	}
	return &domain.DownloadRun{
		ID:        id,
		Symbol:    strings.ToUpper(symbol),
		DataType:  dataType,
		Status:    domain.RunPending,
		StartedAt: now,
	}, nil
}

// UpdateRunStatus advances a run through its state machine. Transitions that
// would regress (e.g. success back to running) fail with a Data error and
// leave the row untouched.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID int64, status domain.RunStatus, recordsCount int64, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IOErr("UpdateRunStatus", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM download_runs WHERE id = ?`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return DataErr("UpdateRunStatus", fmt.Errorf("run %d not found", runID))
	}
	if err != nil {
		return IOErr("UpdateRunStatus", err)
	}

	if !domain.RunStatus(current).CanTransition(status) {
		return DataErr("UpdateRunStatus",
			fmt.Errorf("run %d: illegal transition %s -> %s", runID, current, status))
	}

	var finished int64
	if status.Terminal() {
		finished = time.Now().UTC().UnixMilli()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE download_runs
		SET status = ?, finished_at = ?, records_count = ?, error_message = ?
		WHERE id = ?`,
		string(status), finished, recordsCount, errMsg, runID)
	if err != nil {
		return IOErr("UpdateRunStatus", err)
	}
	if err := tx.Commit(); err != nil {
		return IOErr("UpdateRunStatus", err)
	}
	return nil
}

// LastRun returns the most recent run for a symbol and data type, or nil.
func (s *SQLiteStore) LastRun(ctx context.Context, symbol, dataType string) (*domain.DownloadRun, error) {
	return s.queryOneRun(ctx, `
		SELECT id, symbol, data_type, status, started_at, finished_at, records_count, error_message
		FROM download_runs
		WHERE symbol = ? AND data_type = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`,
		strings.ToUpper(symbol), dataType)
}

// LastSuccessfulRun returns the most recent successful run, or nil.
func (s *SQLiteStore) LastSuccessfulRun(ctx context.Context, symbol, dataType string) (*domain.DownloadRun, error) {
	return s.queryOneRun(ctx, `
		SELECT id, symbol, data_type, status, started_at, finished_at, records_count, error_message
		FROM download_runs
		WHERE symbol = ? AND data_type = ? AND status = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`,
		strings.ToUpper(symbol), dataType, string(domain.RunSuccess))
}

// ListRecentRuns returns runs started at or after since, newest first. An
// empty symbol matches all symbols.
func (s *SQLiteStore) ListRecentRuns(ctx context.Context, symbol string, since time.Time) ([]domain.DownloadRun, error) {
	q := `
		SELECT id, symbol, data_type, status, started_at, finished_at, records_count, error_message
		FROM download_runs
		WHERE started_at >= ?`
	args := []any{since.UnixMilli()}
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	q += ` ORDER BY started_at DESC, id DESC`
	return s.queryRuns(ctx, q, args...)
}

// StaleRunningRuns returns non-terminal runs started more than maxAge ago.
// These are typically runs orphaned by a crash and should be reconciled to
// failed on startup.
func (s *SQLiteStore) StaleRunningRuns(ctx context.Context, maxAge time.Duration) ([]domain.DownloadRun, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	return s.queryRuns(ctx, `
		SELECT id, symbol, data_type, status, started_at, finished_at, records_count, error_message
		FROM download_runs
		WHERE status IN (?, ?) AND started_at < ?
		ORDER BY started_at ASC`,
		string(domain.RunPending), string(domain.RunRunning), cutoff)
}

func (s *SQLiteStore) queryOneRun(ctx context.Context, q string, args ...any) (*domain.DownloadRun, error) {
	runs, err := s.queryRuns(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *SQLiteStore) queryRuns(ctx context.Context, q string, args ...any) ([]domain.DownloadRun, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, IOErr("queryRuns", err)
	}
	defer rows.Close()

	var out []domain.DownloadRun
	for rows.Next() {
		var r domain.DownloadRun
		var status string
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Symbol, &r.DataType, &status, &started, &finished, &r.RecordsCount, &r.ErrorMessage); err != nil {
			return nil, IOErr("queryRuns", err)
		}
		r.Status = domain.RunStatus(status)
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished != 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, IOErr("queryRuns", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
