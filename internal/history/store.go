package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"idlefarm/internal/cardfarm"
	"idlefarm/internal/config"
	"idlefarm/internal/orchestrator"
	"idlefarm/internal/steam"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

var _ orchestrator.Recorder = (*Store)(nil)

// Store is the SQLite-backed run history.
type Store struct {
	db   *sql.DB
	path string
}

// RunRecord is one persisted run.
type RunRecord struct {
	ID        string                  `json:"id"`
	Mode      orchestrator.Mode       `json:"mode"`
	Detail    string                  `json:"detail,omitempty"`
	StartedAt time.Time               `json:"started_at"`
	EndedAt   time.Time               `json:"ended_at,omitzero"`
	EndReason orchestrator.StopReason `json:"end_reason,omitempty"`
	Cards     int                     `json:"cards,omitempty"`
}

// Active reports whether the run has no recorded end.
func (r RunRecord) Active() bool {
	return r.EndedAt.IsZero()
}

// CardRecord is one completed card farm item.
type CardRecord struct {
	RunID       string        `json:"run_id"`
	AppID       steam.AppID   `json:"app_id"`
	Name        string        `json:"name,omitempty"`
	Farmed      time.Duration `json:"farmed"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Open ensures the state directory exists and opens the history database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryPath())
}

// OpenPath opens or creates the database at path.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RunStarted inserts a run row.
func (s *Store) RunStarted(ctx context.Context, run orchestrator.Run) error {
	err := s.exec(ctx,
		`INSERT INTO runs (id, mode, detail, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Mode), run.Detail, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RunEnded stamps the end of a run. Unknown run ids are reported as
// ErrRunNotFound.
func (s *Store) RunEnded(ctx context.Context, runID string, endedAt time.Time, reason orchestrator.StopReason) error {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET ended_at = ?, end_reason = ? WHERE id = ?`,
			formatTime(endedAt), string(reason), runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record run end %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// CardCompleted records a card farm item reaching zero drops.
func (s *Store) CardCompleted(ctx context.Context, runID string, item cardfarm.Item, completedAt time.Time) error {
	err := s.exec(ctx,
		`INSERT INTO card_completions (run_id, app_id, name, farmed_seconds, completed_at) VALUES (?, ?, ?, ?, ?)`,
		runID, int64(item.AppID), item.Name, int64(item.AccumulatedTime/time.Second), formatTime(completedAt),
	)
	if err != nil {
		return fmt.Errorf("record card completion: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT r.id, r.mode, r.detail, r.started_at, r.ended_at, r.end_reason,
		(SELECT COUNT(1) FROM card_completions c WHERE c.run_id = r.id)
		FROM runs r ORDER BY r.started_at DESC, r.rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunCards lists card completions of one run in completion order.
func (s *Store) RunCards(ctx context.Context, runID string) ([]CardRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT run_id, app_id, name, farmed_seconds, completed_at
		FROM card_completions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run cards: %w", err)
	}
	defer rows.Close()

	var cards []CardRecord
	for rows.Next() {
		var (
			card      CardRecord
			appID     int64
			seconds   int64
			completed string
		)
		if err := rows.Scan(&card.RunID, &appID, &card.Name, &seconds, &completed); err != nil {
			return nil, fmt.Errorf("scan card completion: %w", err)
		}
		card.AppID = steam.AppID(appID)
		card.Farmed = time.Duration(seconds) * time.Second
		card.CompletedAt = parseTime(completed)
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// CloseDangling marks runs without an end as ended by shutdown. The daemon
// calls it at startup to settle runs interrupted by a crash.
func (s *Store) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET ended_at = ?, end_reason = ? WHERE ended_at IS NULL`,
			formatTime(at), string(orchestrator.ReasonShutdown),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("close dangling runs: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run     RunRecord
		mode    string
		started string
		ended   sql.NullString
		reason  sql.NullString
	)
	if err := row.Scan(&run.ID, &mode, &run.Detail, &started, &ended, &reason, &run.Cards); err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	run.Mode = orchestrator.Mode(mode)
	run.StartedAt = parseTime(started)
	if ended.Valid {
		run.EndedAt = parseTime(ended.String)
	}
	if reason.Valid {
		run.EndReason = orchestrator.StopReason(reason.String)
	}
	return run, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
