// Package storage is the local checkpoint store: extracted and analyzed
// content records, per-stage retry queues, and run history, all in one
// SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edupipe/edupipe/internal/content"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "edupipe.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that have not run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		script, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(script)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// --- Content records ---

// SaveContentRecord inserts or replaces a record. The embedding is kept
// in its own column as a packed float32 blob so similarity search does
// not parse record JSON per row.
func (s *Store) SaveContentRecord(rec *content.Record) error {
	stripped := *rec
	stripped.Embedding = nil
	body, err := json.Marshal(&stripped)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}

	var blob []byte
	if len(rec.Embedding) > 0 {
		blob = encodeVector(rec.Embedding)
	}

	_, err = s.db.Exec(`
		INSERT INTO content_records (id, subject, content_type, low_content, analyzed, upserted, record_json, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			content_type = excluded.content_type,
			low_content = excluded.low_content,
			analyzed = excluded.analyzed,
			record_json = excluded.record_json,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Subject, string(rec.ContentType), boolInt(rec.LowContent), boolInt(rec.Analyzed()),
		string(body), blob,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetContentRecord(id string) (*content.Record, error) {
	var body string
	var blob []byte
	err := s.db.QueryRow(`SELECT record_json, embedding FROM content_records WHERE id = ?`, id).Scan(&body, &blob)
	if err == sql.ErrNoRows {
		return nil, content.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(body, blob)
}

// HasContentRecord reports whether a record exists locally. The extract
// stage uses it to skip resources already checkpointed.
func (s *Store) HasContentRecord(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM content_records WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListUnanalyzed returns records awaiting analysis, oldest first.
// limit <= 0 means no limit.
func (s *Store) ListUnanalyzed(limit int) ([]*content.Record, error) {
	return s.listRecords(`analyzed = 0`, limit)
}

// ListForUpsert returns analyzed records not yet confirmed in the
// external index, oldest first. limit <= 0 means no limit.
func (s *Store) ListForUpsert(limit int) ([]*content.Record, error) {
	return s.listRecords(`analyzed = 1 AND upserted = 0`, limit)
}

// ListBySubject returns every record for one subject.
func (s *Store) ListBySubject(subject string) ([]*content.Record, error) {
	rows, err := s.db.Query(`
		SELECT record_json, embedding FROM content_records
		WHERE subject = ? ORDER BY created_at ASC`, subject)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) listRecords(where string, limit int) ([]*content.Record, error) {
	query := `SELECT record_json, embedding FROM content_records WHERE ` + where + ` ORDER BY created_at ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*content.Record, error) {
	defer rows.Close()
	var out []*content.Record
	for rows.Next() {
		var body string
		var blob []byte
		if err := rows.Scan(&body, &blob); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body, blob)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeRecord(body string, blob []byte) (*content.Record, error) {
	var rec content.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if len(blob) > 0 {
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", rec.ID, err)
		}
		rec.Embedding = vec
	}
	return &rec, nil
}

// MarkUpserted flags records as confirmed in the external index.
func (s *Store) MarkUpserted(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `UPDATE content_records SET upserted = 1 WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	_, err := s.db.Exec(query, args...)
	return err
}

// ContentStats returns aggregate counts over the local store.
func (s *Store) ContentStats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(low_content), 0),
			COALESCE(SUM(analyzed), 0),
			COALESCE(SUM(upserted), 0),
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM content_records`,
	).Scan(&st.Total, &st.LowContent, &st.Analyzed, &st.Upserted, &st.Embedded)
	if err != nil {
		return st, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM skipped_resources`).Scan(&st.Skipped)
	return st, err
}

// --- Skipped resources ---

// MarkSkipped records a resource whose fetch failed permanently (404,
// content removed). Skipped resources are never re-fetched automatically;
// re-marking refreshes the reason.
func (s *Store) MarkSkipped(recordID, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO skipped_resources (record_id, reason, skipped_at)
		VALUES (?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			reason = excluded.reason,
			skipped_at = excluded.skipped_at`,
		recordID, reason, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// SkippedSet returns the ids of permanently skipped resources.
func (s *Store) SkippedSet() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT record_id FROM skipped_resources`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

// ClearSkipped removes a resource from the skip list so the next extract
// run picks it up again. Used for manual re-extraction.
func (s *Store) ClearSkipped(recordID string) error {
	_, err := s.db.Exec(`DELETE FROM skipped_resources WHERE record_id = ?`, recordID)
	return err
}

// --- Retry queue ---

// MarkForRetry queues a record for the next invocation of a stage.
// Re-marking an already queued record refreshes its reason.
func (s *Store) MarkForRetry(stage, recordID, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO retry_queue (stage, record_id, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(stage, record_id) DO UPDATE SET
			reason = excluded.reason,
			created_at = excluded.created_at`,
		stage, recordID, reason, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// RetryQueue returns the queued items for one stage, oldest first.
func (s *Store) RetryQueue(stage string) ([]RetryItem, error) {
	rows, err := s.db.Query(`
		SELECT stage, record_id, reason, created_at FROM retry_queue
		WHERE stage = ? ORDER BY created_at ASC`, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RetryItem
	for rows.Next() {
		var item RetryItem
		var createdAt string
		if err := rows.Scan(&item.Stage, &item.RecordID, &item.Reason, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		item.CreatedAt = t
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClearRetry removes a record from a stage's retry queue, typically
// after the retry succeeded.
func (s *Store) ClearRetry(stage, recordID string) error {
	_, err := s.db.Exec(`DELETE FROM retry_queue WHERE stage = ? AND record_id = ?`, stage, recordID)
	return err
}

// --- Runs ---

func (s *Store) StartRun(run Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, step, status, started_at, summary_json)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Step, RunRunning, run.StartedAt.UTC().Format(time.RFC3339), string(summary),
	)
	return err
}

func (s *Store) FinishRun(id, status string, summary RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, summary_json = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), string(body), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(id string) (Run, error) {
	row := s.db.QueryRow(`
		SELECT id, step, status, started_at, finished_at, summary_json
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, content.ErrNotFound
	}
	return run, err
}

func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, step, status, started_at, finished_at, summary_json
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var startedAt, summary string
	var finishedAt sql.NullString
	if err := row.Scan(&run.ID, &run.Step, &run.Status, &startedAt, &finishedAt, &summary); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing started_at: %w", err)
	}
	run.StartedAt = t
	if finishedAt.Valid && finishedAt.String != "" {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parsing finished_at: %w", err)
		}
		run.FinishedAt = t
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return Run{}, fmt.Errorf("decoding run summary: %w", err)
	}
	return run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
