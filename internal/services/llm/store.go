package llm

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the cache database was created by a different
// schema version. Delete the file to rebuild it.
var ErrSchemaMismatch = errors.New("call cache schema version mismatch")

// Bucket separates cacheable successes from postmortem failures.
type Bucket string

const (
	BucketSuccess Bucket = "success"
	BucketError   Bucket = "error"
)

// CacheKey identifies a cacheable call.
type CacheKey struct {
	Model        string
	PromptHash   string
	ResponseType string
}

// NewCacheKey hashes prompt and builds the lookup key.
func NewCacheKey(model, prompt, responseType string) CacheKey {
	return CacheKey{Model: model, PromptHash: HashPrompt(prompt), ResponseType: responseType}
}

func (k CacheKey) String() string {
	return k.Model + "|" + k.ResponseType + "|" + k.PromptHash
}

// HashPrompt returns the hex SHA-256 of prompt.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// CallRecord is one recorded attempt.
type CallRecord struct {
	ID           int64
	Bucket       Bucket
	LogTitle     string
	Model        string
	PromptHash   string
	Prompt       string
	ResponseType string
	Attempt      int
	Raw          string
	Parsed       string
	Message      string
	CreatedAt    time.Time
}

// Store persists call records. Lookup only consults the success bucket.
type Store interface {
	Lookup(ctx context.Context, key CacheKey) (CallRecord, bool, error)
	Save(ctx context.Context, record CallRecord) error
}

// SQLiteStore keeps call records in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// OpenStore opens (creating if needed) the call cache at path.
func OpenStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure call cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create call cache schema: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has v%d, expected v%d (remove %s)", ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Lookup returns the newest success record for key.
func (s *SQLiteStore) Lookup(ctx context.Context, key CacheKey) (CallRecord, bool, error) {
	var (
		rec       CallRecord
		createdAt string
		raw       sql.NullString
		parsed    sql.NullString
		message   sql.NullString
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, bucket, log_title, model, prompt_hash, prompt, response_type, attempt, raw, parsed, message, created_at
			FROM call_records
			WHERE bucket = ? AND model = ? AND prompt_hash = ? AND response_type = ?
			ORDER BY id DESC LIMIT 1`,
			string(BucketSuccess), key.Model, key.PromptHash, key.ResponseType,
		).Scan(&rec.ID, &rec.Bucket, &rec.LogTitle, &rec.Model, &rec.PromptHash, &rec.Prompt,
			&rec.ResponseType, &rec.Attempt, &raw, &parsed, &message, &createdAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, false, nil
	}
	if err != nil {
		return CallRecord{}, false, fmt.Errorf("lookup call record: %w", err)
	}
	rec.Raw = raw.String
	rec.Parsed = parsed.String
	rec.Message = message.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return rec, true, nil
}

// Save appends a record.
func (s *SQLiteStore) Save(ctx context.Context, record CallRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.PromptHash == "" {
		record.PromptHash = HashPrompt(record.Prompt)
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO call_records (bucket, log_title, model, prompt_hash, prompt, response_type, attempt, raw, parsed, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(record.Bucket), record.LogTitle, record.Model, record.PromptHash, record.Prompt,
			record.ResponseType, record.Attempt, nullableString(record.Raw), nullableString(record.Parsed),
			nullableString(record.Message), record.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	return nil
}

// Records lists records for a log title in insertion order. An empty title
// lists every record in bucket.
func (s *SQLiteStore) Records(ctx context.Context, bucket Bucket, logTitle string) ([]CallRecord, error) {
	query := `SELECT id, bucket, log_title, model, prompt_hash, prompt, response_type, attempt,
		COALESCE(raw, ''), COALESCE(parsed, ''), COALESCE(message, ''), created_at
		FROM call_records WHERE bucket = ?`
	args := []any{string(bucket)}
	if logTitle != "" {
		query += " AND log_title = ?"
		args = append(args, logTitle)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Bucket, &rec.LogTitle, &rec.Model, &rec.PromptHash, &rec.Prompt,
			&rec.ResponseType, &rec.Attempt, &rec.Raw, &rec.Parsed, &rec.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MemoryStore is an in-process Store for tests and cache-less wiring.
type MemoryStore struct {
	mu      sync.Mutex
	records []CallRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Lookup(_ context.Context, key CacheKey) (CallRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if rec.Bucket == BucketSuccess && rec.Model == key.Model && rec.PromptHash == key.PromptHash && rec.ResponseType == key.ResponseType {
			return rec, true, nil
		}
	}
	return CallRecord{}, false, nil
}

func (m *MemoryStore) Save(_ context.Context, record CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.PromptHash == "" {
		record.PromptHash = HashPrompt(record.Prompt)
	}
	record.ID = int64(len(m.records) + 1)
	m.records = append(m.records, record)
	return nil
}

// Records returns a copy of every record saved so far.
func (m *MemoryStore) Records() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.records...)
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
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
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
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

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
