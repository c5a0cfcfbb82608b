package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/objstreamhq/objstream/pkg/genai"
)

// ErrNotFound is returned by Get when no record has the requested ID.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("record not found: %s", e.ID)
}

// SQLiteStore implements Store using SQLite as the storage backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite-backed store. The dbPath can be a file path
// or ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables if they don't exist.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generations (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt TEXT,
		raw_text TEXT,
		object TEXT,
		error_kind TEXT,
		error_text TEXT,
		finish_reason TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		response_id TEXT,
		response_model TEXT,
		response_timestamp TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations(created_at);
	CREATE INDEX IF NOT EXISTS idx_generations_model ON generations(model);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Put stores a record. Inserting the same ID twice is a no-op.
func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("cannot store nil record")
	}

	var objectJSON sql.NullString
	if rec.Object != nil {
		b, err := json.Marshal(rec.Object)
		if err != nil {
			return fmt.Errorf("failed to marshal object: %w", err)
		}
		objectJSON = sql.NullString{String: string(b), Valid: true}
	}

	var responseTS sql.NullString
	if !rec.Response.Timestamp.IsZero() {
		responseTS = sql.NullString{String: rec.Response.Timestamp.Format(time.RFC3339Nano), Valid: true}
	}

	query := `INSERT OR IGNORE INTO generations
		(id, provider, model, prompt, raw_text, object, error_kind, error_text,
		 finish_reason, prompt_tokens, completion_tokens, total_tokens,
		 response_id, response_model, response_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Provider, rec.Model, rec.Prompt, rec.RawText, objectJSON,
		rec.ErrorKind, rec.ErrorText, string(rec.FinishReason),
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Response.ID, rec.Response.ModelID, responseTS, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

const selectColumns = `id, provider, model, prompt, raw_text, object, error_kind, error_text,
	finish_reason, prompt_tokens, completion_tokens, total_tokens,
	response_id, response_model, response_timestamp, created_at`

// Get retrieves a record by its ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM generations WHERE id = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	return rec, nil
}

// List returns the most recent records, newest first. A non-positive limit
// returns everything.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM generations ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var prompt, rawText, objectJSON, errorKind, errorText sql.NullString
	var responseID, responseModel, responseTS sql.NullString
	var finishReason, createdAt string

	err := row.Scan(&rec.ID, &rec.Provider, &rec.Model, &prompt, &rawText,
		&objectJSON, &errorKind, &errorText, &finishReason,
		&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens,
		&responseID, &responseModel, &responseTS, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.Prompt = prompt.String
	rec.RawText = rawText.String
	rec.ErrorKind = errorKind.String
	rec.ErrorText = errorText.String
	rec.FinishReason = genai.FinishReason(finishReason)
	rec.Response.ID = responseID.String
	rec.Response.ModelID = responseModel.String
	if responseTS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, responseTS.String); err == nil {
			rec.Response.Timestamp = t
		}
	}

	if objectJSON.Valid {
		if err := json.Unmarshal([]byte(objectJSON.String), &rec.Object); err != nil {
			return nil, fmt.Errorf("failed to unmarshal object: %w", err)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}

	return &rec, nil
}
