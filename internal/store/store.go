package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store wraps the Postgres connection for all assistant persistence.
type Store struct {
	DB *sql.DB

	// Dimensions is the expected embedding vector length. Vectors of a
	// different length are rejected rather than silently truncated.
	Dimensions int
}

// DefaultEmbeddingDimensions matches the pgvector column width in migrations.
const DefaultEmbeddingDimensions = 1536

const (
	// Ingestion run statuses.
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"

	// Chat message roles.
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"

	// Integrity flag severities.
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	// Integrity flag statuses.
	FlagStatusPending   = "pending"
	FlagStatusReviewed  = "reviewed"
	FlagStatusEscalated = "escalated"

	// Audit actions.
	AuditActionCreated   = "created"
	AuditActionReviewed  = "reviewed"
	AuditActionComment   = "comment"
	AuditActionEscalated = "escalated"
)

// ErrDimensionMismatch indicates an embedding vector of the wrong length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrInvalidTransition indicates a disallowed flag lifecycle transition.
var ErrInvalidTransition = errors.New("invalid flag status transition")

// ErrFlagNotFound indicates the referenced integrity flag does not exist.
var ErrFlagNotFound = errors.New("integrity flag not found")

// DocumentRecord represents an ingested course document. Immutable once
// ingested; re-ingestion of changed content replaces the chunk set.
type DocumentRecord struct {
	ID          string
	SourcePath  string
	Title       string
	CourseID    string
	ContentHash string
	IngestedAt  time.Time
}

// ChunkRecord is one embedded segment of a document, keyed by
// (document_id, sequence_index).
type ChunkRecord struct {
	DocumentID    string
	SequenceIndex int
	Text          string
	TokenCount    int
	CourseID      string
	Vector        []float32
}

// ChunkSearchResult is a similarity search hit. Score is cosine
// similarity (1 - cosine distance), higher is better.
type ChunkSearchResult struct {
	DocumentID    string
	SequenceIndex int
	Text          string
	CourseID      string
	Score         float64
}

// IngestionRunRecord tracks one pass of the ingestion pipeline.
type IngestionRunRecord struct {
	ID                 string
	StartedAt          time.Time
	CompletedAt        *time.Time
	Status             string
	DocumentsProcessed int
	MarkerWritten      bool
}

// ChatSessionRecord is one user conversation.
type ChatSessionRecord struct {
	ID          string
	UserID      string
	CourseID    string
	CreatedAt   time.Time
	LastUpdated time.Time
}

// ChatMessageRecord is one append-only conversation entry.
type ChatMessageRecord struct {
	ID           string
	SessionID    string
	Role         string
	Content      string
	FunctionName string
	FunctionArgs json.RawMessage
	CreatedAt    time.Time
}

// FlagRecord is a persisted academic-integrity flag. MessageExcerpt is
// a copy of the offending content so flags survive history clearing.
type FlagRecord struct {
	ID              string
	SourceMessageID string
	MessageExcerpt  string
	StudentID       string
	CourseID        string
	Severity        string
	Status          string
	Details         string
	CreatedAt       time.Time
}

// AuditEntryRecord is one append-only ledger entry for a flag. Entries
// are never updated or deleted.
type AuditEntryRecord struct {
	ID        int64
	FlagID    string
	Action    string
	Comment   string
	Actor     string
	CreatedAt time.Time
}

// FlagFilter constrains ListFlags queries.
type FlagFilter struct {
	Severity string
	Status   string
	CourseID string
	From     time.Time
	To       time.Time
	Limit    int
}

var (
	metricsOnce    sync.Once
	chunkCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	chunkCounter, err = meter.Int64Counter("chunks_stored_total")
	if err != nil {
		metricsInitErr = err
	}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Store{DB: db, Dimensions: dimensions}, nil
}

func (s *Store) dimensions() int {
	if s.Dimensions > 0 {
		return s.Dimensions
	}
	return DefaultEmbeddingDimensions
}

func (s *Store) checkDimensions(vec []float32) error {
	if len(vec) != s.dimensions() {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dimensions())
	}
	return nil
}

// Document operations

// GetDocumentBySourcePath fetches a document by its corpus path. The
// bool reports whether the document exists.
func (s *Store) GetDocumentBySourcePath(ctx context.Context, sourcePath string) (DocumentRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, source_path, title, course_id, content_hash, ingested_at
FROM documents
WHERE source_path=$1
`, sourcePath)
	var rec DocumentRecord
	if err := row.Scan(&rec.ID, &rec.SourcePath, &rec.Title, &rec.CourseID, &rec.ContentHash, &rec.IngestedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentRecord{}, false, nil
		}
		return DocumentRecord{}, false, err
	}
	return rec, true, nil
}

// UpsertDocument inserts or refreshes a document row keyed by source
// path, returning the stored record.
func (s *Store) UpsertDocument(ctx context.Context, rec DocumentRecord) (DocumentRecord, error) {
	if strings.TrimSpace(rec.SourcePath) == "" {
		return DocumentRecord{}, fmt.Errorf("source_path required")
	}
	if strings.TrimSpace(rec.ContentHash) == "" {
		return DocumentRecord{}, fmt.Errorf("content_hash required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (source_path, title, course_id, content_hash, ingested_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (source_path) DO UPDATE SET
  title = EXCLUDED.title,
  course_id = EXCLUDED.course_id,
  content_hash = EXCLUDED.content_hash,
  ingested_at = NOW()
RETURNING id, ingested_at
`, rec.SourcePath, rec.Title, rec.CourseID, rec.ContentHash)
	if err := row.Scan(&rec.ID, &rec.IngestedAt); err != nil {
		return DocumentRecord{}, err
	}
	return rec, nil
}

// ReplaceDocumentChunks replaces the whole chunk set of a document in
// one transaction so readers never observe interleaved stale and fresh
// chunks. Chunks for other documents are untouched.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []ChunkRecord) (err error) {
	if documentID == "" {
		return fmt.Errorf("document_id required")
	}
	metricsOnce.Do(initStoreMetrics)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (document_id, sequence_index, text, token_count, course_id, embedding)
VALUES ($1,$2,$3,$4,$5,$6::vector)
ON CONFLICT (document_id, sequence_index) DO UPDATE SET
  text = EXCLUDED.text,
  token_count = EXCLUDED.token_count,
  course_id = EXCLUDED.course_id,
  embedding = EXCLUDED.embedding;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if err = s.checkDimensions(c.Vector); err != nil {
			return fmt.Errorf("chunk %d: %w", c.SequenceIndex, err)
		}
		var lit string
		lit, err = encodeVectorLiteral(c.Vector)
		if err != nil {
			return err
		}
		if _, err = stmt.ExecContext(ctx, documentID, c.SequenceIndex, c.Text, c.TokenCount, c.CourseID, lit); err != nil {
			return err
		}
	}
	if chunkCounter != nil {
		chunkCounter.Add(ctx, int64(len(chunks)))
	}
	return nil
}

// DeleteDocumentChunks removes all chunks belonging to a document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document_id required")
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID)
	return err
}

// SearchChunks returns up to topK chunks nearest to the query vector by
// cosine distance, optionally scoped to a course. Results below the
// similarity threshold are excluded; ties break on lower sequence
// index, then lower document id, for determinism.
func (s *Store) SearchChunks(ctx context.Context, courseID string, vector []float32, topK int, threshold float64) ([]ChunkSearchResult, error) {
	if err := s.checkDimensions(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	lit, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT document_id, sequence_index, text, course_id, embedding <=> $1::vector AS distance
FROM chunks
WHERE ($2 = '' OR course_id = $2)
ORDER BY embedding <=> $1::vector, sequence_index, document_id
LIMIT $3
`, lit, courseID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkSearchResult
	for rows.Next() {
		var (
			res      ChunkSearchResult
			distance float64
		)
		if err := rows.Scan(&res.DocumentID, &res.SequenceIndex, &res.Text, &res.CourseID, &distance); err != nil {
			return nil, err
		}
		res.Score = 1 - distance
		if res.Score < threshold {
			continue
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Ingestion run operations

// CreateIngestionRun opens a new running ingestion run row.
func (s *Store) CreateIngestionRun(ctx context.Context) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO ingestion_runs (status, started_at) VALUES ($1, NOW()) RETURNING id
`, RunStatusRunning).Scan(&id)
	return id, err
}

// FinishIngestionRun closes an ingestion run with its final status.
func (s *Store) FinishIngestionRun(ctx context.Context, id, status string, documentsProcessed int, markerWritten bool) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_runs
SET status=$2, documents_processed=$3, marker_written=$4, completed_at=NOW()
WHERE id=$1
`, id, status, documentsProcessed, markerWritten)
	return err
}

// LatestIngestionRun returns the most recent ingestion run, if any.
func (s *Store) LatestIngestionRun(ctx context.Context) (IngestionRunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, started_at, completed_at, status, documents_processed, marker_written
FROM ingestion_runs
ORDER BY started_at DESC
LIMIT 1
`)
	var (
		rec       IngestionRunRecord
		completed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.StartedAt, &completed, &rec.Status, &rec.DocumentsProcessed, &rec.MarkerWritten); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IngestionRunRecord{}, false, nil
		}
		return IngestionRunRecord{}, false, err
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, true, nil
}

// Chat session and message operations

// EnsureChatSession creates the session if it does not exist and bumps
// its last_updated timestamp either way.
func (s *Store) EnsureChatSession(ctx context.Context, id, userID, courseID string) (ChatSessionRecord, error) {
	if id == "" {
		return ChatSessionRecord{}, fmt.Errorf("session id required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_sessions (id, user_id, course_id, created_at, last_updated)
VALUES ($1,$2,$3,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET last_updated = NOW()
RETURNING id, user_id, course_id, created_at, last_updated
`, id, userID, courseID)
	var rec ChatSessionRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.CourseID, &rec.CreatedAt, &rec.LastUpdated); err != nil {
		return ChatSessionRecord{}, err
	}
	return rec, nil
}

// AppendChatMessage appends one message to a session. Messages are
// never mutated after creation.
func (s *Store) AppendChatMessage(ctx context.Context, rec ChatMessageRecord) (string, error) {
	if rec.SessionID == "" {
		return "", fmt.Errorf("session_id required")
	}
	args := defaultJSON(rec.FunctionArgs)
	var id string
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_messages (session_id, role, content, function_name, function_args, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
RETURNING id
`, rec.SessionID, rec.Role, rec.Content, nullableString(rec.FunctionName), args)
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// ListChatMessages returns the trailing limit messages of a session in
// chronological order.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, role, content, COALESCE(function_name,''), function_args, created_at
FROM chat_messages
WHERE session_id=$1
ORDER BY seq DESC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessageRecord
	for rows.Next() {
		var rec ChatMessageRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &rec.FunctionName, &rec.FunctionArgs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ClearSessionHistory deletes a session's messages. Integrity flags
// reference message content by copy and are preserved.
func (s *Store) ClearSessionHistory(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session_id required")
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id=$1`, sessionID)
	return err
}

// Integrity flag operations. Flag rows are only ever mutated through
// these methods so status changes and audit entries stay atomic.

// CreateFlag persists a new pending flag together with its first audit
// entry in one transaction.
func (s *Store) CreateFlag(ctx context.Context, rec FlagRecord, actor string) (_ FlagRecord, err error) {
	if rec.Severity == "" {
		rec.Severity = SeverityLow
	}
	rec.Status = FlagStatusPending

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return FlagRecord{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	row := tx.QueryRowContext(ctx, `
INSERT INTO integrity_flags (source_message_id, message_excerpt, student_id, course_id, severity, status, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id, created_at
`, nullableString(rec.SourceMessageID), rec.MessageExcerpt, rec.StudentID, rec.CourseID, rec.Severity, rec.Status, rec.Details)
	if err = row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return FlagRecord{}, err
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO audit_entries (flag_id, action, comment, actor, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, rec.ID, AuditActionCreated, rec.Details, actor); err != nil {
		return FlagRecord{}, err
	}
	return rec, nil
}

// AddAuditEntry appends a comment-style entry to a flag's ledger.
func (s *Store) AddAuditEntry(ctx context.Context, flagID, action, comment, actor string) (AuditEntryRecord, error) {
	if flagID == "" {
		return AuditEntryRecord{}, fmt.Errorf("flag_id required")
	}
	rec := AuditEntryRecord{FlagID: flagID, Action: action, Comment: comment, Actor: actor}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO audit_entries (flag_id, action, comment, actor, created_at)
VALUES ($1,$2,$3,$4,NOW())
RETURNING id, created_at
`, flagID, action, comment, actor)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return AuditEntryRecord{}, err
	}
	return rec, nil
}

// MarkFlagReviewed transitions a pending flag to reviewed and appends
// the matching audit entry atomically. Any other starting status fails
// with ErrInvalidTransition.
func (s *Store) MarkFlagReviewed(ctx context.Context, flagID, actor, comment string) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var status string
	if err = tx.QueryRowContext(ctx, `SELECT status FROM integrity_flags WHERE id=$1 FOR UPDATE`, flagID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrFlagNotFound
		}
		return err
	}
	if status != FlagStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, FlagStatusReviewed)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE integrity_flags SET status=$2 WHERE id=$1`, flagID, FlagStatusReviewed); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_entries (flag_id, action, comment, actor, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, flagID, AuditActionReviewed, comment, actor)
	return err
}

// EscalateFlag transitions a flag to escalated, optionally raising its
// severity, and appends the escalation audit entry in the same
// transaction so neither is ever observable without the other.
func (s *Store) EscalateFlag(ctx context.Context, flagID, level, reason, actor string) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var status string
	if err = tx.QueryRowContext(ctx, `SELECT status FROM integrity_flags WHERE id=$1 FOR UPDATE`, flagID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrFlagNotFound
		}
		return err
	}
	if status == FlagStatusEscalated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, FlagStatusEscalated)
	}
	if level != "" {
		if _, err = tx.ExecContext(ctx, `UPDATE integrity_flags SET status=$2, severity=$3 WHERE id=$1`, flagID, FlagStatusEscalated, level); err != nil {
			return err
		}
	} else {
		if _, err = tx.ExecContext(ctx, `UPDATE integrity_flags SET status=$2 WHERE id=$1`, flagID, FlagStatusEscalated); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_entries (flag_id, action, comment, actor, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, flagID, AuditActionEscalated, reason, actor)
	return err
}

// GetFlag fetches one flag by id. The bool reports existence.
func (s *Store) GetFlag(ctx context.Context, id string) (FlagRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, COALESCE(source_message_id::text,''), message_excerpt, student_id, course_id, severity, status, details, created_at
FROM integrity_flags
WHERE id=$1
`, id)
	var rec FlagRecord
	if err := row.Scan(&rec.ID, &rec.SourceMessageID, &rec.MessageExcerpt, &rec.StudentID, &rec.CourseID, &rec.Severity, &rec.Status, &rec.Details, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FlagRecord{}, false, nil
		}
		return FlagRecord{}, false, err
	}
	return rec, true, nil
}

// ListFlags returns flags filtered by the provided criteria, newest first.
func (s *Store) ListFlags(ctx context.Context, filter FlagFilter) ([]FlagRecord, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = %s", arg(filter.Severity)))
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = %s", arg(filter.Status)))
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = %s", arg(filter.CourseID)))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= %s", arg(filter.From)))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at <= %s", arg(filter.To)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, COALESCE(source_message_id::text,''), message_excerpt, student_id, course_id, severity, status, details, created_at
FROM integrity_flags
WHERE %s
ORDER BY created_at DESC
LIMIT %d
`, strings.Join(conditions, " AND "), limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FlagRecord
	for rows.Next() {
		var rec FlagRecord
		if err := rows.Scan(&rec.ID, &rec.SourceMessageID, &rec.MessageExcerpt, &rec.StudentID, &rec.CourseID, &rec.Severity, &rec.Status, &rec.Details, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAuditEntries returns a flag's full ledger in chronological order.
func (s *Store) ListAuditEntries(ctx context.Context, flagID string) ([]AuditEntryRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, flag_id, action, comment, actor, created_at
FROM audit_entries
WHERE flag_id=$1
ORDER BY id
`, flagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntryRecord
	for rows.Next() {
		var rec AuditEntryRecord
		if err := rows.Scan(&rec.ID, &rec.FlagID, &rec.Action, &rec.Comment, &rec.Actor, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// helpers

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func defaultJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
