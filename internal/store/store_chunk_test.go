package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestReplaceDocumentChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, Dimensions: 2}
	chunks := []ChunkRecord{
		{DocumentID: "doc-1", SequenceIndex: 0, Text: "intro text", TokenCount: 2, CourseID: "cs101", Vector: []float32{0.1, 0.2}},
		{DocumentID: "doc-1", SequenceIndex: 1, Text: "body text", TokenCount: 2, CourseID: "cs101", Vector: []float32{0.3, 0.4}},
	}

	mock.ExpectBegin()

	deleteQuery := regexp.QuoteMeta(`DELETE FROM chunks WHERE document_id=$1`)
	mock.ExpectExec(deleteQuery).WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 2))

	insertQuery := regexp.QuoteMeta(`
INSERT INTO chunks (document_id, sequence_index, text, token_count, course_id, embedding)
VALUES ($1,$2,$3,$4,$5,$6::vector)
ON CONFLICT (document_id, sequence_index) DO UPDATE SET
  text = EXCLUDED.text,
  token_count = EXCLUDED.token_count,
  course_id = EXCLUDED.course_id,
  embedding = EXCLUDED.embedding;
`)
	prep := mock.ExpectPrepare(insertQuery)
	prep.ExpectExec().
		WithArgs("doc-1", 0, "intro text", 2, "cs101", "[0.1,0.2]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("doc-1", 1, "body text", 2, "cs101", "[0.3,0.4]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	if err := st.ReplaceDocumentChunks(context.Background(), "doc-1", chunks); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceDocumentChunksDimensionMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, Dimensions: 3}
	chunks := []ChunkRecord{
		{DocumentID: "doc-1", SequenceIndex: 0, Text: "intro", TokenCount: 1, Vector: []float32{0.1, 0.2}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chunks WHERE document_id=$1`)).
		WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(regexp.QuoteMeta(`
INSERT INTO chunks (document_id, sequence_index, text, token_count, course_id, embedding)
VALUES ($1,$2,$3,$4,$5,$6::vector)
ON CONFLICT (document_id, sequence_index) DO UPDATE SET
  text = EXCLUDED.text,
  token_count = EXCLUDED.token_count,
  course_id = EXCLUDED.course_id,
  embedding = EXCLUDED.embedding;
`))
	mock.ExpectRollback()

	err = st.ReplaceDocumentChunks(context.Background(), "doc-1", chunks)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, Dimensions: 2}
	query := regexp.QuoteMeta(`
SELECT document_id, sequence_index, text, course_id, embedding <=> $1::vector AS distance
FROM chunks
WHERE ($2 = '' OR course_id = $2)
ORDER BY embedding <=> $1::vector, sequence_index, document_id
LIMIT $3
`)
	rows := sqlmock.NewRows([]string{"document_id", "sequence_index", "text", "course_id", "distance"}).
		AddRow("doc-1", 0, "relevant passage", "cs101", 0.10).
		AddRow("doc-2", 3, "weakly related passage", "cs101", 0.90)
	mock.ExpectQuery(query).
		WithArgs("[0.1,0.2]", "cs101", 5).
		WillReturnRows(rows)

	results, err := st.SearchChunks(context.Background(), "cs101", []float32{0.1, 0.2}, 5, 0.25)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result above threshold, got %d", len(results))
	}
	if results[0].DocumentID != "doc-1" || results[0].Score != 0.90 {
		t.Fatalf("unexpected result: %+v", results[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchChunksRejectsWrongDimensions(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db, Dimensions: 4}
	_, err = st.SearchChunks(context.Background(), "", []float32{0.1}, 5, 0)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpsertDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO documents (source_path, title, course_id, content_hash, ingested_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (source_path) DO UPDATE SET
  title = EXCLUDED.title,
  course_id = EXCLUDED.course_id,
  content_hash = EXCLUDED.content_hash,
  ingested_at = NOW()
RETURNING id, ingested_at
`)
	mock.ExpectQuery(query).
		WithArgs("course/week1.pdf", "Week 1", "cs101", "abc123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ingested_at"}).AddRow("doc-1", time.Now()))

	rec, err := st.UpsertDocument(context.Background(), DocumentRecord{
		SourcePath:  "course/week1.pdf",
		Title:       "Week 1",
		CourseID:    "cs101",
		ContentHash: "abc123",
	})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if rec.ID != "doc-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
