package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/chunker"
	"github.com/studiumlabs/studium/internal/store"
)

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func newTestPipeline(t *testing.T, db *sqlmock.Sqlmock, corpusDir string) (*Pipeline, *stubEmbedder) {
	t.Helper()
	ch, err := chunker.New(10, 0)
	require.NoError(t, err)
	emb := &stubEmbedder{}
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	*db = mock

	cfg := config.IngestionConfig{
		CorpusDir:  corpusDir,
		MarkerFile: filepath.Join(corpusDir, ".ingested"),
		Workers:    1,
		BatchSize:  8,
	}
	return New(&store.Store{DB: raw, Dimensions: 2}, emb, ch, cfg), emb
}

func TestRunIngestsNewDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "week1.txt"), []byte("alpha beta gamma"), 0o644))

	var mock sqlmock.Sqlmock
	p, emb := newTestPipeline(t, &mock, dir)

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO ingestion_runs (status, started_at) VALUES ($1, NOW()) RETURNING id
`)).
		WithArgs(store.RunStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, source_path, title, course_id, content_hash, ingested_at
FROM documents
WHERE source_path=$1
`)).
		WithArgs("week1.txt").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_path", "title", "course_id", "content_hash", "ingested_at"}))

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO documents (source_path, title, course_id, content_hash, ingested_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (source_path) DO UPDATE SET
  title = EXCLUDED.title,
  course_id = EXCLUDED.course_id,
  content_hash = EXCLUDED.content_hash,
  ingested_at = NOW()
RETURNING id, ingested_at
`)).
		WithArgs("week1.txt", "week1", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ingested_at"}).AddRow("doc-1", time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chunks WHERE document_id=$1`)).
		WithArgs("doc-1").WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`
INSERT INTO chunks (document_id, sequence_index, text, token_count, course_id, embedding)
VALUES ($1,$2,$3,$4,$5,$6::vector)
ON CONFLICT (document_id, sequence_index) DO UPDATE SET
  text = EXCLUDED.text,
  token_count = EXCLUDED.token_count,
  course_id = EXCLUDED.course_id,
  embedding = EXCLUDED.embedding;
`))
	prep.ExpectExec().
		WithArgs("doc-1", 0, "alpha beta gamma", 3, "", "[0.1,0.2]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE ingestion_runs
SET status=$2, documents_processed=$3, marker_written=$4, completed_at=NOW()
WHERE id=$1
`)).
		WithArgs("run-1", store.RunStatusSucceeded, 1, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	summary, err := p.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocumentsProcessed)
	assert.Equal(t, 1, summary.ChunksStored)
	assert.True(t, summary.MarkerWritten)
	assert.Equal(t, 1, emb.calls)
	assert.FileExists(t, filepath.Join(dir, ".ingested"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsUnchangedDocument(t *testing.T) {
	dir := t.TempDir()
	content := []byte("alpha beta gamma")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "week1.txt"), content, 0o644))
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	var mock sqlmock.Sqlmock
	p, emb := newTestPipeline(t, &mock, dir)

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO ingestion_runs (status, started_at) VALUES ($1, NOW()) RETURNING id
`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-2"))

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, source_path, title, course_id, content_hash, ingested_at
FROM documents
WHERE source_path=$1
`)).
		WithArgs("week1.txt").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_path", "title", "course_id", "content_hash", "ingested_at"}).
			AddRow("doc-1", "week1.txt", "week1", "", hash, time.Now()))

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE ingestion_runs
SET status=$2, documents_processed=$3, marker_written=$4, completed_at=NOW()
WHERE id=$1
`)).
		WithArgs("run-2", store.RunStatusSucceeded, 0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	summary, err := p.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DocumentsSkipped)
	assert.Zero(t, summary.DocumentsProcessed)
	assert.Zero(t, emb.calls)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHonorsCompletionMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ingested"), []byte("run=old\n"), 0o644))

	var mock sqlmock.Sqlmock
	p, emb := newTestPipeline(t, &mock, dir)

	summary, err := p.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, summary.SkippedByMarker)
	assert.Zero(t, emb.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseIDFromPath(t *testing.T) {
	assert.Equal(t, "cs101", courseIDFromPath("cs101/week1.pdf"))
	assert.Equal(t, "cs101", courseIDFromPath(filepath.Join("cs101", "lectures", "week1.pdf")))
	assert.Equal(t, "", courseIDFromPath("orphan.pdf"))
}
