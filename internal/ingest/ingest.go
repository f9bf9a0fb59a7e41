// Package ingest walks the course corpus, chunks and embeds each
// document, and stores the result in Postgres. Re-running is idempotent:
// unchanged documents are skipped by content hash and changed ones have
// their chunk set replaced atomically.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/chunker"
	"github.com/studiumlabs/studium/internal/store"
)

// Embedder turns document text into vectors. Satisfied by provider.Provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Summary reports the outcome of one ingestion run.
type Summary struct {
	RunID              string
	DocumentsProcessed int
	DocumentsSkipped   int
	DocumentsFailed    int
	ChunksStored       int
	MarkerWritten      bool
	SkippedByMarker    bool
}

// Pipeline orchestrates chunking, embedding and storage for a corpus
// directory. Each document flows through exactly one worker, so chunk
// replacement is serialized per document.
type Pipeline struct {
	Store    *store.Store
	Embedder Embedder
	Chunker  *chunker.Chunker
	Config   config.IngestionConfig

	// Progress, when set, is called after each document with the number
	// of documents finished and the total.
	Progress func(done, total int)

	logger *log.Logger
}

// New builds an ingestion pipeline.
func New(st *store.Store, emb Embedder, ch *chunker.Chunker, cfg config.IngestionConfig) *Pipeline {
	return &Pipeline{
		Store:    st,
		Embedder: emb,
		Chunker:  ch,
		Config:   cfg,
		logger:   log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// CorpusIndexed reports whether a completion marker exists for the
// configured corpus.
func (p *Pipeline) CorpusIndexed() bool {
	if p.Config.MarkerFile == "" {
		return false
	}
	_, err := os.Stat(p.Config.MarkerFile)
	return err == nil
}

// Run ingests the corpus. When force is false and the completion marker
// is present the run is skipped entirely. A document that fails does
// not abort the run; already-indexed documents stay indexed.
func (p *Pipeline) Run(ctx context.Context, force bool) (Summary, error) {
	if !force && p.CorpusIndexed() {
		p.logger.Printf("corpus marker present at %s, skipping ingestion", p.Config.MarkerFile)
		return Summary{SkippedByMarker: true, MarkerWritten: true}, nil
	}
	if strings.TrimSpace(p.Config.CorpusDir) == "" {
		return Summary{}, fmt.Errorf("ingestion.corpus_dir not configured")
	}

	paths, err := p.listCorpus()
	if err != nil {
		return Summary{}, err
	}

	runID, err := p.Store.CreateIngestionRun(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("create ingestion run: %w", err)
	}
	summary := Summary{RunID: runID}
	p.logger.Printf("run %s: %d corpus files, %d workers", runID, len(paths), p.Config.Workers)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		done int
		sem  = make(chan struct{}, p.Config.Workers)
	)
	for _, path := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			stored, skipped, err := p.processDocument(ctx, path)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.DocumentsFailed++
				p.logger.Printf("document %s: %v", path, err)
			case skipped:
				summary.DocumentsSkipped++
			default:
				summary.DocumentsProcessed++
				summary.ChunksStored += stored
			}
			done++
			if p.Progress != nil {
				p.Progress(done, len(paths))
			}
		}(path)
	}
	wg.Wait()

	status := store.RunStatusSucceeded
	if summary.DocumentsFailed > 0 {
		status = store.RunStatusFailed
	} else if err := p.writeMarker(runID); err != nil {
		p.logger.Printf("write marker: %v", err)
	} else {
		summary.MarkerWritten = true
	}
	if err := p.Store.FinishIngestionRun(ctx, runID, status, summary.DocumentsProcessed, summary.MarkerWritten); err != nil {
		return summary, fmt.Errorf("finish ingestion run: %w", err)
	}
	p.logger.Printf("run %s %s: processed=%d skipped=%d failed=%d chunks=%d",
		runID, status, summary.DocumentsProcessed, summary.DocumentsSkipped, summary.DocumentsFailed, summary.ChunksStored)
	if summary.DocumentsFailed > 0 {
		return summary, fmt.Errorf("%d of %d documents failed", summary.DocumentsFailed, len(paths))
	}
	return summary, nil
}

// listCorpus collects supported files under the corpus dir in a stable order.
func (p *Pipeline) listCorpus() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(p.Config.CorpusDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus dir: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// processDocument runs one file through extract → hash-skip → chunk →
// embed → store. Returns the number of chunks stored and whether the
// document was skipped as unchanged.
func (p *Pipeline) processDocument(ctx context.Context, path string) (int, bool, error) {
	text, err := ExtractText(ctx, path)
	if err != nil {
		return 0, false, fmt.Errorf("extract: %w", err)
	}

	rel, err := filepath.Rel(p.Config.CorpusDir, path)
	if err != nil {
		rel = path
	}
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	existing, found, err := p.Store.GetDocumentBySourcePath(ctx, rel)
	if err != nil {
		return 0, false, fmt.Errorf("lookup document: %w", err)
	}
	if found && existing.ContentHash == hash {
		return 0, true, nil
	}

	chunks, err := p.Chunker.Split(text)
	if err != nil {
		return 0, false, fmt.Errorf("chunk: %w", err)
	}

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return 0, false, fmt.Errorf("embed: %w", err)
	}

	doc, err := p.Store.UpsertDocument(ctx, store.DocumentRecord{
		SourcePath:  rel,
		Title:       documentTitle(rel),
		CourseID:    courseIDFromPath(rel),
		ContentHash: hash,
	})
	if err != nil {
		return 0, false, fmt.Errorf("upsert document: %w", err)
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			DocumentID:    doc.ID,
			SequenceIndex: c.SequenceIndex,
			Text:          c.Text,
			TokenCount:    c.TokenCount,
			CourseID:      doc.CourseID,
			Vector:        vectors[i],
		}
	}
	if err := p.Store.ReplaceDocumentChunks(ctx, doc.ID, records); err != nil {
		return 0, false, fmt.Errorf("store chunks: %w", err)
	}
	return len(records), false, nil
}

// embedChunks embeds chunk texts in batches, preserving order.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.Config.BatchSize {
		end := start + p.Config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.Embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (p *Pipeline) writeMarker(runID string) error {
	if p.Config.MarkerFile == "" {
		return nil
	}
	content := fmt.Sprintf("run=%s\ncompleted=%s\n", runID, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(p.Config.MarkerFile, []byte(content), 0o644)
}

// courseIDFromPath treats the first directory under the corpus root as
// the course identifier; top-level files have no course scope.
func courseIDFromPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

func documentTitle(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
