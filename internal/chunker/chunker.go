// Package chunker splits document text into bounded, overlapping
// segments for embedding. Sizes are counted in whitespace-delimited
// tokens so chunk boundaries are deterministic and need no external
// tokenizer.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDocumentEmpty indicates the trimmed document text has zero length.
var ErrDocumentEmpty = errors.New("document text is empty")

// Chunk is one bounded segment of a document. Sequence indexes are
// contiguous starting at 0; source text windows of adjacent chunks
// overlap by the configured overlap.
type Chunk struct {
	SequenceIndex int
	Text          string
	TokenCount    int
}

// Chunker produces fixed-size token windows with overlap.
type Chunker struct {
	size    int
	overlap int
}

// New builds a Chunker. size is the target chunk length in tokens,
// overlap the number of tokens shared between adjacent chunks.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must be >= 0, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap (%d) must be smaller than size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split chunks text into ordered segments. A document shorter than the
// chunk size yields exactly one chunk; the final chunk may be shorter
// than the target size.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, ErrDocumentEmpty
	}

	stride := c.size - c.overlap
	var chunks []Chunk
	for start, seq := 0, 0; start < len(tokens); start, seq = start+stride, seq+1 {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			SequenceIndex: seq,
			Text:          strings.Join(window, " "),
			TokenCount:    len(window),
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

// EstimateTokens returns the token count Split would assign to text.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}
