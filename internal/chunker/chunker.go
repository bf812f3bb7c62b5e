// Package chunker splits extracted text into bounded, overlapping chunks and
// selects evenly distributed subsets of them.
package chunker

import (
	"strings"

	"studyforge/internal/models"
)

// DefaultChunkSize is the target number of characters per chunk.
const DefaultChunkSize = 2000

// DefaultOverlap is the number of trailing characters repeated at the start
// of the next chunk.
const DefaultOverlap = 400

// separators are tried in order; a piece is only split with a finer-grained
// separator when it still exceeds the piece limit.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", ", ", " "}

type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split divides text into chunks of at most the configured size, tagging each
// with the source name and a zero-based index in emission order. Chunks after
// the first begin with the overlap suffix of their predecessor; stripping that
// duplication and concatenating reconstructs the input text.
func (c *Chunker) Split(text, source string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Pieces are capped below chunkSize so that the carried overlap plus one
	// piece never exceeds the chunk size during merging.
	limit := c.chunkSize - c.overlap
	if limit <= 0 {
		limit = c.chunkSize
	}
	pieces := splitPieces(text, limit, separators)

	var chunks []models.Chunk
	var buf strings.Builder
	for _, piece := range pieces {
		if buf.Len() > 0 && buf.Len()+len(piece) > c.chunkSize {
			content := buf.String()
			chunks = append(chunks, models.Chunk{
				Content: content,
				Source:  source,
				Index:   len(chunks),
			})
			buf.Reset()
			if c.overlap > 0 {
				tail := content
				if len(tail) > c.overlap {
					tail = tail[len(tail)-c.overlap:]
				}
				buf.WriteString(tail)
			}
		}
		buf.WriteString(piece)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, models.Chunk{
			Content: buf.String(),
			Source:  source,
			Index:   len(chunks),
		})
	}
	return chunks
}

// splitPieces breaks text into pieces no longer than limit, preferring the
// coarsest separator that keeps each piece within bounds. Separators stay
// attached to the preceding piece so concatenation reproduces the input.
func splitPieces(text string, limit int, seps []string) []string {
	if len(text) <= limit {
		return []string{text}
	}
	if len(seps) == 0 {
		// No separator left: hard character cut.
		var out []string
		for len(text) > limit {
			out = append(out, text[:limit])
			text = text[limit:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return splitPieces(text, limit, seps[1:])
	}
	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(part) <= limit {
			out = append(out, part)
			continue
		}
		out = append(out, splitPieces(part, limit, seps[1:])...)
	}
	return out
}
