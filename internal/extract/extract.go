// Package extract converts uploaded files into plain text sources.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"studyforge/internal/llm"
	"studyforge/internal/models"
)

var (
	// ErrUnsupported is returned for file types the extractor cannot handle.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrEmptyDocument is returned when extraction yields no usable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".mp4":  true,
	".m4a":  true,
	".wav":  true,
	".ogg":  true,
	".webm": true,
	".flac": true,
}

// Extractor turns stored files into models.Source values. PDF and plain text
// are handled locally; audio is delegated to the transcription backend.
type Extractor struct {
	transcriber llm.Transcriber
	log         *zap.SugaredLogger
}

func New(transcriber llm.Transcriber, log *zap.SugaredLogger) *Extractor {
	return &Extractor{transcriber: transcriber, log: log}
}

// Extract reads the file at path and returns its normalized text with
// descriptive metadata, named after the original upload.
func (e *Extractor) Extract(ctx context.Context, path, originalName string) (*models.Source, error) {
	ext := strings.ToLower(filepath.Ext(originalName))

	var (
		text string
		info map[string]string
		err  error
	)
	switch {
	case ext == ".pdf":
		text, info, err = e.extractPDF(path)
	case ext == ".txt" || ext == ".md":
		text, info, err = e.extractPlainText(path)
	case audioExtensions[ext]:
		text, info, err = e.extractAudio(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		return nil, err
	}

	text = normalize(text)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", originalName, ErrEmptyDocument)
	}

	e.log.Debugw("extracted source", "name", originalName, "chars", len(text))
	return &models.Source{Name: originalName, Text: text, Info: info}, nil
}

func (e *Extractor) extractPDF(path string) (string, map[string]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", nil, fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", nil, fmt.Errorf("read pdf text: %w", err)
	}

	info := map[string]string{
		"kind":  "pdf",
		"pages": strconv.Itoa(r.NumPage()),
	}
	return buf.String(), info, nil
}

func (e *Extractor) extractPlainText(path string) (string, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read text file: %w", err)
	}
	return string(data), map[string]string{"kind": "text"}, nil
}

func (e *Extractor) extractAudio(ctx context.Context, path string) (string, map[string]string, error) {
	if e.transcriber == nil {
		return "", nil, llm.ErrUnavailable
	}
	text, err := e.transcriber.Transcribe(ctx, path)
	if err != nil {
		return "", nil, err
	}
	return text, map[string]string{"kind": "audio"}, nil
}

// normalize collapses Windows line endings and trims surrounding whitespace
// without disturbing paragraph structure.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
