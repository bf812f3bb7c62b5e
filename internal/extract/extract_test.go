package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studyforge/internal/llm"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	return f.text, f.err
}

func newExtractor(tr llm.Transcriber) *Extractor {
	return New(tr, zap.NewNop().Sugar())
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtract_PlainText(t *testing.T) {
	e := newExtractor(nil)
	path := writeTemp(t, "notes.txt", "line one\r\nline two\r\n")

	src, err := e.Extract(context.Background(), path, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", src.Name)
	assert.Equal(t, "line one\nline two", src.Text)
	assert.Equal(t, "text", src.Info["kind"])
}

func TestExtract_Audio(t *testing.T) {
	e := newExtractor(&fakeTranscriber{text: "spoken words from the lecture"})
	path := writeTemp(t, "lecture.mp3", "binary")

	src, err := e.Extract(context.Background(), path, "lecture.mp3")
	require.NoError(t, err)
	assert.Equal(t, "spoken words from the lecture", src.Text)
	assert.Equal(t, "audio", src.Info["kind"])
}

func TestExtract_AudioWithoutTranscriber(t *testing.T) {
	e := newExtractor(nil)
	path := writeTemp(t, "lecture.wav", "binary")

	_, err := e.Extract(context.Background(), path, "lecture.wav")
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestExtract_TranscriberFailure(t *testing.T) {
	e := newExtractor(&fakeTranscriber{err: errors.New("upstream timeout")})
	path := writeTemp(t, "talk.m4a", "binary")

	_, err := e.Extract(context.Background(), path, "talk.m4a")
	assert.Error(t, err)
}

func TestExtract_Unsupported(t *testing.T) {
	e := newExtractor(nil)
	path := writeTemp(t, "image.png", "not text")

	_, err := e.Extract(context.Background(), path, "image.png")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestExtract_EmptyDocument(t *testing.T) {
	e := newExtractor(nil)
	path := writeTemp(t, "blank.txt", "   \n\t  ")

	_, err := e.Extract(context.Background(), path, "blank.txt")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}
