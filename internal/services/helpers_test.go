package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studyforge/internal/db"
	"studyforge/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "studyforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// scriptedClient routes each completion through a test-provided function.
type scriptedClient struct {
	fn    func(system, user string) (string, error)
	calls int
}

func (c *scriptedClient) Complete(_ context.Context, system, user string) (string, error) {
	c.calls++
	return c.fn(system, user)
}

func questionsJSON(t *testing.T, qs []models.GeneratedQuestion) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"questions": qs})
	require.NoError(t, err)
	return string(payload)
}

func flashcardsJSON(t *testing.T, cards []models.GeneratedFlashcard) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"flashcards": cards})
	require.NoError(t, err)
	return string(payload)
}

func makeMultipleChoice(n int) []models.GeneratedQuestion {
	out := make([]models.GeneratedQuestion, n)
	for i := range out {
		correct := fmt.Sprintf("answer %d", i)
		out[i] = models.GeneratedQuestion{
			Question:      fmt.Sprintf("What is fact %d?", i),
			Type:          "multiple_choice",
			Options:       []string{correct, "wrong a", "wrong b", "wrong c"},
			CorrectAnswer: correct,
			Explanation:   "stated in the material",
		}
	}
	return out
}

func makeShortAnswer(n int) []models.GeneratedQuestion {
	out := make([]models.GeneratedQuestion, n)
	for i := range out {
		out[i] = models.GeneratedQuestion{
			Question:      fmt.Sprintf("Define term %d.", i),
			Type:          "short_answer",
			CorrectAnswer: fmt.Sprintf("definition %d", i),
			Explanation:   "stated in the material",
		}
	}
	return out
}

func makeCards(n int) []models.GeneratedFlashcard {
	out := make([]models.GeneratedFlashcard, n)
	for i := range out {
		out[i] = models.GeneratedFlashcard{
			Front: fmt.Sprintf("front %d", i),
			Back:  fmt.Sprintf("back %d", i),
		}
	}
	return out
}

func wantsMultipleChoice(user string) bool {
	return strings.Contains(user, string(models.MultipleChoice))
}

// stallAfterClient answers the first request immediately and then blocks
// until the caller's context expires.
type stallAfterClient struct {
	first string
	calls int
}

func (c *stallAfterClient) Complete(ctx context.Context, _, _ string) (string, error) {
	c.calls++
	if c.calls == 1 {
		return c.first, nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}
