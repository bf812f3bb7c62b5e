package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studyforge/internal/chunker"
	"studyforge/internal/db"
	"studyforge/internal/extract"
	"studyforge/internal/models"
	"studyforge/internal/services"
)

type stubClient struct {
	fn func(system, user string) (string, error)
}

func (c *stubClient) Complete(_ context.Context, system, user string) (string, error) {
	return c.fn(system, user)
}

func newTestServer(t *testing.T, fn func(system, user string) (string, error)) (*Server, *services.JobStore) {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "studyforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	log := zap.NewNop().Sugar()
	client := &stubClient{fn: fn}
	jobs := services.NewJobStore(conn)
	ch := chunker.New(chunker.WithChunkSize(400), chunker.WithOverlap(50))

	srv := NewServer(
		services.NewTestService(conn, client, jobs, ch, log, time.Minute),
		services.NewFlashcardService(conn, client, jobs, log, time.Minute),
		services.NewDocumentService(conn, t.TempDir()),
		jobs,
		extract.New(nil, log),
		log,
	)
	return srv, jobs
}

func multipartBody(t *testing.T, config string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("config", config))
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func waitForJob(t *testing.T, jobs *services.JobStore, id string) *models.GenerationJob {
	t.Helper()
	var job *models.GenerationJob
	require.Eventually(t, func() bool {
		got, err := jobs.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return job.Status != models.JobProcessing
	}, 30*time.Second, 50*time.Millisecond)
	return job
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreateTest_FullFlow(t *testing.T) {
	srv, jobs := newTestServer(t, func(_, user string) (string, error) {
		var qs []models.GeneratedQuestion
		for i := 0; i < 5; i++ {
			correct := fmt.Sprintf("answer %d", i)
			qs = append(qs, models.GeneratedQuestion{
				Question:      fmt.Sprintf("Question %d?", i),
				Type:          string(models.MultipleChoice),
				Options:       []string{correct, "b", "c", "d"},
				CorrectAnswer: correct,
			})
		}
		payload, _ := json.Marshal(map[string]any{"questions": qs})
		return string(payload), nil
	})

	cfg := `{"title":"Midterm","numQuestions":5,"questionTypes":["multiple_choice"],"difficulty":"easy"}`
	body, contentType := multipartBody(t, cfg, map[string]string{
		"notes.txt": strings.Repeat("Photosynthesis converts light into chemical energy. ", 30),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tests", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobID, _ := decodeBody(t, rec)["jobId"].(string)
	require.NotEmpty(t, jobID)

	job := waitForJob(t, jobs, jobID)
	require.Equal(t, models.JobCompleted, job.Status)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, float64(100), status["progress"])

	testID, _ := status["resultId"].(string)
	require.NotEmpty(t, testID)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/tests/"+testID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var test models.Test
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &test))
	require.Len(t, test.Questions, 5)

	answers := map[string]string{}
	for _, q := range test.Questions {
		answers[q.ID] = strings.ToUpper(q.CorrectAnswer)
	}
	scoreBody, err := json.Marshal(map[string]any{"answers": answers})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/api/tests/"+testID+"/score", bytes.NewReader(scoreBody))
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.TestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 5, result.Correct)
	assert.InDelta(t, 100.0, result.Score, 1e-9)
}

func TestCreateTest_InvalidConfigRejectedBeforeUpload(t *testing.T) {
	srv, jobs := newTestServer(t, func(_, _ string) (string, error) {
		t.Fatal("no completion expected")
		return "", nil
	})

	cfg := `{"title":"","numQuestions":5,"questionTypes":["multiple_choice"],"difficulty":"easy"}`
	body, contentType := multipartBody(t, cfg, map[string]string{"notes.txt": "text"})

	req := httptest.NewRequest(http.MethodPost, "/api/tests", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	count, err := jobs.CountJobs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateTest_UnsupportedFile(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	cfg := `{"title":"Midterm","numQuestions":5,"questionTypes":["multiple_choice"],"difficulty":"easy"}`
	body, contentType := multipartBody(t, cfg, map[string]string{"archive.zip": "binary junk"})

	req := httptest.NewRequest(http.MethodPost, "/api/tests", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "archive.zip")
}

func TestCreateFlashcards_AndReview(t *testing.T) {
	srv, jobs := newTestServer(t, func(_, _ string) (string, error) {
		cards := []models.GeneratedFlashcard{
			{Front: "What is ATP?", Back: "The cell's energy currency."},
			{Front: "Where is ATP made?", Back: "In the mitochondria."},
		}
		payload, _ := json.Marshal(map[string]any{"flashcards": cards})
		return string(payload), nil
	})

	cfg := `{"title":"Bio deck","cardsPerSource":2}`
	body, contentType := multipartBody(t, cfg, map[string]string{"notes.md": "ATP notes"})

	req := httptest.NewRequest(http.MethodPost, "/api/flashcards", body)
	req.Header.Set("Content-Type", contentType)
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobID, _ := decodeBody(t, rec)["jobId"].(string)
	job := waitForJob(t, jobs, jobID)
	require.Equal(t, models.JobCompleted, job.Status)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/flashcards/"+job.ResultID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var set models.FlashcardSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Cards, 2)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/cards/due?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var due struct {
		Cards []services.CardRecord `json:"cards"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Equal(t, 2, due.Count)

	reviewURL := fmt.Sprintf("/api/cards/%d/review", due.Cards[0].RowID)
	req = httptest.NewRequest(http.MethodPost, reviewURL, strings.NewReader(`{"correct":true}`))
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var reviewed services.CardRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reviewed))
	assert.Equal(t, 1, reviewed.State.IntervalDays)
	assert.Equal(t, 1, reviewed.State.ReviewCount)
}

func TestReviewCard_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/cards/abc/review", strings.NewReader(`{"correct":true}`))
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/cards/1/review", strings.NewReader(`{}`))
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/cards/999/review", strings.NewReader(`{"correct":false}`))
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTest_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/tests/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
