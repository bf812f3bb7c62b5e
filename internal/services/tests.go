package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studyforge/internal/chunker"
	"studyforge/internal/llm"
	"studyforge/internal/models"
)

// ErrTestNotFound indicates the requested test artifact is unknown.
var ErrTestNotFound = errors.New("test not found")

// questionsPerBatch is the target number of questions requested per selected
// chunk.
const questionsPerBatch = 5

const defaultTestTimeout = 5 * time.Minute

// TestService runs test generation jobs: it chunks the sources, selects a
// bounded subset of chunks, drives the model in per-type batches with retry,
// validates every returned question, and persists progress and the final
// artifact.
type TestService struct {
	db       *sql.DB
	client   llm.Client
	jobs     *JobStore
	chunker  *chunker.Chunker
	log      *zap.SugaredLogger
	attempts int
	timeout  time.Duration
}

func NewTestService(db *sql.DB, client llm.Client, jobs *JobStore, ch *chunker.Chunker, log *zap.SugaredLogger, timeout time.Duration) *TestService {
	if ch == nil {
		ch = chunker.New()
	}
	if timeout <= 0 {
		timeout = defaultTestTimeout
	}
	return &TestService{
		db:       db,
		client:   client,
		jobs:     jobs,
		chunker:  ch,
		log:      log,
		attempts: llm.DefaultAttempts,
		timeout:  timeout,
	}
}

// StartGeneration validates the config synchronously, records a processing
// job, and runs generation in the background. Invalid configs fail fast with
// no side effects.
func (s *TestService) StartGeneration(ctx context.Context, sources []models.Source, cfg models.TestConfig) (string, error) {
	if err := ValidateTestConfig(cfg); err != nil {
		return "", err
	}

	job := &models.GenerationJob{
		ID:     uuid.NewString(),
		Kind:   models.JobKindTest,
		Title:  cfg.Title,
		Status: models.JobProcessing,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	go s.run(job.ID, sources, cfg)
	return job.ID, nil
}

func (s *TestService) run(jobID string, sources []models.Source, cfg models.TestConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("test generation panicked", "job", jobID, "panic", r)
			_ = s.jobs.MarkFailed(context.Background(), jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	questions, err := s.generate(ctx, jobID, sources, cfg)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "generation timed out"
		}
		s.log.Errorw("test generation failed", "job", jobID, "error", err)
		_ = s.jobs.MarkFailed(context.Background(), jobID, msg)
		return
	}

	testID, err := s.saveTest(context.Background(), cfg, questions)
	if err != nil {
		s.log.Errorw("saving test failed", "job", jobID, "error", err)
		_ = s.jobs.MarkFailed(context.Background(), jobID, err.Error())
		return
	}

	_ = s.jobs.MarkCompleted(context.Background(), jobID, testID)
	s.log.Infow("test generation completed", "job", jobID, "test", testID, "questions", len(questions))
}

func (s *TestService) generate(ctx context.Context, jobID string, sources []models.Source, cfg models.TestConfig) ([]models.Question, error) {
	quotas := splitQuota(cfg.NumQuestions, len(cfg.QuestionTypes))

	var all []models.Chunk
	for _, src := range sources {
		all = append(all, s.chunker.Split(src.Text, src.Name)...)
	}
	if len(all) == 0 {
		return nil, ErrInsufficientContent
	}

	batches := (cfg.NumQuestions + questionsPerBatch - 1) / questionsPerBatch
	selected := chunker.Select(all, batches)

	accepted := make([]models.Question, 0, cfg.NumQuestions)
	for _, chunk := range selected {
		if len(accepted) >= cfg.NumQuestions {
			break
		}
		for i, qt := range cfg.QuestionTypes {
			if quotas[i] <= 0 {
				continue
			}
			need := cfg.NumQuestions - len(accepted)
			if need <= 0 {
				break
			}
			if need > questionsPerBatch {
				need = questionsPerBatch
			}
			ask := need
			if ask > quotas[i] {
				ask = quotas[i]
			}

			raws, err := s.requestQuestions(ctx, chunk, qt, ask, cfg.Difficulty)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// Retries are exhausted for this (chunk, type) unit; move on.
				s.log.Warnw("question batch abandoned",
					"job", jobID, "source", chunk.Source, "chunk", chunk.Index, "type", qt, "error", err)
				continue
			}

			for _, raw := range raws {
				if len(accepted) >= cfg.NumQuestions || quotas[i] <= 0 {
					break
				}
				q, qErr := models.NewQuestion(raw, chunk.Source, chunk.Index)
				if qErr != nil {
					s.log.Debugw("dropped invalid question", "job", jobID, "error", qErr)
					continue
				}
				if q.Type != qt {
					s.log.Debugw("dropped question of unexpected type", "job", jobID, "want", qt, "got", q.Type)
					continue
				}
				q.ID = fmt.Sprintf("q%d", len(accepted)+1)
				accepted = append(accepted, q)
				quotas[i]--
			}

			s.reportProgress(ctx, jobID, accepted, cfg.NumQuestions)
		}
	}

	if len(accepted) < cfg.NumQuestions {
		return nil, fmt.Errorf("%w: accepted %d of %d", ErrInsufficientContent, len(accepted), cfg.NumQuestions)
	}
	return accepted, nil
}

// splitQuota partitions total across n buckets as evenly as possible, handing
// the remainder out one by one from the front so the counts sum to total and
// differ by at most one.
func splitQuota(total, n int) []int {
	quotas := make([]int, n)
	base := total / n
	rem := total % n
	for i := range quotas {
		quotas[i] = base
		if i < rem {
			quotas[i]++
		}
	}
	return quotas
}

func (s *TestService) requestQuestions(ctx context.Context, chunk models.Chunk, qt models.QuestionType, count int, difficulty models.Difficulty) ([]models.GeneratedQuestion, error) {
	return llm.WithRetry(ctx, s.attempts, func(ctx context.Context) ([]models.GeneratedQuestion, error) {
		raw, err := s.client.Complete(ctx, questionSystemPrompt, buildQuestionPrompt(chunk, qt, count, difficulty))
		if err != nil {
			return nil, err
		}

		var payload struct {
			Questions []models.GeneratedQuestion `json:"questions"`
		}
		if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &payload); err != nil {
			// Parse failures are retried like transport failures.
			return nil, fmt.Errorf("%w: unmarshal questions: %v", llm.ErrModelRequest, err)
		}
		if payload.Questions == nil {
			return nil, fmt.Errorf("%w: response missing questions field", llm.ErrModelRequest)
		}
		return payload.Questions, nil
	})
}

func (s *TestService) reportProgress(ctx context.Context, jobID string, accepted []models.Question, target int) {
	progress := int(math.Round(float64(len(accepted)) / float64(target) * 100))
	partial, err := json.Marshal(accepted)
	if err != nil {
		s.log.Warnw("marshal partial results", "job", jobID, "error", err)
		partial = nil
	}
	if err := s.jobs.UpdateProgress(ctx, jobID, progress, partial); err != nil {
		s.log.Warnw("persist progress", "job", jobID, "error", err)
	}
}

func (s *TestService) saveTest(ctx context.Context, cfg models.TestConfig, questions []models.Question) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	testID := uuid.NewString()
	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO tests (id, title, difficulty, num_questions, created_at)
		VALUES (?, ?, ?, ?, ?);
	`, testID, strings.TrimSpace(cfg.Title), cfg.Difficulty, len(questions), now); err != nil {
		return "", fmt.Errorf("insert test: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO questions (test_id, question_id, type, question, options, correct_answer, explanation, source, chunk_index, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return "", fmt.Errorf("prepare question insert: %w", err)
	}
	defer stmt.Close()

	for pos, q := range questions {
		var options any
		if len(q.Options) > 0 {
			var encoded []byte
			encoded, err = json.Marshal(q.Options)
			if err != nil {
				return "", fmt.Errorf("marshal options for %s: %w", q.ID, err)
			}
			options = string(encoded)
		}
		if _, err = stmt.ExecContext(ctx,
			testID, q.ID, q.Type, q.Question, options, q.CorrectAnswer, q.Explanation, q.Source, q.ChunkIndex, pos,
		); err != nil {
			return "", fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit test: %w", err)
	}
	return testID, nil
}

// GetTest loads a persisted test with its questions in order.
func (s *TestService) GetTest(ctx context.Context, id string) (*models.Test, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, difficulty, num_questions, created_at FROM tests WHERE id = ?;
	`, id)

	test := &models.Test{}
	if err := row.Scan(&test.ID, &test.Title, &test.Difficulty, &test.NumQuestions, &test.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("scan test: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, type, question, options, correct_answer, explanation, source, chunk_index
		FROM questions WHERE test_id = ? ORDER BY position;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       models.Question
			options sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.Type, &q.Question, &options, &q.CorrectAnswer, &q.Explanation, &q.Source, &q.ChunkIndex); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &q.Options); err != nil {
				return nil, fmt.Errorf("unmarshal options for %s: %w", q.ID, err)
			}
		}
		test.Questions = append(test.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return test, nil
}

// Score grades a submitted answer set against a persisted test and records
// the attempt.
func (s *TestService) Score(ctx context.Context, testID string, answers map[string]string) (*models.TestResult, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	result := ScoreTest(test.Questions, answers)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO test_attempts (test_id, score, correct, total, submitted_at)
		VALUES (?, ?, ?, ?, ?);
	`, testID, result.Score, result.Correct, result.Total, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	return &result, nil
}
