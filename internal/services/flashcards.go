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

	"studyforge/internal/llm"
	"studyforge/internal/models"
	"studyforge/internal/srs"
)

var (
	// ErrSetNotFound indicates the requested flashcard set is unknown.
	ErrSetNotFound = errors.New("flashcard set not found")
	// ErrCardNotFound indicates the requested flashcard is unknown.
	ErrCardNotFound = errors.New("flashcard not found")
	// ErrAllSourcesFailed indicates no source produced a usable response.
	ErrAllSourcesFailed = errors.New("flashcard generation failed for every source")
)

const defaultFlashcardTimeout = 50 * time.Second

// CardRecord is a stored flashcard together with its scheduling state.
type CardRecord struct {
	RowID int64           `json:"rowId"`
	SetID string          `json:"setId"`
	Card  models.Flashcard `json:"card"`
	State srs.State       `json:"state"`
}

// FlashcardService runs flashcard generation jobs and card review
// scheduling. Sources are processed strictly in order; a source whose
// response stays malformed after retries is skipped, never fatal.
type FlashcardService struct {
	db       *sql.DB
	client   llm.Client
	jobs     *JobStore
	log      *zap.SugaredLogger
	attempts int
	timeout  time.Duration
}

func NewFlashcardService(db *sql.DB, client llm.Client, jobs *JobStore, log *zap.SugaredLogger, timeout time.Duration) *FlashcardService {
	if timeout <= 0 {
		timeout = defaultFlashcardTimeout
	}
	return &FlashcardService{
		db:       db,
		client:   client,
		jobs:     jobs,
		log:      log,
		attempts: llm.DefaultAttempts,
		timeout:  timeout,
	}
}

// StartGeneration validates the config synchronously, records a processing
// job, and runs generation in the background.
func (s *FlashcardService) StartGeneration(ctx context.Context, sources []models.Source, cfg models.FlashcardConfig) (string, error) {
	if err := ValidateFlashcardConfig(cfg); err != nil {
		return "", err
	}

	job := &models.GenerationJob{
		ID:     uuid.NewString(),
		Kind:   models.JobKindFlashcard,
		Title:  cfg.Title,
		Status: models.JobProcessing,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	go s.run(job.ID, sources, cfg)
	return job.ID, nil
}

func (s *FlashcardService) run(jobID string, sources []models.Source, cfg models.FlashcardConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("flashcard generation panicked", "job", jobID, "panic", r)
			_ = s.jobs.MarkFailed(context.Background(), jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	cards, err := s.generate(ctx, jobID, sources, cfg)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "generation timed out"
		}
		s.log.Errorw("flashcard generation failed", "job", jobID, "error", err)
		_ = s.jobs.MarkFailed(context.Background(), jobID, msg)
		return
	}

	setID, err := s.saveSet(context.Background(), cfg, cards)
	if err != nil {
		s.log.Errorw("saving flashcard set failed", "job", jobID, "error", err)
		_ = s.jobs.MarkFailed(context.Background(), jobID, err.Error())
		return
	}

	_ = s.jobs.MarkCompleted(context.Background(), jobID, setID)
	s.log.Infow("flashcard generation completed", "job", jobID, "set", setID, "cards", len(cards))
}

func (s *FlashcardService) generate(ctx context.Context, jobID string, sources []models.Source, cfg models.FlashcardConfig) ([]models.Flashcard, error) {
	var (
		cards     []models.Flashcard
		succeeded int
	)

	contentSources := 0
	for _, src := range sources {
		if strings.TrimSpace(src.Text) != "" {
			contentSources++
		}
	}
	// Progress counts accepted cards against the best case: every source
	// with text yielding its full quota.
	targetCards := cfg.CardsPerSource * contentSources

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(src.Text) == "" {
			s.log.Infow("skipping source without text", "job", jobID, "source", src.Name)
			continue
		}

		raws, err := s.requestCards(ctx, src, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warnw("source skipped after failed generation",
				"job", jobID, "source", src.Name, "error", err)
			continue
		}
		succeeded++

		for _, raw := range raws {
			card, cardErr := models.NewFlashcard(raw, src.Name, len(cards)+1)
			if cardErr != nil {
				s.log.Debugw("dropped invalid flashcard", "job", jobID, "source", src.Name, "error", cardErr)
				continue
			}
			cards = append(cards, card)
		}

		if targetCards > 0 {
			progress := int(math.Round(float64(len(cards)) / float64(targetCards) * 100))
			partial, mErr := json.Marshal(cards)
			if mErr != nil {
				partial = nil
			}
			if uErr := s.jobs.UpdateProgress(ctx, jobID, progress, partial); uErr != nil {
				s.log.Warnw("persist progress", "job", jobID, "error", uErr)
			}
		}
	}

	if contentSources > 0 && succeeded == 0 {
		return nil, fmt.Errorf("%w: %d sources attempted", ErrAllSourcesFailed, contentSources)
	}
	return cards, nil
}

func (s *FlashcardService) requestCards(ctx context.Context, src models.Source, cfg models.FlashcardConfig) ([]models.GeneratedFlashcard, error) {
	return llm.WithRetry(ctx, s.attempts, func(ctx context.Context) ([]models.GeneratedFlashcard, error) {
		raw, err := s.client.Complete(ctx, flashcardSystemPrompt, buildFlashcardPrompt(src, cfg))
		if err != nil {
			return nil, err
		}

		var payload struct {
			Flashcards []models.GeneratedFlashcard `json:"flashcards"`
		}
		if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &payload); err != nil {
			return nil, fmt.Errorf("%w: unmarshal flashcards: %v", llm.ErrModelRequest, err)
		}
		if payload.Flashcards == nil {
			return nil, fmt.Errorf("%w: response missing flashcards field", llm.ErrModelRequest)
		}
		return payload.Flashcards, nil
	})
}

func (s *FlashcardService) saveSet(ctx context.Context, cfg models.FlashcardConfig, cards []models.Flashcard) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	setID := uuid.NewString()
	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO flashcard_sets (id, title, description, total_cards, created_at)
		VALUES (?, ?, ?, ?, ?);
	`, setID, strings.TrimSpace(cfg.Title), strings.TrimSpace(cfg.Description), len(cards), now); err != nil {
		return "", fmt.Errorf("insert flashcard set: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flashcards (set_id, card_id, front, back, position, source,
		                        interval_days, ease_factor, review_count, next_review, last_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?);
	`)
	if err != nil {
		return "", fmt.Errorf("prepare flashcard insert: %w", err)
	}
	defer stmt.Close()

	for _, card := range cards {
		state := srs.NewState(now)
		if _, err = stmt.ExecContext(ctx,
			setID, card.ID, card.Front, card.Back, card.Position, card.Source,
			state.IntervalDays, state.EaseFactor, state.ReviewCount, state.NextReview, now, now,
		); err != nil {
			return "", fmt.Errorf("insert flashcard %s: %w", card.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit flashcard set: %w", err)
	}
	return setID, nil
}

// GetSet loads a persisted flashcard set with its cards in position order.
func (s *FlashcardService) GetSet(ctx context.Context, id string) (*models.FlashcardSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, total_cards, created_at FROM flashcard_sets WHERE id = ?;
	`, id)

	set := &models.FlashcardSet{}
	if err := row.Scan(&set.ID, &set.Title, &set.Description, &set.TotalCards, &set.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSetNotFound
		}
		return nil, fmt.Errorf("scan flashcard set: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, front, back, position, source FROM flashcards
		WHERE set_id = ? ORDER BY position;
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list flashcards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var card models.Flashcard
		if err := rows.Scan(&card.ID, &card.Front, &card.Back, &card.Position, &card.Source); err != nil {
			return nil, fmt.Errorf("scan flashcard: %w", err)
		}
		set.Cards = append(set.Cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flashcards: %w", err)
	}
	return set, nil
}

// DueCards lists cards whose next review is at or before now, oldest first.
func (s *FlashcardService) DueCards(ctx context.Context, limit int) ([]CardRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, set_id, card_id, front, back, position, source,
		       interval_days, ease_factor, review_count, next_review, last_review
		FROM flashcards
		WHERE next_review IS NOT NULL AND next_review <= ?
		ORDER BY next_review ASC
		LIMIT ?;
	`, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}
	defer rows.Close()

	var records []CardRecord
	for rows.Next() {
		rec, err := scanCardRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due cards: %w", err)
	}
	return records, nil
}

// ReviewCard applies one review outcome to a card, persisting the new
// scheduling state and a review log entry.
func (s *FlashcardService) ReviewCard(ctx context.Context, rowID int64, isCorrect bool) (*CardRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rec := CardRecord{RowID: rowID}
	var (
		nextReview sql.NullTime
		lastReview sql.NullTime
	)
	row := tx.QueryRowContext(ctx, `
		SELECT set_id, card_id, front, back, position, source,
		       interval_days, ease_factor, review_count, next_review, last_review
		FROM flashcards WHERE id = ?;
	`, rowID)
	if err = row.Scan(
		&rec.SetID, &rec.Card.ID, &rec.Card.Front, &rec.Card.Back, &rec.Card.Position, &rec.Card.Source,
		&rec.State.IntervalDays, &rec.State.EaseFactor, &rec.State.ReviewCount, &nextReview, &lastReview,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrCardNotFound
		}
		return nil, err
	}
	if nextReview.Valid {
		rec.State.NextReview = nextReview.Time
	}
	if lastReview.Valid {
		rec.State.LastReview = lastReview.Time
	}

	now := time.Now().UTC()
	rec.State = srs.NextReview(rec.State, isCorrect, now)

	if _, err = tx.ExecContext(ctx, `
		UPDATE flashcards
		SET interval_days = ?, ease_factor = ?, review_count = ?, next_review = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`, rec.State.IntervalDays, rec.State.EaseFactor, rec.State.ReviewCount,
		rec.State.NextReview, rec.State.LastReview, now, rowID); err != nil {
		return nil, fmt.Errorf("update flashcard %d: %w", rowID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (flashcard_id, correct, interval_days, ease_factor, reviewed_at)
		VALUES (?, ?, ?, ?, ?);
	`, rowID, isCorrect, rec.State.IntervalDays, rec.State.EaseFactor, now); err != nil {
		return nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit review: %w", err)
	}
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCardRecord(row rowScanner) (CardRecord, error) {
	var (
		rec        CardRecord
		nextReview sql.NullTime
		lastReview sql.NullTime
	)
	if err := row.Scan(
		&rec.RowID, &rec.SetID, &rec.Card.ID, &rec.Card.Front, &rec.Card.Back, &rec.Card.Position, &rec.Card.Source,
		&rec.State.IntervalDays, &rec.State.EaseFactor, &rec.State.ReviewCount, &nextReview, &lastReview,
	); err != nil {
		return CardRecord{}, fmt.Errorf("scan flashcard record: %w", err)
	}
	if nextReview.Valid {
		rec.State.NextReview = nextReview.Time
	}
	if lastReview.Valid {
		rec.State.LastReview = lastReview.Time
	}
	return rec, nil
}
