package services

import (
	"errors"
	"fmt"
	"strings"

	"studyforge/internal/models"
)

var (
	// ErrInvalidConfig indicates a generation config failed validation. It is
	// surfaced synchronously, before any job record or model call is made.
	ErrInvalidConfig = errors.New("invalid generation config")
	// ErrInsufficientContent indicates the sources could not yield the
	// requested number of questions.
	ErrInsufficientContent = errors.New("insufficient content to reach target question count")
)

const maxCardsPerSource = 20

var validDifficulties = map[models.Difficulty]bool{
	models.DifficultyEasy:   true,
	models.DifficultyMedium: true,
	models.DifficultyHard:   true,
}

var validQuestionTypes = map[models.QuestionType]bool{
	models.MultipleChoice: true,
	models.ShortAnswer:    true,
}

// ValidateTestConfig rejects malformed test configurations before a job is
// created.
func ValidateTestConfig(cfg models.TestConfig) error {
	if strings.TrimSpace(cfg.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidConfig)
	}
	if cfg.NumQuestions < 1 {
		return fmt.Errorf("%w: numQuestions must be at least 1", ErrInvalidConfig)
	}
	if len(cfg.QuestionTypes) == 0 {
		return fmt.Errorf("%w: at least one question type is required", ErrInvalidConfig)
	}
	seen := make(map[models.QuestionType]bool, len(cfg.QuestionTypes))
	for _, qt := range cfg.QuestionTypes {
		if !validQuestionTypes[qt] {
			return fmt.Errorf("%w: unknown question type %q", ErrInvalidConfig, qt)
		}
		if seen[qt] {
			return fmt.Errorf("%w: duplicate question type %q", ErrInvalidConfig, qt)
		}
		seen[qt] = true
	}
	if !validDifficulties[cfg.Difficulty] {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidConfig, cfg.Difficulty)
	}
	return nil
}

// ValidateFlashcardConfig rejects malformed flashcard configurations before a
// job is created.
func ValidateFlashcardConfig(cfg models.FlashcardConfig) error {
	if cfg.CardsPerSource < 1 || cfg.CardsPerSource > maxCardsPerSource {
		return fmt.Errorf("%w: cardsPerSource must be between 1 and %d", ErrInvalidConfig, maxCardsPerSource)
	}
	return nil
}

// ScoreTest grades a completed test. Answers are keyed by question id and
// compared case-insensitively after trimming. The score is a raw percentage;
// rounding is left to presentation.
func ScoreTest(questions []models.Question, answers map[string]string) models.TestResult {
	result := models.TestResult{
		Total:    len(questions),
		Feedback: make([]models.QuestionFeedback, 0, len(questions)),
	}

	for _, q := range questions {
		answer := answers[q.ID]
		correct := answersMatch(answer, q.CorrectAnswer)
		if correct {
			result.Correct++
		}
		result.Feedback = append(result.Feedback, models.QuestionFeedback{
			QuestionID:    q.ID,
			Correct:       correct,
			UserAnswer:    answer,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		})
	}

	if result.Total > 0 {
		result.Score = float64(result.Correct) / float64(result.Total) * 100
	}
	return result
}

func answersMatch(given, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(expected))
}
