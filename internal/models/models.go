package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	ShortAnswer    QuestionType = "short_answer"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Source is one uploaded document or audio file after text extraction.
type Source struct {
	Name string            `json:"name"`
	Text string            `json:"text"`
	Info map[string]string `json:"info,omitempty"`
}

// Chunk is a bounded contiguous slice of a source's text. Index reflects
// emission order within the source, starting at zero.
type Chunk struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Index   int    `json:"chunkIndex"`
}

// TestConfig holds the user-supplied parameters for a test generation run.
type TestConfig struct {
	Title         string         `json:"title"`
	NumQuestions  int            `json:"numQuestions"`
	QuestionTypes []QuestionType `json:"questionTypes"`
	Difficulty    Difficulty     `json:"difficulty"`
}

// FlashcardConfig holds the user-supplied parameters for a flashcard
// generation run.
type FlashcardConfig struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	CardsPerSource int    `json:"cardsPerSource"`
	Focus          string `json:"focus,omitempty"`
}

// GeneratedQuestion is the raw shape the model returns before validation.
type GeneratedQuestion struct {
	Question      string   `json:"question"`
	Type          string   `json:"type"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Question      string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation"`
	Source        string       `json:"source"`
	ChunkIndex    int          `json:"chunkIndex"`
}

var (
	// ErrMalformedQuestion indicates a model response failed shape validation.
	ErrMalformedQuestion = errors.New("malformed question")
	// ErrMalformedFlashcard indicates a model response failed shape validation.
	ErrMalformedFlashcard = errors.New("malformed flashcard")
)

// NewQuestion validates a raw model question and converts it into a Question.
// Multiple choice questions must carry exactly four options with the correct
// answer among them; short answer questions must omit options entirely.
func NewQuestion(raw GeneratedQuestion, source string, chunkIndex int) (Question, error) {
	q := Question{
		Type:          QuestionType(strings.TrimSpace(raw.Type)),
		Question:      strings.TrimSpace(raw.Question),
		CorrectAnswer: strings.TrimSpace(raw.CorrectAnswer),
		Explanation:   strings.TrimSpace(raw.Explanation),
		Source:        source,
		ChunkIndex:    chunkIndex,
	}

	if q.Question == "" {
		return Question{}, fmt.Errorf("%w: empty question text", ErrMalformedQuestion)
	}
	if q.CorrectAnswer == "" {
		return Question{}, fmt.Errorf("%w: empty correct answer", ErrMalformedQuestion)
	}

	switch q.Type {
	case MultipleChoice:
		if len(raw.Options) != 4 {
			return Question{}, fmt.Errorf("%w: expected 4 options, got %d", ErrMalformedQuestion, len(raw.Options))
		}
		q.Options = make([]string, len(raw.Options))
		found := false
		for i, opt := range raw.Options {
			q.Options[i] = strings.TrimSpace(opt)
			if q.Options[i] == q.CorrectAnswer {
				found = true
			}
		}
		if !found {
			return Question{}, fmt.Errorf("%w: correct answer not among options", ErrMalformedQuestion)
		}
	case ShortAnswer:
		if len(raw.Options) != 0 {
			return Question{}, fmt.Errorf("%w: short answer question carries options", ErrMalformedQuestion)
		}
	default:
		return Question{}, fmt.Errorf("%w: unknown type %q", ErrMalformedQuestion, raw.Type)
	}

	return q, nil
}

// GeneratedFlashcard is the raw shape the model returns before validation.
type GeneratedFlashcard struct {
	Front string `json:"front_content"`
	Back  string `json:"back_content"`
}

type Flashcard struct {
	ID       string `json:"id"`
	Front    string `json:"front_content"`
	Back     string `json:"back_content"`
	Position int    `json:"position"`
	Source   string `json:"source"`
}

// NewFlashcard validates a raw model flashcard. Position is 1-based and
// unique within a set; the caller assigns it sequentially across sources.
func NewFlashcard(raw GeneratedFlashcard, source string, position int) (Flashcard, error) {
	front := strings.TrimSpace(raw.Front)
	back := strings.TrimSpace(raw.Back)
	if front == "" || back == "" {
		return Flashcard{}, fmt.Errorf("%w: empty front or back", ErrMalformedFlashcard)
	}
	if position < 1 {
		return Flashcard{}, fmt.Errorf("%w: position must be >= 1", ErrMalformedFlashcard)
	}
	return Flashcard{
		ID:       fmt.Sprintf("card_%d", position),
		Front:    front,
		Back:     back,
		Position: position,
		Source:   source,
	}, nil
}

type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

type JobKind string

const (
	JobKindTest      JobKind = "test"
	JobKindFlashcard JobKind = "flashcards"
)

// GenerationJob tracks one asynchronous generation run. Progress and partial
// results are overwritten on each update; the orchestrator that owns a job
// is its only writer.
type GenerationJob struct {
	ID             string    `json:"jobId"`
	Kind           JobKind   `json:"kind"`
	Title          string    `json:"title"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	PartialResults []byte    `json:"-"`
	ResultID       string    `json:"resultId,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Document struct {
	ID           int64
	OriginalName string
	StoredPath   string
	MediaType    string
	CharCount    int
	UploadedAt   time.Time
}

// Test is a completed, persisted generation artifact.
type Test struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Difficulty   Difficulty `json:"difficulty"`
	NumQuestions int        `json:"numQuestions"`
	CreatedAt    time.Time  `json:"createdAt"`
	Questions    []Question `json:"questions"`
}

// FlashcardSet is a completed, persisted flashcard generation artifact.
type FlashcardSet struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	TotalCards  int         `json:"totalCards"`
	CreatedAt   time.Time   `json:"createdAt"`
	Cards       []Flashcard `json:"cards"`
}

// QuestionFeedback reports the outcome of scoring a single question.
type QuestionFeedback struct {
	QuestionID    string `json:"questionId"`
	Correct       bool   `json:"correct"`
	UserAnswer    string `json:"userAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Explanation   string `json:"explanation"`
}

// TestResult is the aggregate outcome of scoring a completed test. Score is
// a raw percentage; callers round for presentation.
type TestResult struct {
	Score    float64            `json:"score"`
	Correct  int                `json:"correct"`
	Total    int                `json:"total"`
	Feedback []QuestionFeedback `json:"feedback"`
}
