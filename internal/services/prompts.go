package services

import (
	"fmt"
	"strings"

	"studyforge/internal/models"
)

const questionSystemPrompt = "You are an educator who writes exam questions grounded strictly in the provided study material. Never invent facts that are not in the material."

const flashcardSystemPrompt = "You are an expert educator who designs atomic, unambiguous spaced repetition flashcards from study material."

func buildQuestionPrompt(chunk models.Chunk, qt models.QuestionType, count int, difficulty models.Difficulty) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write exactly %d %s question(s) at %s difficulty, based only on the material below.\n\n", count, qt, difficulty)

	switch qt {
	case models.MultipleChoice:
		b.WriteString(`Respond strictly with JSON {"questions":[{"question":"","type":"multiple_choice","options":["","","",""],"correctAnswer":"","explanation":""}]}. ` +
			"Each question must have exactly 4 options, and correctAnswer must match one option verbatim.\n")
	case models.ShortAnswer:
		b.WriteString(`Respond strictly with JSON {"questions":[{"question":"","type":"short_answer","correctAnswer":"","explanation":""}]}. ` +
			"Do not include an options field. correctAnswer must be a short phrase a student could reasonably type.\n")
	}

	b.WriteString("\nMaterial:\n")
	b.WriteString(chunk.Content)
	return b.String()
}

func buildFlashcardPrompt(source models.Source, cfg models.FlashcardConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Create exactly %d flashcards based only on the material below. ", cfg.CardsPerSource)
	b.WriteString(`Respond strictly with JSON {"flashcards":[{"front_content":"","back_content":""}]}. ` +
		"Flashcards must be atomic and use active recall. Use Markdown sparingly in answers.\n")

	if focus := sanitizeForPrompt(cfg.Focus, 300); focus != "" {
		fmt.Fprintf(&b, "\nFocus on: %s\n", focus)
	}
	if desc := sanitizeForPrompt(cfg.Description, 300); desc != "" {
		fmt.Fprintf(&b, "Set description: %s\n", desc)
	}

	b.WriteString("\nMaterial:\n")
	b.WriteString(source.Text)
	return b.String()
}

func sanitizeForPrompt(input string, limit int) string {
	collapsed := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if limit <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	if limit > 3 {
		return string(runes[:limit-3]) + "..."
	}
	return string(runes[:limit])
}
