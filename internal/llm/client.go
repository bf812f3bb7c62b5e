// Package llm wraps the OpenAI-compatible completion API used for structured
// generation and audio transcription.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable is returned when the OpenAI integration is not configured.
	ErrUnavailable = errors.New("openai integration is not configured")
	// ErrModelRequest marks transient completion failures: transport errors,
	// empty responses, refusals.
	ErrModelRequest = errors.New("model request failed")
)

// Client is the completion capability consumed by the generation
// orchestrators.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Transcriber converts an audio file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

const callTimeout = 2 * time.Minute

type OpenAI struct {
	client          *openai.Client
	model           string
	transcribeModel string
	log             *zap.SugaredLogger
}

func NewOpenAI(apiKey, endpoint, model, transcribeModel string, log *zap.SugaredLogger) *OpenAI {
	if transcribeModel == "" {
		transcribeModel = openai.Whisper1
	}
	if apiKey == "" {
		return &OpenAI{model: model, transcribeModel: transcribeModel, log: log}
	}

	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &OpenAI{
		client:          openai.NewClientWithConfig(cfg),
		model:           model,
		transcribeModel: transcribeModel,
		log:             log,
	}
}

func (c *OpenAI) disabled() bool {
	return c.client == nil || c.model == ""
}

// Complete sends one chat completion request and returns the raw assistant
// message content.
func (c *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	if c.disabled() {
		return "", ErrUnavailable
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
		MaxTokens:   4096,
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelRequest, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrModelRequest)
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe converts an audio file into text via the transcription endpoint.
func (c *OpenAI) Transcribe(ctx context.Context, path string) (string, error) {
	if c.client == nil {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	return resp.Text, nil
}
