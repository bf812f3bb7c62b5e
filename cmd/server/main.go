package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"studyforge/internal/api"
	"studyforge/internal/chunker"
	"studyforge/internal/config"
	"studyforge/internal/db"
	"studyforge/internal/extract"
	"studyforge/internal/llm"
	"studyforge/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	slog := logger.Sugar()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		slog.Fatalw("open database", "path", cfg.Database, "error", err)
	}
	defer conn.Close()

	client := llm.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIEndpoint, cfg.OpenAIModel, cfg.TranscribeModel, slog)
	extractor := extract.New(client, slog)
	ch := chunker.New(
		chunker.WithChunkSize(cfg.ChunkSize),
		chunker.WithOverlap(cfg.ChunkOverlap),
	)

	jobs := services.NewJobStore(conn)
	documents := services.NewDocumentService(conn, cfg.UploadDir)
	tests := services.NewTestService(conn, client, jobs, ch, slog, cfg.TestJobTimeout)
	flashcards := services.NewFlashcardService(conn, client, jobs, slog, cfg.FlashcardJobTimeout)

	server := api.NewServer(tests, flashcards, documents, jobs, extractor, slog)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	slog.Infow("listening", "port", cfg.Port, "database", cfg.Database)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Fatalw("server failed", "error", err)
	}
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
