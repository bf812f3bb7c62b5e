package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"studyforge/internal/extract"
	"studyforge/internal/models"
	"studyforge/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

type Server struct {
	mux        *http.ServeMux
	tests      *services.TestService
	flashcards *services.FlashcardService
	documents  *services.DocumentService
	jobs       *services.JobStore
	extractor  *extract.Extractor
	log        *zap.SugaredLogger
}

func NewServer(
	tests *services.TestService,
	flashcards *services.FlashcardService,
	documents *services.DocumentService,
	jobs *services.JobStore,
	extractor *extract.Extractor,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		tests:      tests,
		flashcards: flashcards,
		documents:  documents,
		jobs:       jobs,
		extractor:  extractor,
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/tests", s.handleCreateTest)
	s.mux.HandleFunc("/api/tests/", s.handleTestActions)
	s.mux.HandleFunc("/api/flashcards", s.handleCreateFlashcards)
	s.mux.HandleFunc("/api/flashcards/", s.handleGetFlashcardSet)
	s.mux.HandleFunc("/api/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("/api/cards/due", s.handleDueCards)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateTest accepts a multipart form with a "config" JSON field and one
// or more "files" parts, extracts text synchronously, and starts a background
// generation job.
func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var cfg models.TestConfig
	if !s.decodeConfigField(w, r, &cfg) {
		return
	}
	// Validation comes before any upload is stored: an invalid config must
	// leave no trace.
	if err := services.ValidateTestConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sources, ok := s.extractSources(w, r)
	if !ok {
		return
	}

	jobID, err := s.tests.StartGeneration(r.Context(), sources, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleTestActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResourcePath(r.URL.Path, "/api/tests/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		test, err := s.tests.GetTest(r.Context(), id)
		if err != nil {
			if errors.Is(err, services.ErrTestNotFound) {
				writeError(w, http.StatusNotFound, "test not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, test)

	case action == "score" && r.Method == http.MethodPost:
		var req struct {
			Answers map[string]string `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		result, err := s.tests.Score(r.Context(), id, req.Answers)
		if err != nil {
			if errors.Is(err, services.ErrTestNotFound) {
				writeError(w, http.StatusNotFound, "test not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleCreateFlashcards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var cfg models.FlashcardConfig
	if !s.decodeConfigField(w, r, &cfg) {
		return
	}
	if err := services.ValidateFlashcardConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sources, ok := s.extractSources(w, r)
	if !ok {
		return
	}

	jobID, err := s.flashcards.StartGeneration(r.Context(), sources, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleGetFlashcardSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, action, ok := splitResourcePath(r.URL.Path, "/api/flashcards/")
	if !ok || action != "" {
		http.NotFound(w, r)
		return
	}

	set, err := s.flashcards.GetSet(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrSetNotFound) {
			writeError(w, http.StatusNotFound, "flashcard set not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, action, ok := splitResourcePath(r.URL.Path, "/api/jobs/")
	if !ok || action != "" {
		http.NotFound(w, r)
		return
	}

	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"jobId":    job.ID,
		"kind":     job.Kind,
		"title":    job.Title,
		"status":   job.Status,
		"progress": job.Progress,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.ResultID != "" {
		resp["resultId"] = job.ResultID
	}
	if len(job.PartialResults) > 0 {
		resp["partialResults"] = json.RawMessage(job.PartialResults)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDueCards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	cards, err := s.flashcards.DueCards(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards, "count": len(cards)})
}

func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResourcePath(r.URL.Path, "/api/cards/")
	if !ok || action != "review" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "card id must be an integer")
		return
	}

	var req struct {
		Correct *bool `json:"correct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Correct == nil {
		writeError(w, http.StatusBadRequest, "body must include a boolean 'correct' field")
		return
	}

	rec, err := s.flashcards.ReviewCard(r.Context(), rowID, *req.Correct)
	if err != nil {
		if errors.Is(err, services.ErrCardNotFound) {
			writeError(w, http.StatusNotFound, "card not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// decodeConfigField parses the multipart form and decodes its "config" JSON
// field into dst. It writes the error response itself and reports success.
func (s *Server) decodeConfigField(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}

	raw := r.FormValue("config")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing config field")
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		writeError(w, http.StatusBadRequest, "config field is not valid JSON")
		return false
	}
	return true
}

// extractSources stores each uploaded file and extracts its text. A file that
// fails extraction fails the whole request; nothing has been generated yet.
func (s *Server) extractSources(w http.ResponseWriter, r *http.Request) ([]models.Source, bool) {
	form := r.MultipartForm
	if form != nil {
		defer form.RemoveAll()
	}

	var files []*multipart.FileHeader
	if form != nil {
		files = form.File["files"]
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return nil, false
	}

	sources := make([]models.Source, 0, len(files))
	for _, file := range files {
		src, err := s.storeAndExtract(r, file)
		if err != nil {
			s.log.Warnw("extraction failed", "file", file.Filename, "error", err)
			status := http.StatusUnprocessableEntity
			if errors.Is(err, extract.ErrUnsupported) {
				status = http.StatusBadRequest
			}
			writeError(w, status, "could not extract text from "+file.Filename+": "+err.Error())
			return nil, false
		}
		sources = append(sources, *src)
	}
	return sources, true
}

func (s *Server) storeAndExtract(r *http.Request, file *multipart.FileHeader) (*models.Source, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := s.documents.Create(r.Context(), file.Filename, f)
	if err != nil {
		return nil, err
	}

	src, err := s.extractor.Extract(r.Context(), doc.StoredPath, file.Filename)
	if err != nil {
		return nil, err
	}
	if err := s.documents.UpdateCharCount(r.Context(), doc.ID, len(src.Text)); err != nil {
		s.log.Warnw("update char count", "document", doc.ID, "error", err)
	}
	return src, nil
}

// splitResourcePath strips prefix from path and returns the resource id plus
// one optional trailing action segment.
func splitResourcePath(path, prefix string) (id, action string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
