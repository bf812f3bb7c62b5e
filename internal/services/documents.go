package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"studyforge/internal/models"
)

// DocumentService stores uploaded files on disk and records them in the
// database.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
}

func NewDocumentService(db *sql.DB, uploadDir string) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir}
}

// Create persists an uploaded file under a uuid name and records its
// metadata.
func (s *DocumentService) Create(ctx context.Context, original string, src io.Reader) (*models.Document, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(original))
	name := uuid.NewString() + ext
	storedPath := filepath.Join(s.uploadDir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (original_name, stored_path, media_type, char_count, uploaded_at)
		VALUES (?, ?, ?, 0, ?);
	`, original, storedPath, strings.TrimPrefix(ext, "."), now)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()

	return &models.Document{
		ID:           id,
		OriginalName: original,
		StoredPath:   storedPath,
		MediaType:    strings.TrimPrefix(ext, "."),
		UploadedAt:   now,
	}, nil
}

// UpdateCharCount records how much text extraction recovered from the
// document.
func (s *DocumentService) UpdateCharCount(ctx context.Context, id int64, chars int) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE documents SET char_count = ? WHERE id = ?;
	`, chars, id); err != nil {
		return fmt.Errorf("update char count: %w", err)
	}
	return nil
}

// GetByID fetches one stored document's metadata.
func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, media_type, char_count, uploaded_at
		FROM documents WHERE id = ?;
	`, id)
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.OriginalName,
		&doc.StoredPath,
		&doc.MediaType,
		&doc.CharCount,
		&doc.UploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %d not found", id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}
