package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"flash-agent/internal/models"
)

// DocumentService keeps the local ledger of processed uploads.
type DocumentService struct {
	db *sql.DB
}

func NewDocumentService(db *sql.DB) *DocumentService {
	return &DocumentService{db: db}
}

// Record stores a processed upload and returns it with its assigned id.
func (s *DocumentService) Record(ctx context.Context, doc models.Document) (*models.Document, error) {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = models.DocumentCompleted
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, size_bytes, page_count, pages_with_text, truncated, status, error, response, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, doc.Filename, doc.SizeBytes, doc.PageCount, doc.PagesWithText, doc.Truncated, doc.Status, doc.Error, doc.Response, doc.UploadedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()
	doc.ID = id
	return &doc, nil
}

// List returns the most recent uploads first.
func (s *DocumentService) List(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, size_bytes, page_count, pages_with_text, truncated, status, error, response, uploaded_at
		FROM documents
		ORDER BY uploaded_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(
			&doc.ID,
			&doc.Filename,
			&doc.SizeBytes,
			&doc.PageCount,
			&doc.PagesWithText,
			&doc.Truncated,
			&doc.Status,
			&doc.Error,
			&doc.Response,
			&doc.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetByID loads a single upload record.
func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, size_bytes, page_count, pages_with_text, truncated, status, error, response, uploaded_at
		FROM documents WHERE id = ?;
	`, id)
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.SizeBytes,
		&doc.PageCount,
		&doc.PagesWithText,
		&doc.Truncated,
		&doc.Status,
		&doc.Error,
		&doc.Response,
		&doc.UploadedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document %d not found", id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}
