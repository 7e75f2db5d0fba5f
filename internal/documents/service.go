package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrInvalidUpload indicates a missing uploader or empty file.
	ErrInvalidUpload = errors.New("documents: invalid upload")
	// ErrNotFound indicates no document exists for the given identifier.
	ErrNotFound = errors.New("documents: not found")
)

// IDProvider issues identifiers for newly created documents.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the document service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service owns the upload and read surface for documents.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
}

// NewService constructs the document service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("documents: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("documents: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		now:        clock,
	}, nil
}

// Upload extracts the text content of the file and persists the document.
// The raw file bytes are not retained beyond extraction.
func (s *Service) Upload(ctx context.Context, userID, originalName, contentType string, data []byte) (Document, error) {
	userID = strings.TrimSpace(userID)
	originalName = strings.TrimSpace(originalName)
	if userID == "" || originalName == "" || len(data) == 0 {
		return Document{}, ErrInvalidUpload
	}

	fileType, err := FileTypeFor(contentType)
	if err != nil {
		return Document{}, err
	}
	content, err := ExtractText(fileType, data)
	if err != nil {
		return Document{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, err
	}
	document := Document{
		ID:           id,
		Filename:     fmt.Sprintf("%d-%s", s.now().UTC().Unix(), originalName),
		OriginalName: originalName,
		FileType:     fileType,
		Content:      content,
		UploadedBy:   userID,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		return Document{}, err
	}
	return document, nil
}

// List returns document summaries newest-first, joined with uploader names.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	err := s.db.WithContext(ctx).
		Table("documents").
		Select("documents.id, documents.original_name, documents.file_type, documents.uploaded_by, users.username AS uploader_name, documents.annotation_count, documents.created_at").
		Joins("LEFT JOIN users ON users.id = documents.uploaded_by").
		Order("documents.created_at DESC").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// Get returns the full document record, including its extracted content.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	var document Document
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Document{}, err
	}
	return document, nil
}
