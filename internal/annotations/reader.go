package annotations

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Page is one stable slice of a document's annotations. Total and TotalPages
// derive from the authoritative store count, never from the cached ledger
// value on the document record.
type Page struct {
	Items      []Annotation `json:"annotations"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
}

// ListPage returns the requested page of a document's annotations,
// newest-first. Pages are numbered from 1.
func (s *Service) ListPage(ctx context.Context, documentID string, page, pageSize int) (Page, error) {
	if documentID == "" {
		return Page{}, fmt.Errorf("%w: documentId is required", ErrInvalidInput)
	}
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be at least 1", ErrInvalidInput)
	}
	if pageSize < 1 {
		return Page{}, fmt.Errorf("%w: pageSize must be at least 1", ErrInvalidInput)
	}

	total, err := s.store.CountByDocument(ctx, documentID)
	if err != nil {
		s.logError(opListPage, "count_failed", err, zap.String("document_id", documentID))
		return Page{}, err
	}
	items, err := s.store.ListByDocument(ctx, documentID, (page-1)*pageSize, pageSize)
	if err != nil {
		s.logError(opListPage, "query_failed", err, zap.String("document_id", documentID))
		return Page{}, err
	}

	if items == nil {
		items = []Annotation{}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Page{
		Items:      items,
		Total:      total,
		Page:       page,
		TotalPages: totalPages,
	}, nil
}
