package annotations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Store is the durable annotation collection. Its unique index is the
// serialization point for duplicate prevention: a losing concurrent insert is
// rejected by the storage layer, never by a pre-check in application code.
type Store struct {
	db *gorm.DB
}

// NewStore binds the store to a database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert persists the annotation. It fails with ErrDuplicateRange when an
// annotation with the same (document, user, range hash) triple exists.
func (s *Store) Insert(ctx context.Context, annotation Annotation) (Annotation, error) {
	if err := s.db.WithContext(ctx).Create(&annotation).Error; err != nil {
		if isUniqueViolation(err) {
			return Annotation{}, fmt.Errorf("%w: %s", ErrDuplicateRange, annotation.RangeHash)
		}
		return Annotation{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return annotation, nil
}

// DeleteByID removes the annotation and returns the deleted record, or fails
// with ErrNotFound.
func (s *Store) DeleteByID(ctx context.Context, id string) (Annotation, error) {
	var stored Annotation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&stored).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		result := tx.Where("id = ?", id).Delete(&Annotation{})
		if result.Error != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return Annotation{}, err
	}
	return stored, nil
}

// CountByDocument returns the authoritative annotation count for a document,
// independent of the cached ledger value.
func (s *Store) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&Annotation{}).
		Where("document_id = ?", documentID).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return total, nil
}

// ListByDocument returns annotations ordered newest-first. The id tiebreak
// keeps the ordering stable for records sharing a creation timestamp.
func (s *Store) ListByDocument(ctx context.Context, documentID string, offset, limit int) ([]Annotation, error) {
	var items []Annotation
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// The sqlite driver does not always translate constraint errors.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
