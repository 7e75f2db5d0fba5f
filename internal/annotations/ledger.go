package annotations

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/marginalia/internal/documents"
	"gorm.io/gorm"
)

// Ledger maintains the cached per-document annotation counter. Every
// adjustment is a single atomic SQL expression; the counter is never read,
// modified, and written back in application memory, so concurrent creates
// cannot lose increments.
type Ledger struct {
	db *gorm.DB
}

// NewLedger binds the ledger to a database handle.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Increment adds one to the document's annotation counter.
func (l *Ledger) Increment(ctx context.Context, documentID string) error {
	return l.adjust(ctx, documentID, gorm.Expr("annotation_count + 1"))
}

// Decrement subtracts one from the document's annotation counter, clamping at
// zero so a drifted counter cannot go negative.
func (l *Ledger) Decrement(ctx context.Context, documentID string) error {
	return l.adjust(ctx, documentID, gorm.Expr("MAX(annotation_count - 1, 0)"))
}

// Reconcile overwrites the counter with the authoritative store count,
// repairing drift left behind by a partial failure.
func (l *Ledger) Reconcile(ctx context.Context, documentID string) error {
	return l.adjust(ctx, documentID, gorm.Expr(
		"(SELECT COUNT(*) FROM annotations WHERE annotations.document_id = documents.id)"))
}

func (l *Ledger) adjust(ctx context.Context, documentID string, expr interface{}) error {
	result := l.db.WithContext(ctx).
		Model(&documents.Document{}).
		Where("id = ?", documentID).
		UpdateColumn("annotation_count", expr)
	if result.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return nil
}
