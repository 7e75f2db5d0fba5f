package annotations

import (
	"fmt"
	"strings"
	"time"
)

// Annotation models one annotated span of a document. Username and UserColor
// are snapshots of the annotating user at creation time and are never
// re-synced. The composite unique index on (document_id, user_id, range_hash)
// is the sole duplicate-prevention mechanism; application code never
// pre-checks for duplicates.
type Annotation struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	DocumentID   string    `gorm:"column:document_id;size:190;not null;index:idx_annotations_document;uniqueIndex:idx_annotations_range,priority:1" json:"documentId"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_annotations_range,priority:2" json:"userId"`
	Username     string    `gorm:"column:username;size:190;not null" json:"username"`
	UserColor    string    `gorm:"column:user_color;size:16;not null" json:"userColor"`
	SelectedText string    `gorm:"column:selected_text;type:text;not null" json:"selectedText"`
	Comment      string    `gorm:"column:comment;type:text;not null" json:"comment"`
	StartIndex   int       `gorm:"column:start_index;not null" json:"startIndex"`
	EndIndex     int       `gorm:"column:end_index;not null" json:"endIndex"`
	RangeHash    string    `gorm:"column:range_hash;size:64;not null;uniqueIndex:idx_annotations_range,priority:3" json:"rangeHash"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// CreateRequest describes the input supplied by either ingestion path.
type CreateRequest struct {
	DocumentID   string
	UserID       string
	Username     string
	UserColor    string
	SelectedText string
	Comment      string
	StartIndex   int
	EndIndex     int
}

func (r CreateRequest) validate() error {
	for field, value := range map[string]string{
		"documentId":   r.DocumentID,
		"userId":       r.UserID,
		"username":     r.Username,
		"userColor":    r.UserColor,
		"selectedText": r.SelectedText,
		"comment":      r.Comment,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
		}
	}
	if r.StartIndex < 0 {
		return fmt.Errorf("%w: startIndex must be non-negative", ErrInvalidInput)
	}
	if r.EndIndex <= r.StartIndex {
		return fmt.Errorf("%w: endIndex must exceed startIndex", ErrInvalidInput)
	}
	return nil
}
