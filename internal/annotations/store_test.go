package annotations

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func storedAnnotation(id, documentID, userID string, startIndex, endIndex int) Annotation {
	return Annotation{
		ID:           id,
		DocumentID:   documentID,
		UserID:       userID,
		Username:     "ada",
		UserColor:    "#FF5733",
		SelectedText: "selected",
		Comment:      "a comment",
		StartIndex:   startIndex,
		EndIndex:     endIndex,
		RangeHash:    RangeHash(documentID, userID, startIndex, endIndex),
	}
}

func TestInsertRejectsDuplicateTriple(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	ctx := context.Background()

	if _, err := store.Insert(ctx, storedAnnotation("a-1", "doc-1", "user-1", 10, 20)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err := store.Insert(ctx, storedAnnotation("a-2", "doc-1", "user-1", 10, 20))
	if !errors.Is(err, ErrDuplicateRange) {
		t.Fatalf("expected ErrDuplicateRange, got %v", err)
	}

	total, err := store.CountByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one stored record, got %d", total)
	}
}

func TestInsertAllowsSameRangeForDifferentUsers(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	ctx := context.Background()

	if _, err := store.Insert(ctx, storedAnnotation("a-1", "doc-1", "user-1", 10, 20)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := store.Insert(ctx, storedAnnotation("a-2", "doc-1", "user-2", 10, 20)); err != nil {
		t.Fatalf("second user insert failed: %v", err)
	}

	total, err := store.CountByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected two records, got %d", total)
	}
}

func TestDeleteByIDReturnsDeletedRecord(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	ctx := context.Background()

	inserted, err := store.Insert(ctx, storedAnnotation("a-1", "doc-1", "user-1", 10, 20))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	deleted, err := store.DeleteByID(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted.DocumentID != "doc-1" || deleted.RangeHash != inserted.RangeHash {
		t.Fatalf("unexpected deleted record: %#v", deleted)
	}

	if _, err := store.DeleteByID(ctx, inserted.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteByIDMissing(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	if _, err := store.DeleteByID(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByDocumentPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	ctx := context.Background()

	const total = 7
	for index := 0; index < total; index++ {
		annotation := storedAnnotation(
			fmt.Sprintf("a-%d", index), "doc-1", "user-1", index*10, index*10+5)
		if _, err := store.Insert(ctx, annotation); err != nil {
			t.Fatalf("insert %d failed: %v", index, err)
		}
	}
	// An annotation on another document must never leak into doc-1 pages.
	if _, err := store.Insert(ctx, storedAnnotation("other", "doc-2", "user-1", 0, 5)); err != nil {
		t.Fatalf("insert on second document failed: %v", err)
	}

	seen := make(map[string]bool)
	const pageSize = 3
	for offset := 0; offset < total; offset += pageSize {
		items, err := store.ListByDocument(ctx, "doc-1", offset, pageSize)
		if err != nil {
			t.Fatalf("list at offset %d failed: %v", offset, err)
		}
		for _, item := range items {
			if item.DocumentID != "doc-1" {
				t.Fatalf("foreign document leaked into page: %s", item.DocumentID)
			}
			if seen[item.ID] {
				t.Fatalf("annotation %s appeared twice across pages", item.ID)
			}
			seen[item.ID] = true
		}
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct annotations across pages, got %d", total, len(seen))
	}
}
