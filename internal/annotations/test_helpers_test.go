package annotations

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/marginalia/internal/documents"
	"github.com/MarcoPoloResearchLab/marginalia/internal/identifier"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&documents.Document{}, &Annotation{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedDocument(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	document := documents.Document{
		ID:           id,
		Filename:     "0-" + id + ".txt",
		OriginalName: id + ".txt",
		FileType:     documents.FileTypeText,
		Content:      "seeded content for " + id,
		UploadedBy:   "uploader-1",
	}
	if err := db.Create(&document).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
}

func documentCount(t *testing.T, db *gorm.DB, id string) int64 {
	t.Helper()
	var document documents.Document
	if err := db.Where("id = ?", id).First(&document).Error; err != nil {
		t.Fatalf("failed to load document: %v", err)
	}
	return document.AnnotationCount
}

func validRequest(documentID, userID string) CreateRequest {
	return CreateRequest{
		DocumentID:   documentID,
		UserID:       userID,
		Username:     "ada",
		UserColor:    "#FF5733",
		SelectedText: "selected",
		Comment:      "a comment",
		StartIndex:   10,
		EndIndex:     20,
	}
}

// recordingBroadcaster captures publishes for assertions.
type recordingBroadcaster struct {
	mu      sync.Mutex
	created []Annotation
	deleted []string
}

func (b *recordingBroadcaster) PublishCreated(_ string, annotation Annotation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, annotation)
}

func (b *recordingBroadcaster) PublishDeleted(_ string, annotationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, annotationID)
}

// faultyLedger fails a configurable number of adjustments before delegating.
type faultyLedger struct {
	inner    CountLedger
	failures int
}

func (l *faultyLedger) Increment(ctx context.Context, documentID string) error {
	if l.failures > 0 {
		l.failures--
		return fmt.Errorf("%w: injected ledger failure", ErrUnavailable)
	}
	return l.inner.Increment(ctx, documentID)
}

func (l *faultyLedger) Decrement(ctx context.Context, documentID string) error {
	if l.failures > 0 {
		l.failures--
		return fmt.Errorf("%w: injected ledger failure", ErrUnavailable)
	}
	return l.inner.Decrement(ctx, documentID)
}

func (l *faultyLedger) Reconcile(ctx context.Context, documentID string) error {
	return l.inner.Reconcile(ctx, documentID)
}

func newTestService(t *testing.T, db *gorm.DB, ledger CountLedger, broadcaster Broadcaster) *Service {
	t.Helper()
	if ledger == nil {
		ledger = NewLedger(db)
	}
	service, err := NewService(ServiceConfig{
		Store:       NewStore(db),
		Ledger:      ledger,
		Broadcaster: broadcaster,
		IDProvider:  identifier.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}
