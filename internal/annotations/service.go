package annotations

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("annotation store is required")
	errMissingLedger     = errors.New("count ledger is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "annotations.service.new"
	opCreate     = "annotations.create"
	opDelete     = "annotations.delete"
	opListPage   = "annotations.list_page"
)

// CountLedger is the cached per-document counter mutated alongside the store.
type CountLedger interface {
	Increment(ctx context.Context, documentID string) error
	Decrement(ctx context.Context, documentID string) error
	Reconcile(ctx context.Context, documentID string) error
}

// Broadcaster fans confirmed state changes out to a document's room.
// Publishes are best-effort and must not block.
type Broadcaster interface {
	PublishCreated(documentID string, annotation Annotation)
	PublishDeleted(documentID, annotationID string)
}

// Invalidator drops cached document summaries after a counted change.
type Invalidator interface {
	Invalidate(ctx context.Context, documentID string) error
}

// IDProvider issues identifiers for newly created annotations.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the annotation use case.
type ServiceConfig struct {
	Store       *Store
	Ledger      CountLedger
	Broadcaster Broadcaster
	Cache       Invalidator
	IDProvider  IDProvider
	Logger      *zap.Logger
}

// Service is the single consistency-enforcing mutation path for annotations.
// Both ingestion transports route through it; neither touches the store,
// ledger, or cache directly.
type Service struct {
	store       *Store
	ledger      CountLedger
	broadcaster Broadcaster
	cache       Invalidator
	idProvider  IDProvider
	logger      *zap.Logger
}

// NewService constructs the annotation use case.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingStore)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingLedger)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &Service{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		broadcaster: broadcaster,
		cache:       cfg.Cache,
		idProvider:  cfg.IDProvider,
		logger:      logger,
	}, nil
}

// Create validates the request, enforces range uniqueness through the store,
// adjusts the ledger, and broadcasts the stored record to the document's
// room. When the ledger step fails after a successful insert the annotation
// is kept, the broadcast still goes out, and the drift is reported to the
// caller as ErrCountDrift alongside the stored record.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Annotation, error) {
	if err := request.validate(); err != nil {
		return Annotation{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Annotation{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	annotation := Annotation{
		ID:           id,
		DocumentID:   request.DocumentID,
		UserID:       request.UserID,
		Username:     request.Username,
		UserColor:    request.UserColor,
		SelectedText: request.SelectedText,
		Comment:      request.Comment,
		StartIndex:   request.StartIndex,
		EndIndex:     request.EndIndex,
		RangeHash:    RangeHash(request.DocumentID, request.UserID, request.StartIndex, request.EndIndex),
	}

	stored, err := s.store.Insert(ctx, annotation)
	if err != nil {
		if !errors.Is(err, ErrDuplicateRange) {
			s.logError(opCreate, "insert_failed", err,
				zap.String("document_id", request.DocumentID),
				zap.String("user_id", request.UserID))
		}
		return Annotation{}, err
	}

	driftErr := s.ledger.Increment(ctx, stored.DocumentID)
	if driftErr != nil {
		s.logError(opCreate, "ledger_increment_failed", driftErr,
			zap.String("document_id", stored.DocumentID),
			zap.String("annotation_id", stored.ID))
	}

	s.invalidate(ctx, opCreate, stored.DocumentID)
	s.broadcaster.PublishCreated(stored.DocumentID, stored)

	if driftErr != nil {
		return stored, fmt.Errorf("%w: %v", ErrCountDrift, driftErr)
	}
	return stored, nil
}

// Delete removes the annotation, adjusts the ledger with the same drift
// tolerance as Create, and broadcasts the deletion to the document's room.
func (s *Service) Delete(ctx context.Context, annotationID string) error {
	if annotationID == "" {
		return fmt.Errorf("%w: annotationId is required", ErrInvalidInput)
	}

	stored, err := s.store.DeleteByID(ctx, annotationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logError(opDelete, "delete_failed", err, zap.String("annotation_id", annotationID))
		}
		return err
	}

	driftErr := s.ledger.Decrement(ctx, stored.DocumentID)
	if driftErr != nil {
		s.logError(opDelete, "ledger_decrement_failed", driftErr,
			zap.String("document_id", stored.DocumentID),
			zap.String("annotation_id", annotationID))
	}

	s.invalidate(ctx, opDelete, stored.DocumentID)
	s.broadcaster.PublishDeleted(stored.DocumentID, stored.ID)

	if driftErr != nil {
		return fmt.Errorf("%w: %v", ErrCountDrift, driftErr)
	}
	return nil
}

// Reconcile recomputes the document's counter from the authoritative store
// count, repairing any drift.
func (s *Service) Reconcile(ctx context.Context, documentID string) error {
	return s.ledger.Reconcile(ctx, documentID)
}

func (s *Service) invalidate(ctx context.Context, operation, documentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, documentID); err != nil {
		s.logger.Warn("document cache invalidation failed",
			zap.String("operation", operation),
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("annotations service error", attrs...)
}

type nopBroadcaster struct{}

func (nopBroadcaster) PublishCreated(string, Annotation) {}
func (nopBroadcaster) PublishDeleted(string, string)     {}
