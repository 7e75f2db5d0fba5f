// Package cache holds Redis-backed read caches. Cached values are
// non-authoritative: consistency-sensitive reads always go to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/documents"
	redis "github.com/redis/go-redis/v9"
)

const (
	documentIndexKey = "documents:index"
	defaultTTL       = 30 * time.Second
)

func documentKey(id string) string {
	return "document:" + id
}

// DocumentCache caches document records and the document index. A miss is
// reported as a nil value, not an error.
type DocumentCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDocumentCache binds the cache to a redis client. A non-positive ttl
// falls back to the default.
func NewDocumentCache(client *redis.Client, ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DocumentCache{client: client, ttl: ttl}
}

// GetDocument returns the cached document record, or nil on a miss.
func (c *DocumentCache) GetDocument(ctx context.Context, id string) (*documents.Document, error) {
	raw, err := c.client.Get(ctx, documentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	document := &documents.Document{}
	if err := json.Unmarshal(raw, document); err != nil {
		return nil, err
	}
	return document, nil
}

// SetDocument caches the document record.
func (c *DocumentCache) SetDocument(ctx context.Context, document documents.Document) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, documentKey(document.ID), raw, c.ttl).Err()
}

// GetIndex returns the cached document listing, or nil on a miss.
func (c *DocumentCache) GetIndex(ctx context.Context) ([]documents.Summary, error) {
	raw, err := c.client.Get(ctx, documentIndexKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summaries []documents.Summary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []documents.Summary{}
	}
	return summaries, nil
}

// SetIndex caches the document listing.
func (c *DocumentCache) SetIndex(ctx context.Context, summaries []documents.Summary) error {
	if summaries == nil {
		summaries = []documents.Summary{}
	}
	raw, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, documentIndexKey, raw, c.ttl).Err()
}

// Invalidate drops the document's cached record and the index after a
// counted change.
func (c *DocumentCache) Invalidate(ctx context.Context, documentID string) error {
	return c.client.Del(ctx, documentKey(documentID), documentIndexKey).Err()
}
