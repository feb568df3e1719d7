package api

import (
	"context"
	"encoding/json"

	"github.com/ashureev/eventsync/internal/cache"
	"github.com/ashureev/eventsync/internal/domain"
)

// CacheReader serves sessions and messages from the resource cache.
type CacheReader struct {
	Cache *cache.Cache
}

// Sessions implements Reader.
func (c CacheReader) Sessions(ctx context.Context) ([]domain.Session, error) {
	return cache.Load[[]domain.Session](ctx, c.Cache, cache.Key{Kind: cache.KindSessions})
}

// Messages implements Reader.
func (c CacheReader) Messages(ctx context.Context, sessionID string) ([]json.RawMessage, error) {
	return cache.Load[[]json.RawMessage](ctx, c.Cache, cache.Key{Kind: cache.KindMessages, SessionID: sessionID})
}
