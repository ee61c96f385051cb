package store

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/api"
)

// IdempotencyStore persists replayable responses in the ledger database so
// replays survive restarts and are shared between replicas.
type IdempotencyStore struct {
	ledger *Ledger
	ttl    time.Duration
}

// Idempotency returns an api.IdempotencyStorer backed by the ledger.
func (l *Ledger) Idempotency(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{ledger: l, ttl: ttl}
}

func (s *IdempotencyStore) Check(ctx context.Context, key string) (*api.CachedResponse, bool) {
	var (
		status      int
		contentType string
		body        string
		cachedAt    int64
	)
	err := s.ledger.db.QueryRowContext(ctx, s.ledger.rebind(
		`SELECT status_code, content_type, body, cached_at FROM idempotency_keys WHERE key = ?`), key,
	).Scan(&status, &contentType, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	at := time.UnixMilli(cachedAt)
	if time.Since(at) > s.ttl {
		_ = s.ledger.exec(ctx, `DELETE FROM idempotency_keys WHERE key = ?`, key)
		return nil, false
	}

	hdr := make(http.Header)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	return &api.CachedResponse{StatusCode: status, Headers: hdr, Body: []byte(body), CachedAt: at}, true
}

func (s *IdempotencyStore) Set(ctx context.Context, key string, resp api.CachedResponse) {
	at := resp.CachedAt
	if at.IsZero() {
		at = time.Now()
	}
	err := s.ledger.exec(ctx,
		`INSERT INTO idempotency_keys (key, status_code, content_type, body, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET status_code = excluded.status_code,
		 content_type = excluded.content_type, body = excluded.body, cached_at = excluded.cached_at`,
		key, resp.StatusCode, resp.Headers.Get("Content-Type"), string(resp.Body), at.UnixMilli(),
	)
	if err != nil {
		slog.Default().With("component", "store").ErrorContext(ctx, "idempotency: failed to set key", "key", key, "error", err)
	}
}

// Cleanup removes expired keys.
func (s *IdempotencyStore) Cleanup(ctx context.Context) error {
	return s.ledger.exec(ctx, `DELETE FROM idempotency_keys WHERE cached_at < ?`, time.Now().Add(-s.ttl).UnixMilli())
}
