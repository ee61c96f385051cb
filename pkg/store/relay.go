package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// RecordRelay logs a relay callback outcome. Failures to persist are logged;
// the callback page is still served.
func (l *Ledger) RecordRelay(ctx context.Context, provider string, att *contracts.Attestation, err error) {
	var (
		requestID string
		attJSON   []byte
		errText   string
	)
	if att != nil {
		requestID = att.RequestID
		attJSON, _ = json.Marshal(att)
	}
	if err != nil {
		errText = attesterr.Describe(err)
	}
	if dbErr := l.exec(ctx,
		`INSERT INTO relay_events (event_id, provider, request_id, success, error, attestation_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), provider, requestID, err == nil, errText, string(attJSON), time.Now().UnixMilli(),
	); dbErr != nil {
		slog.Default().With("component", "store").ErrorContext(ctx, "failed to record relay event",
			"provider", provider, "request_id", requestID, "error", dbErr)
	}
}

// RelayEvent is a stored relay callback.
type RelayEvent struct {
	EventID    string
	Provider   string
	RequestID  string
	Success    bool
	Error      string
	RecordedAt time.Time
}

// ListRelayEvents returns the newest events first.
func (l *Ledger) ListRelayEvents(ctx context.Context, limit int) ([]RelayEvent, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		`SELECT event_id, provider, request_id, success, error, recorded_at
		 FROM relay_events ORDER BY recorded_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RelayEvent
	for rows.Next() {
		var (
			ev RelayEvent
			at int64
		)
		if err := rows.Scan(&ev.EventID, &ev.Provider, &ev.RequestID, &ev.Success, &ev.Error, &at); err != nil {
			return nil, err
		}
		ev.RecordedAt = time.UnixMilli(at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
