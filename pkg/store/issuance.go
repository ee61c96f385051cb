package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// RecordIssuance stores a signed request. Request ids are unique; reissuing
// one is an error.
func (l *Ledger) RecordIssuance(ctx context.Context, signed *contracts.SignedRequest) error {
	raw, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("failed to encode signed request: %w", err)
	}
	err = l.exec(ctx,
		`INSERT INTO issuances (request_id, app_id, template_id, subject_address, algorithm, signature, request_json, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		signed.RequestID, signed.AppID, signed.TemplateID, signed.SubjectAddress,
		string(signed.AlgorithmType), signed.Signature, string(raw), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert issuance: %w", err)
	}
	return nil
}

// GetIssuance returns the signed request issued under requestID.
func (l *Ledger) GetIssuance(ctx context.Context, requestID string) (*contracts.SignedRequest, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		l.rebind(`SELECT request_json FROM issuances WHERE request_id = ?`), requestID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issuance %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issuance: %w", err)
	}
	var signed contracts.SignedRequest
	if err := json.Unmarshal([]byte(raw), &signed); err != nil {
		return nil, fmt.Errorf("corrupt issuance %s: %w", requestID, err)
	}
	return &signed, nil
}
