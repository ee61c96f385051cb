package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attestgate/pkg/artifacts"
	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/session"
)

// EvidenceArchive keeps verified attestations. *artifacts.Archive satisfies it.
type EvidenceArchive interface {
	PutAttestation(ctx context.Context, ev artifacts.AttestationEvidence) (string, error)
}

// Attempt is a stored session outcome.
type Attempt struct {
	AttemptID      string
	RequestID      string
	AppID          string
	TemplateID     string
	SubjectAddress string
	Status         session.Status
	ErrorKind      string
	ErrorCode      string
	ErrorMessage   string
	SubjectID      string
	Fact           string
	EvidenceRef    string
	RecordedAt     time.Time
}

// RecordOutcome stores a session outcome. Verified outcomes are archived
// first when an archive is attached.
func (l *Ledger) RecordOutcome(ctx context.Context, o session.Outcome) error {
	a := Attempt{
		AttemptID:      uuid.NewString(),
		RequestID:      o.RequestID,
		AppID:          o.AppID,
		TemplateID:     o.TemplateID,
		SubjectAddress: o.SubjectAddress,
		Status:         o.Status,
		RecordedAt:     o.At,
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}
	if o.Result != nil {
		a.SubjectID = o.Result.SubjectID
		a.Fact = o.Result.Fact
	}
	if o.Err != nil {
		a.ErrorKind = string(attesterr.KindOf(o.Err))
		a.ErrorMessage = attesterr.Message(o.Err)
		var ae *attesterr.Error
		if errors.As(o.Err, &ae) {
			a.ErrorCode = ae.Code
		}
	}

	if l.archive != nil && o.Status == session.StatusVerified && o.Signed != nil && o.Attestation != nil {
		ref, err := l.archive.PutAttestation(ctx, artifacts.AttestationEvidence{
			Signed:      o.Signed,
			Attestation: o.Attestation,
			SubjectID:   a.SubjectID,
			Fact:        a.Fact,
		})
		if err != nil {
			return fmt.Errorf("failed to archive evidence: %w", err)
		}
		a.EvidenceRef = ref
	}

	err := l.exec(ctx,
		`INSERT INTO attempts (attempt_id, request_id, app_id, template_id, subject_address, status,
		 error_kind, error_code, error_message, subject_id, fact, evidence_ref, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AttemptID, a.RequestID, a.AppID, a.TemplateID, a.SubjectAddress, string(a.Status),
		a.ErrorKind, a.ErrorCode, a.ErrorMessage, a.SubjectID, a.Fact, a.EvidenceRef, a.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

const attemptColumns = `attempt_id, request_id, app_id, template_id, subject_address, status,
	error_kind, error_code, error_message, subject_id, fact, evidence_ref, recorded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (*Attempt, error) {
	var (
		a      Attempt
		status string
		at     int64
	)
	if err := s.Scan(&a.AttemptID, &a.RequestID, &a.AppID, &a.TemplateID, &a.SubjectAddress, &status,
		&a.ErrorKind, &a.ErrorCode, &a.ErrorMessage, &a.SubjectID, &a.Fact, &a.EvidenceRef, &at); err != nil {
		return nil, err
	}
	a.Status = session.Status(status)
	a.RecordedAt = time.UnixMilli(at).UTC()
	return &a, nil
}

// ListAttempts returns the newest attempts first.
func (l *Ledger) ListAttempts(ctx context.Context, limit int) ([]*Attempt, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		`SELECT `+attemptColumns+` FROM attempts ORDER BY recorded_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttemptsForRequest returns every attempt recorded for requestID.
func (l *Ledger) AttemptsForRequest(ctx context.Context, requestID string) ([]*Attempt, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		`SELECT `+attemptColumns+` FROM attempts WHERE request_id = ? ORDER BY recorded_at`), requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
