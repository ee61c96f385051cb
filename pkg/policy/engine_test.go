package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

const kycTemplate = "9859330b-b94f-47a4-8f13-0ca56dabe273"

func kycAttestation(status string) *contracts.Attestation {
	return &contracts.Attestation{
		VerificationContent: "Binance KYC Verification",
		DataSourceID:        "binance",
		Data:                `{"userId":"u-42","kycStatus":"` + status + `"}`,
	}
}

func TestEvaluate_PredicateAndExtraction(t *testing.T) {
	e, err := NewEngine(map[string]TemplatePolicy{
		kycTemplate: {
			Predicate: `attestation.dataSourceId == "binance" && data.kycStatus == "APPROVED"`,
			Subject:   `"binance:" + data.userId`,
		},
	})
	require.NoError(t, err)

	d, err := e.Evaluate(context.Background(), kycTemplate, kycAttestation("APPROVED"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "binance:u-42", d.Result.SubjectID)
	assert.Equal(t, "APPROVED", d.Result.Fact)

	d, err = e.Evaluate(context.Background(), kycTemplate, kycAttestation("PENDING"))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)
}

func TestEvaluate_UnknownTemplateAllows(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	d, err := e.Evaluate(context.Background(), "other", kycAttestation("APPROVED"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "u-42", d.Result.SubjectID)
}

func TestEvaluate_Errors(t *testing.T) {
	e, err := NewEngine(map[string]TemplatePolicy{
		"num":     {Predicate: `1 + 1`},
		"subject": {Subject: `1`},
		"missing": {Predicate: `data.nope == "x"`},
	})
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "num", kycAttestation("APPROVED"))
	assert.Error(t, err)
	_, err = e.Evaluate(context.Background(), "subject", kycAttestation("APPROVED"))
	assert.Error(t, err)
	_, err = e.Evaluate(context.Background(), "missing", kycAttestation("APPROVED"))
	assert.Error(t, err)
	_, err = e.Evaluate(context.Background(), "num", nil)
	assert.Error(t, err)
}

func TestNewEngine_RejectsBadExpression(t *testing.T) {
	_, err := NewEngine(map[string]TemplatePolicy{"bad": {Predicate: `attestation.(`}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template bad")
}

func TestDefaultResult(t *testing.T) {
	tests := []struct {
		name    string
		att     *contracts.Attestation
		subject string
		fact    string
	}{
		{"data fields", kycAttestation("APPROVED"), "u-42", "APPROVED"},
		{"verification value object", &contracts.Attestation{
			VerificationContent: "Binance KYC Verification",
			VerificationValue:   map[string]any{"userId": "sampleUserId", "kycStatus": "APPROVED"},
		}, "sampleUserId", "APPROVED"},
		{"verification value string", &contracts.Attestation{
			VerificationContent: "Account ownership",
			VerificationValue:   "alice@example.com",
		}, "alice@example.com", "Account ownership"},
		{"nothing", &contracts.Attestation{}, UnknownSubject, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DefaultResult(tt.att)
			assert.Equal(t, tt.subject, res.SubjectID)
			assert.Equal(t, tt.fact, res.Fact)
		})
	}
}
