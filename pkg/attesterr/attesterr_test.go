package attesterr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesSentinelByKindAndCode(t *testing.T) {
	err := attesterr.ErrExtensionNotDetected.WithDetail("window.primus undefined", nil)

	assert.True(t, errors.Is(err, attesterr.ErrExtensionNotDetected))
	assert.False(t, errors.Is(err, attesterr.ErrPopupBlocked))
	assert.True(t, errors.Is(err, &attesterr.Error{Kind: attesterr.KindExecutor}), "empty code matches any executor error")
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("execute: %w", attesterr.ErrPopupBlocked)

	assert.True(t, errors.Is(err, attesterr.ErrPopupBlocked))
	assert.Equal(t, attesterr.KindExecutor, attesterr.KindOf(err))
	assert.Equal(t, attesterr.ErrPopupBlocked.Message, attesterr.Message(err))
}

func TestClassification(t *testing.T) {
	assert.False(t, attesterr.ErrSignerNotConfigured.Retryable())
	assert.True(t, attesterr.Signer("network down", nil).Retryable())
	assert.True(t, attesterr.ErrVerificationFailed.Retryable())
}

func TestMessage_ForeignError(t *testing.T) {
	assert.Equal(t, "boom", attesterr.Message(errors.New("boom")))
	assert.Equal(t, "", attesterr.Message(nil))
	assert.Equal(t, attesterr.Kind(""), attesterr.KindOf(errors.New("boom")))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := attesterr.Signer("signer unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "dial tcp: refused", err.Detail)
	assert.Contains(t, attesterr.Describe(err), "SIGNER")
}
