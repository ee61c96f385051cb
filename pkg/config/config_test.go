package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attestgate/pkg/artifacts"
	"github.com/Mindburn-Labs/attestgate/pkg/config"
	"github.com/Mindburn-Labs/attestgate/pkg/executor"
	"github.com/Mindburn-Labs/attestgate/pkg/policy"
)

// TestLoad_Defaults verifies the server boots in lite mode with no env set.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "DATABASE_URL", "DATA_DIR", "APP_ID", "APP_SECRET",
		"PUBLIC_ORIGIN", "CORS_ORIGINS", "SIGN_RPM", "MAX_REQUEST_AGE", "OTEL_ENABLED", "ARTIFACT_STORE"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.True(t, cfg.LiteMode())
	assert.False(t, cfg.SignerConfigured())
	assert.Equal(t, 60, cfg.SignRPM)
	assert.Equal(t, 10*time.Minute, cfg.MaxRequestAge)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.CORSOrigins)
	assert.Equal(t, artifacts.StoreTypeFS, cfg.Artifacts.Type)
	assert.Equal(t, "data", cfg.Artifacts.DataDir)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://db:5432/attest")
	t.Setenv("APP_ID", "app-1")
	t.Setenv("APP_SECRET", "s3cret")
	t.Setenv("PUBLIC_ORIGIN", "https://app.example/")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example/")
	t.Setenv("SIGN_RPM", "5")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("MAX_REQUEST_AGE", "90s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("ARTIFACT_STORE", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "evidence")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.LiteMode())
	assert.True(t, cfg.SignerConfigured())
	assert.Equal(t, "https://app.example", cfg.PublicOrigin)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.SignRPM)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, 90*time.Second, cfg.MaxRequestAge)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, artifacts.StoreTypeS3, cfg.Artifacts.Type)
	assert.Equal(t, "evidence", cfg.Artifacts.S3Bucket)
}

func TestLoad_InvalidNumberFallsBack(t *testing.T) {
	t.Setenv("SIGN_RPM", "lots")
	t.Setenv("MAX_REQUEST_AGE", "soon")

	cfg := config.Load()
	assert.Equal(t, 60, cfg.SignRPM)
	assert.Equal(t, 10*time.Minute, cfg.MaxRequestAge)
}

const catalogYAML = `
fallback: "Something went wrong."
messages:
  "00002": "Timed out."
templates:
  - id: binance-kyc
    name: Binance KYC
    captures:
      - url: https://www.binance.com/bapi/kyc/v2/private/certificate/user-kyc/current-kyc-status
        method: POST
    policy:
      predicate: data.kycStatus == "APPROVED"
      fact: data.kycStatus
    errors:
      "00104": "Finish Binance KYC first."
  - id: gmail-owner
    name: Gmail ownership
    provider: google
`

func TestParseCatalog(t *testing.T) {
	c, err := config.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"binance-kyc", "gmail-owner"}, c.IDs())

	kyc, ok := c.Get("binance-kyc")
	require.True(t, ok)
	assert.False(t, kyc.Relay())
	require.Len(t, kyc.Captures, 1)
	assert.Equal(t, "POST", kyc.Captures[0].Method)

	gmail, ok := c.Get("gmail-owner")
	require.True(t, ok)
	assert.True(t, gmail.Relay())

	policies := c.Policies()
	assert.Len(t, policies, 1)
	assert.Equal(t, `data.kycStatus == "APPROVED"`, policies["binance-kyc"].Predicate)

	errs := c.ErrorCatalog()
	assert.Equal(t, "Finish Binance KYC first.", errs.Message("binance-kyc", executor.CodeKYCIncomplete))
	assert.Equal(t, executor.DefaultCatalog().Messages[executor.CodeKYCIncomplete], errs.Message("gmail-owner", executor.CodeKYCIncomplete))
	assert.Equal(t, "Timed out.", errs.Message("binance-kyc", "00002"))
	assert.Equal(t, "Something went wrong.", errs.Message("binance-kyc", "99999"))
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "templates:\n  - name: x\n"},
		{"duplicate id", "templates:\n  - id: a\n  - id: a\n"},
		{"capture without method", "templates:\n  - id: a\n    captures:\n      - url: https://x\n"},
		{"not yaml", "templates: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0600))

	c, err := config.LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Templates, 2)

	_, err = config.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadCatalog_ShippedTemplatesCompile(t *testing.T) {
	c, err := config.LoadCatalog(filepath.Join("..", "..", "configs", "templates.yaml"))
	require.NoError(t, err)

	gmail, ok := c.Get("gmail-ownership")
	require.True(t, ok)
	assert.Equal(t, "google", gmail.Provider)

	_, err = policy.NewEngine(c.Policies())
	require.NoError(t, err)
}
