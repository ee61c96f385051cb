package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/artifacts"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string // empty selects SQLite in DataDir
	DataDir     string

	AppID        string
	AppSecret    string
	PublicOrigin string
	CORSOrigins  []string

	GoogleClientID     string
	GoogleClientSecret string

	RedisAddr     string
	RedisPassword string

	TemplatesFile       string
	ExtensionID         string
	ExtensionConstraint string

	RateLimitRPS   float64
	RateLimitBurst int
	SignRPM        int
	MaxRequestAge  time.Duration
	IdempotencyTTL time.Duration

	OTelEnabled  bool
	OTelEndpoint string

	Artifacts artifacts.Config
}

// Load loads configuration from environment variables.
func Load() *Config {
	origin := strings.TrimRight(getenv("PUBLIC_ORIGIN", "http://localhost:8080"), "/")
	dataDir := getenv("DATA_DIR", "data")

	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		LogLevel:    strings.ToUpper(getenv("LOG_LEVEL", "INFO")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DataDir:     dataDir,

		AppID:        os.Getenv("APP_ID"),
		AppSecret:    os.Getenv("APP_SECRET"),
		PublicOrigin: origin,
		CORSOrigins:  splitList(getenv("CORS_ORIGINS", origin)),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		TemplatesFile:       os.Getenv("TEMPLATES_FILE"),
		ExtensionID:         os.Getenv("EXTENSION_ID"),
		ExtensionConstraint: os.Getenv("EXTENSION_VERSION_CONSTRAINT"),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 20),
		SignRPM:        getInt("SIGN_RPM", 60),
		MaxRequestAge:  getDuration("MAX_REQUEST_AGE", 10*time.Minute),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		Artifacts: artifacts.Config{
			Type:       artifacts.StoreType(getenv("ARTIFACT_STORE", string(artifacts.StoreTypeFS))),
			DataDir:    dataDir,
			S3Bucket:   os.Getenv("ARTIFACT_S3_BUCKET"),
			S3Region:   os.Getenv("ARTIFACT_S3_REGION"),
			S3Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			S3Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
			GCSBucket:  os.Getenv("ARTIFACT_GCS_BUCKET"),
			GCSPrefix:  os.Getenv("ARTIFACT_GCS_PREFIX"),
		},
	}
	return cfg
}

// LiteMode reports whether the ledger runs on SQLite.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

// SignerConfigured reports whether the signing service can start.
func (c *Config) SignerConfigured() bool { return c.AppID != "" && c.AppSecret != "" }

// GoogleConfigured reports whether the Google relay can be mounted.
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: invalid number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimRight(p, "/"))
		}
	}
	return out
}
