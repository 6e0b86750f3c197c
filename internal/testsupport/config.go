package testsupport

import (
	"path/filepath"
	"testing"

	"batchvec/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Engine timings are shortened so dispatch loops finish in milliseconds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Paths.APIToken = ""
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Engine.SkipRetryMs = 5
	cfgVal.Engine.HandshakeAttempts = 3
	cfgVal.Engine.HandshakeBaseMs = 1
	cfgVal.Engine.HandshakeStepMs = 1
	cfgVal.Engine.HandshakeRetryMs = 20
	cfgVal.Engine.HandshakeRequeueLimit = 3
	cfgVal.Engine.DeliveryRetries = 2
	cfgVal.Engine.DeliveryRetryMs = 1
	cfgVal.Engine.NavigationTimeoutSeconds = 1
	cfgVal.Engine.NavigationSettleMs = 0
	cfgVal.Engine.RequestTimeoutSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithNtfyTopic points notifications at the given endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithAllowedOrigins restricts CORS and WebSocket origins.
func WithAllowedOrigins(origins ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.AllowedOrigins = append([]string(nil), origins...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
