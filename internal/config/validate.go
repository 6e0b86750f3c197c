package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateSite(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	for _, origin := range c.Paths.AllowedOrigins {
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("paths.allowed_origins entry %q must be an absolute origin", origin)
		}
	}
	return nil
}

func (c *Config) validateSite() error {
	if strings.ContainsAny(c.Site.Host, "/:") {
		return errors.New("site.host must be a bare host name")
	}
	if !strings.HasPrefix(c.Site.ResultMarker, "/") {
		return errors.New("site.result_marker must start with '/'")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.handshake_attempts":         c.Engine.HandshakeAttempts,
		"engine.handshake_requeue_limit":    c.Engine.HandshakeRequeueLimit,
		"engine.navigation_timeout_seconds": c.Engine.NavigationTimeoutSeconds,
		"engine.snapshot_max_age_minutes":   c.Engine.SnapshotMaxAgeMinutes,
		"engine.request_timeout_seconds":    c.Engine.RequestTimeoutSeconds,
	}); err != nil {
		return err
	}
	if err := ensureNonNegativeMap(map[string]int{
		"engine.skip_retry_ms":              c.Engine.SkipRetryMs,
		"engine.handshake_base_ms":          c.Engine.HandshakeBaseMs,
		"engine.handshake_step_ms":          c.Engine.HandshakeStepMs,
		"engine.handshake_retry_ms":         c.Engine.HandshakeRetryMs,
		"engine.delivery_retries":           c.Engine.DeliveryRetries,
		"engine.delivery_retry_ms":          c.Engine.DeliveryRetryMs,
		"engine.navigation_settle_ms":       c.Engine.NavigationSettleMs,
		"engine.keepalive_floor_seconds":    c.Engine.KeepAliveFloorSeconds,
		"engine.keepalive_overhead_seconds": c.Engine.KeepAliveOverheadSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("notifications.ntfy_topic must be an http(s) URL")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
