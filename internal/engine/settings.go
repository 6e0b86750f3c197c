package engine

import (
	"context"

	"batchvec/internal/logging"
	"batchvec/internal/settings"
)

func (e *Engine) updateSettings(ctx context.Context, mutate func(*settings.Settings)) settings.Settings {
	e.mu.Lock()
	next := e.settings
	mutate(&next)
	next = next.Normalize()
	e.settings = next
	var fx effects
	e.broadcastLocked(&fx)
	e.mu.Unlock()

	if e.store != nil {
		if _, err := settings.Save(context.WithoutCancel(ctx), e.store, next); err != nil {
			logging.WarnWithContext(e.logger, "save settings failed", "persist_failed",
				logging.String("key", settings.Key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "setting reverts after a daemon restart"),
			)
		}
	}
	e.run(ctx, fx)
	return next
}

// SetDelay sets the per-item delay in seconds.
func (e *Engine) SetDelay(ctx context.Context, seconds float64) settings.Settings {
	return e.updateSettings(ctx, func(s *settings.Settings) { s.DelaySeconds = seconds })
}

// SetFormat selects the output format.
func (e *Engine) SetFormat(ctx context.Context, value string) (settings.Settings, error) {
	format, err := settings.ParseFormat(value)
	if err != nil {
		return e.Config(), err
	}
	return e.updateSettings(ctx, func(s *settings.Settings) { s.Format = format }), nil
}

// SetFolder sets the download subfolder. The input is sanitized.
func (e *Engine) SetFolder(ctx context.Context, folder string) settings.Settings {
	return e.updateSettings(ctx, func(s *settings.Settings) { s.Folder = folder })
}

func (e *Engine) SetRemoveBackground(ctx context.Context, enabled bool) settings.Settings {
	return e.updateSettings(ctx, func(s *settings.Settings) { s.RemoveBackground = enabled })
}

// SetAutoPause replaces the auto-pause policy.
func (e *Engine) SetAutoPause(ctx context.Context, policy settings.AutoPausePolicy) settings.Settings {
	return e.updateSettings(ctx, func(s *settings.Settings) { s.AutoPause = policy })
}

// SetLanguage sets the language used to pick the site subdomain for new
// worker tabs.
func (e *Engine) SetLanguage(ctx context.Context, lang string) settings.Settings {
	return e.updateSettings(ctx, func(s *settings.Settings) { s.Language = lang })
}
