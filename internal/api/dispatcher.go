package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"batchvec/internal/downloads"
	"batchvec/internal/engine"
	"batchvec/internal/logging"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

// Engine is the queue engine surface the dispatcher drives.
type Engine interface {
	Submit(ctx context.Context, items []queue.Item) error
	Snapshot() engine.View
	Pause(ctx context.Context)
	Resume(ctx context.Context)
	Cancel(ctx context.Context)
	Retry(ctx context.Context, name string) error
	Interstitial(ctx context.Context, name string) error
	HandleResult(ctx context.Context, result engine.Result)
	Config() settings.Settings
	SetDelay(ctx context.Context, seconds float64) settings.Settings
	SetFormat(ctx context.Context, value string) (settings.Settings, error)
	SetFolder(ctx context.Context, folder string) settings.Settings
	SetRemoveBackground(ctx context.Context, enabled bool) settings.Settings
	SetAutoPause(ctx context.Context, policy settings.AutoPausePolicy) settings.Settings
	SetLanguage(ctx context.Context, lang string) settings.Settings
	SuggestFilename(downloadURL, suggested string) downloads.Decision
	KeepAlive() string
}

// Dispatcher routes typed messages to the engine.
type Dispatcher struct {
	engine Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher constructs a dispatcher around eng.
func NewDispatcher(eng Engine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine: eng,
		logger: logging.NewComponentLogger(logger, "dispatch"),
		now:    time.Now,
	}
}

// Handle processes one message and returns the reply payload.
func (d *Dispatcher) Handle(ctx context.Context, msgType string, data json.RawMessage) (any, error) {
	logging.WithContext(ctx, d.logger).Debug("message received", logging.String("type", msgType))
	switch msgType {
	case MsgQueueAdd:
		var req AddRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.Add(ctx, req)
	case MsgQueueGet:
		return d.engine.Snapshot(), nil
	case MsgQueuePause:
		d.engine.Pause(ctx)
		return PauseResponse{IsPaused: d.engine.Snapshot().IsPaused}, nil
	case MsgQueueResume:
		d.engine.Resume(ctx)
		return PauseResponse{IsPaused: d.engine.Snapshot().IsPaused}, nil
	case MsgQueueCancel:
		d.engine.Cancel(ctx)
		return d.engine.Snapshot(), nil

	case MsgConfigGet:
		return NewConfigResponse(d.engine.Config()), nil
	case MsgConfigSetDelay:
		var req SetDelayRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SetDelay(ctx, req.Seconds), nil
	case MsgConfigSetFormat:
		var req SetFormatRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SetFormat(ctx, req.Format)
	case MsgConfigSetFolder:
		var req SetFolderRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SetFolder(ctx, req.Folder), nil
	case MsgConfigSetRemoveBackground:
		var req SetRemoveBackgroundRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SetRemoveBackground(ctx, req.RemoveBackground), nil
	case MsgConfigSetAutoPause:
		var req SetAutoPauseRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SetAutoPause(ctx, req.AutoPause.Policy()), nil
	case MsgConfigSetLanguage:
		var req SetLanguageRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SetLanguage(ctx, req.Language), nil

	case MsgResult:
		var req ResultRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		d.engine.HandleResult(ctx, req.Result)
		return ResultAck{Received: true, Timestamp: d.now().UnixMilli()}, nil
	case MsgRetry:
		var req NameRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, d.engine.Retry(ctx, req.Name)
	case MsgInterstitial:
		var req NameRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, d.engine.Interstitial(ctx, req.Name)
	case MsgKeepAlive:
		return KeepAliveResponse{Status: d.engine.KeepAlive()}, nil
	case MsgSuggest:
		var req SuggestRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return d.engine.SuggestFilename(req.URL, req.Filename), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msgType)
	}
}

// Add submits a batch and reports how many items were queued.
func (d *Dispatcher) Add(ctx context.Context, req AddRequest) (AddResponse, error) {
	items := ToQueueItems(req)
	if err := d.engine.Submit(ctx, items); err != nil {
		return AddResponse{}, err
	}
	return AddResponse{Accepted: len(items)}, nil
}

// ApplyConfig applies every set field of patch and returns the resulting
// settings. Fields are applied in a fixed order and the first error stops the
// update.
func (d *Dispatcher) ApplyConfig(ctx context.Context, patch ConfigPatch) (settings.Settings, error) {
	current := d.engine.Config()
	if patch.Format != nil {
		updated, err := d.engine.SetFormat(ctx, *patch.Format)
		if err != nil {
			return current, err
		}
		current = updated
	}
	if patch.DelaySeconds != nil {
		current = d.engine.SetDelay(ctx, *patch.DelaySeconds)
	}
	if patch.Folder != nil {
		current = d.engine.SetFolder(ctx, *patch.Folder)
	}
	if patch.RemoveBackground != nil {
		current = d.engine.SetRemoveBackground(ctx, *patch.RemoveBackground)
	}
	if patch.AutoPause != nil {
		current = d.engine.SetAutoPause(ctx, patch.AutoPause.Policy())
	}
	if patch.Language != nil {
		current = d.engine.SetLanguage(ctx, *patch.Language)
	}
	return current, nil
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
