package ipc

import (
	"batchvec/internal/api"
	"batchvec/internal/engine"
	"batchvec/internal/settings"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and queue status information.
type StatusResponse = api.DaemonStatus

// QueueGetRequest fetches the full queue view.
type QueueGetRequest struct{}

// QueueGetResponse contains the queue view.
type QueueGetResponse struct {
	View engine.View `json:"view"`
}

// QueueAddRequest submits a new batch, replacing the current session.
type QueueAddRequest = api.AddRequest

// QueueAddResponse reports how many items were queued.
type QueueAddResponse = api.AddResponse

// QueueControlRequest carries no arguments; used for pause, resume and cancel.
type QueueControlRequest struct{}

// QueueControlResponse reports the session flags after the action.
type QueueControlResponse struct {
	IsPaused     bool `json:"is_paused"`
	IsProcessing bool `json:"is_processing"`
}

// QueueRetryRequest names the item to requeue.
type QueueRetryRequest struct {
	Name string `json:"name"`
}

// QueueRetryResponse confirms the retry.
type QueueRetryResponse struct {
	Retried bool `json:"retried"`
}

// ConfigGetRequest fetches durable settings.
type ConfigGetRequest struct{}

// ConfigGetResponse contains durable settings.
type ConfigGetResponse struct {
	Settings           settings.Settings `json:"settings"`
	SupportedLanguages []string          `json:"supported_languages"`
}

// ConfigSetRequest is a partial settings update.
type ConfigSetRequest = api.ConfigPatch

// ConfigSetResponse returns the settings after the update.
type ConfigSetResponse struct {
	Settings settings.Settings `json:"settings"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Accepted bool `json:"accepted"`
}
