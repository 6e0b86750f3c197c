package api

import (
	"time"

	"batchvec/internal/engine"
	"batchvec/internal/settings"
)

// Message types handled by the Dispatcher.
const (
	MsgQueueAdd    = "queue:add"
	MsgQueueGet    = "queue:get"
	MsgQueuePause  = "queue:pause"
	MsgQueueResume = "queue:resume"
	MsgQueueCancel = "queue:cancel"

	MsgConfigGet                 = "config:get"
	MsgConfigSetDelay            = "config:setDelay"
	MsgConfigSetFormat           = "config:setFormat"
	MsgConfigSetFolder           = "config:setFolder"
	MsgConfigSetRemoveBackground = "config:setRemoveBackground"
	MsgConfigSetAutoPause        = "config:setAutoPause"
	MsgConfigSetLanguage         = "config:setLanguage"

	MsgResult       = "poc:done"
	MsgRetry        = "poc:retry"
	MsgInterstitial = "pricing:retry"
	MsgKeepAlive    = "keepAlive"
	MsgSuggest      = "downloads:suggest"
)

// AddItem is one file in a queue:add batch.
type AddItem struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   []byte `json:"data"`
}

// AddRequest is the queue:add payload.
type AddRequest struct {
	Items []AddItem `json:"items"`
}

// AddResponse reports how many items were accepted.
type AddResponse struct {
	Accepted int `json:"accepted"`
}

// PauseResponse mirrors the session's paused flag after pause or resume.
type PauseResponse struct {
	IsPaused bool `json:"isPaused"`
}

type SetDelayRequest struct {
	Seconds float64 `json:"seconds"`
}

type SetFormatRequest struct {
	Format string `json:"format"`
}

type SetFolderRequest struct {
	Folder string `json:"folder"`
}

type SetRemoveBackgroundRequest struct {
	RemoveBackground bool `json:"removeBackground"`
}

// AutoPauseInput accepts both the full policy and the popup's single
// "minutes" field, which sets the upper bound.
type AutoPauseInput struct {
	Enabled    bool `json:"enabled"`
	Count      int  `json:"count"`
	MinMinutes int  `json:"minMinutes"`
	MaxMinutes int  `json:"maxMinutes"`
	Minutes    int  `json:"minutes,omitempty"`
}

type SetAutoPauseRequest struct {
	AutoPause AutoPauseInput `json:"autoPause"`
}

type SetLanguageRequest struct {
	Language string `json:"language"`
}

// ConfigPatch is a partial settings update; nil fields are left alone.
type ConfigPatch struct {
	DelaySeconds     *float64        `json:"delaySeconds,omitempty"`
	Format           *string         `json:"format,omitempty"`
	Folder           *string         `json:"folder,omitempty"`
	RemoveBackground *bool           `json:"removeBackground,omitempty"`
	AutoPause        *AutoPauseInput `json:"autoPause,omitempty"`
	Language         *string         `json:"language,omitempty"`
}

// ResultRequest is the poc:done payload.
type ResultRequest struct {
	Result engine.Result `json:"result"`
}

// ResultAck is returned for poc:done.
type ResultAck struct {
	Received  bool  `json:"received"`
	Timestamp int64 `json:"timestamp"`
}

// NameRequest names one queue item (poc:retry, pricing:retry).
type NameRequest struct {
	Name string `json:"name"`
}

// KeepAliveResponse answers keepAlive pings.
type KeepAliveResponse struct {
	Status string `json:"status"`
}

// SuggestRequest asks for the filename of a finished download.
type SuggestRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// ConfigResponse wraps durable settings plus the languages the site offers.
type ConfigResponse struct {
	settings.Settings
	SupportedLanguages []string `json:"supportedLanguages"`
}

// QueueSummary condenses a queue view for status output.
type QueueSummary struct {
	Total            int            `json:"total"`
	Counts           map[string]int `json:"counts"`
	IsProcessing     bool           `json:"isProcessing"`
	IsPaused         bool           `json:"isPaused"`
	AutoPauseEndTime string         `json:"autoPauseEndTime,omitempty"`
	ProcessedCount   int            `json:"processedCount"`
}

// CheckStatus is one preflight result.
type CheckStatus struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running            bool          `json:"running"`
	PID                int           `json:"pid"`
	StartedAt          string        `json:"startedAt,omitempty"`
	DatabasePath       string        `json:"databasePath"`
	LockFilePath       string        `json:"lockFilePath"`
	APIBind            string        `json:"apiBind"`
	ExtensionConnected bool          `json:"extensionConnected"`
	PopupCount         int           `json:"popupCount"`
	Queue              QueueSummary  `json:"queue"`
	Checks             []CheckStatus `json:"checks"`
}

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in the API timestamp format; the zero time is empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
