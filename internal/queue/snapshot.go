package queue

import "time"

// Persisted state keys.
const (
	KeyGeneral     = "persistedQueue"
	KeyManualPause = "manualPauseState"
	KeyAutoPause   = "autoPauseState"
	KeySettings    = "settings"
)

// AutoPauseAlarm names the wake alarm armed while auto-paused.
const AutoPauseAlarm = "autoPauseResume"

// GeneralSnapshot is the status-only copy of the session written after every
// state change. WorkerTabID is zero when no tab is recorded.
type GeneralSnapshot struct {
	Queue          []ItemMeta `json:"queue"`
	IsRunning      bool       `json:"isRunning"`
	IsPaused       bool       `json:"isPaused"`
	WorkerTabID    int        `json:"workerTabId,omitempty"`
	ProcessedCount int        `json:"processedCount"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Restorable reports whether the snapshot may be shown after a restart: it is
// younger than maxAge and every item is terminal.
func (s GeneralSnapshot) Restorable(now time.Time, maxAge time.Duration) bool {
	return s.Fresh(now, maxAge) && !s.HasUnfinished()
}

// Fresh reports whether the snapshot is younger than maxAge.
func (s GeneralSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	if s.Timestamp.IsZero() {
		return false
	}
	return now.Sub(s.Timestamp) < maxAge
}

// HasUnfinished reports whether the snapshot holds pending or processing items.
func (s GeneralSnapshot) HasUnfinished() bool {
	return metasHavePendingOrProcessing(s.Queue)
}

// ManualPauseSnapshot is the lightweight record written on a user pause.
type ManualPauseSnapshot struct {
	IsPaused bool       `json:"isPaused"`
	Queue    []ItemMeta `json:"queue"`
}

// AutoPauseSnapshot records an auto-pause and its wake time.
type AutoPauseSnapshot struct {
	IsPaused    bool       `json:"isPaused"`
	EndTime     time.Time  `json:"endTime"`
	Queue       []ItemMeta `json:"queue"`
	WorkerTabID int        `json:"workerTabId,omitempty"`
}

// Expired reports whether the wake time has passed.
func (s AutoPauseSnapshot) Expired(now time.Time) bool {
	return !now.Before(s.EndTime)
}
