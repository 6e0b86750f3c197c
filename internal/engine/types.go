package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

// Message types exchanged with the automation agent and the popup.
const (
	MsgProcess   = "poc:process"
	MsgPing      = "ping"
	MsgUpdate    = "queue:update"
	MsgPause     = "queue:pause"
	MsgResume    = "queue:resume"
	MsgCancel    = "queue:cancel"
	MsgAutoPause = "queue:autoPause"
	MsgWait      = "queue:wait"
)

var (
	ErrItemNotFound  = errors.New("queue item not found")
	ErrDuplicateItem = errors.New("duplicate item name in batch")
	ErrInvalidItem   = errors.New("invalid queue item")
)

// Message is a typed payload sent to a tab or broadcast to the popup.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Tab describes a browser tab as reported by the extension.
type Tab struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
}

// Storage is the durable key-value area for snapshots and settings.
type Storage interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// Browser performs tab operations through the extension.
type Browser interface {
	GetTab(ctx context.Context, tabID int) (Tab, error)
	CreateTab(ctx context.Context, url string) (Tab, error)
	NavigateTab(ctx context.Context, tabID int, url string) error
	WaitTabComplete(ctx context.Context, tabID int) error
	SendToTab(ctx context.Context, tabID int, msg Message) (json.RawMessage, error)
	BroadcastToSite(ctx context.Context, pattern string, msg Message) error
}

// Broadcaster pushes queue updates to connected popups.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message)
}

// Alarms schedules restart-surviving wake-ups.
type Alarms interface {
	Create(ctx context.Context, name string, at time.Time) error
	Clear(ctx context.Context, name string) error
}

// Result is the automation agent's completion report.
type Result struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ItemView is an item as shown to the popup and CLI.
type ItemView struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	Status  queue.Status `json:"status"`
	Size    int64        `json:"size"`
	Width   int          `json:"width,omitempty"`
	Height  int          `json:"height,omitempty"`
	HasData bool         `json:"hasData"`
	Error   string       `json:"error,omitempty"`
}

// View is the full queue snapshot returned by queue:get and pushed as
// queue:update.
type View struct {
	Queue              []ItemView               `json:"queue"`
	DelaySeconds       float64                  `json:"delaySeconds"`
	Format             settings.Format          `json:"format"`
	Folder             string                   `json:"folder"`
	RemoveBackground   bool                     `json:"removeBackground"`
	AutoPause          settings.AutoPausePolicy `json:"autoPause"`
	AutoPauseEndTime   *time.Time               `json:"autoPauseEndTime"`
	Language           string                   `json:"language"`
	IsProcessing       bool                     `json:"isProcessing"`
	IsPaused           bool                     `json:"isPaused"`
	IsRunning          bool                     `json:"isRunning"`
	WorkerTabID        int                      `json:"workerTabId,omitempty"`
	ProcessedCount     int                      `json:"processedCount"`
	DiscardedOnRestore int                      `json:"discardedOnRestore,omitempty"`
}

// Counts tallies the view's items by status.
func (v View) Counts() map[queue.Status]int {
	counts := make(map[queue.Status]int)
	for _, status := range queue.AllStatuses() {
		counts[status] = 0
	}
	for _, item := range v.Queue {
		counts[item.Status]++
	}
	return counts
}

type processItem struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Data   []byte `json:"data"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type processMeta struct {
	Position int `json:"position"`
	Total    int `json:"total"`
}

type processCommand struct {
	Item             processItem     `json:"item"`
	Format           settings.Format `json:"format"`
	RemoveBackground bool            `json:"removeBackground"`
	Meta             processMeta     `json:"meta"`
}

type pingReply struct {
	Pong bool `json:"pong"`
}
