package queue

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusDone,
	StatusError,
	StatusSkipped,
}

// AllStatuses returns every known status in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the item will not be dispatched again without an
// explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// Item is one file submitted for vectorization.
type Item struct {
	Name   string
	Type   string
	Size   int64
	Width  int
	Height int
	Data   []byte
	Status Status
	Error  string
}

// ItemMeta is the persisted and broadcast form of an Item. It never carries
// the payload.
type ItemMeta struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HasData reports whether the payload is available in this process.
func (i *Item) HasData() bool {
	return i != nil && len(i.Data) > 0
}

// Meta returns the payload-free copy of the item.
func (i *Item) Meta() ItemMeta {
	return ItemMeta{
		Name:   i.Name,
		Type:   i.Type,
		Size:   i.Size,
		Width:  i.Width,
		Height: i.Height,
		Status: i.Status,
		Error:  i.Error,
	}
}

// Label renders a short human identifier for log lines.
func (i *Item) Label() string {
	if i == nil {
		return ""
	}
	if i.Width > 0 && i.Height > 0 {
		return fmt.Sprintf("%s (%dx%d)", i.Name, i.Width, i.Height)
	}
	return i.Name
}
