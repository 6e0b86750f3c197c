package api

import (
	"strings"

	"batchvec/internal/engine"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

// ToQueueItems converts a batch submission into engine items. Statuses are
// assigned by the engine.
func ToQueueItems(req AddRequest) []queue.Item {
	items := make([]queue.Item, 0, len(req.Items))
	for _, in := range req.Items {
		size := in.Size
		if size <= 0 {
			size = int64(len(in.Data))
		}
		items = append(items, queue.Item{
			Name:   strings.TrimSpace(in.Name),
			Type:   strings.TrimSpace(in.Type),
			Size:   size,
			Width:  in.Width,
			Height: in.Height,
			Data:   in.Data,
		})
	}
	return items
}

// Policy converts the input into an auto-pause policy. The engine normalizes
// the bounds when it stores the result.
func (in AutoPauseInput) Policy() settings.AutoPausePolicy {
	policy := settings.AutoPausePolicy{
		Enabled:    in.Enabled,
		Count:      in.Count,
		MinMinutes: in.MinMinutes,
		MaxMinutes: in.MaxMinutes,
	}
	if policy.MaxMinutes == 0 && in.Minutes > 0 {
		policy.MaxMinutes = in.Minutes
	}
	return policy
}

// Summarize condenses a queue view.
func Summarize(view engine.View) QueueSummary {
	counts := make(map[string]int)
	for status, n := range view.Counts() {
		counts[string(status)] = n
	}
	summary := QueueSummary{
		Total:          len(view.Queue),
		Counts:         counts,
		IsProcessing:   view.IsProcessing,
		IsPaused:       view.IsPaused,
		ProcessedCount: view.ProcessedCount,
	}
	if view.AutoPauseEndTime != nil {
		summary.AutoPauseEndTime = FormatTime(*view.AutoPauseEndTime)
	}
	return summary
}

// NewConfigResponse wraps settings for config:get.
func NewConfigResponse(s settings.Settings) ConfigResponse {
	return ConfigResponse{Settings: s, SupportedLanguages: settings.SupportedLanguages()}
}
