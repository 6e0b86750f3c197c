package engine

import (
	"batchvec/internal/downloads"
	"batchvec/internal/queue"
	"batchvec/internal/settings"
)

// Snapshot returns the current queue view.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) viewLocked() View {
	items := make([]ItemView, 0, len(e.queue))
	for _, item := range e.queue {
		items = append(items, ItemView{
			Name:    item.Name,
			Type:    item.Type,
			Status:  item.Status,
			Size:    item.Size,
			Width:   item.Width,
			Height:  item.Height,
			HasData: item.HasData(),
			Error:   item.Error,
		})
	}
	view := View{
		Queue:              items,
		DelaySeconds:       e.settings.DelaySeconds,
		Format:             e.settings.Format,
		Folder:             e.settings.Folder,
		RemoveBackground:   e.settings.RemoveBackground,
		AutoPause:          e.settings.AutoPause,
		Language:           e.settings.Language,
		IsProcessing:       queue.HasPendingOrProcessing(e.queue) || e.paused,
		IsPaused:           e.paused,
		IsRunning:          e.running,
		WorkerTabID:        e.workerTab,
		ProcessedCount:     e.processed,
		DiscardedOnRestore: e.discarded,
	}
	if !e.autoPauseEnd.IsZero() {
		end := e.autoPauseEnd
		view.AutoPauseEndTime = &end
	}
	return view
}

// Config returns the durable user settings.
func (e *Engine) Config() settings.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SuggestFilename names a download from the vectorizer site after the item
// that produced it.
func (e *Engine) SuggestFilename(downloadURL, suggested string) downloads.Decision {
	e.mu.Lock()
	folder := e.settings.Folder
	e.mu.Unlock()
	return downloads.Decide(e.names, folder, e.site.Host, downloadURL, suggested)
}

// KeepAlive answers the extension's keep-alive ping.
func (e *Engine) KeepAlive() string {
	return "alive"
}
