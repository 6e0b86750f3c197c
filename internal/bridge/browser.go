package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"batchvec/internal/engine"
	"batchvec/internal/logging"
)

type tabRef struct {
	TabID int `json:"tabId"`
}

type tabCreate struct {
	URL string `json:"url"`
}

type tabNavigate struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

type tabSend struct {
	TabID   int            `json:"tabId"`
	Message engine.Message `json:"message"`
}

type tabBroadcast struct {
	Pattern string         `json:"pattern"`
	Message engine.Message `json:"message"`
}

// GetTab asks the extension for a tab's current state.
func (h *Hub) GetTab(ctx context.Context, tabID int) (engine.Tab, error) {
	return h.tabReply(ctx, opTabGet, tabRef{TabID: tabID})
}

// CreateTab opens a new tab at url.
func (h *Hub) CreateTab(ctx context.Context, url string) (engine.Tab, error) {
	return h.tabReply(ctx, opTabCreate, tabCreate{URL: url})
}

func (h *Hub) NavigateTab(ctx context.Context, tabID int, url string) error {
	_, err := h.request(ctx, opTabNavigate, tabNavigate{TabID: tabID, URL: url})
	return err
}

// WaitTabComplete returns once the tab reports its load as complete.
func (h *Hub) WaitTabComplete(ctx context.Context, tabID int) error {
	_, err := h.request(ctx, opTabWaitComplete, tabRef{TabID: tabID})
	return err
}

// SendToTab relays msg to the content script in tabID and returns its answer.
func (h *Hub) SendToTab(ctx context.Context, tabID int, msg engine.Message) (json.RawMessage, error) {
	return h.request(ctx, opTabSend, tabSend{TabID: tabID, Message: msg})
}

// BroadcastToSite relays msg to every tab whose URL matches pattern.
func (h *Hub) BroadcastToSite(ctx context.Context, pattern string, msg engine.Message) error {
	_, err := h.request(ctx, opTabBroadcast, tabBroadcast{Pattern: pattern, Message: msg})
	return err
}

func (h *Hub) tabReply(ctx context.Context, op string, payload any) (engine.Tab, error) {
	raw, err := h.request(ctx, op, payload)
	if err != nil {
		return engine.Tab{}, err
	}
	var tab engine.Tab
	if err := json.Unmarshal(raw, &tab); err != nil {
		return engine.Tab{}, fmt.Errorf("decode %s reply: %w", op, err)
	}
	if tab.ID == 0 {
		return engine.Tab{}, fmt.Errorf("%s: extension returned no tab", op)
	}
	return tab, nil
}

// Broadcast pushes msg to every connected popup.
func (h *Hub) Broadcast(_ context.Context, msg engine.Message) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		h.logger.Warn("encode broadcast failed", logging.String("type", msg.Type), logging.Error(err))
		return
	}
	h.broadcastToPopups(Envelope{Type: msg.Type, Data: data})
}

var (
	_ engine.Browser     = (*Hub)(nil)
	_ engine.Broadcaster = (*Hub)(nil)
)
