package queue

// FirstPending returns the earliest pending item and its index, or nil and -1.
func FirstPending(items []*Item) (*Item, int) {
	for idx, item := range items {
		if item.Status == StatusPending {
			return item, idx
		}
	}
	return nil, -1
}

// IndexOf returns the index of the named item, or -1.
func IndexOf(items []*Item, name string) int {
	for idx, item := range items {
		if item.Name == name {
			return idx
		}
	}
	return -1
}

// Find returns the named item, or nil.
func Find(items []*Item, name string) *Item {
	if idx := IndexOf(items, name); idx >= 0 {
		return items[idx]
	}
	return nil
}

func HasPending(items []*Item) bool {
	item, _ := FirstPending(items)
	return item != nil
}

// HasPendingOrProcessing reports whether any work remains unfinished.
func HasPendingOrProcessing(items []*Item) bool {
	for _, item := range items {
		if item.Status == StatusPending || item.Status == StatusProcessing {
			return true
		}
	}
	return false
}

// CountByStatus tallies items per status. Every known status is present in
// the result, zero or not.
func CountByStatus(items []*Item) map[Status]int {
	counts := make(map[Status]int, len(allStatuses))
	for _, status := range allStatuses {
		counts[status] = 0
	}
	for _, item := range items {
		counts[item.Status]++
	}
	return counts
}

// RequeueProcessing moves every processing item back to pending and returns
// how many were moved.
func RequeueProcessing(items []*Item) int {
	moved := 0
	for _, item := range items {
		if item.Status == StatusProcessing {
			item.Status = StatusPending
			moved++
		}
	}
	return moved
}

// Metas strips payloads from items.
func Metas(items []*Item) []ItemMeta {
	out := make([]ItemMeta, 0, len(items))
	for _, item := range items {
		out = append(out, item.Meta())
	}
	return out
}

// FromMetas rebuilds items from persisted metadata. The results have no data.
func FromMetas(metas []ItemMeta) []*Item {
	out := make([]*Item, 0, len(metas))
	for _, meta := range metas {
		status := meta.Status
		if parsed, ok := ParseStatus(string(status)); ok {
			status = parsed
		} else {
			status = StatusPending
		}
		out = append(out, &Item{
			Name:   meta.Name,
			Type:   meta.Type,
			Size:   meta.Size,
			Width:  meta.Width,
			Height: meta.Height,
			Status: status,
			Error:  meta.Error,
		})
	}
	return out
}

func metasHavePendingOrProcessing(metas []ItemMeta) bool {
	for _, meta := range metas {
		if meta.Status == StatusPending || meta.Status == StatusProcessing {
			return true
		}
	}
	return false
}
