package events

import "container/list"

// DefaultDedupWindow is the minimum per-mission dedup capacity required to
// tolerate producer retries.
const DefaultDedupWindow = 5000

// dedupWindow is a bounded set of seen event ids with LRU eviction.
// Not safe for concurrent use; callers hold the stream lock.
type dedupWindow struct {
	capacity int
	order    *list.List               // front = most recent
	index    map[string]*list.Element // event id → element
}

func newDedupWindow(capacity int) *dedupWindow {
	if capacity <= 0 {
		capacity = DefaultDedupWindow
	}
	return &dedupWindow{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen records the id and reports whether it was already present. A repeat
// sighting refreshes the id's recency.
func (w *dedupWindow) Seen(id string) bool {
	if el, ok := w.index[id]; ok {
		w.order.MoveToFront(el)
		return true
	}
	w.index[id] = w.order.PushFront(id)
	if w.order.Len() > w.capacity {
		oldest := w.order.Back()
		w.order.Remove(oldest)
		delete(w.index, oldest.Value.(string))
	}
	return false
}

// Len returns the number of ids currently tracked.
func (w *dedupWindow) Len() int { return w.order.Len() }
