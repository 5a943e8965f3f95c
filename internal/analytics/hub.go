package analytics

import "sync"

// hub is the observer registry behind Aggregator.Subscribe. Each subscriber
// owns a one-slot channel; publish replaces a pending stale value instead of
// blocking, so the publisher never waits on a slow reader.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan int64
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]chan int64)}
}

func (h *hub) subscribe(key string) (<-chan int64, func()) {
	ch := make(chan int64, 1)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]chan int64)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subs[key]
		if !ok {
			return
		}
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subs, key)
		}
		close(ch)
	}
	return ch, cancel
}

func (h *hub) publish(key string, total int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[key] {
		select {
		case ch <- total:
		default:
			// Drop the stale pending value, keep the newest.
			select {
			case <-ch:
			default:
			}
			ch <- total
		}
	}
}
