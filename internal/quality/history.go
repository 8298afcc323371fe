package quality

import (
	"sync"

	"github.com/sells-group/sportsfeed/internal/model"
)

// DefaultHistorySize is how many reports History keeps.
const DefaultHistorySize = 100

// History is a bounded, newest-last log of reports. Once full, the oldest
// report is dropped for each new one.
type History struct {
	mu    sync.RWMutex
	items []Report
	start int
	size  int
}

// NewHistory creates a history holding at most capacity reports.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{items: make([]Report, capacity)}
}

// Add appends a report.
func (h *History) Add(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.items) {
		h.items[(h.start+h.size)%len(h.items)] = r
		h.size++
		return
	}
	h.items[h.start] = r
	h.start = (h.start + 1) % len(h.items)
}

// Len returns the number of stored reports.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Latest returns the newest report for domain.
func (h *History) Latest(domain model.Domain) (Report, bool) {
	list := h.List(domain, 1)
	if len(list) == 0 {
		return Report{}, false
	}
	return list[0], true
}

// LatestByDomain returns the newest report of each domain seen.
func (h *History) LatestByDomain() map[model.Domain]Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[model.Domain]Report)
	for i := h.size - 1; i >= 0; i-- {
		r := h.items[(h.start+i)%len(h.items)]
		if _, ok := out[r.Domain]; !ok {
			out[r.Domain] = r
		}
	}
	return out
}

// List returns up to n reports, newest first. An empty domain matches all;
// n <= 0 returns every match.
func (h *History) List(domain model.Domain, n int) []Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Report
	for i := h.size - 1; i >= 0; i-- {
		r := h.items[(h.start+i)%len(h.items)]
		if domain != "" && r.Domain != domain {
			continue
		}
		out = append(out, r)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}
