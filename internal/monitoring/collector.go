// Package monitoring periodically checks quota usage and data trust and
// posts alerts to a webhook.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/dataset"
	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quality"
	"github.com/sells-group/sportsfeed/internal/quota"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	Quota []quota.Status `json:"quota"`

	OverallConfidence float64            `json:"overall_confidence"`
	OverallTrust      quality.TrustLevel `json:"overall_trust"`
	Contributing      []model.Domain     `json:"contributing"`

	// StaleDomains were last served from stale cache.
	StaleDomains []model.Domain `json:"stale_domains,omitempty"`
	// OpenBreakers are sources currently skipped by their breaker.
	OpenBreakers []string `json:"open_breakers,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatusReader is the read-only status view of the dataset service.
type StatusReader interface {
	Status(ctx context.Context) (*dataset.Status, error)
}

// Collector gathers metrics from the dataset service.
type Collector struct {
	status StatusReader
}

// NewCollector creates a new metrics collector.
func NewCollector(status StatusReader) *Collector {
	return &Collector{status: status}
}

// Collect gathers a snapshot of pipeline metrics. It never fetches data or
// charges quota.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	st, err := c.status.Status(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: read status")
	}

	snap := &MetricsSnapshot{
		Quota:             st.Quota,
		OverallConfidence: st.Overall.Confidence,
		OverallTrust:      st.Overall.TrustLevel,
		Contributing:      st.Overall.Contributing,
		CollectedAt:       st.GeneratedAt,
	}
	for d, r := range st.Reports {
		if r.Stale {
			snap.StaleDomains = append(snap.StaleDomains, d)
		}
	}
	sort.Slice(snap.StaleDomains, func(i, j int) bool { return snap.StaleDomains[i] < snap.StaleDomains[j] })

	for name, state := range st.Breakers {
		if state == "open" {
			snap.OpenBreakers = append(snap.OpenBreakers, name)
		}
	}
	sort.Strings(snap.OpenBreakers)

	return snap, nil
}
