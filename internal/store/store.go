// Package store persists payload snapshots and quality reports so data and
// quality history survive restarts.
package store

import (
	"context"
	"time"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quality"
)

// Snapshot is a durable copy of a successfully fetched payload.
type Snapshot struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Domain    model.Domain   `json:"domain"`
	Source    string         `json:"source"`
	Payload   *model.Payload `json:"payload"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// ReportFilter specifies criteria for listing quality reports.
type ReportFilter struct {
	Domain model.Domain `json:"domain,omitempty"`
	Since  time.Time    `json:"since,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// DefaultReportLimit caps ListReports when the filter sets no limit.
const DefaultReportLimit = 100

func (f ReportFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultReportLimit
	}
	return f.Limit
}

// Store defines the persistence interface.
type Store interface {
	// Snapshots
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	LatestSnapshot(ctx context.Context, key string) (*Snapshot, error)
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)

	// Quality reports
	SaveReport(ctx context.Context, r quality.Report) error
	ListReports(ctx context.Context, filter ReportFilter) ([]quality.Report, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
