package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/store"
)

// NameSnapshot is the registry name of the durable snapshot source.
const NameSnapshot = "snapshot"

// ErrNoSnapshot means nothing has been persisted for the query.
var ErrNoSnapshot = eris.New("source: no snapshot")

// SnapshotReader reads persisted payloads.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, queryKey string) (*store.Snapshot, error)
}

// Snapshot replays the last payload persisted for a query. It sits at the
// end of a chain so a restart with an empty cache still has data to serve.
type Snapshot struct {
	reader SnapshotReader
}

// NewSnapshot creates the replay source.
func NewSnapshot(reader SnapshotReader) *Snapshot {
	return &Snapshot{reader: reader}
}

// Name implements Source.
func (s *Snapshot) Name() string { return NameSnapshot }

// Domains implements Source.
func (s *Snapshot) Domains() []model.Domain { return model.AllDomains() }

// Fetch implements Source.
func (s *Snapshot) Fetch(ctx context.Context, q model.Query) (*model.Payload, error) {
	snap, err := s.reader.LatestSnapshot(ctx, q.Key())
	if err != nil {
		return nil, Fail(NameSnapshot, NotCharged, nil, err)
	}
	if snap == nil || snap.Payload == nil {
		return nil, Fail(NameSnapshot, NotCharged, nil, eris.Wrapf(ErrNoSnapshot, "source: %s", q.Key()))
	}
	return &model.Payload{Records: snap.Payload.Records, AsOf: snap.FetchedAt}, nil
}
