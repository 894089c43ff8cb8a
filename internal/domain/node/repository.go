package node

import "context"

// Repository reads the admin-managed node fleet. The capacity counter is the
// only column the core writes.
type Repository interface {
	GetByID(ctx context.Context, id uint) (*Node, error)
	// ListWork returns nodes whose reachability flag is set, ordered by ID.
	ListWork(ctx context.Context) ([]*Node, error)
	UpdateCapacity(ctx context.Context, id uint, capacity int) error
}

// DailyTrafficRepository persists per-day counter snapshots with
// upsert-by-(subscriber, node, date) semantics.
type DailyTrafficRepository interface {
	Upsert(ctx context.Context, rec *DailyTrafficRecord) error
	// LatestPerNode returns the most recent snapshot bytes per node for one
	// subscriber, used to reconstruct usage independent of live node state.
	LatestPerNode(ctx context.Context, subscriberID uint) (map[uint]uint64, error)
}

// AccessLogRepository appends audit entries. Entries are never updated.
type AccessLogRepository interface {
	Append(ctx context.Context, entry *AccessLogEntry) error
}
