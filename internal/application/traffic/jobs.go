package traffic

import (
	"context"

	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// Notifier receives accounting events emitted by ledger runs. Downstream
// integrations (billing alerts, operator chat) implement this; the default
// sink just logs.
type Notifier interface {
	Notify(ctx context.Context, events []Event)
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	logger logger.Interface
}

func NewLogNotifier(log logger.Interface) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, events []Event) {
	for _, ev := range events {
		n.logger.Infow("traffic event",
			"type", ev.Type,
			"subscriber_id", ev.SubscriberID,
			"pool", ev.Pool,
			"percent", ev.Percent,
			"used_bytes", ev.UsedBytes,
			"cap_bytes", ev.CapBytes,
		)
	}
}

// SyncJob runs a full counter sync and forwards the resulting events.
type SyncJob struct {
	ledger   *Ledger
	notifier Notifier
}

func NewSyncJob(ledger *Ledger, notifier Notifier) *SyncJob {
	return &SyncJob{ledger: ledger, notifier: notifier}
}

func (j *SyncJob) Execute(ctx context.Context) (int, error) {
	events, err := j.ledger.Sync(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) > 0 {
		j.notifier.Notify(ctx, events)
	}
	return len(events), nil
}

// ResetJob rolls over billing periods that have completed.
type ResetJob struct {
	ledger   *Ledger
	notifier Notifier
}

func NewResetJob(ledger *Ledger, notifier Notifier) *ResetJob {
	return &ResetJob{ledger: ledger, notifier: notifier}
}

func (j *ResetJob) Execute(ctx context.Context) (int, error) {
	events, err := j.ledger.ResetDue(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) > 0 {
		j.notifier.Notify(ctx, events)
	}
	return len(events), nil
}

// SnapshotJob persists the per-day traffic snapshot.
type SnapshotJob struct {
	ledger *Ledger
}

func NewSnapshotJob(ledger *Ledger) *SnapshotJob {
	return &SnapshotJob{ledger: ledger}
}

func (j *SnapshotJob) Execute(ctx context.Context) (int, error) {
	if err := j.ledger.SnapshotDaily(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}
