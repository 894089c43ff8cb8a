package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/infrastructure/persistence/models"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

type DailyTrafficRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewDailyTrafficRepository(db *gorm.DB, logger logger.Interface) node.DailyTrafficRepository {
	return &DailyTrafficRepositoryImpl{db: db, logger: logger}
}

func (r *DailyTrafficRepositoryImpl) Upsert(ctx context.Context, rec *node.DailyTrafficRecord) error {
	model := models.FromDailyTrafficRecord(rec)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "node_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"bytes", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		r.logger.Errorw("failed to upsert daily traffic record", "error", err,
			"subscriber_id", rec.SubscriberID(), "node_id", rec.NodeID())
		return fmt.Errorf("failed to upsert daily traffic record: %w", err)
	}
	return nil
}

func (r *DailyTrafficRepositoryImpl) LatestPerNode(ctx context.Context, subscriberID uint) (map[uint]uint64, error) {
	var rows []struct {
		NodeID uint
		Bytes  uint64
	}

	// The snapshot with the highest date per node is the latest; bytes are
	// cumulative so MAX over the newest day is exact.
	sub := r.db.WithContext(ctx).Model(&models.DailyTrafficModel{}).
		Select("node_id, MAX(date) AS max_date").
		Where("subscriber_id = ?", subscriberID).
		Group("node_id")

	err := r.db.WithContext(ctx).Model(&models.DailyTrafficModel{}).
		Select("daily_traffic_records.node_id, daily_traffic_records.bytes").
		Joins("JOIN (?) latest ON latest.node_id = daily_traffic_records.node_id AND latest.max_date = daily_traffic_records.date", sub).
		Where("daily_traffic_records.subscriber_id = ?", subscriberID).
		Scan(&rows).Error
	if err != nil {
		r.logger.Errorw("failed to load latest daily traffic", "error", err, "subscriber_id", subscriberID)
		return nil, fmt.Errorf("failed to load latest daily traffic: %w", err)
	}

	out := make(map[uint]uint64, len(rows))
	for _, row := range rows {
		out[row.NodeID] = row.Bytes
	}
	return out, nil
}
