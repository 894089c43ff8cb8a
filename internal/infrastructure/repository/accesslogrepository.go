package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/infrastructure/persistence/models"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

type AccessLogRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewAccessLogRepository(db *gorm.DB, logger logger.Interface) node.AccessLogRepository {
	return &AccessLogRepositoryImpl{db: db, logger: logger}
}

func (r *AccessLogRepositoryImpl) Append(ctx context.Context, entry *node.AccessLogEntry) error {
	model := models.FromAccessLogEntry(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		r.logger.Errorw("failed to append access log entry", "error", err,
			"subscriber_id", entry.SubscriberID())
		return fmt.Errorf("failed to append access log entry: %w", err)
	}
	return nil
}
