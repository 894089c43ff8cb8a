package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
	"github.com/veilnet-io/veilnet/internal/infrastructure/persistence/models"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

type SubscriberRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewSubscriberRepository(db *gorm.DB, logger logger.Interface) subscriber.Repository {
	return &SubscriberRepositoryImpl{db: db, logger: logger}
}

func (r *SubscriberRepositoryImpl) GetByID(ctx context.Context, id uint) (*subscriber.Subscriber, error) {
	var model models.SubscriberModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("subscriber not found")
		}
		r.logger.Errorw("failed to get subscriber by ID", "error", err, "subscriber_id", id)
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return model.ToSubscriber()
}

func (r *SubscriberRepositoryImpl) GetByToken(ctx context.Context, token string) (*subscriber.Subscriber, error) {
	var model models.SubscriberModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("subscriber not found")
		}
		r.logger.Errorw("failed to get subscriber by token", "error", err)
		return nil, fmt.Errorf("failed to get subscriber by token: %w", err)
	}
	return model.ToSubscriber()
}

func (r *SubscriberRepositoryImpl) ListActive(ctx context.Context) ([]*subscriber.Subscriber, error) {
	var rows []models.SubscriberModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&rows).Error; err != nil {
		r.logger.Errorw("failed to list active subscribers", "error", err)
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}

	subs := make([]*subscriber.Subscriber, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].ToSubscriber()
		if err != nil {
			r.logger.Errorw("failed to reconstruct subscriber", "error", err, "subscriber_id", rows[i].ID)
			return nil, fmt.Errorf("failed to reconstruct subscriber %d: %w", rows[i].ID, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (r *SubscriberRepositoryImpl) Create(ctx context.Context, sub *subscriber.Subscriber) error {
	model := models.FromSubscriber(sub)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		r.logger.Errorw("failed to create subscriber", "error", err, "subscriber_id", sub.ID())
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepositoryImpl) Update(ctx context.Context, sub *subscriber.Subscriber) error {
	model := models.FromSubscriber(sub)
	result := r.db.WithContext(ctx).Model(&models.SubscriberModel{}).
		Where("id = ?", sub.ID()).
		Updates(map[string]interface{}{
			"token":              model.Token,
			"active":             model.Active,
			"expires_at":         model.ExpiresAt,
			"primary_cumulative": model.PrimaryCumulative,
			"primary_offset":     model.PrimaryOffset,
			"primary_reset_at":   model.PrimaryResetAt,
			"primary_warn50":     model.PrimaryWarn50,
			"primary_warn70":     model.PrimaryWarn70,
			"primary_warn90":     model.PrimaryWarn90,
			"bypass_cumulative":  model.BypassCumulative,
			"bypass_offset":      model.BypassOffset,
			"bypass_reset_at":    model.BypassResetAt,
			"bypass_warn50":      model.BypassWarn50,
			"bypass_warn70":      model.BypassWarn70,
			"bypass_warn90":      model.BypassWarn90,
			"updated_at":         model.UpdatedAt,
		})
	if result.Error != nil {
		r.logger.Errorw("failed to update subscriber", "error", result.Error, "subscriber_id", sub.ID())
		return fmt.Errorf("failed to update subscriber: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFoundError("subscriber not found")
	}
	return nil
}
