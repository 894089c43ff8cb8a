package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/infrastructure/persistence/models"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

type NodeRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewNodeRepository(db *gorm.DB, logger logger.Interface) node.Repository {
	return &NodeRepositoryImpl{db: db, logger: logger}
}

func (r *NodeRepositoryImpl) GetByID(ctx context.Context, id uint) (*node.Node, error) {
	var model models.NodeModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("node not found")
		}
		r.logger.Errorw("failed to get node by ID", "error", err, "node_id", id)
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return model.ToNode()
}

func (r *NodeRepositoryImpl) ListWork(ctx context.Context) ([]*node.Node, error) {
	var rows []models.NodeModel
	if err := r.db.WithContext(ctx).Where("work = ?", true).Order("id").Find(&rows).Error; err != nil {
		r.logger.Errorw("failed to list work nodes", "error", err)
		return nil, fmt.Errorf("failed to list work nodes: %w", err)
	}

	nodes := make([]*node.Node, 0, len(rows))
	for i := range rows {
		n, err := rows[i].ToNode()
		if err != nil {
			// A malformed admin-managed row must not take down fleet listing.
			r.logger.Warnw("skipping malformed node row", "error", err, "node_id", rows[i].ID)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (r *NodeRepositoryImpl) UpdateCapacity(ctx context.Context, id uint, capacity int) error {
	result := r.db.WithContext(ctx).Model(&models.NodeModel{}).
		Where("id = ?", id).
		Update("capacity", capacity)
	if result.Error != nil {
		r.logger.Errorw("failed to update node capacity", "error", result.Error, "node_id", id)
		return fmt.Errorf("failed to update node capacity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFoundError("node not found")
	}
	return nil
}
