package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/types"
)

type NodeRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, node *types.NodeMetadata) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.NodeMetadata, error)
	List(ctx context.Context, tx *gorm.DB) ([]types.NodeMetadata, error)
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{db: db, log: baseLog.With("repo", "NodeRepo")}
}

func (r *nodeRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *nodeRepo) Upsert(ctx context.Context, tx *gorm.DB, node *types.NodeMetadata) error {
	return r.conn(tx).WithContext(ctx).Save(node).Error
}

func (r *nodeRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.NodeMetadata, error) {
	var node types.NodeMetadata
	err := r.conn(tx).WithContext(ctx).First(&node, "node_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *nodeRepo) List(ctx context.Context, tx *gorm.DB) ([]types.NodeMetadata, error) {
	var nodes []types.NodeMetadata
	if err := r.conn(tx).WithContext(ctx).Order("display_name ASC").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}
