package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/types"
)

type NodeService interface {
	List(ctx context.Context, tx *gorm.DB) ([]types.NodeMetadata, error)
}

type nodeService struct {
	db    *gorm.DB
	log   *logger.Logger
	nodes repos.NodeRepo
}

func NewNodeService(db *gorm.DB, baseLog *logger.Logger, nodes repos.NodeRepo) NodeService {
	return &nodeService{db: db, log: baseLog.With("service", "NodeService"), nodes: nodes}
}

func (s *nodeService) List(ctx context.Context, tx *gorm.DB) ([]types.NodeMetadata, error) {
	return s.nodes.List(ctx, tx)
}
