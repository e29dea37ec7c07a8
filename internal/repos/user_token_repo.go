package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/types"
)

type UserTokenRepo interface {
	Set(ctx context.Context, tx *gorm.DB, token *types.UserToken) error
	Get(ctx context.Context, tx *gorm.DB, userID, provider string) (*types.UserToken, error)
}

type userTokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
	return &userTokenRepo{db: db, log: baseLog.With("repo", "UserTokenRepo")}
}

func (r *userTokenRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *userTokenRepo) Set(ctx context.Context, tx *gorm.DB, token *types.UserToken) error {
	return r.conn(tx).WithContext(ctx).Save(token).Error
}

func (r *userTokenRepo) Get(ctx context.Context, tx *gorm.DB, userID, provider string) (*types.UserToken, error) {
	var token types.UserToken
	err := r.conn(tx).WithContext(ctx).
		First(&token, "user_id = ? AND provider = ?", userID, provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}
