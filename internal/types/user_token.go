package types

import (
	"time"

	"gorm.io/datatypes"
)

// UserToken holds provider-keyed credentials (e.g. a GitHub access token).
// Opaque to the scheduler; it only shares the store.
type UserToken struct {
	UserID       string                                `gorm:"column:user_id;primaryKey" json:"user_id"`
	Provider     string                                `gorm:"column:provider;primaryKey" json:"provider"`
	AccessToken  string                                `gorm:"column:access_token;not null" json:"access_token"`
	RefreshToken *string                               `gorm:"column:refresh_token" json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time                            `gorm:"column:expires_at" json:"expires_at,omitempty"`
	Metadata     datatypes.JSONType[map[string]string] `gorm:"column:metadata" json:"metadata"`
}

func (UserToken) TableName() string { return "user_tokens" }
