package model

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel 通用审计字段（所有业务模型嵌入）
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// VersionedModel 支持乐观锁的审计字段
type VersionedModel struct {
	BaseModel
	Version int `gorm:"not null;default:1" json:"version"`
}

// NewID 生成按时间有序的 UUIDv7 主键
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ensureID 在主键为空时分配新 ID
func ensureID(id *string) {
	if *id == "" {
		*id = NewID()
	}
}
