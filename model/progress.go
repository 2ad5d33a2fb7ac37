package model

import (
	"time"

	"gorm.io/datatypes"
)

// LevelProgress tracks a user's attempts and completion of one catalog level.
type LevelProgress struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64          `gorm:"uniqueIndex:idx_user_level;not null" json:"user_id"`
	LevelKey      string         `gorm:"uniqueIndex:idx_user_level;size:32;not null" json:"level_key"`
	Attempts      int            `gorm:"default:0" json:"attempts"`
	StagesCleared datatypes.JSON `json:"stages_cleared"` // ["stage-id", ...]
	Completed     bool           `gorm:"default:false" json:"completed"`
	Score         int            `gorm:"default:0" json:"score"`
	BestTimeMs    int64          `gorm:"default:0" json:"best_time_ms"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LevelProgress) TableName() string { return "level_progress" }
