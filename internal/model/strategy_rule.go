package model

import (
	"time"

	"gorm.io/datatypes"
)

// StrategyRule is the persisted, versioned rule definition. Conditions is a
// JSONB array of tagged condition variants decoded into dto.RuleCondition.
type StrategyRule struct {
	ID         string         `gorm:"primarykey"`
	Name       string         `gorm:"not null"`
	Version    int            `gorm:"not null;default:1"`
	Asset      string         `gorm:"not null;index"`
	EntryType  string         `gorm:"not null;index"`
	Conditions datatypes.JSON `gorm:"type:jsonb"`
	MaxRiskPct float64        `gorm:"not null"`
	MinRR      float64        `gorm:"not null"`
	Confidence float64        `gorm:"not null"`
	Active     bool           `gorm:"not null;default:true"`
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime"`
}

func (StrategyRule) TableName() string {
	return "strategy_rules"
}
