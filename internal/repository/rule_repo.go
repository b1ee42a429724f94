package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"confluence-backtest/internal/dto"
	"confluence-backtest/internal/model"

	"gorm.io/gorm"
)

// StrategyRuleRepository is the read-only rule store lookup. Candidates are
// keyed by asset; entryType narrows the set when non-empty.
type StrategyRuleRepository interface {
	GetCandidates(ctx context.Context, asset, entryType string) ([]dto.StrategyRule, error)
}

type strategyRuleRepository struct {
	db *gorm.DB
}

func NewStrategyRuleRepository(db *gorm.DB) StrategyRuleRepository {
	return &strategyRuleRepository{db: db}
}

func (r *strategyRuleRepository) GetCandidates(ctx context.Context, asset, entryType string) ([]dto.StrategyRule, error) {
	query := r.db.WithContext(ctx).
		Where("asset = ? AND active = ?", asset, true)
	if entryType != "" {
		query = query.Where("entry_type = ?", entryType)
	}

	var rows []model.StrategyRule
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query strategy rules: %w", err)
	}

	rules := make([]dto.StrategyRule, 0, len(rows))
	for _, row := range rows {
		var conditions []dto.RuleCondition
		if len(row.Conditions) > 0 {
			if err := json.Unmarshal(row.Conditions, &conditions); err != nil {
				return nil, fmt.Errorf("failed to decode conditions for rule %s: %w", row.ID, err)
			}
		}
		rules = append(rules, dto.StrategyRule{
			ID:         row.ID,
			Name:       row.Name,
			Version:    row.Version,
			EntryType:  row.EntryType,
			Conditions: conditions,
			MaxRiskPct: row.MaxRiskPct,
			MinRR:      row.MinRR,
			Confidence: row.Confidence,
		})
	}
	return rules, nil
}

// InMemoryStrategyRuleRepository serves a fixed rule set; used by tests and
// replays that do not load rules from the database.
type InMemoryStrategyRuleRepository struct {
	rules []dto.StrategyRule
}

func NewInMemoryStrategyRuleRepository(rules []dto.StrategyRule) *InMemoryStrategyRuleRepository {
	return &InMemoryStrategyRuleRepository{rules: rules}
}

func (r *InMemoryStrategyRuleRepository) GetCandidates(ctx context.Context, asset, entryType string) ([]dto.StrategyRule, error) {
	result := make([]dto.StrategyRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if entryType != "" && rule.EntryType != entryType {
			continue
		}
		result = append(result, rule)
	}
	return result, nil
}
