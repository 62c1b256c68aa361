package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/models"
)

// RuleRepository serves the read-only rule tables. Any gorm dialect works.
type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

var _ interfaces.RuleRepository = (*RuleRepository)(nil)

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, interfaces.ErrNotFound)
	}
	return fmt.Errorf("failed to query %s: %w", what, err)
}

// AgeRule picks the narrowest range when rows overlap.
func (r *RuleRepository) AgeRule(ctx context.Context, language string, age int) (*models.AgeRule, error) {
	var rule models.AgeRule
	err := r.db.WithContext(ctx).
		Where("language = ? AND min_age <= ? AND max_age >= ?", language, age, age).
		Order("max_age - min_age ASC").
		Order("id ASC").
		First(&rule).Error
	if err != nil {
		return nil, notFound(err, "age rule")
	}
	return &rule, nil
}

func (r *RuleRepository) DifficultyRule(ctx context.Context, language string, level int) (*models.DifficultyRule, error) {
	var rule models.DifficultyRule
	err := r.db.WithContext(ctx).
		Where("language = ? AND level = ?", language, level).
		Order("id ASC").
		First(&rule).Error
	if err != nil {
		return nil, notFound(err, "difficulty rule")
	}
	return &rule, nil
}

func (r *RuleRepository) ThemeRule(ctx context.Context, themeKey, language string) (*models.ThemeRule, error) {
	var rule models.ThemeRule
	err := r.db.WithContext(ctx).
		Where("theme_key = ? AND language = ?", themeKey, language).
		Order("id ASC").
		First(&rule).Error
	if err != nil {
		return nil, notFound(err, "theme rule")
	}
	return &rule, nil
}

// Guardrails returns rows ordered by safety level, then label.
func (r *RuleRepository) Guardrails(ctx context.Context, language string) ([]models.ContentGuardrail, error) {
	var rows []models.ContentGuardrail
	err := r.db.WithContext(ctx).
		Where("language = ?", language).
		Order("min_safety_level ASC").
		Order("label ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query content guardrails: %w", err)
	}
	return rows, nil
}

func (r *RuleRepository) ImageStyle(ctx context.Context, age int) (*models.ImageStyleRule, error) {
	var rule models.ImageStyleRule
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND min_age <= ? AND max_age >= ?", true, age, age).
		Order("max_age - min_age ASC").
		Order("id ASC").
		First(&rule).Error
	if err != nil {
		return nil, notFound(err, "image style")
	}
	return &rule, nil
}
