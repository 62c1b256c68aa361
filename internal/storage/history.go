package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/models"
)

// HistoryRepository reads and records finished-story summaries
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

var _ interfaces.StoryHistoryProvider = (*HistoryRepository)(nil)

// RecentStories returns up to limit summaries for a child, newest first.
func (r *HistoryRepository) RecentStories(ctx context.Context, kidProfileID string, limit int) ([]models.StorySummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []models.StorySummary
	err := r.db.WithContext(ctx).
		Where("kid_profile_id = ?", kidProfileID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent stories: %w", err)
	}
	return rows, nil
}

// Record stores the summary of a generated story so later prompts can vary from it.
func (r *HistoryRepository) Record(ctx context.Context, summary *models.StorySummary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(summary).Error; err != nil {
		return fmt.Errorf("failed to record story summary: %w", err)
	}
	return nil
}
