package interfaces

import (
	"context"
	"errors"

	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/models"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// RuleRepository is the read-only source of pedagogical and style rules
type RuleRepository interface {
	// AgeRule returns the row whose inclusive [min_age, max_age] range contains age
	AgeRule(ctx context.Context, language string, age int) (*models.AgeRule, error)

	// DifficultyRule returns the row for a reading level
	DifficultyRule(ctx context.Context, language string, level int) (*models.DifficultyRule, error)

	// ThemeRule returns the localized guidance for a story category
	ThemeRule(ctx context.Context, themeKey, language string) (*models.ThemeRule, error)

	// Guardrails returns every content guardrail row for a language
	Guardrails(ctx context.Context, language string) ([]models.ContentGuardrail, error)

	// ImageStyle returns the art direction for the age group containing age
	ImageStyle(ctx context.Context, age int) (*models.ImageStyleRule, error)
}

// StoryHistoryProvider returns finished-story summaries, newest first
type StoryHistoryProvider interface {
	RecentStories(ctx context.Context, kidProfileID string, limit int) ([]models.StorySummary, error)
}

// ContinuityStore persists the merged state and the visual style sheet of each series.
// Load* return (nil, nil) when nothing has been stored yet.
type ContinuityStore interface {
	LoadState(ctx context.Context, seriesID string) (*continuity.State, error)
	SaveState(ctx context.Context, seriesID string, state *continuity.State) error
	LoadStyleSheet(ctx context.Context, seriesID string) (*continuity.StyleSheet, error)
	SaveStyleSheet(ctx context.Context, seriesID string, sheet *continuity.StyleSheet) error

	// AcquireSeriesLock returns a token that must be passed to ReleaseSeriesLock.
	// ok is false when another generation holds the lock.
	AcquireSeriesLock(ctx context.Context, seriesID string) (token string, ok bool, err error)
	ReleaseSeriesLock(ctx context.Context, seriesID, token string) error
}
