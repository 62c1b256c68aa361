package models

import (
	"time"
)

// StorySummary is the structural fingerprint kept for each finished story.
// Only the variety heuristic reads it.
type StorySummary struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	KidProfileID      string    `gorm:"index;size:36" json:"kid_profile_id"`
	Title             string    `gorm:"size:255" json:"title"`
	BeginningType     string    `gorm:"size:16" json:"beginning_type"` // e.g. "A2"
	MiddleType        string    `gorm:"size:16" json:"middle_type"`
	EndingType        string    `gorm:"size:16" json:"ending_type"`
	EmotionalColoring string    `gorm:"size:64" json:"emotional_coloring"`
	SecondaryEmotion  string    `gorm:"size:64" json:"secondary_emotion"`
	HumorLevel        *int      `json:"humor_level"` // 1-5, nil when not classified
	ConcreteTheme     string    `gorm:"size:255" json:"concrete_theme"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
}

// HasStructure reports whether any structure code is set.
func (s *StorySummary) HasStructure() bool {
	return s.BeginningType != "" || s.MiddleType != "" || s.EndingType != ""
}
