package models

import (
	"time"
)

// ImageStyleRule is the art direction for one age group
type ImageStyleRule struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AgeGroup       string    `gorm:"size:16" json:"age_group"` // "3-5", "6-8", ...
	MinAge         int       `json:"min_age"`
	MaxAge         int       `json:"max_age"`
	StylePrompt    string    `gorm:"type:text" json:"style_prompt"`
	NegativePrompt string    `gorm:"type:text" json:"negative_prompt"`
	ColorPalette   string    `gorm:"type:text" json:"color_palette"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}
