package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AgeRule holds language and length constraints for an inclusive age range
type AgeRule struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Language             string         `gorm:"size:8;index:idx_age_rule_lang" json:"language"`
	MinAge               int            `json:"min_age"`
	MaxAge               int            `json:"max_age"`
	MaxSentenceLength    int            `json:"max_sentence_length"`
	MinWordCount         int            `json:"min_word_count"`
	MaxWordCount         int            `json:"max_word_count"`
	AllowedTenses        datatypes.JSON `json:"allowed_tenses"` // ["present","past"]
	SentenceStructures   string         `gorm:"type:text" json:"sentence_structures"`
	ParagraphLength      string         `gorm:"size:255" json:"paragraph_length"`
	DialogueRatio        string         `gorm:"size:255" json:"dialogue_ratio"`
	NarrativePerspective string         `gorm:"size:255" json:"narrative_perspective"`
	NarrativeGuidelines  string         `gorm:"type:text" json:"narrative_guidelines"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (r *AgeRule) Tenses() []string { return decodeList(r.AllowedTenses) }

// DifficultyRule describes vocabulary expectations for one reading level (1-3)
type DifficultyRule struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Language           string    `gorm:"size:8;index:idx_difficulty_rule_lang" json:"language"`
	Level              int       `json:"level"`
	Label              string    `gorm:"size:128" json:"label"`
	Description        string    `gorm:"type:text" json:"description"`
	VocabularyScope    string    `gorm:"type:text" json:"vocabulary_scope"`
	NewWordsPerStory   int       `json:"new_words_per_story"`
	FigurativeLanguage string    `gorm:"type:text" json:"figurative_language"`
	IdiomUsage         string    `gorm:"type:text" json:"idiom_usage"`
	RepetitionStrategy string    `gorm:"type:text" json:"repetition_strategy"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ThemeRule is the localized guidance for one story category.
// The image_* columns are optional; most rows leave them empty.
type ThemeRule struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	ThemeKey            string         `gorm:"size:64;index:idx_theme_rule_key" json:"theme_key"`
	Language            string         `gorm:"size:8" json:"language"`
	Label               string         `gorm:"size:128" json:"label"`
	PlotTemplates       datatypes.JSON `json:"plot_templates"`
	TypicalConflicts    datatypes.JSON `json:"typical_conflicts"`
	CharacterArchetypes datatypes.JSON `json:"character_archetypes"`
	SensoryDetails      string         `gorm:"type:text" json:"sensory_details"`
	ImageStylePrompt    string         `gorm:"type:text" json:"image_style_prompt"`
	ImageNegativePrompt string         `gorm:"type:text" json:"image_negative_prompt"`
	ImageColorPalette   string         `gorm:"type:text" json:"image_color_palette"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func (r *ThemeRule) Plots() []string      { return decodeList(r.PlotTemplates) }
func (r *ThemeRule) Conflicts() []string  { return decodeList(r.TypicalConflicts) }
func (r *ThemeRule) Archetypes() []string { return decodeList(r.CharacterArchetypes) }

// HasImageStyle reports whether any theme-level image column is populated.
func (r *ThemeRule) HasImageStyle() bool {
	return r.ImageStylePrompt != "" || r.ImageNegativePrompt != "" || r.ImageColorPalette != ""
}

// ContentGuardrail gates a content theme behind a minimum safety level.
// MinSafetyLevel 0 means the theme is never allowed.
type ContentGuardrail struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	ThemeKey       string `gorm:"size:64;index" json:"theme_key"`
	Language       string `gorm:"size:8;index" json:"language"`
	Label          string `gorm:"size:128" json:"label"`
	MinSafetyLevel int    `json:"min_safety_level"`
}

// StringList encodes a string slice for a JSON column.
func StringList(items ...string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return datatypes.JSON(data)
}

func decodeList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
