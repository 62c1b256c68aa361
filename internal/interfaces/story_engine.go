package interfaces

import "context"

// LengthClass selects the word-count multiplier applied to the age rule
type LengthClass string

const (
	LengthShort  LengthClass = "short"
	LengthMedium LengthClass = "medium"
	LengthLong   LengthClass = "long"
)

// Factor returns the multiplier for the class; unknown classes count as medium.
func (l LengthClass) Factor() float64 {
	switch l {
	case LengthShort:
		return 0.7
	case LengthLong:
		return 1.4
	default:
		return 1.0
	}
}

// Child describes the reader a story is generated for
type Child struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Age             int    `json:"age"`
	DifficultyLevel int    `json:"difficulty_level"` // 1-3
	SafetyLevel     int    `json:"safety_level"`     // 1-4
}

// Character is a named protagonist supplied by the caller
type Character struct {
	Name        string `json:"name"`
	Age         *int   `json:"age,omitempty"`
	Relation    string `json:"relation,omitempty"`
	Description string `json:"description,omitempty"`
}

// Protagonists lists who appears in the story
type Protagonists struct {
	IncludeSelf bool        `json:"include_self"`
	Characters  []Character `json:"characters"`
}

// StoryRequest is the immutable input of one generation call
type StoryRequest struct {
	Child            Child        `json:"child"`
	Language         string       `json:"language"`
	ThemeKey         string       `json:"theme_key"`
	Length           LengthClass  `json:"length"`
	IsSeries         bool         `json:"is_series"`
	SeriesContext    string       `json:"series_context,omitempty"`
	Protagonists     Protagonists `json:"protagonists"`
	SpecialAbilities []string     `json:"special_abilities,omitempty"`
	UserPrompt       string       `json:"user_prompt,omitempty"`
	Source           string       `json:"source,omitempty"` // "app", "voice", "admin"
	QuestionCount    int          `json:"question_count"`
}

// TextGenerator is the opaque large-language-model service.
// It returns the raw completion text; decoding is the caller's job.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
