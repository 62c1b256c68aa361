package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/models"
	"Fabelwerk/server/internal/prompts"
)

// ErrMalformedOutput is returned when the generator's reply cannot be decoded
var ErrMalformedOutput = errors.New("malformed generator output")

// OutputFormat is the system prompt describing the JSON object the generator must return.
const OutputFormat = `You write children's stories and answer with exactly one JSON object of this shape:
{
  "title": string,
  "content": string,                       // the full story, paragraphs separated by blank lines
  "concrete_theme": string,                // the sub-theme you picked
  "structure": {"beginning": string, "middle": string, "ending": string},
  "emotional_coloring": string,
  "secondary_emotion": string,
  "humor_level": integer 1-5,
  "questions": [{"question": string, "options": [string], "answer": string}],
  "image_plan": {
    "character_anchor": string,            // English visual description of the main characters
    "world_anchor": string,                // English visual description of the setting
    "scenes": [{"scene_id": integer, "story_position": string, "description": string, "emotion": string, "key_elements": [string]}]
  },
  "next_continuity_state": {               // series only
    "established_facts": [string],
    "open_threads": [string],
    "character_states": {"<name>": string},
    "world_rules": [string],
    "signature_element": {"description": string, "usage_history": [string]}
  },
  "visual_style_sheet": {                  // series only, English
    "characters": {"<name>": string},
    "world_style": string,
    "recurring_visual": string
  }
}`

// Structure holds the structure codes the story was built on
type Structure struct {
	Beginning string `json:"beginning"`
	Middle    string `json:"middle"`
	Ending    string `json:"ending"`
}

type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer,omitempty"`
}

// StoryOutput is the decoded generator reply
type StoryOutput struct {
	Title             string                 `json:"title"`
	Content           string                 `json:"content"`
	ConcreteTheme     string                 `json:"concrete_theme"`
	Structure         Structure              `json:"structure"`
	EmotionalColoring string                 `json:"emotional_coloring"`
	SecondaryEmotion  string                 `json:"secondary_emotion"`
	HumorLevel        *int                   `json:"humor_level,omitempty"`
	Questions         []Question             `json:"questions,omitempty"`
	ImagePlan         *prompts.ImagePlan     `json:"image_plan,omitempty"`
	NextState         *continuity.State      `json:"next_continuity_state,omitempty"`
	StyleSheet        *continuity.StyleSheet `json:"visual_style_sheet,omitempty"`
}

// DecodeStoryOutput parses a reply, tolerating markdown code fences and text
// around the JSON object.
func DecodeStoryOutput(raw string) (*StoryOutput, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}
	var out StoryOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, fmt.Errorf("%w: story content is empty", ErrMalformedOutput)
	}
	return &out, nil
}

func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:] // drop the language tag line
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// Summary converts the reply into the history row the variety heuristic reads.
func (o *StoryOutput) Summary(kidProfileID string) *models.StorySummary {
	return &models.StorySummary{
		KidProfileID:      kidProfileID,
		Title:             o.Title,
		BeginningType:     o.Structure.Beginning,
		MiddleType:        o.Structure.Middle,
		EndingType:        o.Structure.Ending,
		EmotionalColoring: o.EmotionalColoring,
		SecondaryEmotion:  o.SecondaryEmotion,
		HumorLevel:        o.HumorLevel,
		ConcreteTheme:     o.ConcreteTheme,
	}
}
