package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/models"
)

// Image prompts are always English; image models follow English best.

const (
	// BaselineNegativePrompt is appended to every negative prompt
	BaselineNegativePrompt = "blurry, low quality, deformed hands, extra fingers, distorted face, bad anatomy, watermark, signature, cropped, frightening, gore"

	// NoTextInstruction ends every image prompt
	NoTextInstruction = "No text, letters, numbers or signs anywhere in the image."

	CoverLabel = "cover"
)

// ageStyleSentences are indexed by ageStyleIndex
var ageStyleSentences = [...]string{
	"soft picture book illustration, extremely cute, round shapes, gentle pastel colors",
	"warm picture book illustration, cute and friendly characters, simple clear shapes",
	"cheerful storybook illustration, friendly characters with a little more detail",
	"detailed storybook illustration, expressive characters, lively scenes",
	"children's book illustration with depth and detail, adventurous atmosphere, expressive faces",
	"middle-grade book illustration, dynamic composition, detailed environments",
	"middle-grade illustration, semi-realistic proportions, atmospheric lighting",
	"young-adult illustration, realistic, cinematic",
}

var episodeMoods = [continuity.FinalEpisode]string{
	"Mood: warm and inviting, a fresh beginning full of curiosity",
	"Mood: playful warmth with a first hint of adventure",
	"Mood: rising tension, slightly more dramatic light, still friendly",
	"Mood: the most suspenseful point of the series, deeper shadows but never scary",
	"Mood: triumphant warmth, brighter than episode 1, a joyful resolution",
}

func ageStyleIndex(age int) int {
	switch {
	case age <= 5:
		return 0
	case age >= 12:
		return len(ageStyleSentences) - 1
	default:
		return age - 5
	}
}

// AgeStyleSentence returns the fine-grained style guidance for an exact age.
func AgeStyleSentence(age int) string { return ageStyleSentences[ageStyleIndex(age)] }

// EpisodeMood returns the mood sentence for a 1-based episode, clamped to the series length.
func EpisodeMood(episode int) string {
	episode = max(1, min(episode, continuity.FinalEpisode))
	return episodeMoods[episode-1]
}

// AgeImageStyle is the age-group art direction
type AgeImageStyle struct {
	StylePrompt    string `json:"style_prompt"`
	NegativePrompt string `json:"negative_prompt"`
	ColorPalette   string `json:"color_palette"`
}

// AgeImageStyleFrom converts a stored rule; a nil rule yields the zero style.
func AgeImageStyleFrom(rule *models.ImageStyleRule) AgeImageStyle {
	if rule == nil {
		return AgeImageStyle{}
	}
	return AgeImageStyle{StylePrompt: rule.StylePrompt, NegativePrompt: rule.NegativePrompt, ColorPalette: rule.ColorPalette}
}

// ThemeImageStyle is optional theme-level art direction. Most themes have none.
type ThemeImageStyle struct {
	StylePrompt    string `json:"style_prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ColorPalette   string `json:"color_palette,omitempty"`
}

// ThemeImageStyleFrom returns nil when the theme row carries no image columns.
func ThemeImageStyleFrom(rule *models.ThemeRule) *ThemeImageStyle {
	if rule == nil || !rule.HasImageStyle() {
		return nil
	}
	return &ThemeImageStyle{StylePrompt: rule.ImageStylePrompt, NegativePrompt: rule.ImageNegativePrompt, ColorPalette: rule.ImageColorPalette}
}

// SeriesImageContext carries cross-episode visual consistency
type SeriesImageContext struct {
	StyleSheet *continuity.StyleSheet
	Episode    int // 1-based
}

// SceneID accepts both JSON numbers and strings; generators emit either.
type SceneID string

func (id *SceneID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SceneID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("scene id must be a string or number: %w", err)
	}
	*id = SceneID(n.String())
	return nil
}

// Scene is one illustration slot of the image plan
type Scene struct {
	ID            SceneID  `json:"scene_id"`
	StoryPosition string   `json:"story_position"`
	Description   string   `json:"description"`
	Emotion       string   `json:"emotion"`
	KeyElements   []string `json:"key_elements,omitempty"`
}

// ImagePlan is returned by the text generator alongside the story
type ImagePlan struct {
	CharacterAnchor string  `json:"character_anchor"`
	WorldAnchor     string  `json:"world_anchor"`
	Scenes          []Scene `json:"scenes"`
}

// ImagePromptResult is one prompt ready for the image model
type ImagePromptResult struct {
	Label          string `json:"label"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	SceneID        string `json:"scene_id,omitempty"`
	StoryPosition  string `json:"story_position,omitempty"`
}

// BuildImagePrompts returns the cover prompt followed by one prompt per scene.
// A nil plan yields nil; use BuildFallbackImagePrompt instead.
func BuildImagePrompts(plan *ImagePlan, age AgeImageStyle, theme *ThemeImageStyle, childAge int, series *SeriesImageContext) []ImagePromptResult {
	if plan == nil {
		return nil
	}

	var prefix, style string
	if series != nil {
		prefix = seriesPrefix(series.StyleSheet)
		style = seriesStyleBlock(age, childAge, series)
	} else {
		style = standaloneStyleBlock(age, theme, childAge)
	}
	negative := negativePrompt(age, theme)
	anchors := []string{labelled("Characters", plan.CharacterAnchor), labelled("World", plan.WorldAnchor)}

	cover := []string{"Book cover illustration"}
	cover = append(cover, anchors...)
	cover = append(cover, "Calm, inviting composition that makes the reader want to open the book")
	if series != nil {
		ep := max(1, min(series.Episode, continuity.FinalEpisode))
		cover = append(cover, fmt.Sprintf("Episode %d of %d, same style as the previous covers", ep, continuity.FinalEpisode))
	}

	results := make([]ImagePromptResult, 0, len(plan.Scenes)+1)
	results = append(results, ImagePromptResult{
		Label:          CoverLabel,
		Prompt:         composeImagePrompt(prefix, style, sentences(cover...)),
		NegativePrompt: negative,
	})

	for i, scene := range plan.Scenes {
		id := strings.TrimSpace(string(scene.ID))
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		head := "Story illustration"
		if pos := strings.TrimSpace(scene.StoryPosition); pos != "" {
			head += " (" + pos + ")"
		}
		parts := []string{head}
		parts = append(parts, anchors...)
		parts = append(parts,
			labelled("Scene", scene.Description),
			labelled("Emotion", scene.Emotion),
			labelled("Key elements", strings.Join(scene.KeyElements, ", ")),
		)
		results = append(results, ImagePromptResult{
			Label:          "scene_" + id,
			Prompt:         composeImagePrompt(prefix, style, sentences(parts...)),
			NegativePrompt: negative,
			SceneID:        id,
			StoryPosition:  scene.StoryPosition,
		})
	}
	return results
}

// BuildFallbackImagePrompt produces a single simplified cover prompt for stories
// that came back without an image plan.
func BuildFallbackImagePrompt(title, characterDescription string, age AgeImageStyle, theme *ThemeImageStyle) ImagePromptResult {
	var themeStyle, palette string
	if theme != nil {
		themeStyle, palette = theme.StylePrompt, theme.ColorPalette
	}
	if strings.TrimSpace(palette) == "" {
		palette = age.ColorPalette
	}
	style := sentences(themeStyle, age.StylePrompt, palette)

	head := "Book cover illustration"
	if t := strings.TrimSpace(title); t != "" {
		head += fmt.Sprintf(" for the story %q", t)
	}
	content := sentences(head, labelled("Main character", characterDescription), "Calm, inviting composition")
	return ImagePromptResult{
		Label:          CoverLabel,
		Prompt:         composeImagePrompt("", style, content),
		NegativePrompt: negativePrompt(age, theme),
	}
}

// seriesPrefix lists the style sheet's characters sorted by name so the text is stable.
func seriesPrefix(sheet *continuity.StyleSheet) string {
	parts := []string{"Series visual consistency"}
	if sheet != nil {
		names := make([]string, 0, len(sheet.Characters))
		for name := range sheet.Characters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			parts = append(parts, labelled(name, sheet.Characters[name]))
		}
		parts = append(parts, labelled("Recurring visual motif", sheet.RecurringVisual))
	}
	parts = append(parts, "Keep every character's appearance and the world style identical across the whole series")
	return sentences(parts...)
}

// seriesStyleBlock leaves out the theme and age style_prompt fragments; the
// persisted style sheet defines the look instead.
func seriesStyleBlock(age AgeImageStyle, childAge int, series *SeriesImageContext) string {
	var world string
	if series.StyleSheet != nil {
		world = series.StyleSheet.WorldStyle
	}
	return sentences(AgeStyleSentence(childAge), world, age.ColorPalette, EpisodeMood(series.Episode))
}

func standaloneStyleBlock(age AgeImageStyle, theme *ThemeImageStyle, childAge int) string {
	var themeStyle, palette string
	if theme != nil {
		themeStyle, palette = theme.StylePrompt, theme.ColorPalette
	}
	if strings.TrimSpace(palette) == "" {
		palette = age.ColorPalette
	}
	return sentences(AgeStyleSentence(childAge), themeStyle, age.StylePrompt, palette)
}

func negativePrompt(age AgeImageStyle, theme *ThemeImageStyle) string {
	var parts []string
	if theme != nil && strings.TrimSpace(theme.NegativePrompt) != "" {
		parts = append(parts, strings.TrimSpace(theme.NegativePrompt))
	}
	if n := strings.TrimSpace(age.NegativePrompt); n != "" {
		parts = append(parts, n)
	}
	parts = append(parts, BaselineNegativePrompt)
	return strings.Join(parts, ", ")
}

func composeImagePrompt(prefix, style, content string) string {
	var blocks []string
	for _, b := range []string{prefix, style, content, NoTextInstruction} {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n")
}

// labelled returns "label: value", or "" when value is blank.
func labelled(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return label + ": " + value
}

// sentences joins non-empty fragments into ". "-separated text ending with a period.
func sentences(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(strings.TrimSpace(p), ".")
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, ". ") + "."
}
