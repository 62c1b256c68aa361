package prompts

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v2"
)

// DefaultLanguage is used for localization when a request's language has no table.
const DefaultLanguage = "en"

//go:embed locales/*.yaml
var localeFS embed.FS

// Headers are the localized section titles
type Headers struct {
	Child         string `yaml:"child"`
	Language      string `yaml:"language"`
	Vocabulary    string `yaml:"vocabulary"`
	Length        string `yaml:"length"`
	Theme         string `yaml:"theme"`
	Characters    string `yaml:"characters"`
	Abilities     string `yaml:"abilities"`
	Guardrails    string `yaml:"guardrails"`
	Variety       string `yaml:"variety"`
	UserRequest   string `yaml:"user_request"`
	Series        string `yaml:"series"`
	LearningTheme string `yaml:"learning_theme"`
}

// Lines are localized fmt templates for single prompt lines
type Lines struct {
	ChildName            string `yaml:"child_name"`
	ChildAge             string `yaml:"child_age"`
	WriteIn              string `yaml:"write_in"`
	MaxSentenceLength    string `yaml:"max_sentence_length"`
	AllowedTenses        string `yaml:"allowed_tenses"`
	SentenceStructures   string `yaml:"sentence_structures"`
	NarrativePerspective string `yaml:"narrative_perspective"`
	StyleGuidance        string `yaml:"style_guidance"`

	DifficultyLevel    string `yaml:"difficulty_level"`
	VocabularyScope    string `yaml:"vocabulary_scope"`
	NewWords           string `yaml:"new_words"`
	FigurativeLanguage string `yaml:"figurative_language"`
	Idioms             string `yaml:"idioms"`
	Repetition         string `yaml:"repetition"`

	WordCount  string `yaml:"word_count"`
	Paragraphs string `yaml:"paragraphs"`
	Dialogue   string `yaml:"dialogue"`
	Questions  string `yaml:"questions"`

	ThemeCategory string `yaml:"theme_category"`
	PlotTemplates string `yaml:"plot_templates"`
	Conflicts     string `yaml:"conflicts"`
	Archetypes    string `yaml:"archetypes"`
	Sensory       string `yaml:"sensory"`
	PickSubtheme  string `yaml:"pick_subtheme"`

	SelfCharacter string `yaml:"self_character"`
	CharacterAge  string `yaml:"character_age"`

	GuardrailLevel  string `yaml:"guardrail_level"`
	AllowedThemes   string `yaml:"allowed_themes"`
	ForbiddenThemes string `yaml:"forbidden_themes"`

	VarietyStructures  string `yaml:"variety_structures"`
	VarietyEmotion     string `yaml:"variety_emotion"`
	VarietyHumorLower  string `yaml:"variety_humor_lower"`
	VarietyHumorHigher string `yaml:"variety_humor_higher"`
	VarietyThemes      string `yaml:"variety_themes"`

	LearningTheme string `yaml:"learning_theme"`

	SeriesEpisode          string `yaml:"series_episode"`
	SeriesFacts            string `yaml:"series_facts"`
	SeriesThreads          string `yaml:"series_threads"`
	SeriesCharacters       string `yaml:"series_characters"`
	SeriesWorldRules       string `yaml:"series_world_rules"`
	SeriesSignature        string `yaml:"series_signature"`
	SeriesSignatureHistory string `yaml:"series_signature_history"`
	SeriesContinue         string `yaml:"series_continue"`
	SeriesFinal            string `yaml:"series_final"`
	SeriesInteractive      string `yaml:"series_interactive"`

	FinalInstruction string `yaml:"final_instruction"`
}

// Locale is the full text table for one language. Tables are immutable after load.
type Locale struct {
	Code         string            `yaml:"-"`
	LanguageName string            `yaml:"language_name"`
	Intro        string            `yaml:"intro"`
	Headers      Headers           `yaml:"headers"`
	Lines        Lines             `yaml:"lines"`
	Abilities    map[string]string `yaml:"abilities"`
}

var (
	localesOnce sync.Once
	locales     map[string]*Locale
	localesErr  error
)

func loadLocales() (map[string]*Locale, error) {
	localesOnce.Do(func() {
		entries, err := localeFS.ReadDir("locales")
		if err != nil {
			localesErr = fmt.Errorf("failed to read locales: %w", err)
			return
		}
		out := make(map[string]*Locale, len(entries))
		for _, entry := range entries {
			data, err := localeFS.ReadFile(path.Join("locales", entry.Name()))
			if err != nil {
				localesErr = fmt.Errorf("failed to read locale %s: %w", entry.Name(), err)
				return
			}
			var loc Locale
			if err := yaml.Unmarshal(data, &loc); err != nil {
				localesErr = fmt.Errorf("failed to parse locale %s: %w", entry.Name(), err)
				return
			}
			loc.Code = strings.TrimSuffix(entry.Name(), ".yaml")
			out[loc.Code] = &loc
		}
		locales = out
	})
	return locales, localesErr
}

// LocaleFor returns the table for a language code such as "de" or "de-AT",
// falling back to English.
func LocaleFor(lang string) *Locale {
	all, err := loadLocales()
	if err != nil {
		// Embedded tables are part of the binary; a parse failure is a build defect.
		panic(err)
	}
	if loc, ok := all[NormalizeLanguage(lang)]; ok {
		return loc
	}
	return all[DefaultLanguage]
}

// SupportedLanguages lists the languages with a localization table.
func SupportedLanguages() []string {
	all, _ := loadLocales()
	out := make([]string, 0, len(all))
	for code := range all {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// NormalizeLanguage reduces a BCP 47 tag to its base language ("de-AT" -> "de").
// Unparseable input is lower-cased and returned as is.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}
