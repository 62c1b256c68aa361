package prompts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/logger"
	"Fabelwerk/server/internal/models"
)

// RecentStoryLimit is how many finished stories the variety section looks at
const RecentStoryLimit = 5

// StoryPromptBuilder renders a StoryRequest and its rule rows into the
// instruction document sent to the text generator. It holds no per-request
// state and is safe for concurrent use.
type StoryPromptBuilder struct {
	rules   interfaces.RuleRepository
	history interfaces.StoryHistoryProvider
	log     *logger.Logger
}

// NewStoryPromptBuilder creates a builder. history may be nil, which disables the variety section.
func NewStoryPromptBuilder(rules interfaces.RuleRepository, history interfaces.StoryHistoryProvider, log *logger.Logger) *StoryPromptBuilder {
	return &StoryPromptBuilder{
		rules:   rules,
		history: history,
		log:     logger.OrNop(log).With("component", "story_prompt"),
	}
}

// BuildStoryPrompt is a convenience wrapper around a builder without logging.
func BuildStoryPrompt(ctx context.Context, req *interfaces.StoryRequest, rules interfaces.RuleRepository, history interfaces.StoryHistoryProvider) (string, error) {
	return NewStoryPromptBuilder(rules, history, nil).Build(ctx, req)
}

// promptWriter collects sections separated by blank lines
type promptWriter struct {
	b strings.Builder
}

func (w *promptWriter) paragraph(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if w.b.Len() > 0 {
		w.b.WriteString("\n\n")
	}
	w.b.WriteString(text)
}

// section writes "## header" and a pre-formatted body; empty bodies write nothing.
func (w *promptWriter) section(header, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	w.paragraph("## " + header + "\n" + body)
}

func (w *promptWriter) String() string { return w.b.String() }

func bullets(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(line)
	}
	return b.String()
}

// Build assembles the prompt. A missing age, difficulty or theme rule yields a *ConfigError.
func (b *StoryPromptBuilder) Build(ctx context.Context, req *interfaces.StoryRequest) (string, error) {
	if req == nil {
		return "", errors.New("story request is nil")
	}
	if b.rules == nil {
		return "", errors.New("rule repository is nil")
	}

	lang := NormalizeLanguage(req.Language)
	if lang == "" {
		lang = DefaultLanguage
	}
	loc := LocaleFor(lang)

	ageRule, err := b.rules.AgeRule(ctx, lang, req.Child.Age)
	if err := ruleLookupError(MissingAgeRule, lang, strconv.Itoa(req.Child.Age), ageRule == nil, err); err != nil {
		return "", err
	}
	difficulty, err := b.rules.DifficultyRule(ctx, lang, req.Child.DifficultyLevel)
	if err := ruleLookupError(MissingDifficultyRule, lang, strconv.Itoa(req.Child.DifficultyLevel), difficulty == nil, err); err != nil {
		return "", err
	}
	theme, err := b.rules.ThemeRule(ctx, req.ThemeKey, lang)
	if err := ruleLookupError(MissingThemeRule, lang, req.ThemeKey, theme == nil, err); err != nil {
		return "", err
	}
	guardrails, err := b.rules.Guardrails(ctx, lang)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return "", fmt.Errorf("failed to load content guardrails: %w", err)
	}

	w := &promptWriter{}
	w.paragraph(loc.Intro)
	w.section(loc.Headers.Child, childSection(loc, req.Child))
	w.section(loc.Headers.Language, languageSection(loc, lang, ageRule))
	w.section(loc.Headers.Vocabulary, vocabularySection(loc, difficulty))
	w.section(loc.Headers.Length, lengthSection(loc, ageRule, req.Length, req.QuestionCount))
	w.section(loc.Headers.Theme, themeSection(loc, req.ThemeKey, theme))
	w.section(loc.Headers.Characters, charactersSection(loc, req.Child, req.Protagonists))
	w.section(loc.Headers.Abilities, abilitiesSection(loc, req.SpecialAbilities))
	w.section(loc.Headers.Guardrails, guardrailSection(loc, guardrails, req.Child.SafetyLevel))
	w.section(loc.Headers.Variety, b.varietySection(ctx, req.Child.ID, lang))
	w.section(loc.Headers.UserRequest, req.UserPrompt)
	if req.IsSeries {
		w.section(loc.Headers.Series, req.SeriesContext)
	}
	w.paragraph(loc.Lines.FinalInstruction)

	return w.String(), nil
}

func ruleLookupError(kind ConfigErrorKind, lang, key string, missing bool, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return &ConfigError{Kind: kind, Language: lang, Key: key, Err: err}
	case err != nil:
		return fmt.Errorf("failed to load %s: %w", kind, err)
	case missing:
		return &ConfigError{Kind: kind, Language: lang, Key: key}
	}
	return nil
}

func childSection(loc *Locale, child interfaces.Child) string {
	var lines []string
	if name := strings.TrimSpace(child.Name); name != "" {
		lines = append(lines, fmt.Sprintf(loc.Lines.ChildName, name))
	}
	if child.Age > 0 {
		lines = append(lines, fmt.Sprintf(loc.Lines.ChildAge, child.Age))
	}
	return bullets(lines)
}

func languageSection(loc *Locale, lang string, rule *models.AgeRule) string {
	lines := []string{fmt.Sprintf(loc.Lines.WriteIn, languageName(loc, lang))}
	if rule.MaxSentenceLength > 0 {
		lines = append(lines, fmt.Sprintf(loc.Lines.MaxSentenceLength, rule.MaxSentenceLength))
	}
	if tenses := rule.Tenses(); len(tenses) > 0 {
		lines = append(lines, fmt.Sprintf(loc.Lines.AllowedTenses, strings.Join(tenses, ", ")))
	}
	lines = appendIf(lines, loc.Lines.SentenceStructures, rule.SentenceStructures)
	lines = appendIf(lines, loc.Lines.NarrativePerspective, rule.NarrativePerspective)
	lines = appendIf(lines, loc.Lines.StyleGuidance, rule.NarrativeGuidelines)
	return bullets(lines)
}

// languageName prefers the localized table's own name and falls back to the
// language's self-name for languages without a table.
func languageName(loc *Locale, lang string) string {
	if loc.Code == lang {
		return loc.LanguageName
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return lang
}

func vocabularySection(loc *Locale, rule *models.DifficultyRule) string {
	var lines []string
	level := strings.TrimSpace(rule.Label)
	if desc := strings.TrimSpace(rule.Description); desc != "" {
		if level == "" {
			level = desc
		} else {
			level += " (" + desc + ")"
		}
	}
	lines = appendIf(lines, loc.Lines.DifficultyLevel, level)
	lines = appendIf(lines, loc.Lines.VocabularyScope, rule.VocabularyScope)
	if rule.NewWordsPerStory > 0 {
		lines = append(lines, fmt.Sprintf(loc.Lines.NewWords, rule.NewWordsPerStory))
	}
	lines = appendIf(lines, loc.Lines.FigurativeLanguage, rule.FigurativeLanguage)
	lines = appendIf(lines, loc.Lines.Idioms, rule.IdiomUsage)
	lines = appendIf(lines, loc.Lines.Repetition, rule.RepetitionStrategy)
	return bullets(lines)
}

// WordRange scales the age rule's word counts by the length class.
func WordRange(rule *models.AgeRule, length interfaces.LengthClass) (int, int) {
	f := length.Factor()
	return int(math.Round(float64(rule.MinWordCount) * f)), int(math.Round(float64(rule.MaxWordCount) * f))
}

func lengthSection(loc *Locale, rule *models.AgeRule, length interfaces.LengthClass, questions int) string {
	var lines []string
	if rule.MinWordCount > 0 || rule.MaxWordCount > 0 {
		lo, hi := WordRange(rule, length)
		lines = append(lines, fmt.Sprintf(loc.Lines.WordCount, lo, hi))
	}
	lines = appendIf(lines, loc.Lines.Paragraphs, rule.ParagraphLength)
	lines = appendIf(lines, loc.Lines.Dialogue, rule.DialogueRatio)
	if questions > 0 {
		lines = append(lines, fmt.Sprintf(loc.Lines.Questions, questions))
	}
	return bullets(lines)
}

func themeSection(loc *Locale, themeKey string, rule *models.ThemeRule) string {
	label := strings.TrimSpace(rule.Label)
	if label == "" {
		label = themeKey
	}
	lines := []string{fmt.Sprintf(loc.Lines.ThemeCategory, label)}
	lines = appendIf(lines, loc.Lines.PlotTemplates, strings.Join(rule.Plots(), "; "))
	lines = appendIf(lines, loc.Lines.Conflicts, strings.Join(rule.Conflicts(), "; "))
	lines = appendIf(lines, loc.Lines.Archetypes, strings.Join(rule.Archetypes(), ", "))
	lines = appendIf(lines, loc.Lines.Sensory, rule.SensoryDetails)
	lines = append(lines, loc.Lines.PickSubtheme)
	return bullets(lines)
}

func charactersSection(loc *Locale, child interfaces.Child, p interfaces.Protagonists) string {
	var lines []string
	if p.IncludeSelf && strings.TrimSpace(child.Name) != "" {
		lines = append(lines, fmt.Sprintf(loc.Lines.SelfCharacter, strings.TrimSpace(child.Name), child.Age))
	}
	for _, c := range p.Characters {
		if line := characterLine(loc, c); line != "" {
			lines = append(lines, line)
		}
	}
	return bullets(lines)
}

// characterLine renders "Name (attr, attr)" with absent attributes left out.
func characterLine(loc *Locale, c interfaces.Character) string {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return ""
	}
	var attrs []string
	if c.Age != nil && *c.Age > 0 {
		attrs = append(attrs, fmt.Sprintf(loc.Lines.CharacterAge, *c.Age))
	}
	if rel := strings.TrimSpace(c.Relation); rel != "" {
		attrs = append(attrs, rel)
	}
	if desc := strings.TrimSpace(c.Description); desc != "" {
		attrs = append(attrs, desc)
	}
	if len(attrs) == 0 {
		return name
	}
	return name + " (" + strings.Join(attrs, ", ") + ")"
}

func abilitiesSection(loc *Locale, keys []string) string {
	seen := make(map[string]bool, len(keys))
	var lines []string
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		desc, ok := loc.Abilities[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, desc)
	}
	return bullets(lines)
}

// SplitGuardrails partitions guardrail labels for a safety level. A theme is
// allowed when 0 < min_safety_level <= level and forbidden otherwise.
func SplitGuardrails(rows []models.ContentGuardrail, level int) (allowed, forbidden []string) {
	for _, row := range rows {
		label := strings.TrimSpace(row.Label)
		if label == "" {
			label = row.ThemeKey
		}
		if row.MinSafetyLevel > 0 && row.MinSafetyLevel <= level {
			allowed = append(allowed, label)
		} else {
			forbidden = append(forbidden, label)
		}
	}
	return allowed, forbidden
}

func guardrailSection(loc *Locale, rows []models.ContentGuardrail, level int) string {
	if len(rows) == 0 {
		return ""
	}
	allowed, forbidden := SplitGuardrails(rows, level)
	lines := []string{fmt.Sprintf(loc.Lines.GuardrailLevel, level)}
	lines = appendIf(lines, loc.Lines.AllowedThemes, strings.Join(allowed, ", "))
	lines = appendIf(lines, loc.Lines.ForbiddenThemes, strings.Join(forbidden, ", "))
	return bullets(lines)
}

func (b *StoryPromptBuilder) varietySection(ctx context.Context, kidProfileID, lang string) string {
	if b.history == nil || kidProfileID == "" {
		return ""
	}
	summaries, err := b.history.RecentStories(ctx, kidProfileID, RecentStoryLimit)
	if err != nil {
		b.log.Warn("recent stories unavailable, skipping variety section", "kid_profile_id", kidProfileID, "error", err)
		return ""
	}
	return BuildVarietyBlock(summaries, lang)
}

// InjectLearningTheme inserts a learning-theme section right before the final
// instruction of an already built prompt. The section is appended when the
// instruction cannot be found.
func InjectLearningTheme(prompt, themeLabel, lang string) string {
	themeLabel = strings.TrimSpace(themeLabel)
	if themeLabel == "" {
		return prompt
	}
	loc := LocaleFor(lang)
	section := "## " + loc.Headers.LearningTheme + "\n" + bullets([]string{fmt.Sprintf(loc.Lines.LearningTheme, themeLabel)})

	idx := strings.LastIndex(prompt, loc.Lines.FinalInstruction)
	if idx < 0 {
		trimmed := strings.TrimRight(prompt, "\n")
		if trimmed == "" {
			return section
		}
		return trimmed + "\n\n" + section
	}
	return prompt[:idx] + section + "\n\n" + prompt[idx:]
}

func appendIf(lines []string, format, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return lines
	}
	return append(lines, fmt.Sprintf(format, value))
}
