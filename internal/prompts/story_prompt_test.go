package prompts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/models"
)

type fakeRules struct {
	ages         []models.AgeRule
	difficulties []models.DifficultyRule
	themes       []models.ThemeRule
	guardrails   []models.ContentGuardrail
	err          error // returned by every lookup when set

	mu        sync.Mutex
	languages []string
}

func (f *fakeRules) record(lang string) {
	f.mu.Lock()
	f.languages = append(f.languages, lang)
	f.mu.Unlock()
}

func (f *fakeRules) AgeRule(_ context.Context, language string, age int) (*models.AgeRule, error) {
	f.record(language)
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.ages {
		r := f.ages[i]
		if r.Language == language && age >= r.MinAge && age <= r.MaxAge {
			return &r, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRules) DifficultyRule(_ context.Context, language string, level int) (*models.DifficultyRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.difficulties {
		r := f.difficulties[i]
		if r.Language == language && r.Level == level {
			return &r, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRules) ThemeRule(_ context.Context, themeKey, language string) (*models.ThemeRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.themes {
		r := f.themes[i]
		if r.Language == language && r.ThemeKey == themeKey {
			return &r, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRules) Guardrails(_ context.Context, language string) ([]models.ContentGuardrail, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ContentGuardrail
	for _, g := range f.guardrails {
		if g.Language == language {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeRules) ImageStyle(_ context.Context, age int) (*models.ImageStyleRule, error) {
	return nil, interfaces.ErrNotFound
}

type fakeHistory struct {
	summaries []models.StorySummary
	err       error
}

func (f *fakeHistory) RecentStories(_ context.Context, _ string, limit int) ([]models.StorySummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.summaries) > limit {
		return f.summaries[:limit], nil
	}
	return f.summaries, nil
}

func rulesFor(langs ...string) *fakeRules {
	f := &fakeRules{}
	for _, lang := range langs {
		f.ages = append(f.ages, models.AgeRule{
			Language:             lang,
			MinAge:               6,
			MaxAge:               8,
			MaxSentenceLength:    12,
			MinWordCount:         300,
			MaxWordCount:         500,
			AllowedTenses:        models.StringList("present", "past"),
			SentenceStructures:   "mostly main clauses",
			ParagraphLength:      "3-4 sentences",
			DialogueRatio:        "about a third",
			NarrativePerspective: "third person",
			NarrativeGuidelines:  "warm and playful",
		})
		f.difficulties = append(f.difficulties, models.DifficultyRule{
			Language:           lang,
			Level:              2,
			Label:              "Reader",
			Description:        "reads short chapters alone",
			VocabularyScope:    "everyday words",
			NewWordsPerStory:   3,
			FigurativeLanguage: "simple comparisons",
			IdiomUsage:         "none",
			RepetitionStrategy: "repeat key words",
		})
		f.themes = append(f.themes, models.ThemeRule{
			ThemeKey:            "adventure",
			Language:            lang,
			Label:               "Adventure",
			PlotTemplates:       models.StringList("a treasure hunt", "a lost map"),
			TypicalConflicts:    models.StringList("getting lost"),
			CharacterArchetypes: models.StringList("the brave friend", "the wise owl"),
			SensoryDetails:      "rustling leaves",
		})
		f.guardrails = append(f.guardrails,
			models.ContentGuardrail{ThemeKey: "violence", Language: lang, Label: "violence", MinSafetyLevel: 0},
			models.ContentGuardrail{ThemeKey: "death", Language: lang, Label: "death", MinSafetyLevel: 3},
			models.ContentGuardrail{ThemeKey: "fear", Language: lang, Label: "mild fear", MinSafetyLevel: 1},
		)
	}
	return f
}

func baseRequest(lang string) *interfaces.StoryRequest {
	age := 70
	return &interfaces.StoryRequest{
		Child:    interfaces.Child{ID: "kid-1", Name: "Lina", Age: 7, DifficultyLevel: 2, SafetyLevel: 2},
		Language: lang,
		ThemeKey: "adventure",
		Length:   interfaces.LengthMedium,
		Protagonists: interfaces.Protagonists{
			IncludeSelf: true,
			Characters: []interfaces.Character{
				{Name: "Bello", Relation: "dog"},
				{Name: "Oma", Age: &age, Relation: "grandmother", Description: "knits scarves"},
				{Name: "  "},
			},
		},
		SpecialAbilities: []string{"magic"},
		UserPrompt:       "A story about a glowing stone",
		QuestionCount:    3,
	}
}

func TestBuildStoryPromptSectionOrder(t *testing.T) {
	rules := rulesFor("en")
	history := &fakeHistory{summaries: []models.StorySummary{
		{BeginningType: "A1", MiddleType: "M1", EndingType: "E1", ConcreteTheme: "pirates"},
	}}
	req := baseRequest("en")
	req.IsSeries = true
	req.SeriesContext = "- This is episode 2 of 5."

	prompt, err := BuildStoryPrompt(context.Background(), req, rules, history)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	loc := LocaleFor("en")
	order := []string{
		loc.Intro,
		"## " + loc.Headers.Child,
		"## " + loc.Headers.Language,
		"## " + loc.Headers.Vocabulary,
		"## " + loc.Headers.Length,
		"## " + loc.Headers.Theme,
		"## " + loc.Headers.Characters,
		"## " + loc.Headers.Abilities,
		"## " + loc.Headers.Guardrails,
		"## " + loc.Headers.Variety,
		"## " + loc.Headers.UserRequest,
		"## " + loc.Headers.Series,
		loc.Lines.FinalInstruction,
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(prompt, marker)
		if idx < 0 {
			t.Fatalf("missing %q in prompt:\n%s", marker, prompt)
		}
		if idx <= last {
			t.Fatalf("%q out of order in prompt:\n%s", marker, prompt)
		}
		last = idx
	}
	if !strings.HasSuffix(prompt, loc.Lines.FinalInstruction) {
		t.Fatalf("prompt must end with the final instruction:\n%s", prompt)
	}
}

func TestBuildStoryPromptRenderedLines(t *testing.T) {
	prompt, err := BuildStoryPrompt(context.Background(), baseRequest("en"), rulesFor("en"), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{
		"- Name: Lina",
		"- Age: 7 years",
		"- Write the whole story in English.",
		"- Sentences must not be longer than 12 words.",
		"- Allowed tenses: present, past",
		"- Narrative perspective: third person",
		"- Reading level: Reader (reads short chapters alone)",
		"- Introduce at most 3 new words",
		"- Length: 300 to 500 words",
		"- Add 3 comprehension questions about the story.",
		"- Category: Adventure",
		"- Possible plots: a treasure hunt; a lost map",
		"- Character archetypes: the brave friend, the wise owl",
		"- " + LocaleFor("en").Lines.PickSubtheme,
		"- Lina (7 years), the child itself, is the main character",
		"- Bello (dog)",
		"- Oma (70 years, grandmother, knits scarves)",
		"- Safety level: 2/4",
		"- Allowed sensitive themes: mild fear",
		"- Never include: violence, death",
		"A story about a glowing stone",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("missing %q in prompt:\n%s", want, prompt)
		}
	}
}

func TestBuildStoryPromptConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *interfaces.StoryRequest)
		kind   ConfigErrorKind
	}{
		{"age outside every range", func(r *interfaces.StoryRequest) { r.Child.Age = 14 }, MissingAgeRule},
		{"unknown difficulty level", func(r *interfaces.StoryRequest) { r.Child.DifficultyLevel = 3 }, MissingDifficultyRule},
		{"unknown theme", func(r *interfaces.StoryRequest) { r.ThemeKey = "space" }, MissingThemeRule},
		{"language without rules", func(r *interfaces.StoryRequest) { r.Language = "fr" }, MissingAgeRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest("en")
			tt.mutate(req)
			prompt, err := BuildStoryPrompt(context.Background(), req, rulesFor("en"), nil)
			if prompt != "" {
				t.Fatalf("expected no prompt, got %q", prompt)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Kind != tt.kind {
				t.Fatalf("kind: want=%s got=%s", tt.kind, cfgErr.Kind)
			}
			if !IsConfigError(err) {
				t.Fatalf("IsConfigError should match %v", err)
			}
		})
	}
}

func TestBuildStoryPromptRepositoryFailureIsNotConfigError(t *testing.T) {
	boom := errors.New("connection refused")
	rules := rulesFor("en")
	rules.err = boom

	_, err := BuildStoryPrompt(context.Background(), baseRequest("en"), rules, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsConfigError(err) {
		t.Fatalf("storage failure must not be a config error: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestBuildStoryPromptOmitsEmptySections(t *testing.T) {
	loc := LocaleFor("en")
	rules := rulesFor("en")
	rules.guardrails = nil

	req := baseRequest("en")
	req.SpecialAbilities = nil
	req.UserPrompt = "   "
	req.IsSeries = false
	req.SeriesContext = "should not appear"
	req.Protagonists = interfaces.Protagonists{}

	prompt, err := BuildStoryPrompt(context.Background(), req, rules, &fakeHistory{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, header := range []string{
		loc.Headers.Abilities,
		loc.Headers.UserRequest,
		loc.Headers.Series,
		loc.Headers.Guardrails,
		loc.Headers.Variety,
		loc.Headers.Characters,
	} {
		if strings.Contains(prompt, "## "+header) {
			t.Fatalf("section %q should be omitted:\n%s", header, prompt)
		}
	}
	if strings.Contains(prompt, "should not appear") {
		t.Fatalf("series context leaked into a non-series prompt")
	}
}

func TestBuildStoryPromptSeriesWithoutContext(t *testing.T) {
	req := baseRequest("en")
	req.IsSeries = true
	req.SeriesContext = ""

	prompt, err := BuildStoryPrompt(context.Background(), req, rulesFor("en"), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(prompt, "## "+LocaleFor("en").Headers.Series) {
		t.Fatalf("empty series context must not produce a section")
	}
}

func TestBuildStoryPromptWordRange(t *testing.T) {
	tests := []struct {
		length interfaces.LengthClass
		want   string
	}{
		{interfaces.LengthShort, "Length: 210 to 350 words"},
		{interfaces.LengthMedium, "Length: 300 to 500 words"},
		{interfaces.LengthLong, "Length: 420 to 700 words"},
		{"", "Length: 300 to 500 words"},
	}
	for _, tt := range tests {
		req := baseRequest("en")
		req.Length = tt.length
		prompt, err := BuildStoryPrompt(context.Background(), req, rulesFor("en"), nil)
		if err != nil {
			t.Fatalf("build %q: %v", tt.length, err)
		}
		if !strings.Contains(prompt, tt.want) {
			t.Fatalf("length %q: want %q in prompt", tt.length, tt.want)
		}
	}
}

func TestWordRangeRounds(t *testing.T) {
	rule := &models.AgeRule{MinWordCount: 101, MaxWordCount: 333}
	lo, hi := WordRange(rule, interfaces.LengthLong)
	if lo != 141 || hi != 466 {
		t.Fatalf("long: want=141-466 got=%d-%d", lo, hi)
	}
	lo, hi = WordRange(rule, interfaces.LengthShort)
	if lo != 71 || hi != 233 {
		t.Fatalf("short: want=71-233 got=%d-%d", lo, hi)
	}
}

func TestBuildStoryPromptAbilities(t *testing.T) {
	loc := LocaleFor("en")
	tests := []struct {
		name      string
		abilities []string
		wantCount int
	}{
		{"known key", []string{"magic"}, 1},
		{"duplicate and case", []string{"magic", " MAGIC "}, 1},
		{"unknown only", []string{"x-ray-vision"}, 0},
		{"none", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest("en")
			req.SpecialAbilities = tt.abilities
			prompt, err := BuildStoryPrompt(context.Background(), req, rulesFor("en"), nil)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if got := strings.Count(prompt, loc.Abilities["magic"]); got != tt.wantCount {
				t.Fatalf("magic lines: want=%d got=%d", tt.wantCount, got)
			}
			hasHeader := strings.Contains(prompt, "## "+loc.Headers.Abilities)
			if hasHeader != (tt.wantCount > 0) {
				t.Fatalf("abilities header present=%v, want %v", hasHeader, tt.wantCount > 0)
			}
		})
	}
}

func TestSplitGuardrails(t *testing.T) {
	rows := rulesFor("en").guardrails
	tests := []struct {
		level     int
		allowed   string
		forbidden string
	}{
		{1, "mild fear", "violence,death"},
		{2, "mild fear", "violence,death"},
		{3, "death,mild fear", "violence"},
		{4, "death,mild fear", "violence"},
	}
	for _, tt := range tests {
		allowed, forbidden := SplitGuardrails(rows, tt.level)
		if got := strings.Join(allowed, ","); got != tt.allowed {
			t.Fatalf("level %d allowed: want=%s got=%s", tt.level, tt.allowed, got)
		}
		if got := strings.Join(forbidden, ","); got != tt.forbidden {
			t.Fatalf("level %d forbidden: want=%s got=%s", tt.level, tt.forbidden, got)
		}
	}
}

func TestBuildStoryPromptHistoryFailureSkipsVariety(t *testing.T) {
	history := &fakeHistory{err: errors.New("timeout")}
	prompt, err := BuildStoryPrompt(context.Background(), baseRequest("en"), rulesFor("en"), history)
	if err != nil {
		t.Fatalf("history failure must not fail the prompt: %v", err)
	}
	if strings.Contains(prompt, "## "+LocaleFor("en").Headers.Variety) {
		t.Fatalf("variety section should be skipped")
	}
}

func TestBuildStoryPromptLocalizesAndNormalizesLanguage(t *testing.T) {
	rules := rulesFor("de")
	prompt, err := BuildStoryPrompt(context.Background(), baseRequest("de-AT"), rules, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	de := LocaleFor("de")
	if !strings.Contains(prompt, "## "+de.Headers.Child) || !strings.Contains(prompt, de.Lines.FinalInstruction) {
		t.Fatalf("expected German prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Schreibe die gesamte Geschichte auf Deutsch.") {
		t.Fatalf("expected German language line:\n%s", prompt)
	}
	if rules.languages[0] != "de" {
		t.Fatalf("rule lookup language: want=de got=%s", rules.languages[0])
	}
}

func TestBuildStoryPromptUnlocalizedLanguageUsesEnglishTables(t *testing.T) {
	prompt, err := BuildStoryPrompt(context.Background(), baseRequest("it"), rulesFor("it"), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	en := LocaleFor("en")
	if !strings.Contains(prompt, "## "+en.Headers.Child) {
		t.Fatalf("expected English headers:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Write the whole story in italiano.") {
		t.Fatalf("expected the target language to be named:\n%s", prompt)
	}
}

func TestBuildStoryPromptIsDeterministicAndConcurrent(t *testing.T) {
	rules := rulesFor("en")
	want, err := BuildStoryPrompt(context.Background(), baseRequest("en"), rules, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = BuildStoryPrompt(context.Background(), baseRequest("en"), rules, nil)
		}(i)
	}
	wg.Wait()
	for i, got := range results {
		if got != want {
			t.Fatalf("result %d differs", i)
		}
	}
}

func TestInjectLearningTheme(t *testing.T) {
	loc := LocaleFor("en")
	prompt, err := BuildStoryPrompt(context.Background(), baseRequest("en"), rulesFor("en"), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	got := InjectLearningTheme(prompt, "Sharing", "en")
	section := strings.Index(got, "## "+loc.Headers.LearningTheme)
	final := strings.LastIndex(got, loc.Lines.FinalInstruction)
	if section < 0 || final < 0 || section > final {
		t.Fatalf("learning theme must precede the final instruction:\n%s", got)
	}
	if !strings.Contains(got, `"Sharing"`) {
		t.Fatalf("label missing:\n%s", got)
	}
	if !strings.HasSuffix(got, loc.Lines.FinalInstruction) {
		t.Fatalf("final instruction must stay last")
	}

	if unchanged := InjectLearningTheme(prompt, "  ", "en"); unchanged != prompt {
		t.Fatalf("blank label must not change the prompt")
	}
}

func TestInjectLearningThemeAppendsWithoutInstruction(t *testing.T) {
	got := InjectLearningTheme("Write a story.\n", "Patience", "en")
	want := "Write a story.\n\n## Learning theme\n- Weave the learning theme \"Patience\" naturally into the plot, without lecturing."
	if got != want {
		t.Fatalf("append: want=%q got=%q", want, got)
	}
}
