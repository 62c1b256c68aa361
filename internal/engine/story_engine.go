package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/logger"
	"Fabelwerk/server/internal/models"
	"Fabelwerk/server/internal/prompts"
)

var (
	// ErrSeriesBusy means another episode of the same series is being generated
	ErrSeriesBusy = errors.New("series is locked by another generation")

	ErrInvalidRequest = errors.New("invalid episode request")
)

const releaseTimeout = 5 * time.Second

// StoryRecorder stores summaries of finished stories
type StoryRecorder interface {
	Record(ctx context.Context, summary *models.StorySummary) error
}

// EpisodeRequest asks for one standalone story or one episode of a series
type EpisodeRequest struct {
	Story         interfaces.StoryRequest `json:"story"`
	SeriesID      string                  `json:"series_id,omitempty"`
	Episode       int                     `json:"episode,omitempty"` // 1-based, series only
	Mode          continuity.Mode         `json:"mode,omitempty"`
	LearningTheme string                  `json:"learning_theme,omitempty"`
}

// EpisodeResult is everything one generation produced
type EpisodeResult struct {
	RequestID    string                      `json:"request_id"`
	Story        *StoryOutput                `json:"story"`
	Continuity   *continuity.State           `json:"continuity,omitempty"`
	Report       *continuity.Report          `json:"continuity_report,omitempty"`
	StyleSheet   *continuity.StyleSheet      `json:"style_sheet,omitempty"`
	ImagePrompts []prompts.ImagePromptResult `json:"image_prompts"`
}

// Deps are the collaborators of a StoryEngine. Store is required for series;
// History and Recorder are optional.
type Deps struct {
	Rules      interfaces.RuleRepository
	History    interfaces.StoryHistoryProvider
	Recorder   StoryRecorder
	Generator  interfaces.TextGenerator
	Store      interfaces.ContinuityStore
	Reconciler *continuity.Reconciler
	Log        *logger.Logger
}

// Metrics counts engine activity
type Metrics struct {
	inFlight  atomic.Int64
	generated atomic.Int64
	failed    atomic.Int64
	busy      atomic.Int64
}

type MetricsSnapshot struct {
	InFlight  int64 `json:"in_flight"`
	Generated int64 `json:"generated"`
	Failed    int64 `json:"failed"`
	Busy      int64 `json:"series_busy"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		InFlight:  m.inFlight.Load(),
		Generated: m.generated.Load(),
		Failed:    m.failed.Load(),
		Busy:      m.busy.Load(),
	}
}

// StoryEngine runs the generation pipeline: prompt assembly, text generation,
// continuity reconciliation and image prompt assembly.
type StoryEngine struct {
	rules      interfaces.RuleRepository
	builder    *prompts.StoryPromptBuilder
	recorder   StoryRecorder
	generator  interfaces.TextGenerator
	store      interfaces.ContinuityStore
	reconciler *continuity.Reconciler
	metrics    *Metrics
	log        *logger.Logger
}

func NewStoryEngine(deps Deps) *StoryEngine {
	log := logger.OrNop(deps.Log)
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = continuity.NewReconciler(log, nil)
	}
	return &StoryEngine{
		rules:      deps.Rules,
		builder:    prompts.NewStoryPromptBuilder(deps.Rules, deps.History, log),
		recorder:   deps.Recorder,
		generator:  deps.Generator,
		store:      deps.Store,
		reconciler: reconciler,
		metrics:    &Metrics{},
		log:        log.With("component", "story_engine"),
	}
}

func (e *StoryEngine) Metrics() *Metrics { return e.metrics }

func (e *StoryEngine) Reconciler() *continuity.Reconciler { return e.reconciler }

// Prompt builds the prompt a request would send without calling the generator.
func (e *StoryEngine) Prompt(ctx context.Context, req *EpisodeRequest) (string, error) {
	if err := e.normalize(req); err != nil {
		return "", err
	}
	var prev *continuity.State
	if req.Story.IsSeries {
		var err error
		if prev, err = e.store.LoadState(ctx, req.SeriesID); err != nil {
			return "", fmt.Errorf("failed to load continuity state: %w", err)
		}
	}
	return e.buildPrompt(ctx, req, prev)
}

// GenerateEpisode generates one story. Episodes of the same series are
// serialized through the store's series lock; ErrSeriesBusy is returned
// when the lock is held.
func (e *StoryEngine) GenerateEpisode(ctx context.Context, req *EpisodeRequest) (*EpisodeResult, error) {
	if err := e.normalize(req); err != nil {
		return nil, err
	}
	e.metrics.inFlight.Inc()
	defer e.metrics.inFlight.Dec()

	requestID := uuid.NewString()
	log := e.log.With("request_id", requestID, "kid_profile_id", req.Story.Child.ID)
	if req.Story.IsSeries {
		log = log.With("series_id", req.SeriesID, "episode", req.Episode)
	}

	result, err := e.generate(ctx, req, requestID, log)
	switch {
	case errors.Is(err, ErrSeriesBusy):
		e.metrics.busy.Inc()
	case err != nil:
		e.metrics.failed.Inc()
		log.Error("episode generation failed", "error", err)
	default:
		e.metrics.generated.Inc()
		log.Info("episode generated", "title", result.Story.Title, "images", len(result.ImagePrompts))
	}
	return result, err
}

func (e *StoryEngine) generate(ctx context.Context, req *EpisodeRequest, requestID string, log *logger.Logger) (*EpisodeResult, error) {
	var (
		prev      *continuity.State
		prevSheet *continuity.StyleSheet
	)
	if req.Story.IsSeries {
		token, ok, err := e.store.AcquireSeriesLock(ctx, req.SeriesID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSeriesBusy
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := e.store.ReleaseSeriesLock(releaseCtx, req.SeriesID, token); err != nil {
				log.Warn("failed to release series lock", "error", err)
			}
		}()

		if prev, err = e.store.LoadState(ctx, req.SeriesID); err != nil {
			return nil, fmt.Errorf("failed to load continuity state: %w", err)
		}
		if prevSheet, err = e.store.LoadStyleSheet(ctx, req.SeriesID); err != nil {
			return nil, fmt.Errorf("failed to load style sheet: %w", err)
		}
	}

	prompt, err := e.buildPrompt(ctx, req, prev)
	if err != nil {
		return nil, err
	}
	log.Debug("prompt assembled", "chars", len(prompt))

	raw, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	out, err := DecodeStoryOutput(raw)
	if err != nil {
		return nil, err
	}

	result := &EpisodeResult{RequestID: requestID, Story: out}
	var series *prompts.SeriesImageContext
	if req.Story.IsSeries {
		merged, report := e.reconciler.Reconcile(req.SeriesID, prev, out.NextState, req.Episode, req.Mode)
		sheet := continuity.MergeStyleSheet(prevSheet, out.StyleSheet)

		if err := e.store.SaveState(ctx, req.SeriesID, merged); err != nil {
			return nil, fmt.Errorf("failed to save continuity state: %w", err)
		}
		if sheet != nil {
			if err := e.store.SaveStyleSheet(ctx, req.SeriesID, sheet); err != nil {
				return nil, fmt.Errorf("failed to save style sheet: %w", err)
			}
		}
		result.Continuity, result.Report, result.StyleSheet = merged, &report, sheet
		series = &prompts.SeriesImageContext{StyleSheet: sheet, Episode: req.Episode}
	}

	result.ImagePrompts = e.imagePrompts(ctx, req, out, series, log)

	if e.recorder != nil && req.Story.Child.ID != "" {
		if err := e.recorder.Record(ctx, out.Summary(req.Story.Child.ID)); err != nil {
			log.Warn("failed to record story summary", "error", err)
		}
	}
	return result, nil
}

func (e *StoryEngine) normalize(req *EpisodeRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if e.generator == nil || e.rules == nil {
		return errors.New("story engine is missing its generator or rule repository")
	}
	if !req.Story.IsSeries {
		return nil
	}
	if strings.TrimSpace(req.SeriesID) == "" {
		return fmt.Errorf("%w: series_id is required for series", ErrInvalidRequest)
	}
	if req.Episode < 1 || req.Episode > continuity.FinalEpisode {
		return fmt.Errorf("%w: episode must be between 1 and %d", ErrInvalidRequest, continuity.FinalEpisode)
	}
	if e.store == nil {
		return errors.New("story engine has no continuity store")
	}
	req.Mode = continuity.ParseMode(string(req.Mode))
	return nil
}

// buildPrompt renders the series context from prev and assembles the prompt.
// A caller-supplied series context is kept in front of the generated one.
func (e *StoryEngine) buildPrompt(ctx context.Context, req *EpisodeRequest, prev *continuity.State) (string, error) {
	story := req.Story
	if story.IsSeries {
		generated := prompts.SeriesContext(prev, req.Episode, req.Mode, story.Language)
		if custom := strings.TrimSpace(story.SeriesContext); custom != "" {
			story.SeriesContext = custom + "\n" + generated
		} else {
			story.SeriesContext = generated
		}
	}
	prompt, err := e.builder.Build(ctx, &story)
	if err != nil {
		return "", err
	}
	return prompts.InjectLearningTheme(prompt, req.LearningTheme, story.Language), nil
}

func (e *StoryEngine) imagePrompts(ctx context.Context, req *EpisodeRequest, out *StoryOutput, series *prompts.SeriesImageContext, log *logger.Logger) []prompts.ImagePromptResult {
	lang := prompts.NormalizeLanguage(req.Story.Language)
	if lang == "" {
		lang = prompts.DefaultLanguage
	}

	var age prompts.AgeImageStyle
	if rule, err := e.rules.ImageStyle(ctx, req.Story.Child.Age); err == nil {
		age = prompts.AgeImageStyleFrom(rule)
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		log.Warn("image style lookup failed", "error", err)
	}
	var theme *prompts.ThemeImageStyle
	if rule, err := e.rules.ThemeRule(ctx, req.Story.ThemeKey, lang); err == nil {
		theme = prompts.ThemeImageStyleFrom(rule)
	}

	if out.ImagePlan != nil {
		return prompts.BuildImagePrompts(out.ImagePlan, age, theme, req.Story.Child.Age, series)
	}
	log.Info("reply has no image plan, using fallback cover")
	fallback := prompts.BuildFallbackImagePrompt(out.Title, fallbackCharacter(req, series), age, theme)
	return []prompts.ImagePromptResult{fallback}
}

// fallbackCharacter prefers the series style sheet, then the caller's characters.
func fallbackCharacter(req *EpisodeRequest, series *prompts.SeriesImageContext) string {
	if series != nil && series.StyleSheet != nil {
		if desc := strings.TrimSpace(series.StyleSheet.Characters[req.Story.Child.Name]); desc != "" {
			return desc
		}
	}
	for _, c := range req.Story.Protagonists.Characters {
		if desc := strings.TrimSpace(c.Description); desc != "" {
			return c.Name + ", " + desc
		}
	}
	if req.Story.Child.Age > 0 {
		return fmt.Sprintf("a %d-year-old child", req.Story.Child.Age)
	}
	return ""
}
