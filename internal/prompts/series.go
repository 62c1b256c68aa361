package prompts

import (
	"fmt"
	"sort"
	"strings"

	"Fabelwerk/server/internal/continuity"
)

// SeriesContext renders the stored continuity state as the free-text series
// section of the next episode's prompt.
func SeriesContext(state *continuity.State, episode int, mode continuity.Mode, lang string) string {
	loc := LocaleFor(lang)
	var b strings.Builder
	line := func(s string) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}
	list := func(title string, items []string) {
		var kept []string
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				kept = append(kept, it)
			}
		}
		if len(kept) == 0 {
			return
		}
		line("- " + title)
		for _, it := range kept {
			line("  - " + it)
		}
	}

	if episode > 0 {
		line("- " + fmt.Sprintf(loc.Lines.SeriesEpisode, episode, continuity.FinalEpisode))
	}
	if !state.IsEmpty() {
		list(loc.Lines.SeriesFacts, state.EstablishedFacts)
		list(loc.Lines.SeriesThreads, state.OpenThreads)
		list(loc.Lines.SeriesCharacters, characterStateLines(state.CharacterStates))
		list(loc.Lines.SeriesWorldRules, state.WorldRules)
		if desc := strings.TrimSpace(state.SignatureElement.Description); desc != "" {
			line("- " + fmt.Sprintf(loc.Lines.SeriesSignature, desc))
		}
		list(loc.Lines.SeriesSignatureHistory, state.SignatureElement.UsageHistory)
		if mode == continuity.ModeInteractive {
			line("- " + loc.Lines.SeriesInteractive)
		}
		line("- " + loc.Lines.SeriesContinue)
	}
	if episode >= continuity.FinalEpisode {
		line("- " + loc.Lines.SeriesFinal)
	}
	return b.String()
}

func characterStateLines(states map[string]string) []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		if v := strings.TrimSpace(states[name]); v != "" {
			out = append(out, name+": "+v)
		} else {
			out = append(out, name)
		}
	}
	return out
}
