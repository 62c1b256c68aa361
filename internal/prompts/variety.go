package prompts

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"Fabelwerk/server/internal/models"
)

const (
	varietyStructureWindow = 3
	varietyHumorWindow     = 3
	humorTooHigh           = 3.0
	humorTooLow            = 2.0
)

// BuildVarietyBlock turns recent story summaries (newest first) into "avoid
// repeating" lines. It returns "" when there is no history or nothing to flag;
// callers then omit the section.
func BuildVarietyBlock(summaries []models.StorySummary, lang string) string {
	if len(summaries) == 0 {
		return ""
	}
	if len(summaries) > RecentStoryLimit {
		summaries = summaries[:RecentStoryLimit]
	}
	loc := LocaleFor(lang)

	var b strings.Builder
	add := func(line string) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}

	if combos := recentStructures(summaries); len(combos) > 0 {
		add("- " + loc.Lines.VarietyStructures)
		for _, c := range combos {
			add("  - " + c)
		}
	}
	if emotion, n := dominantEmotion(summaries); n >= 2 {
		add("- " + fmt.Sprintf(loc.Lines.VarietyEmotion, emotion))
	}
	if avg, n := averageHumor(summaries); n > 0 {
		switch {
		case avg > humorTooHigh:
			add("- " + loc.Lines.VarietyHumorLower)
		case avg < humorTooLow && n >= 2:
			add("- " + loc.Lines.VarietyHumorHigher)
		}
	}
	if themes := concreteThemes(summaries); len(themes) > 0 {
		add("- " + fmt.Sprintf(loc.Lines.VarietyThemes, strings.Join(themes, ", ")))
	}
	return b.String()
}

func recentStructures(summaries []models.StorySummary) []string {
	n := min(len(summaries), varietyStructureWindow)
	var out []string
	for i := 0; i < n; i++ {
		s := summaries[i]
		if !s.HasStructure() {
			continue
		}
		out = append(out, fmt.Sprintf("%s / %s / %s", orDash(s.BeginningType), orDash(s.MiddleType), orDash(s.EndingType)))
	}
	return out
}

// dominantEmotion counts case-insensitively. On a tie the emotion that reached
// the highest count first, scanning newest first, wins.
func dominantEmotion(summaries []models.StorySummary) (string, int) {
	fold := cases.Fold()
	counts := make(map[string]int, len(summaries))
	spelling := make(map[string]string, len(summaries))
	var best string
	bestN := 0
	for _, s := range summaries {
		e := strings.TrimSpace(s.EmotionalColoring)
		if e == "" {
			continue
		}
		key := fold.String(e)
		if _, ok := spelling[key]; !ok {
			spelling[key] = e
		}
		counts[key]++
		if counts[key] > bestN {
			best, bestN = spelling[key], counts[key]
		}
	}
	return best, bestN
}

// averageHumor averages the classified humor levels among the newest stories.
func averageHumor(summaries []models.StorySummary) (float64, int) {
	n := min(len(summaries), varietyHumorWindow)
	sum, count := 0, 0
	for i := 0; i < n; i++ {
		if h := summaries[i].HumorLevel; h != nil {
			sum += *h
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return float64(sum) / float64(count), count
}

func concreteThemes(summaries []models.StorySummary) []string {
	seen := make(map[string]bool, len(summaries))
	var out []string
	for _, s := range summaries {
		t := strings.TrimSpace(s.ConcreteTheme)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func orDash(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "-"
	}
	return s
}
