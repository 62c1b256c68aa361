package continuity

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

const (
	// FinalEpisode is the last installment of a series. Resolving every open
	// thread is expected there, so shrinkage is not flagged.
	FinalEpisode = 5

	// ThreadDropThreshold is the fraction of previous open threads that may
	// disappear in one episode before the merge reports a possible regression.
	ThreadDropThreshold = 0.5
)

// WarningKind classifies a non-fatal merge observation
type WarningKind string

const (
	WarningThreadRegression WarningKind = "open_thread_regression"
	WarningFactsOmitted     WarningKind = "facts_omitted"
)

// Warning is surfaced to the caller; the merge result is complete regardless.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	Items   []string    `json:"items,omitempty"`
}

// Report describes what a merge had to reconcile.
type Report struct {
	Warnings []Warning `json:"warnings,omitempty"`

	// ResolvedThreads are previous open threads missing from the new list.
	ResolvedThreads []string `json:"resolved_threads,omitempty"`

	// RestoredFacts counts previous facts the generator did not repeat.
	RestoredFacts int `json:"restored_facts"`

	// RestoredCharacters are names carried over because the update omitted them.
	RestoredCharacters []string `json:"restored_characters,omitempty"`

	// ShrinkSuppressed is set when a large thread drop was ignored on the final episode.
	ShrinkSuppressed bool `json:"shrink_suppressed,omitempty"`
}

// HasWarnings reports whether anything needs attention.
func (r Report) HasWarnings() bool { return len(r.Warnings) > 0 }

// Merge reconciles the stored state of the previous episode with the state
// returned for the episode just generated. It never mutates its inputs.
//
// Facts, world rules and signature usage history are append-only unions,
// de-duplicated case-insensitively while keeping the earliest spelling.
// Character states are a key union where the update wins per key.
// Open threads follow the update, which may legitimately resolve some.
func Merge(prev, next *State, episode int, mode Mode) (*State, Report) {
	var report Report
	switch {
	case prev == nil && next == nil:
		return Empty(), report
	case prev == nil:
		return next.Clone(), report
	case next == nil:
		return prev.Clone(), report
	}

	out := &State{
		EstablishedFacts: unionFold(prev.EstablishedFacts, next.EstablishedFacts),
		OpenThreads:      cloneStrings(next.OpenThreads),
		CharacterStates:  make(map[string]string, len(prev.CharacterStates)+len(next.CharacterStates)),
		WorldRules:       unionFold(prev.WorldRules, next.WorldRules),
		SignatureElement: SignatureElement{
			Description:  prev.SignatureElement.Description,
			UsageHistory: unionFold(prev.SignatureElement.UsageHistory, next.SignatureElement.UsageHistory),
		},
	}
	if strings.TrimSpace(next.SignatureElement.Description) != "" {
		out.SignatureElement.Description = next.SignatureElement.Description
	}

	for name, desc := range prev.CharacterStates {
		out.CharacterStates[name] = desc
	}
	for name, desc := range next.CharacterStates {
		// A blank value is a truncated answer; it never replaces a known state.
		if _, had := prev.CharacterStates[name]; had && strings.TrimSpace(desc) == "" {
			continue
		}
		out.CharacterStates[name] = desc
	}
	for name := range prev.CharacterStates {
		if _, ok := next.CharacterStates[name]; !ok {
			report.RestoredCharacters = append(report.RestoredCharacters, name)
		}
	}
	sort.Strings(report.RestoredCharacters)

	omitted := missingFold(prev.EstablishedFacts, next.EstablishedFacts)
	report.RestoredFacts = len(omitted)
	if mode == ModeInteractive && len(omitted) > 0 {
		// Branch outcomes live only in the facts list; the union above already
		// restored them, this only records that the generator dropped them.
		report.Warnings = append(report.Warnings, Warning{
			Kind:    WarningFactsOmitted,
			Message: fmt.Sprintf("generator omitted %d established facts of an interactive series", len(omitted)),
			Items:   omitted,
		})
	}

	report.ResolvedThreads = missingFold(prev.OpenThreads, next.OpenThreads)
	if threadDropTooLarge(len(prev.OpenThreads), len(report.ResolvedThreads)) {
		if episode >= FinalEpisode {
			report.ShrinkSuppressed = true
		} else {
			report.Warnings = append(report.Warnings, Warning{
				Kind: WarningThreadRegression,
				Message: fmt.Sprintf("%d of %d open threads disappeared in episode %d",
					len(report.ResolvedThreads), len(prev.OpenThreads), episode),
				Items: report.ResolvedThreads,
			})
		}
	}

	return out, report
}

func threadDropTooLarge(previous, dropped int) bool {
	if previous == 0 {
		return false
	}
	return float64(dropped) > ThreadDropThreshold*float64(previous)
}

// unionFold appends the entries of b that are not already in a, comparing
// case-insensitively. Blank entries are skipped.
func unionFold(a, b []string) []string {
	caser := cases.Fold()
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			key := foldKey(caser, item)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// missingFold returns the entries of prev that next does not contain.
func missingFold(prev, next []string) []string {
	if len(prev) == 0 {
		return nil
	}
	caser := cases.Fold()
	present := make(map[string]struct{}, len(next))
	for _, item := range next {
		present[foldKey(caser, item)] = struct{}{}
	}
	var out []string
	for _, item := range prev {
		key := foldKey(caser, item)
		if key == "" {
			continue
		}
		if _, ok := present[key]; !ok {
			out = append(out, item)
		}
	}
	return out
}

func foldKey(caser cases.Caser, s string) string {
	return caser.String(strings.TrimSpace(s))
}
