// Package continuity keeps multi-episode series consistent. Merge combines the stored
// state of the previous episode with whatever the text generator returned for the new one,
// so that nothing already established can be lost by a forgetful or truncated response.
package continuity

import "strings"

// Mode distinguishes linear series from branching ones
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeInteractive Mode = "interactive"
)

// ParseMode maps unknown or empty values to ModeNormal.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeInteractive {
		return ModeInteractive
	}
	return ModeNormal
}

// SignatureElement is the recurring motif of a series
type SignatureElement struct {
	Description  string   `json:"description"`
	UsageHistory []string `json:"usage_history"`
}

// State is the cross-episode memory of one series
type State struct {
	EstablishedFacts []string          `json:"established_facts"`
	OpenThreads      []string          `json:"open_threads"`
	CharacterStates  map[string]string `json:"character_states"`
	WorldRules       []string          `json:"world_rules"`
	SignatureElement SignatureElement  `json:"signature_element"`
}

// Clone returns a deep copy with nil lists and maps replaced by empty ones.
func (s *State) Clone() *State {
	if s == nil {
		return Empty()
	}
	out := &State{
		EstablishedFacts: cloneStrings(s.EstablishedFacts),
		OpenThreads:      cloneStrings(s.OpenThreads),
		CharacterStates:  make(map[string]string, len(s.CharacterStates)),
		WorldRules:       cloneStrings(s.WorldRules),
		SignatureElement: SignatureElement{
			Description:  s.SignatureElement.Description,
			UsageHistory: cloneStrings(s.SignatureElement.UsageHistory),
		},
	}
	for k, v := range s.CharacterStates {
		out.CharacterStates[k] = v
	}
	return out
}

// IsEmpty reports whether the state carries no information at all.
func (s *State) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.EstablishedFacts) == 0 &&
		len(s.OpenThreads) == 0 &&
		len(s.CharacterStates) == 0 &&
		len(s.WorldRules) == 0 &&
		strings.TrimSpace(s.SignatureElement.Description) == "" &&
		len(s.SignatureElement.UsageHistory) == 0
}

// Empty returns a state with every field initialised.
func Empty() *State {
	return &State{
		EstablishedFacts: []string{},
		OpenThreads:      []string{},
		CharacterStates:  map[string]string{},
		WorldRules:       []string{},
		SignatureElement: SignatureElement{UsageHistory: []string{}},
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
