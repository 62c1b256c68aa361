package continuity

import "strings"

// StyleSheet is the persisted visual description of a series. It is written
// at episode 1 and only ever extended afterwards.
type StyleSheet struct {
	Characters      map[string]string `json:"characters"` // name -> English visual description
	WorldStyle      string            `json:"world_style"`
	RecurringVisual string            `json:"recurring_visual"`
}

// Clone returns a deep copy.
func (s *StyleSheet) Clone() *StyleSheet {
	if s == nil {
		return nil
	}
	out := &StyleSheet{
		Characters:      make(map[string]string, len(s.Characters)),
		WorldStyle:      s.WorldStyle,
		RecurringVisual: s.RecurringVisual,
	}
	for k, v := range s.Characters {
		out.Characters[k] = v
	}
	return out
}

// MergeStyleSheet extends prev with what next adds. Existing descriptions are
// kept verbatim so that illustrations stay consistent; new characters are added
// and empty fields are filled.
func MergeStyleSheet(prev, next *StyleSheet) *StyleSheet {
	if prev == nil {
		return next.Clone()
	}
	out := prev.Clone()
	if next == nil {
		return out
	}
	for name, desc := range next.Characters {
		if strings.TrimSpace(desc) == "" {
			continue
		}
		if existing, ok := out.Characters[name]; !ok || strings.TrimSpace(existing) == "" {
			out.Characters[name] = desc
		}
	}
	if strings.TrimSpace(out.WorldStyle) == "" {
		out.WorldStyle = next.WorldStyle
	}
	if strings.TrimSpace(out.RecurringVisual) == "" {
		out.RecurringVisual = next.RecurringVisual
	}
	return out
}
