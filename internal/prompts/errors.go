package prompts

import (
	"errors"
	"fmt"
)

// ConfigErrorKind names the rule table that had no matching row
type ConfigErrorKind string

const (
	MissingAgeRule        ConfigErrorKind = "age_rule"
	MissingDifficultyRule ConfigErrorKind = "difficulty_rule"
	MissingThemeRule      ConfigErrorKind = "theme_rule"
)

// ConfigError means the rule tables cannot serve a request. Prompt assembly
// stops instead of substituting defaults.
type ConfigError struct {
	Kind     ConfigErrorKind
	Language string
	Key      string // age, level or theme key that was looked up
	Err      error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("configuration error: no %s for language %q and key %q", e.Kind, e.Language, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
