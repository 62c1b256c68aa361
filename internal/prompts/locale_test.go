package prompts

import (
	"reflect"
	"testing"
)

func TestLocalesAreComplete(t *testing.T) {
	want := []string{"de", "en", "es", "fr"}
	if got := SupportedLanguages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("languages: want=%v got=%v", want, got)
	}
	abilities := LocaleFor(DefaultLanguage).Abilities

	for _, code := range want {
		loc := LocaleFor(code)
		if loc.Code != code {
			t.Fatalf("LocaleFor(%s) returned %s", code, loc.Code)
		}
		if loc.Intro == "" || loc.LanguageName == "" {
			t.Fatalf("%s: intro or language name empty", code)
		}
		for _, v := range []reflect.Value{reflect.ValueOf(loc.Headers), reflect.ValueOf(loc.Lines)} {
			for i := 0; i < v.NumField(); i++ {
				if v.Field(i).String() == "" {
					t.Fatalf("%s: %s.%s is empty", code, v.Type().Name(), v.Type().Field(i).Name)
				}
			}
		}
		if len(loc.Abilities) != len(abilities) {
			t.Fatalf("%s: abilities want=%d got=%d", code, len(abilities), len(loc.Abilities))
		}
		for key := range abilities {
			if loc.Abilities[key] == "" {
				t.Fatalf("%s: ability %s missing", code, key)
			}
		}
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"de", "de"},
		{"de-AT", "de"},
		{"EN", "en"},
		{" fr-CA ", "fr"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeLanguage(tt.in); got != tt.want {
			t.Fatalf("NormalizeLanguage(%q): want=%q got=%q", tt.in, tt.want, got)
		}
	}
}

func TestLocaleForFallsBackToEnglish(t *testing.T) {
	for _, lang := range []string{"", "it", "not a language"} {
		if got := LocaleFor(lang).Code; got != DefaultLanguage {
			t.Fatalf("LocaleFor(%q): want=en got=%s", lang, got)
		}
	}
	if got := LocaleFor("es-MX").Code; got != "es" {
		t.Fatalf("regional tag: want=es got=%s", got)
	}
}
