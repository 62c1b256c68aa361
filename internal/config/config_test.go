package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port: want=9090 got=%d", cfg.Server.Port)
	}
	if cfg.Database.Redis.Port != 6379 {
		t.Fatalf("redis port default: want=6379 got=%d", cfg.Database.Redis.Port)
	}
	if cfg.Continuity.LockTTL != 10*time.Minute {
		t.Fatalf("lock ttl default: got=%v", cfg.Continuity.LockTTL)
	}
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REDIS_PASSWORD", "secret")
	cfg, err := Parse([]byte("ai:\n  text:\n    api_key: from-file\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.AI.Text.APIKey != "sk-test" {
		t.Fatalf("api key: want=sk-test got=%q", cfg.AI.Text.APIKey)
	}
	if cfg.Database.Redis.Password != "secret" {
		t.Fatalf("redis password: got=%q", cfg.Database.Redis.Password)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []string{
		"server:\n  port: 70000\n",
		"ai:\n  text:\n    temperature: 3\n",
		"continuity:\n  lock_ttl: -1s\n",
		"continuity:\n  backend: etcd\n",
		"ai:\n  text:\n    max_retries: 0\n",
		"continuity:\n  lock_ttl: 6m\n",
		"ai:\n  text:\n    timeout: 5m\n",
	}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("Parse(%q): expected error", in)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("server: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.WriteTimeout != 180*time.Second || cfg.Continuity.Backend != "redis" {
		t.Fatalf("example config: %+v", cfg)
	}
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestLockTTLMustOutliveGeneration(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"defaults", "", false},
		{"equal to budget", "ai:\n  text:\n    timeout: 1m\n    max_retries: 2\ncontinuity:\n  lock_ttl: 2m\n", true},
		{"above budget", "ai:\n  text:\n    timeout: 1m\n    max_retries: 2\ncontinuity:\n  lock_ttl: 3m\n", false},
		{"no client timeout", "ai:\n  text:\n    timeout: 0s\ncontinuity:\n  lock_ttl: 1m\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse: wantErr=%v got=%v", tt.wantErr, err)
			}
		})
	}
	budget := TextModelConfig{Timeout: 2 * time.Minute, MaxRetries: 3}.GenerationBudget()
	if budget != 6*time.Minute {
		t.Fatalf("budget: want=6m got=%v", budget)
	}
}
