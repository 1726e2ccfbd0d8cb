package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"batch size", cfg.BatchSize, 100},
		{"flap threshold", cfg.FlapThreshold, 5},
		{"flap window", cfg.FlapWindow, 30 * time.Minute},
		{"resolve quiet period", cfg.ResolveQuietPeriod, 2 * time.Minute},
		{"auto resolve", cfg.AutoResolveAfter, 24 * time.Hour},
		{"llm min confidence", cfg.LLMMinConfidence, 0.60},
		{"quarantine threshold", cfg.QuarantineThreshold, 0.40},
		{"llm timeout", cfg.LLMTimeout, 15 * time.Second},
		{"llm rpm", cfg.LLMRPM, 60},
		{"llm max inflight", cfg.LLMMaxInflight, 4},
		{"cache min success", cfg.CacheMinSuccess, 70.0},
		{"maintenance tick", cfg.MaintTick, 60 * time.Second},
		{"window cache ttl", cfg.WindowCacheTTL, 30 * time.Second},
		{"dlq base backoff", cfg.DLQBaseBackoff, 30 * time.Second},
		{"dlq cap backoff", cfg.DLQCapBackoff, time.Hour},
		{"idempotency ttl", cfg.IdemTTL, 24 * time.Hour},
		{"idempotency stale", cfg.IdemStaleAfter, 5 * time.Minute},
		{"reprocess after", cfg.ReprocessAfter, 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.Mode = "daemon" }, true},
		{"bad provider", func(c *Config) { c.EmailProvider = "pop3" }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"confidence above one", func(c *Config) { c.LLMMinConfidence = 1.5 }, true},
		{"quarantine above confidence", func(c *Config) { c.QuarantineThreshold = 0.9 }, true},
		{"cap below base", func(c *Config) { c.DLQCapBackoff = time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
