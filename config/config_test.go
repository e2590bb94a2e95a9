package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"catalog": {"base_url": "http://library:3000"}, "settings": {"base_url": "http://library:3000"}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.JobStream != "comic.search.jobs" || cfg.Queue.ResultStream != "comic.search.results" {
		t.Fatalf("unexpected stream defaults: %+v", cfg.Queue)
	}
	if cfg.Correlation.Timeout != 5*time.Minute || cfg.Correlation.CompletionDelay != 0 {
		t.Fatalf("unexpected correlation defaults: %+v", cfg.Correlation)
	}
	if cfg.Dispatcher.Concurrency != 2 {
		t.Fatalf("expected concurrency 2, got %d", cfg.Dispatcher.Concurrency)
	}
	if len(cfg.AirDCPP.Extensions) != 3 {
		t.Fatalf("expected default extensions, got %v", cfg.AirDCPP.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
  "catalog": {"base_url": "http://library:3000"},
  "settings": {"source": "static"},
  "queue": {"group": "custom", "enumerate_page_size": 10},
  "correlation": {"timeout": "2m", "completion_delay": "5s"},
  "dispatcher": {"concurrency": 0}
}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Group != "custom" || cfg.Queue.EnumeratePage != 10 {
		t.Fatalf("file values not applied: %+v", cfg.Queue)
	}
	if cfg.Correlation.Timeout != 2*time.Minute || cfg.Correlation.CompletionDelay != 5*time.Second {
		t.Fatalf("durations not decoded: %+v", cfg.Correlation)
	}
	if cfg.Dispatcher.Concurrency != 2 {
		t.Fatalf("expected zero concurrency to normalize to 2, got %d", cfg.Dispatcher.Concurrency)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("COMICSEARCH_REDIS_HOST", "redis.internal")
	cfg, err := LoadConfig(writeConfig(t, `{"catalog": {"base_url": "http://library:3000"}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr() != "redis.internal:6379" {
		t.Fatalf("expected env override, got %s", cfg.Redis.Addr())
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Config{
		Queue:       QueueConfig{JobStream: "s", ResultStream: "s", Group: "g", EnumeratePage: 1},
		Settings:    SettingsConfig{Source: "http"},
		Correlation: CorrelationConfig{Timeout: time.Minute, SweepInterval: time.Second, CompletionDelay: time.Minute},
		Scheduler:   SchedulerConfig{Enabled: true},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"redis.host", "must differ", "settings.base_url", "completion_delay", "catalog.base_url", "scheduler.cron"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestSettingsSourceValidate(t *testing.T) {
	if err := (SettingsConfig{Source: "static"}).Validate(); err != nil {
		t.Fatalf("static needs no base url: %v", err)
	}
	if err := (SettingsConfig{Source: "consul"}).Validate(); err == nil {
		t.Fatalf("expected unknown source to fail")
	}
}
