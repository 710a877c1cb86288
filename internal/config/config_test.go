package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.RecurrenceHorizonDays != 7 || cfg.DeletedRetentionDays != 30 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.EscalationInterval != time.Minute || cfg.StreakTime != "00:05" {
		t.Fatalf("unexpected cadence defaults %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "database_driver: postgres\n" +
		"database_url: postgres://planner@localhost/planner\n" +
		"escalation_interval: 2m\n" +
		"sweep_workers: 8\n" +
		"smtp:\n  host: smtp.example.com\n  port: 2525\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SWEEP_WORKERS", "2")
	t.Setenv("REMINDER_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != "postgres" || cfg.EscalationInterval != 2*time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != 2525 {
		t.Fatalf("smtp block not applied: %+v", cfg.SMTP)
	}
	if cfg.SweepWorkers != 2 || cfg.ReminderInterval != 30*time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SWEEP_TIMEOUT": "soon",
		"SWEEP_WORKERS": "many",
	}
	for key, value := range cases {
		cfg := Defaults()
		getenv := func(k string) string {
			if k == key {
				return value
			}
			return ""
		}
		if err := applyEnv(&cfg, getenv); err == nil {
			t.Errorf("expected error for %s=%q", key, value)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseDriver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
	cfg = Defaults()
	cfg.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bad timezone to fail")
	}
	cfg = Defaults()
	cfg.Timezone = "Europe/Berlin"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
