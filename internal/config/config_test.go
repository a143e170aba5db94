package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TASKFLOW_TELEGRAM_TOKEN", "TASKFLOW_DB_PATH", "TASKFLOW_ADMINS",
		"TASKFLOW_TIMEZONE", "TASKFLOW_LOCALE", "TASKFLOW_STRICT_REVIEW",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, home string, v any) {
	t.Helper()
	cfgDir := filepath.Join(home, ".taskflow")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if !cfg.Deadline.Enabled {
		t.Error("deadline reminders should be enabled by default")
	}
	if cfg.Deadline.Schedule != DefaultDeadlineSchedule {
		t.Errorf("schedule = %q, want %q", cfg.Deadline.Schedule, DefaultDeadlineSchedule)
	}
	if cfg.Deadline.Timezone != DefaultTimezone {
		t.Errorf("timezone = %q, want %q", cfg.Deadline.Timezone, DefaultTimezone)
	}
	if !cfg.Deadline.RunOnStart {
		t.Error("runOnStart should be true by default")
	}
	if cfg.Messages.Locale != DefaultLocale {
		t.Errorf("locale = %q, want %q", cfg.Messages.Locale, DefaultLocale)
	}
	if cfg.Workflow.StrictReview {
		t.Error("strictReview should be false by default")
	}
	if filepath.Base(cfg.Store.DBPath) != DefaultDBFile {
		t.Errorf("dbPath = %q", cfg.Store.DBPath)
	}
	if cfg.Channels.Telegram.Enabled {
		t.Error("telegram should be disabled by default")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	want := filepath.Join(tmpDir, ".taskflow", DefaultDBFile)
	if cfg.Store.DBPath != want {
		t.Errorf("dbPath = %q, want %q", cfg.Store.DBPath, want)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	writeConfig(t, tmpDir, map[string]any{
		"channels": map[string]any{
			"telegram": map[string]any{
				"enabled":   true,
				"token":     "123:abc",
				"allowFrom": []string{"42"},
			},
		},
		"store":    map[string]any{"dbPath": "/var/lib/taskflow/tasks.db"},
		"workflow": map[string]any{"admins": []string{"1", "2"}, "strictReview": true},
		"deadline": map[string]any{"schedule": "0 0 9 * * *", "timezone": "UTC", "runOnStart": false},
		"messages": map[string]any{"locale": "th"},
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("telegram = %+v", cfg.Channels.Telegram)
	}
	if !reflect.DeepEqual(cfg.Channels.Telegram.AllowFrom, []string{"42"}) {
		t.Errorf("allowFrom = %v", cfg.Channels.Telegram.AllowFrom)
	}
	if cfg.Store.DBPath != "/var/lib/taskflow/tasks.db" {
		t.Errorf("dbPath = %q", cfg.Store.DBPath)
	}
	if !reflect.DeepEqual(cfg.Workflow.Admins, []string{"1", "2"}) || !cfg.Workflow.StrictReview {
		t.Errorf("workflow = %+v", cfg.Workflow)
	}
	if cfg.Deadline.Schedule != "0 0 9 * * *" || cfg.Deadline.Timezone != "UTC" || cfg.Deadline.RunOnStart {
		t.Errorf("deadline = %+v", cfg.Deadline)
	}
	// Fields absent from the file keep their defaults.
	if !cfg.Deadline.Enabled {
		t.Error("deadline.enabled should keep its default")
	}
	if cfg.Messages.Locale != "th" {
		t.Errorf("locale = %q, want th", cfg.Messages.Locale)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	t.Setenv("TASKFLOW_TELEGRAM_TOKEN", "env-token")
	t.Setenv("TASKFLOW_DB_PATH", "/tmp/env.db")
	t.Setenv("TASKFLOW_ADMINS", " 7, 8 ,,9")
	t.Setenv("TASKFLOW_TIMEZONE", "Europe/Berlin")
	t.Setenv("TASKFLOW_LOCALE", "th")
	t.Setenv("TASKFLOW_STRICT_REVIEW", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Channels.Telegram.Token != "env-token" || !cfg.Channels.Telegram.Enabled {
		t.Errorf("telegram = %+v", cfg.Channels.Telegram)
	}
	if cfg.Store.DBPath != "/tmp/env.db" {
		t.Errorf("dbPath = %q", cfg.Store.DBPath)
	}
	if !reflect.DeepEqual(cfg.Workflow.Admins, []string{"7", "8", "9"}) {
		t.Errorf("admins = %v", cfg.Workflow.Admins)
	}
	if cfg.Deadline.Timezone != "Europe/Berlin" {
		t.Errorf("timezone = %q", cfg.Deadline.Timezone)
	}
	if cfg.Messages.Locale != "th" {
		t.Errorf("locale = %q", cfg.Messages.Locale)
	}
	if !cfg.Workflow.StrictReview {
		t.Error("strictReview override not applied")
	}
}

func TestLoadConfig_EnvWinsOverFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	writeConfig(t, tmpDir, map[string]any{
		"store":    map[string]any{"dbPath": "/from/file.db"},
		"workflow": map[string]any{"strictReview": true},
	})
	t.Setenv("TASKFLOW_DB_PATH", "/from/env.db")
	t.Setenv("TASKFLOW_STRICT_REVIEW", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Store.DBPath != "/from/env.db" {
		t.Errorf("dbPath = %q, want /from/env.db", cfg.Store.DBPath)
	}
	if cfg.Workflow.StrictReview {
		t.Error("env should turn strictReview off")
	}
}

func TestLoadConfig_InvalidStrictReviewIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("TASKFLOW_STRICT_REVIEW", "maybe")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Workflow.StrictReview {
		t.Error("unparseable value should leave the default")
	}
}

func TestLoadConfig_EmptyFieldsUseDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	writeConfig(t, tmpDir, map[string]any{
		"store":    map[string]any{"dbPath": ""},
		"deadline": map[string]any{"schedule": "", "timezone": ""},
		"messages": map[string]any{"locale": ""},
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Store.DBPath == "" {
		t.Error("dbPath should not be empty")
	}
	if cfg.Deadline.Schedule != DefaultDeadlineSchedule {
		t.Errorf("schedule = %q", cfg.Deadline.Schedule)
	}
	if cfg.Deadline.Timezone != DefaultTimezone {
		t.Errorf("timezone = %q", cfg.Deadline.Timezone)
	}
	if cfg.Messages.Locale != DefaultLocale {
		t.Errorf("locale = %q", cfg.Messages.Locale)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfgDir := filepath.Join(tmpDir, ".taskflow")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("invalid json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_InvalidTimezone(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("TASKFLOW_TIMEZONE", "Nowhere/Special")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestLoadConfig_InvalidSchedule(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)
	writeConfig(t, tmpDir, map[string]any{
		"deadline": map[string]any{"schedule": "twice a day"},
	})

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestLoadConfig_TelegramEnabledWithoutToken(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)
	writeConfig(t, tmpDir, map[string]any{
		"channels": map[string]any{"telegram": map[string]any{"enabled": true}},
	})

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location error: %v", err)
	}
	if loc.String() != DefaultTimezone {
		t.Errorf("location = %q, want %q", loc, DefaultTimezone)
	}

	cfg.Deadline.Timezone = ""
	if loc, _ := cfg.Location(); loc.String() != DefaultTimezone {
		t.Errorf("empty timezone location = %q", loc)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Channels.Telegram.Token = "secret"
	cfg.Workflow.Admins = []string{"1"}

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	path := filepath.Join(tmpDir, ".taskflow", "config.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Channels.Telegram.Token != "secret" {
		t.Errorf("token = %q, want secret", loaded.Channels.Telegram.Token)
	}
	if !reflect.DeepEqual(loaded.Workflow.Admins, []string{"1"}) {
		t.Errorf("admins = %v", loaded.Workflow.Admins)
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" a, b ,, c "); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("splitList = %v", got)
	}
	if got := splitList(" , "); got != nil {
		t.Errorf("splitList of blanks = %v, want nil", got)
	}
}
