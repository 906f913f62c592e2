package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "15s"},
		"logging": {"level": "DEBUG", "console": true},
		"storage": {"path": "./data/membot.db", "pending_limit": 5},
		"dispatch": {"workers": 8, "rate_per_sec": 20},
		"sweep": {"due": "*/10 * * * * *"}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Logging.Level != "DEBUG" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage.PendingLimit != 5 || cfg.Dispatch.Workers != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Sweep.DueSpec() != "*/10 * * * * *" {
		t.Fatalf("DueSpec = %q", cfg.Sweep.DueSpec())
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  console: true
storage:
  path: ./membot.db
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || !cfg.Logging.Console {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json",
		`{"telegram": {"token": "t"}, "storage": {"path": "x.db"}, "surprise": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"missing token", `{"storage": {"path": "x.db"}}`},
		{"missing storage path", `{"telegram": {"token": "t"}}`},
		{"bad poll timeout", `{"telegram": {"token": "t", "poll_timeout": "soon"}, "storage": {"path": "x.db"}}`},
		{"negative busy timeout", `{"telegram": {"token": "t"}, "storage": {"path": "x.db", "busy_timeout": "-1s"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, "config.json", tt.body)
			if _, err := NewManager(path).Parse(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSweepSpecDefaults(t *testing.T) {
	t.Parallel()
	var sw SweepConfig
	if sw.DueSpec() != DefaultDueSpec {
		t.Fatalf("DueSpec = %q", sw.DueSpec())
	}
	if sw.ExpirySpec() != DefaultExpirySpec {
		t.Fatalf("ExpirySpec = %q", sw.ExpirySpec())
	}
	if sw.ExpiryBackupSpec() != DefaultExpiryBackupSpec {
		t.Fatalf("ExpiryBackupSpec = %q", sw.ExpiryBackupSpec())
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}, "storage": {"path": "x.db"}}`)
	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	sub := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}

	// A full buffer is drained so subscribers always see the newest config.
	stale, fresh := &Config{}, &Config{}
	m.publish(stale)
	m.publish(fresh)
	if got := <-sub; got != fresh {
		t.Fatal("expected the newest config")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	m.Unsubscribe(sub) // double unsubscribe is fine
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 10s ")
	if err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should error")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}
