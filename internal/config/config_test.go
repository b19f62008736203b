package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
log_level: debug
stream:
  transport: websocket
  url: ws://localhost:9001
log:
  capacity: 50
templates:
  granted: "Entry authorized"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Stream.Transport != "websocket" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Log.Capacity != 50 {
		t.Fatalf("capacity = %d, want 50", cfg.Log.Capacity)
	}
	// Untouched fields keep their defaults.
	if cfg.Stream.DoorStateTopic != "iot/porte/+/state" {
		t.Fatalf("door state topic = %q", cfg.Stream.DoorStateTopic)
	}
	if cfg.Templates.Granted != "Entry authorized" {
		t.Fatalf("granted template = %q", cfg.Templates.Granted)
	}
	if cfg.Templates.Denied != "Access denied" {
		t.Fatalf("denied template not defaulted: %q", cfg.Templates.Denied)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{"stream":{"url":"tcp://broker:1883","qos":2}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream.URL != "tcp://broker:1883" || cfg.Stream.QoS != 2 {
		t.Fatalf("json overrides not applied: %+v", cfg.Stream)
	}
}

func TestLoadRejectsBadTransport(t *testing.T) {
	path := writeTemp(t, "config.yaml", "stream:\n  transport: amqp\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown transport")
	}
}

func TestLoadRejectsTopicWithoutPlaceholder(t *testing.T) {
	path := writeTemp(t, "config.yaml", "stream:\n  badge_command_topic: iot/badgeuse/commands\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing device placeholder")
	}
}

func TestValidateSinkRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sinks.Kafka.Enabled = true
	cfg.Sinks.Kafka.Brokers = nil
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for kafka sink without brokers")
	}
	cfg.Sinks.Kafka.Brokers = []string{"localhost:9092"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
}

func TestStaticManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	m := NewStaticManager(cfg)
	if got := m.Get().LogLevel; got != "warn" {
		t.Fatalf("log level = %q", got)
	}
	if needs, err := m.NeedsReload(); err != nil || needs {
		t.Fatalf("static manager should never need reload: %v %v", needs, err)
	}
}

func TestManagerReload(t *testing.T) {
	path := writeTemp(t, "config.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.WriteFile(path, []byte("log_level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("log level after reload = %q", cfg.LogLevel)
	}
}
