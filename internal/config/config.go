package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel     string             `json:"log_level" yaml:"log_level"`
	Stream       StreamConfig       `json:"stream" yaml:"stream"`
	Log          LogConfig          `json:"log" yaml:"log"`
	Templates    TemplatesConfig    `json:"templates" yaml:"templates"`
	Bridge       BridgeConfig       `json:"bridge" yaml:"bridge"`
	API          APIConfig          `json:"api" yaml:"api"`
	Sinks        SinksConfig        `json:"sinks" yaml:"sinks"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
}

type StreamConfig struct {
	Transport         string        `json:"transport" yaml:"transport"`
	URL               string        `json:"url" yaml:"url"`
	ClientID          string        `json:"client_id" yaml:"client_id"`
	Username          string        `json:"username" yaml:"username"`
	Password          string        `json:"password" yaml:"password"`
	QoS               int           `json:"qos" yaml:"qos"`
	DoorStateTopic    string        `json:"door_state_topic" yaml:"door_state_topic"`
	BadgeEventsTopic  string        `json:"badge_events_topic" yaml:"badge_events_topic"`
	BadgeCommandTopic string        `json:"badge_command_topic" yaml:"badge_command_topic"`
	DoorCommandTopic  string        `json:"door_command_topic" yaml:"door_command_topic"`
	ChannelBuffer     int           `json:"channel_buffer" yaml:"channel_buffer"`
	ConnectTimeout    time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

type LogConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

// TemplatesConfig is the per-topic message template table. The two front-end
// variants of the original system differ only in phrasing, so the table is
// configuration, not code.
type TemplatesConfig struct {
	ManualOverride string `json:"manual_override" yaml:"manual_override"`
	GrantedFor     string `json:"granted_for" yaml:"granted_for"`
	DeniedFor      string `json:"denied_for" yaml:"denied_for"`
	BadgeInfoFor   string `json:"badge_info_for" yaml:"badge_info_for"`
	Granted        string `json:"granted" yaml:"granted"`
	Denied         string `json:"denied" yaml:"denied"`
	Info           string `json:"info" yaml:"info"`
}

type BridgeConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	OpenAction string        `json:"open_action" yaml:"open_action"`
	AutoClose  time.Duration `json:"auto_close" yaml:"auto_close"`
	Debounce   time.Duration `json:"debounce" yaml:"debounce"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SinksConfig struct {
	Kafka KafkaSinkConfig `json:"kafka" yaml:"kafka"`
	Redis RedisSinkConfig `json:"redis" yaml:"redis"`
}

type KafkaSinkConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type RedisSinkConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Stream   string `json:"stream" yaml:"stream"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type OrchestratorConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	ReadyTimeout  time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	ReadyInterval time.Duration `json:"ready_interval" yaml:"ready_interval"`
}

func DefaultTemplates() TemplatesConfig {
	return TemplatesConfig{
		ManualOverride: "%s opened manually",
		GrantedFor:     "Access granted for %s",
		DeniedFor:      "Access denied for %s",
		BadgeInfoFor:   "Badge event detected for %s",
		Granted:        "Access granted",
		Denied:         "Access denied",
		Info:           "Event detected",
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Stream: StreamConfig{
			Transport:         "mqtt",
			URL:               "tcp://localhost:1883",
			ClientID:          "doorwatch",
			QoS:               1,
			DoorStateTopic:    "iot/porte/+/state",
			BadgeEventsTopic:  "iot/badgeuse/+/events",
			BadgeCommandTopic: "iot/badgeuse/%s/commands",
			DoorCommandTopic:  "iot/porte/%s/commands",
			ChannelBuffer:     1024,
			ConnectTimeout:    10 * time.Second,
		},
		Log:       LogConfig{Capacity: 200},
		Templates: DefaultTemplates(),
		Bridge: BridgeConfig{
			Enabled:    false,
			OpenAction: "open",
			AutoClose:  5 * time.Second,
			Debounce:   2 * time.Second,
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
		Sinks: SinksConfig{
			Kafka: KafkaSinkConfig{Enabled: false, Topic: "doorwatch.events"},
			Redis: RedisSinkConfig{Enabled: false, Addr: "localhost:6379", Stream: "doorwatch:events"},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:doorwatch.db?_pragma=busy_timeout(5000)"},
		Orchestrator: OrchestratorConfig{
			ReadyTimeout:  15 * time.Second,
			ReadyInterval: 800 * time.Millisecond,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Log.Capacity <= 0 {
		cfg.Log.Capacity = def.Log.Capacity
	}
	if cfg.Stream.ChannelBuffer <= 0 {
		cfg.Stream.ChannelBuffer = def.Stream.ChannelBuffer
	}
	if cfg.Stream.Transport == "" {
		cfg.Stream.Transport = def.Stream.Transport
	}
	if cfg.Stream.ClientID == "" {
		cfg.Stream.ClientID = def.Stream.ClientID
	}
	if cfg.Stream.DoorStateTopic == "" {
		cfg.Stream.DoorStateTopic = def.Stream.DoorStateTopic
	}
	if cfg.Stream.BadgeEventsTopic == "" {
		cfg.Stream.BadgeEventsTopic = def.Stream.BadgeEventsTopic
	}
	if cfg.Stream.BadgeCommandTopic == "" {
		cfg.Stream.BadgeCommandTopic = def.Stream.BadgeCommandTopic
	}
	if cfg.Stream.DoorCommandTopic == "" {
		cfg.Stream.DoorCommandTopic = def.Stream.DoorCommandTopic
	}
	if cfg.Stream.ConnectTimeout <= 0 {
		cfg.Stream.ConnectTimeout = def.Stream.ConnectTimeout
	}
	if cfg.Bridge.OpenAction == "" {
		cfg.Bridge.OpenAction = def.Bridge.OpenAction
	}
	if cfg.Bridge.Debounce < 0 {
		cfg.Bridge.Debounce = 0
	}
	if cfg.Orchestrator.ReadyTimeout <= 0 {
		cfg.Orchestrator.ReadyTimeout = def.Orchestrator.ReadyTimeout
	}
	if cfg.Orchestrator.ReadyInterval <= 0 {
		cfg.Orchestrator.ReadyInterval = def.Orchestrator.ReadyInterval
	}
	fillTemplates(&cfg.Templates, def.Templates)
}

func fillTemplates(t *TemplatesConfig, def TemplatesConfig) {
	if t.ManualOverride == "" {
		t.ManualOverride = def.ManualOverride
	}
	if t.GrantedFor == "" {
		t.GrantedFor = def.GrantedFor
	}
	if t.DeniedFor == "" {
		t.DeniedFor = def.DeniedFor
	}
	if t.BadgeInfoFor == "" {
		t.BadgeInfoFor = def.BadgeInfoFor
	}
	if t.Granted == "" {
		t.Granted = def.Granted
	}
	if t.Denied == "" {
		t.Denied = def.Denied
	}
	if t.Info == "" {
		t.Info = def.Info
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Stream.Transport) {
	case "mqtt", "websocket":
	default:
		return fmt.Errorf("stream.transport must be mqtt or websocket, got %q", cfg.Stream.Transport)
	}
	if cfg.Stream.QoS < 0 || cfg.Stream.QoS > 2 {
		return errors.New("stream.qos must be 0, 1 or 2")
	}
	if !strings.Contains(cfg.Stream.BadgeCommandTopic, "%s") {
		return errors.New("stream.badge_command_topic must contain a %s device placeholder")
	}
	if !strings.Contains(cfg.Stream.DoorCommandTopic, "%s") {
		return errors.New("stream.door_command_topic must contain a %s device placeholder")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Sinks.Kafka.Enabled {
		if len(cfg.Sinks.Kafka.Brokers) == 0 || cfg.Sinks.Kafka.Topic == "" {
			return errors.New("sinks.kafka requires brokers and topic")
		}
	}
	if cfg.Sinks.Redis.Enabled {
		if cfg.Sinks.Redis.Addr == "" || cfg.Sinks.Redis.Stream == "" {
			return errors.New("sinks.redis requires addr and stream")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return errors.New("storage.driver must be sqlite or postgres")
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
