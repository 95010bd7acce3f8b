// Package conf loads and validates runtime configuration for the
// recognition pipeline: stream inventory, window/hop/dedup timing,
// decision policy, concurrency ceilings, and storage location.
package conf

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RotationType identifies how file logs are rotated.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// LogConfig is consumed by internal/logging.NewFileLogger.
type LogConfig struct {
	MaxSize  int64        `mapstructure:"maxsize" yaml:"maxsize"`
	Rotation RotationType `mapstructure:"rotation" yaml:"rotation"`
}

// MainSettings carries process-wide identity and logging configuration.
type MainSettings struct {
	Name string    `mapstructure:"name" yaml:"name"`
	TZ   string    `mapstructure:"tz" yaml:"tz"`
	Log  LogConfig `mapstructure:"log" yaml:"log"`
}

// StreamSettings describes a single RTSP audio source.
type StreamSettings struct {
	Name    string `mapstructure:"name" yaml:"name"`
	URL     string `mapstructure:"url" yaml:"url"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// WindowSettings governs the Window Scheduler (C2).
type WindowSettings struct {
	WindowSeconds int `mapstructure:"window_seconds" yaml:"window_seconds"`
	HopSeconds    int `mapstructure:"hop_seconds" yaml:"hop_seconds"`
}

// DecisionSettings governs the Two-Hit Aggregator (C5).
type DecisionSettings struct {
	Policy           string `mapstructure:"policy" yaml:"policy"`
	HopTolerance     int    `mapstructure:"two_hit_hop_tolerance" yaml:"two_hit_hop_tolerance"`
	DedupSeconds     int    `mapstructure:"dedup_seconds" yaml:"dedup_seconds"`
}

// ConcurrencySettings governs the Provider Fan-out (C4) admission control.
type ConcurrencySettings struct {
	GlobalMaxInflightRecognitions int `mapstructure:"global_max_inflight_recognitions" yaml:"global_max_inflight_recognitions"`
	PerProviderMaxInflight        int `mapstructure:"per_provider_max_inflight" yaml:"per_provider_max_inflight"`
}

// StoreSettings governs the embedded relational store (C6).
type StoreSettings struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// Settings is the fully resolved configuration tree for one process.
type Settings struct {
	Main        MainSettings         `mapstructure:"main" yaml:"main"`
	Streams     []StreamSettings     `mapstructure:"streams" yaml:"streams"`
	Window      WindowSettings       `mapstructure:"window" yaml:"window"`
	Decision    DecisionSettings     `mapstructure:"decision" yaml:"decision"`
	Concurrency ConcurrencySettings  `mapstructure:"concurrency" yaml:"concurrency"`
	Store       StoreSettings        `mapstructure:"store" yaml:"store"`
}

var (
	current   atomic.Pointer[Settings]
	loadMutex sync.Mutex
)

// Setting returns the current global settings, populated by Load.
// Callers must not retain the returned pointer across a reload.
func Setting() *Settings {
	s := current.Load()
	if s == nil {
		s = defaultSettings()
	}
	return s
}

func defaultSettings() *Settings {
	return &Settings{
		Main: MainSettings{
			Name: "ying",
			TZ:   "UTC",
			Log: LogConfig{
				MaxSize:  100 * 1024 * 1024,
				Rotation: RotationDaily,
			},
		},
		Window: WindowSettings{
			WindowSeconds: 12,
			HopSeconds:    120,
		},
		Decision: DecisionSettings{
			Policy:       "two_hit",
			HopTolerance: 1,
			DedupSeconds: 300,
		},
		Concurrency: ConcurrencySettings{
			GlobalMaxInflightRecognitions: 5,
			PerProviderMaxInflight:        2,
		},
		Store: StoreSettings{
			DBPath: "./ying.db",
		},
	}
}

// setDefaults registers every default value on the viper instance, one
// SetDefault call per key.
func setDefaults(v *viper.Viper) {
	d := defaultSettings()
	v.SetDefault("main.name", d.Main.Name)
	v.SetDefault("main.tz", d.Main.TZ)
	v.SetDefault("main.log.maxsize", d.Main.Log.MaxSize)
	v.SetDefault("main.log.rotation", string(d.Main.Log.Rotation))
	v.SetDefault("window.window_seconds", d.Window.WindowSeconds)
	v.SetDefault("window.hop_seconds", d.Window.HopSeconds)
	v.SetDefault("decision.policy", d.Decision.Policy)
	v.SetDefault("decision.two_hit_hop_tolerance", d.Decision.HopTolerance)
	v.SetDefault("decision.dedup_seconds", d.Decision.DedupSeconds)
	v.SetDefault("concurrency.global_max_inflight_recognitions", d.Concurrency.GlobalMaxInflightRecognitions)
	v.SetDefault("concurrency.per_provider_max_inflight", d.Concurrency.PerProviderMaxInflight)
	v.SetDefault("store.db_path", d.Store.DBPath)
}

// envBinding pairs a viper config key with the literal environment variable
// name it is bound to, plus an optional validator run at bind time.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.tz", "TZ", nil},
		{"window.window_seconds", "WINDOW_SECONDS", validatePositiveInt},
		{"window.hop_seconds", "HOP_SECONDS", validatePositiveInt},
		{"decision.policy", "DECISION_POLICY", validateDecisionPolicy},
		{"decision.two_hit_hop_tolerance", "TWO_HIT_HOP_TOLERANCE", validateNonNegativeInt},
		{"decision.dedup_seconds", "DEDUP_SECONDS", validatePositiveInt},
		{"concurrency.global_max_inflight_recognitions", "GLOBAL_MAX_INFLIGHT_RECOGNITIONS", validatePositiveInt},
		{"concurrency.per_provider_max_inflight", "PER_PROVIDER_MAX_INFLIGHT", validatePositiveInt},
		{"store.db_path", "DB_PATH", nil},
	}
}

// bindEnvVars wires every literal env var onto its viper key, collecting
// one message per bind or validation failure rather than stopping at the
// first; Load treats any collected message as fatal.
func bindEnvVars(v *viper.Viper) []string {
	var warnings []string
	for _, b := range getEnvBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if raw := v.GetString(b.ConfigKey); raw != "" {
			if err := b.Validate(raw); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", b.EnvVar, raw, err))
			}
		}
	}
	return warnings
}

func validatePositiveInt(raw string) error {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return fmt.Errorf("not an integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateNonNegativeInt(raw string) error {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return fmt.Errorf("not an integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateDecisionPolicy(raw string) error {
	if raw != "two_hit" {
		return fmt.Errorf("unsupported decision policy %q (only \"two_hit\" is implemented)", raw)
	}
	return nil
}

// loadStreamsFromEnv builds the stream inventory from STREAM_COUNT plus
// STREAM_<i>_NAME / STREAM_<i>_URL / STREAM_<i>_ENABLED, per spec §6.
func loadStreamsFromEnv(v *viper.Viper) ([]StreamSettings, error) {
	v.SetDefault("stream_count", 0)
	if err := v.BindEnv("stream_count", "STREAM_COUNT"); err != nil {
		return nil, fmt.Errorf("bind STREAM_COUNT: %w", err)
	}
	count := v.GetInt("stream_count")
	if count <= 0 {
		if existing := v.Get("streams"); existing != nil {
			var streams []StreamSettings
			if err := v.UnmarshalKey("streams", &streams); err != nil {
				return nil, fmt.Errorf("unmarshal streams: %w", err)
			}
			return streams, nil
		}
		return nil, nil
	}

	streams := make([]StreamSettings, 0, count)
	for i := 0; i < count; i++ {
		nameKey := fmt.Sprintf("STREAM_%d_NAME", i)
		urlKey := fmt.Sprintf("STREAM_%d_URL", i)
		enabledKey := fmt.Sprintf("STREAM_%d_ENABLED", i)

		nameCfg := fmt.Sprintf("stream_%d_name", i)
		urlCfg := fmt.Sprintf("stream_%d_url", i)
		enabledCfg := fmt.Sprintf("stream_%d_enabled", i)

		v.SetDefault(enabledCfg, true)
		if err := v.BindEnv(nameCfg, nameKey); err != nil {
			return nil, fmt.Errorf("bind %s: %w", nameKey, err)
		}
		if err := v.BindEnv(urlCfg, urlKey); err != nil {
			return nil, fmt.Errorf("bind %s: %w", urlKey, err)
		}
		if err := v.BindEnv(enabledCfg, enabledKey); err != nil {
			return nil, fmt.Errorf("bind %s: %w", enabledKey, err)
		}

		name := v.GetString(nameCfg)
		url := v.GetString(urlCfg)
		if name == "" || url == "" {
			return nil, fmt.Errorf("stream %d: %s and %s are required", i, nameKey, urlKey)
		}
		streams = append(streams, StreamSettings{
			Name:    name,
			URL:     url,
			Enabled: v.GetBool(enabledCfg),
		})
	}
	return streams, nil
}

// Load reads configFile (if non-empty) plus environment overrides into a
// fresh Settings tree, validates it, and installs it as the process global.
func Load(configFile string) (*Settings, error) {
	loadMutex.Lock()
	defer loadMutex.Unlock()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(nil)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	if warnings := bindEnvVars(v); len(warnings) > 0 {
		return nil, fmt.Errorf("environment binding errors: %v", warnings)
	}

	streams, err := loadStreamsFromEnv(v)
	if err != nil {
		return nil, err
	}

	settings := defaultSettings()
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if len(streams) > 0 {
		settings.Streams = streams
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}

	current.Store(settings)
	return settings, nil
}

// Validate enforces the startup invariants: at least one enabled stream,
// sane timing relationships, and a supported decision policy.
func Validate(s *Settings) error {
	if s.Decision.Policy != "two_hit" {
		return fmt.Errorf("unsupported DECISION_POLICY %q", s.Decision.Policy)
	}
	if s.Window.WindowSeconds <= 0 {
		return fmt.Errorf("WINDOW_SECONDS must be positive, got %d", s.Window.WindowSeconds)
	}
	if s.Window.HopSeconds <= 0 {
		return fmt.Errorf("HOP_SECONDS must be positive, got %d", s.Window.HopSeconds)
	}
	if s.Window.HopSeconds < s.Window.WindowSeconds {
		return fmt.Errorf("HOP_SECONDS (%d) must be >= WINDOW_SECONDS (%d) to avoid overlapping recognition calls", s.Window.HopSeconds, s.Window.WindowSeconds)
	}
	if s.Decision.DedupSeconds <= 0 {
		return fmt.Errorf("DEDUP_SECONDS must be positive, got %d", s.Decision.DedupSeconds)
	}
	if s.Decision.HopTolerance < 0 {
		return fmt.Errorf("TWO_HIT_HOP_TOLERANCE must be non-negative, got %d", s.Decision.HopTolerance)
	}
	if s.Concurrency.GlobalMaxInflightRecognitions <= 0 {
		return fmt.Errorf("GLOBAL_MAX_INFLIGHT_RECOGNITIONS must be positive")
	}
	if s.Concurrency.PerProviderMaxInflight <= 0 {
		return fmt.Errorf("PER_PROVIDER_MAX_INFLIGHT must be positive")
	}
	if s.Concurrency.PerProviderMaxInflight > s.Concurrency.GlobalMaxInflightRecognitions {
		return fmt.Errorf("PER_PROVIDER_MAX_INFLIGHT (%d) cannot exceed GLOBAL_MAX_INFLIGHT_RECOGNITIONS (%d)", s.Concurrency.PerProviderMaxInflight, s.Concurrency.GlobalMaxInflightRecognitions)
	}
	if s.Store.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if _, err := time.LoadLocation(s.Main.TZ); err != nil {
		return fmt.Errorf("invalid TZ %q: %w", s.Main.TZ, err)
	}

	enabled := 0
	seen := make(map[string]struct{}, len(s.Streams))
	for _, stream := range s.Streams {
		if !stream.Enabled {
			continue
		}
		enabled++
		if stream.URL == "" {
			return fmt.Errorf("stream %q: URL is required", stream.Name)
		}
		if _, dup := seen[stream.Name]; dup {
			return fmt.Errorf("duplicate stream name %q", stream.Name)
		}
		seen[stream.Name] = struct{}{}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled stream is required (STREAM_COUNT / STREAM_i_ENABLED)")
	}
	if enabled > 5 {
		return fmt.Errorf("at most 5 simultaneous streams are supported, got %d enabled", enabled)
	}
	return nil
}

// WatchForChanges installs a viper file watcher that re-loads and
// re-validates settings on change, feeding the Worker Manager's hot-reload
// path (C8). onReload is called with the freshly validated settings; it is
// not called if the reload fails validation.
func WatchForChanges(configFile string, onReload func(*Settings)) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		reloaded, err := Load(configFile)
		if err != nil {
			return
		}
		onReload(reloaded)
	})
	v.WatchConfig()
	return nil
}
