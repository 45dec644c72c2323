// Package config loads Taskweave configuration from defaults, YAML files,
// environment variables and CLI flags, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log          LogConfig          `koanf:"log"`
	LLM          LLMConfig          `koanf:"llm"`
	Engine       EngineConfig       `koanf:"engine"`
	Selector     SelectorConfig     `koanf:"selector"`
	Slots        SlotsConfig        `koanf:"slots"`
	Session      SessionConfig      `koanf:"session"`
	Feedback     FeedbackConfig     `koanf:"feedback"`
	Calendar     CalendarConfig     `koanf:"calendar"`
	Capabilities CapabilitiesConfig `koanf:"capabilities"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider        string `koanf:"provider"` // ollama, mock, none
	Model           string `koanf:"model"`
	BaseURL         string `koanf:"base_url"`
	DeadlineSeconds int    `koanf:"deadline_seconds"`
}

type EngineConfig struct {
	TurnTimeoutSeconds int `koanf:"turn_timeout_seconds"`
}

type SelectorConfig struct {
	FloorConfidence float64 `koanf:"floor_confidence"`
}

type SlotsConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	MaxQuestionsPerTurn int     `koanf:"max_questions_per_turn"`
}

type SessionConfig struct {
	Store                string `koanf:"store"` // memory, sqlite
	SQLitePath           string `koanf:"sqlite_path"`
	MaxHistory           int    `koanf:"max_history"`
	IdleTimeoutMinutes   int    `koanf:"idle_timeout_minutes"`
	SweepIntervalSeconds int    `koanf:"sweep_interval_seconds"`
}

type FeedbackConfig struct {
	MaxRecoveryAttempts int    `koanf:"max_recovery_attempts"`
	FreeSlotLimit       int    `koanf:"free_slot_limit"`
	WorkdayStart        string `koanf:"workday_start"`
	WorkdayEnd          string `koanf:"workday_end"`
}

type CalendarConfig struct {
	Store      string `koanf:"store"` // memory, sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

type CapabilitiesConfig struct {
	Dir string `koanf:"dir"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// EnvPrefix is the environment variable namespace:
// TASKWEAVE_SELECTOR_FLOOR_CONFIDENCE maps to selector.floor_confidence.
const EnvPrefix = "TASKWEAVE_"

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.deadline_seconds", 10)

	k.Set("engine.turn_timeout_seconds", 60)
	k.Set("selector.floor_confidence", 0.6)
	k.Set("slots.confidence_threshold", 0.8)
	k.Set("slots.max_questions_per_turn", 1)

	k.Set("session.store", "memory")
	k.Set("session.sqlite_path", "taskweave-sessions.db")
	k.Set("session.max_history", 50)
	k.Set("session.idle_timeout_minutes", 30)
	k.Set("session.sweep_interval_seconds", 60)

	k.Set("feedback.max_recovery_attempts", 2)
	k.Set("feedback.free_slot_limit", 3)
	k.Set("feedback.workday_start", "09:00")
	k.Set("feedback.workday_end", "17:00")

	k.Set("calendar.store", "memory")
	k.Set("calendar.sqlite_path", "taskweave-calendar.db")

	k.Set("capabilities.dir", "capabilities")
	k.Set("telemetry.exporter", "stdout")
}

// Load reads configuration: defaults, then the optional YAML file, then
// environment variables.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile layers a profile override file (config.dev.yaml next to
// config.yaml for profile "dev") on top of the base file.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

func load(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", set)
		}
		k.Set(key, value)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// profileConfigPath returns the profile override file when it exists:
// dir/config.<profile>.yaml for base dir/config.yaml.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// LoadWithCLI parses --config, --profile (alias --env) and repeated --set
// key=value flags, then loads accordingly.
func LoadWithCLI(args []string) (*Config, error) {
	var path, profile string
	var sets []string

	next := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("flag %s needs a value", args[i])
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			v, err := next(i)
			if err != nil {
				return nil, err
			}
			path = v
			i++
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--profile" || arg == "--env":
			v, err := next(i)
			if err != nil {
				return nil, err
			}
			profile = v
			i++
		case strings.HasPrefix(arg, "--profile="):
			profile = strings.TrimPrefix(arg, "--profile=")
		case strings.HasPrefix(arg, "--env="):
			profile = strings.TrimPrefix(arg, "--env=")
		case arg == "--set":
			v, err := next(i)
			if err != nil {
				return nil, err
			}
			sets = append(sets, v)
			i++
		case strings.HasPrefix(arg, "--set="):
			sets = append(sets, strings.TrimPrefix(arg, "--set="))
		}
	}

	return load(path, profile, sets)
}
