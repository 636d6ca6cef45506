package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	DaemonName  string            `yaml:"daemon_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Output      OutputConfig      `yaml:"output"`
	Input       InputConfig       `yaml:"input"`
	Reasoning   ReasoningConfig   `yaml:"reasoning"`
	Governor    GovernorConfig    `yaml:"governor"`
	Corrections CorrectionsConfig `yaml:"corrections"`
	Recall      RecallConfig      `yaml:"recall"`
	Context     ContextConfig     `yaml:"context"`
	Proactive   ProactiveConfig   `yaml:"proactive"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// OutputConfig drives the audio output actor and its synthesis backend.
type OutputConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Mode              string  `yaml:"mode"` // mock, exec
	Command           string  `yaml:"command"`
	DefaultVoice      string  `yaml:"default_voice"`
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	SynthTimeoutMS    int     `yaml:"synth_timeout_ms"`
	PhantomCenterGain float64 `yaml:"phantom_center_gain"`
	Volume            float64 `yaml:"volume"`
	SinkMode          string  `yaml:"sink_mode"` // mock, wpctl
	WpctlPath         string  `yaml:"wpctl_path"`
	MaxDownloadMB     int     `yaml:"max_download_mb"`
	DownloadTimeoutMS int     `yaml:"download_timeout_ms"`
}

// InputConfig drives the audio input actor, its VAD state machine and the
// recognition backend.
type InputConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Mode              string `yaml:"mode"` // mock, exec, stream
	Command           string `yaml:"command"`
	ModelPath         string `yaml:"model_path"`
	Language          string `yaml:"language"`
	SampleRate        int    `yaml:"sample_rate"`
	Channels          int    `yaml:"channels"`
	FrameDurationMS   int    `yaml:"frame_duration_ms"`
	SpeechThreshold   int    `yaml:"vad_speech_threshold"`
	SilenceThreshold  int    `yaml:"vad_silence_threshold"`
	SilenceDurationMS int    `yaml:"vad_silence_duration_ms"`
	MaxDurationMS     int    `yaml:"vad_max_duration_ms"`
	StreamHost        string `yaml:"stream_host"`
	StreamPort        int    `yaml:"stream_port"`
	RecognizeTimeout  int    `yaml:"recognize_timeout_ms"`
}

type ReasoningConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	HistorySize int     `yaml:"history_size"`
	RecallTopK  int     `yaml:"recall_top_k"`
}

// GovernorConfig holds the sliding-window rate limits (requests per window,
// per caller and operation class) and the audio memory budget.
type GovernorConfig struct {
	WindowMS          int `yaml:"window_ms"`
	SpeakLimit        int `yaml:"speak_limit"`
	ListenLimit       int `yaml:"listen_limit"`
	PlaybackLimit     int `yaml:"playback_limit"`
	ReasonLimit       int `yaml:"reason_limit"`
	StaleAfterWindows int `yaml:"stale_after_windows"`
	SweepIntervalMS   int `yaml:"sweep_interval_ms"`
	GlobalBudgetMB    int `yaml:"global_audio_budget_mb"`
	PerRequestMB      int `yaml:"per_request_mb"`
}

type CorrectionsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxDistance int    `yaml:"max_distance"`
}

type RecallConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ContextConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// ProactiveConfig drives unprompted announcements: user timers that fire a
// spoken reminder through the reasoning pipeline. MinGapMS is the shortest
// interval between two unprompted announcements.
type ProactiveConfig struct {
	Enabled  bool `yaml:"enabled"`
	TickMS   int  `yaml:"tick_ms"`
	MinGapMS int  `yaml:"min_gap_ms"`
}

func Default() Config {
	return Config{
		DaemonName:  "voiced",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8190,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9192",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Output: OutputConfig{
			Enabled:           true,
			Mode:              "mock",
			DefaultVoice:      "en_US-lessac-medium",
			SampleRate:        22050,
			Channels:          2,
			SynthTimeoutMS:    5000,
			PhantomCenterGain: 0.70,
			Volume:            1.0,
			SinkMode:          "mock",
			WpctlPath:         "/usr/bin/wpctl",
			MaxDownloadMB:     50,
			DownloadTimeoutMS: 30000,
		},
		Input: InputConfig{
			Enabled:           true,
			Mode:              "mock",
			SampleRate:        16000,
			Channels:          1,
			FrameDurationMS:   10,
			SpeechThreshold:   500,
			SilenceThreshold:  400,
			SilenceDurationMS: 1500,
			MaxDurationMS:     15000,
			StreamHost:        "127.0.0.1",
			StreamPort:        10301,
			RecognizeTimeout:  45000,
		},
		Reasoning: ReasoningConfig{
			Enabled:     true,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:3b",
			MaxTokens:   256,
			Temperature: 0.7,
			TimeoutMS:   30000,
			HistorySize: 50,
			RecallTopK:  3,
		},
		Governor: GovernorConfig{
			WindowMS:          60000,
			SpeakLimit:        30,
			ListenLimit:       30,
			PlaybackLimit:     20,
			ReasonLimit:       10,
			StaleAfterWindows: 3,
			SweepIntervalMS:   60000,
			GlobalBudgetMB:    256,
			PerRequestMB:      50,
		},
		Corrections: CorrectionsConfig{
			Enabled:     true,
			Path:        "./data/corrections.json",
			MaxDistance: 2,
		},
		Recall: RecallConfig{
			Enabled:       true,
			Path:          "./data/recall.db",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Context: ContextConfig{
			Enabled:   false,
			TimeoutMS: 500,
		},
		Proactive: ProactiveConfig{
			Enabled:  true,
			TickMS:   1000,
			MinGapMS: 30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.DaemonName, "VOICED_DAEMON_NAME")
	overrideString(&cfg.Environment, "VOICED_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICED_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICED_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICED_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICED_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICED_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICED_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOICED_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICED_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICED_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICED_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICED_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICED_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICED_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICED_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Output.Enabled, "VOICED_OUTPUT_ENABLED")
	overrideString(&cfg.Output.Mode, "VOICED_OUTPUT_MODE")
	overrideString(&cfg.Output.Command, "VOICED_OUTPUT_COMMAND")
	overrideString(&cfg.Output.DefaultVoice, "VOICED_OUTPUT_DEFAULT_VOICE")
	overrideInt(&cfg.Output.SampleRate, "VOICED_OUTPUT_SAMPLE_RATE")
	overrideInt(&cfg.Output.Channels, "VOICED_OUTPUT_CHANNELS")
	overrideInt(&cfg.Output.SynthTimeoutMS, "VOICED_OUTPUT_SYNTH_TIMEOUT_MS")
	overrideFloat(&cfg.Output.PhantomCenterGain, "VOICED_OUTPUT_PHANTOM_CENTER_GAIN")
	overrideFloat(&cfg.Output.Volume, "VOICED_OUTPUT_VOLUME")
	overrideString(&cfg.Output.SinkMode, "VOICED_OUTPUT_SINK_MODE")
	overrideString(&cfg.Output.WpctlPath, "VOICED_OUTPUT_WPCTL_PATH")
	overrideInt(&cfg.Output.MaxDownloadMB, "VOICED_OUTPUT_MAX_DOWNLOAD_MB")
	overrideInt(&cfg.Output.DownloadTimeoutMS, "VOICED_OUTPUT_DOWNLOAD_TIMEOUT_MS")
	overrideBool(&cfg.Input.Enabled, "VOICED_INPUT_ENABLED")
	overrideString(&cfg.Input.Mode, "VOICED_INPUT_MODE")
	overrideString(&cfg.Input.Command, "VOICED_INPUT_COMMAND")
	overrideString(&cfg.Input.ModelPath, "VOICED_INPUT_MODEL_PATH")
	overrideString(&cfg.Input.Language, "VOICED_INPUT_LANGUAGE")
	overrideInt(&cfg.Input.SampleRate, "VOICED_INPUT_SAMPLE_RATE")
	overrideInt(&cfg.Input.Channels, "VOICED_INPUT_CHANNELS")
	overrideInt(&cfg.Input.FrameDurationMS, "VOICED_INPUT_FRAME_DURATION_MS")
	overrideInt(&cfg.Input.SpeechThreshold, "VOICED_INPUT_VAD_SPEECH_THRESHOLD")
	overrideInt(&cfg.Input.SilenceThreshold, "VOICED_INPUT_VAD_SILENCE_THRESHOLD")
	overrideInt(&cfg.Input.SilenceDurationMS, "VOICED_INPUT_VAD_SILENCE_DURATION_MS")
	overrideInt(&cfg.Input.MaxDurationMS, "VOICED_INPUT_VAD_MAX_DURATION_MS")
	overrideString(&cfg.Input.StreamHost, "VOICED_INPUT_STREAM_HOST")
	overrideInt(&cfg.Input.StreamPort, "VOICED_INPUT_STREAM_PORT")
	overrideInt(&cfg.Input.RecognizeTimeout, "VOICED_INPUT_RECOGNIZE_TIMEOUT_MS")
	overrideBool(&cfg.Reasoning.Enabled, "VOICED_REASONING_ENABLED")
	overrideString(&cfg.Reasoning.Mode, "VOICED_REASONING_MODE")
	overrideString(&cfg.Reasoning.Endpoint, "VOICED_REASONING_ENDPOINT")
	overrideString(&cfg.Reasoning.Model, "VOICED_REASONING_MODEL")
	overrideInt(&cfg.Reasoning.MaxTokens, "VOICED_REASONING_MAX_TOKENS")
	overrideFloat(&cfg.Reasoning.Temperature, "VOICED_REASONING_TEMPERATURE")
	overrideInt(&cfg.Reasoning.TimeoutMS, "VOICED_REASONING_TIMEOUT_MS")
	overrideInt(&cfg.Reasoning.HistorySize, "VOICED_REASONING_HISTORY_SIZE")
	overrideInt(&cfg.Reasoning.RecallTopK, "VOICED_REASONING_RECALL_TOP_K")
	overrideInt(&cfg.Governor.WindowMS, "VOICED_GOVERNOR_WINDOW_MS")
	overrideInt(&cfg.Governor.SpeakLimit, "VOICED_GOVERNOR_SPEAK_LIMIT")
	overrideInt(&cfg.Governor.ListenLimit, "VOICED_GOVERNOR_LISTEN_LIMIT")
	overrideInt(&cfg.Governor.PlaybackLimit, "VOICED_GOVERNOR_PLAYBACK_LIMIT")
	overrideInt(&cfg.Governor.ReasonLimit, "VOICED_GOVERNOR_REASON_LIMIT")
	overrideInt(&cfg.Governor.StaleAfterWindows, "VOICED_GOVERNOR_STALE_AFTER_WINDOWS")
	overrideInt(&cfg.Governor.SweepIntervalMS, "VOICED_GOVERNOR_SWEEP_INTERVAL_MS")
	overrideInt(&cfg.Governor.GlobalBudgetMB, "VOICED_GOVERNOR_GLOBAL_AUDIO_BUDGET_MB")
	overrideInt(&cfg.Governor.PerRequestMB, "VOICED_GOVERNOR_PER_REQUEST_MB")
	overrideBool(&cfg.Corrections.Enabled, "VOICED_CORRECTIONS_ENABLED")
	overrideString(&cfg.Corrections.Path, "VOICED_CORRECTIONS_PATH")
	overrideInt(&cfg.Corrections.MaxDistance, "VOICED_CORRECTIONS_MAX_DISTANCE")
	overrideBool(&cfg.Recall.Enabled, "VOICED_RECALL_ENABLED")
	overrideString(&cfg.Recall.Path, "VOICED_RECALL_PATH")
	overrideInt(&cfg.Recall.RetentionDays, "VOICED_RECALL_RETENTION_DAYS")
	overrideInt(&cfg.Recall.MaxEntries, "VOICED_RECALL_MAX_ENTRIES")
	overrideBool(&cfg.Recall.VacuumOnStart, "VOICED_RECALL_VACUUM_ON_START")
	overrideBool(&cfg.Context.Enabled, "VOICED_CONTEXT_ENABLED")
	overrideString(&cfg.Context.Command, "VOICED_CONTEXT_COMMAND")
	overrideInt(&cfg.Context.TimeoutMS, "VOICED_CONTEXT_TIMEOUT_MS")
	overrideBool(&cfg.Proactive.Enabled, "VOICED_PROACTIVE_ENABLED")
	overrideInt(&cfg.Proactive.TickMS, "VOICED_PROACTIVE_TICK_MS")
	overrideInt(&cfg.Proactive.MinGapMS, "VOICED_PROACTIVE_MIN_GAP_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.DaemonName == "" {
		return errors.New("daemon_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Output.Enabled {
		switch cfg.Output.Mode {
		case "mock", "exec":
		default:
			return errors.New("output.mode must be one of mock|exec")
		}
		if cfg.Output.Mode == "exec" && cfg.Output.Command == "" {
			return errors.New("output.command must be set when mode=exec")
		}
		if cfg.Output.SampleRate <= 0 {
			return errors.New("output.sample_rate must be positive")
		}
		if cfg.Output.Channels <= 0 {
			return errors.New("output.channels must be positive")
		}
		if cfg.Output.SynthTimeoutMS <= 0 {
			return errors.New("output.synth_timeout_ms must be positive")
		}
		if cfg.Output.PhantomCenterGain <= 0 || cfg.Output.PhantomCenterGain > 1 {
			return errors.New("output.phantom_center_gain must be in (0.0, 1.0]")
		}
		if cfg.Output.Volume < 0 || cfg.Output.Volume > 1 {
			return errors.New("output.volume must be between 0.0 and 1.0")
		}
		if cfg.Output.MaxDownloadMB <= 0 {
			return errors.New("output.max_download_mb must be positive")
		}
	}
	if cfg.Input.Enabled {
		switch cfg.Input.Mode {
		case "mock", "exec", "stream":
		default:
			return errors.New("input.mode must be one of mock|exec|stream")
		}
		if cfg.Input.Mode == "exec" && cfg.Input.Command == "" {
			return errors.New("input.command must be set when mode=exec")
		}
		if cfg.Input.SampleRate <= 0 {
			return errors.New("input.sample_rate must be positive")
		}
		if cfg.Input.FrameDurationMS <= 0 {
			return errors.New("input.frame_duration_ms must be positive")
		}
		if cfg.Input.SpeechThreshold <= 0 {
			return errors.New("input.vad_speech_threshold must be positive")
		}
		if cfg.Input.SilenceThreshold > cfg.Input.SpeechThreshold {
			return errors.New("input.vad_silence_threshold must not exceed vad_speech_threshold")
		}
		if cfg.Input.MaxDurationMS <= 0 {
			return errors.New("input.vad_max_duration_ms must be positive")
		}
	}
	if cfg.Reasoning.Enabled {
		switch cfg.Reasoning.Mode {
		case "mock", "ollama":
		default:
			return errors.New("reasoning.mode must be one of mock|ollama")
		}
		if cfg.Reasoning.Mode == "ollama" && cfg.Reasoning.Endpoint == "" {
			return errors.New("reasoning.endpoint must be set when mode=ollama")
		}
		if cfg.Reasoning.HistorySize <= 0 {
			return errors.New("reasoning.history_size must be positive")
		}
	}
	if cfg.Governor.WindowMS <= 0 {
		return errors.New("governor.window_ms must be positive")
	}
	if cfg.Governor.GlobalBudgetMB <= 0 {
		return errors.New("governor.global_audio_budget_mb must be positive")
	}
	if cfg.Governor.PerRequestMB <= 0 || cfg.Governor.PerRequestMB > cfg.Governor.GlobalBudgetMB {
		return errors.New("governor.per_request_mb must be positive and no larger than the global budget")
	}
	if cfg.Corrections.Enabled && cfg.Corrections.Path == "" {
		return errors.New("corrections.path must not be empty when corrections are enabled")
	}
	if cfg.Recall.Enabled {
		if cfg.Recall.Path == "" {
			return errors.New("recall.path must not be empty when recall is enabled")
		}
		if cfg.Recall.RetentionDays < 0 {
			return errors.New("recall.retention_days must be >= 0")
		}
	}
	if cfg.Context.Enabled && cfg.Context.Command == "" {
		return errors.New("context.command must be set when the context provider is enabled")
	}
	if cfg.Proactive.Enabled {
		if cfg.Proactive.TickMS <= 0 {
			return errors.New("proactive.tick_ms must be positive")
		}
		if cfg.Proactive.MinGapMS < 0 {
			return errors.New("proactive.min_gap_ms must be >= 0")
		}
	}
	return nil
}
