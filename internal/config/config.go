package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Whisper     WhisperConfig   `yaml:"whisper"`
	Bus         BusConfig       `yaml:"bus"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	History     HistoryConfig   `yaml:"history"`
	Node        NodeConfig      `yaml:"node"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
}

// WhisperConfig holds the engine parameters. Ranges for AudioContext,
// NoSpeechThreshold and NumThreads are advisory: out-of-range values are
// reported by Warnings but not rejected.
type WhisperConfig struct {
	Mode              string  `yaml:"mode"` // whisper, exec, mock
	Command           string  `yaml:"command"`
	ModelPath         string  `yaml:"model_path"`
	UseGPU            bool    `yaml:"use_gpu"`
	Language          string  `yaml:"language"`
	AudioContext      int     `yaml:"audio_context"`
	NoSpeechThreshold float64 `yaml:"no_speech_threshold"`
	NumThreads        int     `yaml:"num_threads"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	RequestSubject string   `yaml:"request_subject"`
	ResultSubject  string   `yaml:"result_subject"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// DiscoveryConfig controls mDNS advertisement of the HTTP API. An empty
// Instance falls back to the node id.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

func Default() Config {
	return Config{
		RuntimeName: "open-transcribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:         "127.0.0.1",
			Port:         8080,
			MaxBodyBytes: 100 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Whisper: WhisperConfig{
			Mode:              "whisper",
			ModelPath:         "./models/ggml-base.en.bin",
			UseGPU:            true,
			Language:          "en",
			AudioContext:      768,
			NoSpeechThreshold: 0.6,
			NumThreads:        runtime.NumCPU(),
		},
		Bus: BusConfig{
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			RequestSubject: "transcribe.request",
			ResultSubject:  "transcribe.result",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "transcriptions",
		},
		History: HistoryConfig{
			Path:          "./data/transcriptions.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Node: NodeConfig{
			ID:                "transcribe-node-1",
			HeartbeatInterval: 5000,
			HeartbeatTimeout:  15000,
		},
		Discovery: DiscoveryConfig{
			Service: "_open-transcribe._tcp",
			Domain:  "local.",
		},
	}
}

// Load reads the YAML file at path (when it exists), applies environment
// overrides and validates the result. A missing file is only an error when
// required is true.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err) && !required:
		case os.IsNotExist(err):
			return cfg, fmt.Errorf("config file not found: %w", err)
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "TRANSCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TRANSCRIBE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TRANSCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TRANSCRIBE_HTTP_PORT")
	overrideInt64(&cfg.HTTP.MaxBodyBytes, "TRANSCRIBE_HTTP_MAX_BODY_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "TRANSCRIBE_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TRANSCRIBE_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TRANSCRIBE_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "TRANSCRIBE_STDOUT_TRACES")
	overrideString(&cfg.Whisper.Mode, "WHISPER_MODE")
	overrideString(&cfg.Whisper.Command, "WHISPER_COMMAND")
	overrideString(&cfg.Whisper.ModelPath, "WHISPER_MODEL_PATH")
	overrideBool(&cfg.Whisper.UseGPU, "WHISPER_USE_GPU")
	overrideString(&cfg.Whisper.Language, "WHISPER_LANGUAGE")
	overrideInt(&cfg.Whisper.AudioContext, "WHISPER_AUDIO_CONTEXT")
	overrideFloat(&cfg.Whisper.NoSpeechThreshold, "WHISPER_NO_SPEECH_THRESHOLD")
	overrideInt(&cfg.Whisper.NumThreads, "WHISPER_NUM_THREADS")
	overrideBool(&cfg.Bus.Enabled, "TRANSCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "TRANSCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TRANSCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "TRANSCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TRANSCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TRANSCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TRANSCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TRANSCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TRANSCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.RequestSubject, "TRANSCRIBE_BUS_REQUEST_SUBJECT")
	overrideString(&cfg.Bus.ResultSubject, "TRANSCRIBE_BUS_RESULT_SUBJECT")
	overrideBool(&cfg.Kafka.Enabled, "TRANSCRIBE_KAFKA_ENABLED")
	overrideStringSlice(&cfg.Kafka.Brokers, "TRANSCRIBE_KAFKA_BROKERS")
	overrideString(&cfg.Kafka.Topic, "TRANSCRIBE_KAFKA_TOPIC")
	overrideString(&cfg.History.Path, "TRANSCRIBE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "TRANSCRIBE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "TRANSCRIBE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRecords, "TRANSCRIBE_HISTORY_MAX_RECORDS")
	overrideBool(&cfg.History.VacuumOnStart, "TRANSCRIBE_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Node.ID, "TRANSCRIBE_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "TRANSCRIBE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "TRANSCRIBE_NODE_HEARTBEAT_TIMEOUT_MS")

	overrideBool(&cfg.Discovery.Enabled, "TRANSCRIBE_DISCOVERY_ENABLED")
	overrideString(&cfg.Discovery.Instance, "TRANSCRIBE_DISCOVERY_INSTANCE")
	overrideString(&cfg.Discovery.Service, "TRANSCRIBE_DISCOVERY_SERVICE")
	overrideString(&cfg.Discovery.Domain, "TRANSCRIBE_DISCOVERY_DOMAIN")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
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
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Whisper.Mode {
	case "whisper", "mock":
	case "exec":
		if cfg.Whisper.Command == "" {
			return errors.New("whisper.command must be set when mode=exec")
		}
	default:
		return errors.New("whisper.mode must be one of whisper|exec|mock")
	}
	if cfg.Whisper.Language == "" {
		return errors.New("whisper.language must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.RequestSubject == "" || cfg.Bus.ResultSubject == "" {
			return errors.New("bus.request_subject and bus.result_subject must not be empty")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty when the bus is enabled")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout < cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be >= node.heartbeat_interval_ms")
		}
	}
	if cfg.Discovery.Enabled && (cfg.Discovery.Service == "" || cfg.Discovery.Domain == "") {
		return errors.New("discovery.service and discovery.domain must not be empty when discovery is enabled")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers must not be empty when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return errors.New("kafka.topic must not be empty when kafka is enabled")
		}
	}
	switch cfg.History.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty")
		}
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}

// Warnings lists advisory problems with the engine settings. They are logged
// at startup; the values are used as given.
func (c Config) Warnings() []string {
	var warnings []string
	w := c.Whisper
	if w.Mode == "whisper" {
		if _, err := os.Stat(w.ModelPath); err != nil {
			warnings = append(warnings, "whisper.model_path does not exist")
		}
	}
	if w.AudioContext < 1 || w.AudioContext > 4096 {
		warnings = append(warnings, fmt.Sprintf("whisper.audio_context %d is outside recommended range (1-4096)", w.AudioContext))
	}
	if w.NoSpeechThreshold < 0 || w.NoSpeechThreshold > 1 {
		warnings = append(warnings, fmt.Sprintf("whisper.no_speech_threshold %g is outside valid range (0.0-1.0)", w.NoSpeechThreshold))
	}
	if w.NumThreads < 1 {
		warnings = append(warnings, fmt.Sprintf("whisper.num_threads %d is invalid, should be >= 1", w.NumThreads))
	}
	return warnings
}
