package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Whisper.Language != "en" {
		t.Fatalf("expected default language en, got %q", cfg.Whisper.Language)
	}
	if cfg.Whisper.AudioContext != 768 {
		t.Fatalf("expected default audio context 768, got %d", cfg.Whisper.AudioContext)
	}
	if cfg.Whisper.NoSpeechThreshold != 0.6 {
		t.Fatalf("expected default no speech threshold 0.6, got %v", cfg.Whisper.NoSpeechThreshold)
	}
	if cfg.Whisper.NumThreads < 1 {
		t.Fatalf("expected positive default thread count, got %d", cfg.Whisper.NumThreads)
	}
	if cfg.History.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral history by default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := Load(missing, false); err != nil {
		t.Fatalf("optional config should not fail: %v", err)
	}
	if _, err := Load(missing, true); err == nil {
		t.Fatal("expected error for required missing config")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcribe.yaml")
	body := `
http:
  port: 9090
whisper:
  mode: exec
  command: "whisper-json --fast"
  language: de
history:
  retention_mode: persistent
  path: ./tmp/history.db
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9090 || cfg.Whisper.Mode != "exec" || cfg.Whisper.Language != "de" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Whisper.AudioContext != 768 {
		t.Fatalf("expected defaults kept for unset keys")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHISPER_MODEL_PATH", "/models/ggml-small.bin")
	t.Setenv("WHISPER_USE_GPU", "false")
	t.Setenv("WHISPER_LANGUAGE", "fr")
	t.Setenv("WHISPER_AUDIO_CONTEXT", "512")
	t.Setenv("WHISPER_NO_SPEECH_THRESHOLD", "0.4")
	t.Setenv("WHISPER_NUM_THREADS", "3")
	t.Setenv("TRANSCRIBE_BUS_ENABLED", "true")
	t.Setenv("TRANSCRIBE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("TRANSCRIBE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TRANSCRIBE_HISTORY_RETENTION_MODE", "session")
	t.Setenv("TRANSCRIBE_DISCOVERY_ENABLED", "true")
	t.Setenv("TRANSCRIBE_DISCOVERY_INSTANCE", "kitchen")

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := cfg.Whisper
	if w.ModelPath != "/models/ggml-small.bin" || w.UseGPU || w.Language != "fr" {
		t.Fatalf("expected whisper overrides, got %+v", w)
	}
	if w.AudioContext != 512 || w.NoSpeechThreshold != 0.4 || w.NumThreads != 3 {
		t.Fatalf("expected numeric overrides, got %+v", w)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 kafka brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.History.RetentionMode != "session" {
		t.Fatalf("expected history retention override")
	}
	if !cfg.Discovery.Enabled || cfg.Discovery.Instance != "kitchen" || cfg.Discovery.Service != "_open-transcribe._tcp" {
		t.Fatalf("expected discovery overrides, got %+v", cfg.Discovery)
	}
}

func TestUnparsableEnvKeepsDefault(t *testing.T) {
	t.Setenv("WHISPER_AUDIO_CONTEXT", "lots")
	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Whisper.AudioContext != 768 {
		t.Fatalf("expected default kept, got %d", cfg.Whisper.AudioContext)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"WHISPER_MODE":                      "cloud",
		"TRANSCRIBE_HTTP_PORT":              "70000",
		"TRANSCRIBE_HISTORY_RETENTION_MODE": "forever",
		"TRANSCRIBE_LOG_LEVEL":              "verbose",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load("", false); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestExecModeRequiresCommand(t *testing.T) {
	t.Setenv("WHISPER_MODE", "exec")
	if _, err := Load("", false); err == nil {
		t.Fatal("expected exec mode without command to fail")
	}
}

func TestWarningsFlagOutOfRangeValues(t *testing.T) {
	t.Setenv("WHISPER_MODE", "mock")
	t.Setenv("WHISPER_AUDIO_CONTEXT", "5000")
	t.Setenv("WHISPER_NO_SPEECH_THRESHOLD", "1.5")
	t.Setenv("WHISPER_NUM_THREADS", "0")

	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("out-of-range engine values must be accepted: %v", err)
	}
	warnings := strings.Join(cfg.Warnings(), "\n")
	for _, want := range []string{"audio_context 5000", "no_speech_threshold 1.5", "num_threads 0"} {
		if !strings.Contains(warnings, want) {
			t.Fatalf("expected warning containing %q, got:\n%s", want, warnings)
		}
	}
}
