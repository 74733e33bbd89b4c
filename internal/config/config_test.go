package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.STT.Mode != "mock" || cfg.TTS.Mode != "mock" {
		t.Fatalf("expected mock engines by default, got %s/%s", cfg.STT.Mode, cfg.TTS.Mode)
	}
	if len(cfg.TTS.Voices) == 0 || len(cfg.STT.Recognizers) == 0 {
		t.Fatal("expected default installed resources")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_SPEECH_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_SPEECH_BUS_USERNAME", "alice")
	t.Setenv("LOQA_SPEECH_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_SPEECH_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_SPEECH_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_SPEECH_NODE_ID", "test-node")
	t.Setenv("LOQA_SPEECH_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("LOQA_SPEECH_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_SPEECH_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_SPEECH_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_SPEECH_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_SPEECH_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_SPEECH_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_SPEECH_BRIDGE_SUBJECT_PREFIX", "kitchen.speech")
	t.Setenv("LOQA_SPEECH_TTS_MODE", "exec")
	t.Setenv("LOQA_SPEECH_TTS_COMMAND", "piper-json --model en.onnx")
	t.Setenv("LOQA_SPEECH_TTS_PLAYER", "aplay -q")
	t.Setenv("LOQA_SPEECH_STT_MOCK_DELAY_MS", "50")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Node.HeartbeatInterval != 1500 || cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat overrides")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides")
	}
	if cfg.EventStore.RetentionDays != 7 || cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store retention overrides")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Bridge.SubjectPrefix != "kitchen.speech" {
		t.Fatalf("expected subject prefix override, got %s", cfg.Bridge.SubjectPrefix)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.Command != "piper-json --model en.onnx" || cfg.TTS.Player != "aplay -q" {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if cfg.STT.MockDelayMS != 50 {
		t.Fatalf("expected stt mock delay override")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.yaml")
	data := `
runtime_name: test-speech
stt:
  enabled: false
tts:
  mode: mock
  voices:
    - id: hortense
      language: fr-FR
      name: Hortense
      gender: Female
    - id: legacy
      language: "0x407"
      name: Legacy
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-speech" || cfg.STT.Enabled {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.TTS.Voices) != 2 || cfg.TTS.Voices[1].Language != "0x407" {
		t.Fatalf("unexpected voices %+v", cfg.TTS.Voices)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"stt.mode":              func(c *Config) { c.STT.Mode = "sapi" },
		"stt.command":           func(c *Config) { c.STT.Mode = "exec" },
		"tts.command":           func(c *Config) { c.TTS.Mode = "exec" },
		"tts.voices":            func(c *Config) { c.TTS.Voices = nil },
		"is not a known locale": func(c *Config) { c.TTS.Voices[0].Language = "xx-XX" },
		"is duplicated":         func(c *Config) { c.STT.Recognizers[1].ID = c.STT.Recognizers[0].ID },
		"at least one":          func(c *Config) { c.STT.Enabled, c.TTS.Enabled = false, false },
		"retention_mode":        func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"subject_prefix":        func(c *Config) { c.Bridge.SubjectPrefix = "" },
	}
	for want, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		err := validate(cfg)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error containing %q, got %v", want, err)
		}
	}
}

func TestLocaleID(t *testing.T) {
	if id, ok := LocaleID("en-US"); !ok || id != 0x409 {
		t.Fatalf("expected 0x409, got %#x %v", id, ok)
	}
	if id, ok := LocaleID("0x40C"); !ok || id != 0x40C {
		t.Fatalf("expected 0x40c, got %#x %v", id, ok)
	}
	if _, ok := LocaleID("0xFFFF"); ok {
		t.Fatal("expected unknown identifier to be rejected")
	}
}
