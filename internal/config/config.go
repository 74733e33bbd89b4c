package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-speech/internal/locale"
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
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bridge      BridgeConfig     `yaml:"bridge"`
	STT         STTConfig        `yaml:"stt"`
	TTS         TTSConfig        `yaml:"tts"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type EventStoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// BridgeConfig controls how sessions are exposed on the bus.
type BridgeConfig struct {
	SubjectPrefix  string `yaml:"subject_prefix"`
	QueueGroup     string `yaml:"queue_group"`
	RequestTimeout int    `yaml:"request_timeout_ms"`
}

// InstalledResource declares a recognizer or voice. Language is a BCP 47 tag
// or a hexadecimal locale identifier.
type InstalledResource struct {
	ID       string `yaml:"id"`
	Language string `yaml:"language"`
	Name     string `yaml:"name"`
	Gender   string `yaml:"gender"`
	Vendor   string `yaml:"vendor"`
}

type STTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Mode        string              `yaml:"mode"` // mock, exec
	Command     string              `yaml:"command"`
	AudioInput  string              `yaml:"audio_input"`
	Recognizers []InstalledResource `yaml:"recognizers"`
	MockPhrase  string              `yaml:"mock_phrase"`
	MockDelayMS int                 `yaml:"mock_delay_ms"`
}

type TTSConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Mode        string              `yaml:"mode"` // mock, exec
	Command     string              `yaml:"command"`
	Player      string              `yaml:"player"`
	OutputDir   string              `yaml:"output_dir"`
	SampleRate  int                 `yaml:"sample_rate"`
	Channels    int                 `yaml:"channels"`
	Voices      []InstalledResource `yaml:"voices"`
	MockSpeakMS int                 `yaml:"mock_speak_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-speech",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8081,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-speech-1",
			Role:              "speech",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Enabled:       true,
			Path:          "./data/loqa-speech-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Bridge: BridgeConfig{
			SubjectPrefix:  "speech",
			RequestTimeout: 5000,
		},
		STT: STTConfig{
			Enabled:    true,
			Mode:       "mock",
			AudioInput: "default",
			Recognizers: []InstalledResource{
				{ID: "mock-reco-en-us", Language: "en-US", Name: "Mock Recognizer (English, United States)"},
				{ID: "mock-reco-en-gb", Language: "en-GB", Name: "Mock Recognizer (English, United Kingdom)"},
			},
			MockPhrase:  "hello from loqa",
			MockDelayMS: 500,
		},
		TTS: TTSConfig{
			Enabled:    true,
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   1,
			Voices: []InstalledResource{
				{ID: "mock-voice-en-us-male", Language: "en-US", Name: "Mock David", Gender: "Male", Vendor: "Loqa"},
				{ID: "mock-voice-en-us-female", Language: "en-US", Name: "Mock Zira", Gender: "Female", Vendor: "Loqa"},
				{ID: "mock-voice-en-gb-female", Language: "en-GB", Name: "Mock Hazel", Gender: "Female", Vendor: "Loqa"},
			},
			MockSpeakMS: 400,
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

// LocaleID resolves a configured language to the engine's locale
// identifier.
func LocaleID(language string) (uint32, bool) {
	language = strings.TrimSpace(language)
	if hex := strings.TrimPrefix(strings.ToLower(language), "0x"); hex != strings.ToLower(language) {
		id := locale.ParseAttribute(hex)
		return id, locale.Tag(id) != ""
	}
	return locale.LCID(language)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_SPEECH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_SPEECH_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_SPEECH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_SPEECH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_SPEECH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_SPEECH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_SPEECH_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_SPEECH_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_SPEECH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_SPEECH_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_SPEECH_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_SPEECH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_SPEECH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_SPEECH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_SPEECH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_SPEECH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_SPEECH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_SPEECH_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_SPEECH_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_SPEECH_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_SPEECH_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.EventStore.Enabled, "LOQA_SPEECH_EVENT_STORE_ENABLED")
	overrideString(&cfg.EventStore.Path, "LOQA_SPEECH_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_SPEECH_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_SPEECH_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_SPEECH_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_SPEECH_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Bridge.SubjectPrefix, "LOQA_SPEECH_BRIDGE_SUBJECT_PREFIX")
	overrideString(&cfg.Bridge.QueueGroup, "LOQA_SPEECH_BRIDGE_QUEUE_GROUP")
	overrideInt(&cfg.Bridge.RequestTimeout, "LOQA_SPEECH_BRIDGE_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.STT.Enabled, "LOQA_SPEECH_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "LOQA_SPEECH_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_SPEECH_STT_COMMAND")
	overrideString(&cfg.STT.AudioInput, "LOQA_SPEECH_STT_AUDIO_INPUT")
	overrideString(&cfg.STT.MockPhrase, "LOQA_SPEECH_STT_MOCK_PHRASE")
	overrideInt(&cfg.STT.MockDelayMS, "LOQA_SPEECH_STT_MOCK_DELAY_MS")
	overrideBool(&cfg.TTS.Enabled, "LOQA_SPEECH_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_SPEECH_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_SPEECH_TTS_COMMAND")
	overrideString(&cfg.TTS.Player, "LOQA_SPEECH_TTS_PLAYER")
	overrideString(&cfg.TTS.OutputDir, "LOQA_SPEECH_TTS_OUTPUT_DIR")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_SPEECH_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_SPEECH_TTS_CHANNELS")
	overrideInt(&cfg.TTS.MockSpeakMS, "LOQA_SPEECH_TTS_MOCK_SPEAK_MS")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	for _, capability := range cfg.Node.Capabilities {
		if capability.Name == "" {
			return errors.New("node.capabilities entries must have a name")
		}
	}
	if cfg.EventStore.Enabled {
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
		switch cfg.EventStore.RetentionMode {
		case "ephemeral", "session", "persistent":
			// ok
		default:
			return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
		}
		if cfg.EventStore.RetentionDays < 0 {
			return errors.New("event_store.retention_days must be >= 0")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bridge.SubjectPrefix == "" {
		return errors.New("bridge.subject_prefix must not be empty")
	}
	if cfg.Bridge.RequestTimeout <= 0 {
		return errors.New("bridge.request_timeout_ms must be positive")
	}
	if !cfg.STT.Enabled && !cfg.TTS.Enabled {
		return errors.New("at least one of stt or tts must be enabled")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if err := validateResources("stt.recognizers", cfg.STT.Recognizers); err != nil {
			return err
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.MockSpeakMS < 0 {
			return errors.New("tts.mock_speak_ms must be >= 0")
		}
		if err := validateResources("tts.voices", cfg.TTS.Voices); err != nil {
			return err
		}
	}
	return nil
}

func validateResources(field string, resources []InstalledResource) error {
	if len(resources) == 0 {
		return fmt.Errorf("%s must not be empty", field)
	}
	seen := make(map[string]struct{}, len(resources))
	for i, r := range resources {
		if r.ID == "" {
			return fmt.Errorf("%s[%d].id must not be empty", field, i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%s[%d].id %q is duplicated", field, i, r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, ok := LocaleID(r.Language); !ok {
			return fmt.Errorf("%s[%d].language %q is not a known locale", field, i, r.Language)
		}
	}
	return nil
}
