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
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	ASR         ASRConfig        `yaml:"asr"`
	Cloud       CloudConfig      `yaml:"cloud"`
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
	Path            string `yaml:"path"`
	RetentionMode   string `yaml:"retention_mode"`
	RetentionDays   int    `yaml:"retention_days"`
	MaxSessions     int    `yaml:"max_sessions"`
	VacuumOnStart   bool   `yaml:"vacuum_on_start"`
	ArchivePartials bool   `yaml:"archive_partials"`
}

// ASRConfig drives the bus-facing recognition service.
type ASRConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"` // mock, exec, cloud
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
	PublishInterim  bool   `yaml:"publish_interim"`
}

// CloudConfig holds credentials and tuning for the upstream speech API.
type CloudConfig struct {
	Endpoint        string   `yaml:"endpoint"`
	APIVersion      string   `yaml:"api_version"`
	APIKey          string   `yaml:"api_key"`
	BearerToken     string   `yaml:"bearer_token"`
	Project         string   `yaml:"project"`
	TimeoutMS       int      `yaml:"timeout_ms"`
	MaxAlternatives int      `yaml:"max_alternatives"`
	ProfanityFilter bool     `yaml:"profanity_filter"`
	SpeechContext   []string `yaml:"speech_context"`
	CacheSize       int      `yaml:"cache_size"`
}

func Default() Config {
	return Config{
		RuntimeName: "aura-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "aura-node-1",
			Role:              "gateway",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "asr.recognize", Tier: "balanced", Attributes: map[string]string{"language": "en-US"}},
			},
		},
		EventStore: EventStoreConfig{
			Path:          "./data/aura-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		ASR: ASRConfig{
			Enabled:         false,
			Mode:            "mock",
			Language:        "en-US",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			PartialEveryMS:  800,
		},
		Cloud: CloudConfig{
			Endpoint:        "https://speech.googleapis.com",
			APIVersion:      "v1beta1",
			TimeoutMS:       30000,
			MaxAlternatives: 1,
			CacheSize:       128,
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
	overrideString(&cfg.RuntimeName, "AURA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "AURA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "AURA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "AURA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "AURA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "AURA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "AURA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "AURA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "AURA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "AURA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "AURA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "AURA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "AURA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "AURA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "AURA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "AURA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "AURA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "AURA_NODE_ID")
	overrideString(&cfg.Node.Role, "AURA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "AURA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "AURA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "AURA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "AURA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "AURA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "AURA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "AURA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.EventStore.ArchivePartials, "AURA_EVENT_STORE_ARCHIVE_PARTIALS")
	overrideBool(&cfg.ASR.Enabled, "AURA_ASR_ENABLED")
	overrideString(&cfg.ASR.Mode, "AURA_ASR_MODE")
	overrideString(&cfg.ASR.Command, "AURA_ASR_COMMAND")
	overrideString(&cfg.ASR.ModelPath, "AURA_ASR_MODEL_PATH")
	overrideString(&cfg.ASR.Language, "AURA_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.SampleRate, "AURA_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.Channels, "AURA_ASR_CHANNELS")
	overrideInt(&cfg.ASR.FrameDurationMS, "AURA_ASR_FRAME_DURATION_MS")
	overrideInt(&cfg.ASR.PartialEveryMS, "AURA_ASR_PARTIAL_EVERY_MS")
	overrideBool(&cfg.ASR.PublishInterim, "AURA_ASR_PUBLISH_INTERIM")
	overrideString(&cfg.Cloud.Endpoint, "AURA_CLOUD_ENDPOINT")
	overrideString(&cfg.Cloud.APIVersion, "AURA_CLOUD_API_VERSION")
	overrideString(&cfg.Cloud.APIKey, "AURA_CLOUD_API_KEY")
	overrideString(&cfg.Cloud.BearerToken, "AURA_CLOUD_BEARER_TOKEN")
	overrideString(&cfg.Cloud.Project, "AURA_CLOUD_PROJECT")
	overrideInt(&cfg.Cloud.TimeoutMS, "AURA_CLOUD_TIMEOUT_MS")
	overrideInt(&cfg.Cloud.MaxAlternatives, "AURA_CLOUD_MAX_ALTERNATIVES")
	overrideBool(&cfg.Cloud.ProfanityFilter, "AURA_CLOUD_PROFANITY_FILTER")
	overrideStringSlice(&cfg.Cloud.SpeechContext, "AURA_CLOUD_SPEECH_CONTEXT")
	overrideInt(&cfg.Cloud.CacheSize, "AURA_CLOUD_CACHE_SIZE")
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
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
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
	if len(cfg.Node.Capabilities) == 0 {
		return errors.New("node.capabilities must not be empty")
	}
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.ASR.Enabled {
		switch cfg.ASR.Mode {
		case "mock", "exec", "cloud":
		default:
			return errors.New("asr.mode must be one of mock|exec|cloud")
		}
		if cfg.ASR.SampleRate <= 0 {
			return errors.New("asr.sample_rate must be positive")
		}
		if cfg.ASR.Channels <= 0 {
			return errors.New("asr.channels must be positive")
		}
		if cfg.ASR.Mode == "exec" && cfg.ASR.Command == "" {
			return errors.New("asr.command must be set when mode=exec")
		}
		if cfg.ASR.Mode == "cloud" && cfg.Cloud.APIKey == "" && cfg.Cloud.BearerToken == "" {
			return errors.New("cloud.api_key or cloud.bearer_token must be set when asr.mode=cloud")
		}
	}
	if cfg.Cloud.Endpoint == "" {
		return errors.New("cloud.endpoint must not be empty")
	}
	if cfg.Cloud.APIVersion == "" {
		return errors.New("cloud.api_version must not be empty")
	}
	if cfg.Cloud.TimeoutMS <= 0 {
		return errors.New("cloud.timeout_ms must be positive")
	}
	if cfg.Cloud.MaxAlternatives < 0 || cfg.Cloud.MaxAlternatives > 30 {
		return errors.New("cloud.max_alternatives must be between 0 and 30")
	}
	if len(cfg.Cloud.SpeechContext) > 50 {
		return errors.New("cloud.speech_context must not exceed 50 phrases")
	}
	if cfg.Cloud.CacheSize < 0 {
		return errors.New("cloud.cache_size must be >= 0")
	}
	return nil
}
