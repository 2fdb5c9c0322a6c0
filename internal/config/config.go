// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Capture       CaptureConfig       `yaml:"capture"`
	Recording     RecordingConfig     `yaml:"recording"`
	STT           STTConfig           `yaml:"stt"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	SessionLimits SessionLimitsConfig `yaml:"sessionLimits"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	NATS          NATSConfig          `yaml:"nats"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"httpPort"`
	GRPCPort  string `yaml:"grpcPort"`
	Env       string `yaml:"env"`
}

// CaptureConfig selects the input device.
type CaptureConfig struct {
	Device     string `yaml:"device"` // "microphone", "wav" or "none"
	WAVFile    string `yaml:"wavFile"`
	Loop       bool   `yaml:"loop"`
	BufferSize int    `yaml:"bufferSize"`
}

// RecordingConfig holds the recording settings bundle.
type RecordingConfig struct {
	Dir            string `yaml:"dir"`
	Format         string `yaml:"format"`
	SampleRate     int    `yaml:"sampleRate"`
	Channels       int    `yaml:"channels"`
	Quality        string `yaml:"quality"`
	EncoderCommand string `yaml:"encoderCommand"`
}

// STTConfig holds speech-to-text settings.
type STTConfig struct {
	Provider             string        `yaml:"provider"` // "mock", "google", "exec" or "openai"
	LanguageCode         string        `yaml:"languageCode"`
	ReportPartialResults bool          `yaml:"reportPartialResults"`
	FinishTimeout        time.Duration `yaml:"finishTimeout"`

	// Google
	SampleRateHz   int    `yaml:"sampleRateHz"`
	InterimResults bool   `yaml:"interimResults"`
	AudioEncoding  string `yaml:"audioEncoding"`
	Model          string `yaml:"model"`

	// External command
	Command         string        `yaml:"command"`
	ModelPath       string        `yaml:"modelPath"`
	PartialInterval time.Duration `yaml:"partialInterval"`

	// OpenAI
	OpenAIAPIKey  string `yaml:"openaiApiKey"`
	OpenAIBaseURL string `yaml:"openaiBaseUrl"`
	OpenAIModel   string `yaml:"openaiModel"`
}

// PermissionsConfig answers the microphone and recognition consent checks.
type PermissionsConfig struct {
	Microphone  string `yaml:"microphone"`
	Recognition string `yaml:"recognition"`
	Prompt      string `yaml:"prompt"`
}

// SessionLimitsConfig bounds a single session.
type SessionLimitsConfig struct {
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
	MaxPartials   int           `yaml:"maxPartials"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topicPartial"`
	TopicFinal   string   `yaml:"topicFinal"`
	Principal    string   `yaml:"principal"`
}

// NATSConfig holds NATS publisher settings.
type NATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Servers        []string      `yaml:"servers"`
	SubjectPartial string        `yaml:"subjectPartial"`
	SubjectFinal   string        `yaml:"subjectFinal"`
	Token          string        `yaml:"token"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// StoreConfig holds session journal settings.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxSessions int    `yaml:"maxSessions"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"` // "json" or "console"
	MetricsPort string `yaml:"metricsPort"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "speech-capture-service",
			Principal: "svc-speech-capture",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		Capture: CaptureConfig{
			Device:     "microphone",
			BufferSize: 1024,
		},
		Recording: RecordingConfig{
			Dir:        os.TempDir(),
			Format:     "aac",
			SampleRate: 22000,
			Channels:   1,
			Quality:    "medium",
		},
		STT: STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			FinishTimeout:  30 * time.Second,
			SampleRateHz:   8000,
			InterimResults: true,
			AudioEncoding:  "LINEAR16",
			Command:        "whisper-cli",
		},
		Permissions: PermissionsConfig{
			Microphone:  "granted",
			Recognition: "granted",
			Prompt:      "denied",
		},
		SessionLimits: SessionLimitsConfig{
			MaxAudioBytes: 64 * 1024 * 1024,
			MaxDuration:   5 * time.Minute,
			MaxPartials:   500,
		},
		Kafka: KafkaConfig{
			TopicPartial: "session.transcript.partial",
			TopicFinal:   "session.transcript.final",
		},
		NATS: NATSConfig{
			SubjectPartial: "speech.transcript.partial",
			SubjectFinal:   "speech.transcript.final",
			ConnectTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Enabled:     true,
			Path:        "data/sessions.db",
			MaxSessions: 1000,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

// Load reads configuration from environment variables over the defaults.
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment
// overrides. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.Name = envOrDefault("SERVICE_NAME", c.Service.Name)
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.Env = envOrDefault("ENV", c.Service.Env)

	c.Capture.Device = envOrDefault("CAPTURE_DEVICE", c.Capture.Device)
	c.Capture.WAVFile = envOrDefault("CAPTURE_WAV_FILE", c.Capture.WAVFile)
	c.Capture.Loop = envOrDefaultBool("CAPTURE_LOOP", c.Capture.Loop)
	c.Capture.BufferSize = envOrDefaultInt("CAPTURE_BUFFER_SIZE", c.Capture.BufferSize)

	c.Recording.Dir = envOrDefault("RECORDING_DIR", c.Recording.Dir)
	c.Recording.Format = envOrDefault("RECORDING_FORMAT", c.Recording.Format)
	c.Recording.SampleRate = envOrDefaultInt("RECORDING_SAMPLE_RATE", c.Recording.SampleRate)
	c.Recording.Channels = envOrDefaultInt("RECORDING_CHANNELS", c.Recording.Channels)
	c.Recording.Quality = envOrDefault("RECORDING_QUALITY", c.Recording.Quality)
	c.Recording.EncoderCommand = envOrDefault("RECORDING_ENCODER_COMMAND", c.Recording.EncoderCommand)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.ReportPartialResults = envOrDefaultBool("STT_REPORT_PARTIAL_RESULTS", c.STT.ReportPartialResults)
	c.STT.FinishTimeout = envOrDefaultDuration("STT_FINISH_TIMEOUT", c.STT.FinishTimeout)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", c.STT.InterimResults)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.Command = envOrDefault("STT_COMMAND", c.STT.Command)
	c.STT.ModelPath = envOrDefault("STT_MODEL_PATH", c.STT.ModelPath)
	c.STT.PartialInterval = envOrDefaultDuration("STT_PARTIAL_INTERVAL", c.STT.PartialInterval)
	c.STT.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.STT.OpenAIAPIKey)
	c.STT.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", c.STT.OpenAIBaseURL)
	c.STT.OpenAIModel = envOrDefault("OPENAI_STT_MODEL", c.STT.OpenAIModel)

	c.Permissions.Microphone = envOrDefault("PERMISSION_MICROPHONE", c.Permissions.Microphone)
	c.Permissions.Recognition = envOrDefault("PERMISSION_RECOGNITION", c.Permissions.Recognition)
	c.Permissions.Prompt = envOrDefault("PERMISSION_PROMPT", c.Permissions.Prompt)

	c.SessionLimits.MaxAudioBytes = envOrDefaultInt64("SESSION_MAX_AUDIO_BYTES", c.SessionLimits.MaxAudioBytes)
	c.SessionLimits.MaxDuration = envOrDefaultDuration("SESSION_MAX_DURATION", c.SessionLimits.MaxDuration)
	c.SessionLimits.MaxPartials = envOrDefaultInt("SESSION_MAX_PARTIALS", c.SessionLimits.MaxPartials)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", c.Kafka.TopicPartial)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.NATS.Enabled = envOrDefaultBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.Servers = envOrDefaultList("NATS_SERVERS", c.NATS.Servers)
	c.NATS.SubjectPartial = envOrDefault("NATS_SUBJECT_PARTIAL", c.NATS.SubjectPartial)
	c.NATS.SubjectFinal = envOrDefault("NATS_SUBJECT_FINAL", c.NATS.SubjectFinal)
	c.NATS.Token = envOrDefault("NATS_TOKEN", c.NATS.Token)
	c.NATS.Username = envOrDefault("NATS_USERNAME", c.NATS.Username)
	c.NATS.Password = envOrDefault("NATS_PASSWORD", c.NATS.Password)
	c.NATS.ConnectTimeout = envOrDefaultDuration("NATS_CONNECT_TIMEOUT", c.NATS.ConnectTimeout)

	c.Store.Enabled = envOrDefaultBool("STORE_ENABLED", c.Store.Enabled)
	c.Store.Path = envOrDefault("STORE_PATH", c.Store.Path)
	c.Store.MaxSessions = envOrDefaultInt("STORE_MAX_SESSIONS", c.Store.MaxSessions)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsPort = envOrDefault("METRICS_PORT", c.Observability.MetricsPort)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
