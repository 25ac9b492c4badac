package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	TranscribeProvider    string        `env:"TRANSCRIBE_PROVIDER" envDefault:"deepgram"`
	DeepgramAPIKey        string        `env:"DEEPGRAM_API_KEY"`
	DeepgramURL           string        `env:"DEEPGRAM_URL" envDefault:"https://api.deepgram.com/v1/listen"`
	DeepgramModel         string        `env:"DEEPGRAM_MODEL" envDefault:"whisper-large"`
	ElevenLabsAPIKey      string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel       string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	TranscribeLanguage    string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"he"`
	TranscribeTimeout     time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"5m"`
	TranscribeMaxAttempts int           `env:"TRANSCRIBE_MAX_ATTEMPTS" envDefault:"2"`

	GenerateProvider      string        `env:"GENERATE_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey          string        `env:"GEMINI_API_KEY"`
	GeminiModel           string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-exp"`
	GeminiDisableSafety   bool          `env:"GEMINI_DISABLE_SAFETY" envDefault:"true"`
	GeminiSafetyThreshold string        `env:"GEMINI_SAFETY_THRESHOLD" envDefault:"BLOCK_ONLY_HIGH"`
	OpenAIAPIKey          string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `env:"OPENAI_BASE_URL"`
	OpenAIModel           string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GenerateTemperature   float32       `env:"GENERATE_TEMPERATURE" envDefault:"0.2"`
	GenerateTimeout       time.Duration `env:"GENERATE_TIMEOUT" envDefault:"2m"`

	SpeakerLabels       string   `env:"SPEAKER_LABELS" envDefault:"numeric"`
	SpeakerNames        []string `env:"SPEAKER_NAMES" envSeparator:","`
	HaltOnFormatFailure bool     `env:"HALT_ON_FORMAT_FAILURE" envDefault:"true"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"100"`

	InboxDir        string `env:"INBOX_DIR"`
	DefaultAudience string `env:"DEFAULT_AUDIENCE"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile         string
	HTTPAddr        string
	LogLevel        string
	Language        string
	SpeakerLabels   string
	InboxDir        string
	DefaultAudience string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.Language != "" {
		cfg.TranscribeLanguage = overrides.Language
	}
	if overrides.SpeakerLabels != "" {
		cfg.SpeakerLabels = overrides.SpeakerLabels
	}
	if overrides.InboxDir != "" {
		cfg.InboxDir = overrides.InboxDir
	}
	if overrides.DefaultAudience != "" {
		cfg.DefaultAudience = overrides.DefaultAudience
	}

	return cfg, nil
}

// Validate checks that the selected providers are known and have credentials.
func (c *Config) Validate() error {
	switch strings.ToLower(c.TranscribeProvider) {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when TRANSCRIBE_PROVIDER=deepgram")
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when TRANSCRIBE_PROVIDER=elevenlabs")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIBE_PROVIDER %q", c.TranscribeProvider)
	}

	switch strings.ToLower(c.GenerateProvider) {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when GENERATE_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATE_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown GENERATE_PROVIDER %q", c.GenerateProvider)
	}

	if c.TranscribeMaxAttempts < 1 {
		return fmt.Errorf("TRANSCRIBE_MAX_ATTEMPTS must be >= 1, got %d", c.TranscribeMaxAttempts)
	}
	return nil
}

// MaxUploadBytes returns the multipart upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
