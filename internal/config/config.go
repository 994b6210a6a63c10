package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderSimulator LLMProvider = "simulator"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderYandex    LLMProvider = "yandex"
)

type Config struct {
	// Responder settings
	LLMProvider      LLMProvider   `env:"LLM_PROVIDER" envDefault:"simulator"`
	SimulatedDelay   time.Duration `env:"SIMULATED_DELAY" envDefault:"1500ms"`
	ResponseTimeout  time.Duration `env:"RESPONSE_TIMEOUT" envDefault:"0s"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	YandexOAuthToken string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string        `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Attachments
	MaxAttachmentSize int64  `env:"MAX_ATTACHMENT_SIZE" envDefault:"10485760"`
	ThumbnailSize     uint   `env:"THUMBNAIL_SIZE" envDefault:"256"`
	PreviewAuditCron  string `env:"PREVIEW_AUDIT_CRON" envDefault:"@hourly"`

	// Web shell
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	AuthDelay        time.Duration `env:"AUTH_DELAY" envDefault:"1500ms"`
	SessionIdleTTL   time.Duration `env:"SESSION_IDLE_TTL" envDefault:"24h"`
	SessionSweepCron string        `env:"SESSION_SWEEP_CRON" envDefault:"@every 10m"`

	// Telegram frontend
	TelegramBotToken  string  `env:"TELEGRAM_BOT_TOKEN"`
	AdminUserID       int64   `env:"ADMIN_USER_ID"`
	AllowedUsers      []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AllowlistFilePath string  `env:"ALLOWLIST_FILE_PATH" envDefault:"data/allowlist.json"`
	PendingFilePath   string  `env:"PENDING_FILE_PATH" envDefault:"data/pending.json"`

	// Storage
	LogFilePath string `env:"LOG_FILE_PATH" envDefault:"logs/log.jsonl"`
	ReportCron  string `env:"REPORT_CRON" envDefault:"0 21 * * *"`
}

func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	switch cfg.LLMProvider {
	case ProviderSimulator, ProviderOpenAI, ProviderYandex:
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}
