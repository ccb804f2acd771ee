package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "edubot"
	DefaultPGSSLMode         = "disable"
	DefaultAIBaseURL         = "https://openrouter.ai/api/v1"
	DefaultAIModel           = "google/gemini-2.0-flash-exp:free"
	DefaultAITimeoutSeconds  = 30
	DefaultStorageBucket     = "tmp-ocr"
	DefaultSignedURLSeconds  = 600
	DefaultFlowTTLMinutes    = 10
	DefaultEditIntervalMs    = 650
	DefaultTypingIntervalSec = 9
	DefaultLanguage          = "pt-PT"
	DefaultHistoryTurns      = 14
	DefaultHistoryTurnChars  = 500
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Discord  DiscordConfig  `toml:"discord"`
	Storage  StorageConfig  `toml:"storage"`
	AI       AIConfig       `toml:"ai"`
	Contexts ContextsConfig `toml:"contexts"`
	Flows    FlowsConfig    `toml:"flows"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

type DiscordConfig struct {
	BotToken           string `toml:"bot_token" validate:"required"`
	StreamEditInterval int    `toml:"stream_edit_interval_ms" validate:"gt=0"`
	TypingInterval     int    `toml:"typing_interval_s" validate:"gt=0"`
}

type StorageConfig struct {
	Bucket             string `toml:"bucket" validate:"required"`
	CredentialsFile    string `toml:"credentials_file"`
	SignedURLTTL       int    `toml:"signed_url_ttl_s" validate:"gt=0"`
	GoogleAccessID     string `toml:"google_access_id"`
	PrivateKeyFile     string `toml:"private_key_file"`
	EmulatorHost       string `toml:"emulator_host"`
	MaxDownloadMBytes  int    `toml:"max_download_mb"`
	DownloadTimeoutSec int    `toml:"download_timeout_s"`
}

type AIConfig struct {
	APIKey              string  `toml:"api_key"`
	BaseURL             string  `toml:"base_url"`
	Model               string  `toml:"model"`
	Temperature         float64 `toml:"temperature"`
	MaxTokens           int     `toml:"max_tokens"`
	TimeoutSeconds      int     `toml:"timeout_s" validate:"gt=0"`
	WebSearchPolicy     string  `toml:"web_search_policy" validate:"oneof=always never keyword"`
	VisionModelFast     string  `toml:"vision_model_fast"`
	VisionModelDetailed string  `toml:"vision_model_detailed"`
}

type ContextsConfig struct {
	Language       string  `toml:"language"`
	SchoolPenalty  float64 `toml:"school_penalty" validate:"gt=0,lte=1"`
	ClassPenalty   float64 `toml:"class_penalty" validate:"gt=0,lte=1"`
	StudentPenalty float64 `toml:"student_penalty" validate:"gt=0,lte=1"`
	MaterialsLimit int     `toml:"materials_limit"`
}

type FlowsConfig struct {
	TTLMinutes int    `toml:"ttl_minutes" validate:"gt=0"`
	GCSchedule string `toml:"gc_schedule"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Discord: DiscordConfig{
			StreamEditInterval: DefaultEditIntervalMs,
			TypingInterval:     DefaultTypingIntervalSec,
		},
		Storage: StorageConfig{
			Bucket:             DefaultStorageBucket,
			SignedURLTTL:       DefaultSignedURLSeconds,
			MaxDownloadMBytes:  25,
			DownloadTimeoutSec: 20,
		},
		AI: AIConfig{
			BaseURL:             DefaultAIBaseURL,
			Model:               DefaultAIModel,
			Temperature:         0.3,
			MaxTokens:           300,
			TimeoutSeconds:      DefaultAITimeoutSeconds,
			WebSearchPolicy:     "keyword",
			VisionModelFast:     "qwen/qwen3-vl-235b-a22b-instruct",
			VisionModelDetailed: "qwen/qwen3-vl-235b-a22b-thinking",
		},
		Contexts: ContextsConfig{
			Language:       DefaultLanguage,
			SchoolPenalty:  0.9,
			ClassPenalty:   0.8,
			StudentPenalty: 0.7,
			MaterialsLimit: 5,
		},
		Flows: FlowsConfig{
			TTLMinutes: DefaultFlowTTLMinutes,
			GCSchedule: "@every 10m",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration. Called once at startup, after
// Load has applied defaults.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
