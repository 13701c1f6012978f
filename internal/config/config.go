package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"prlens-backend/internal/provider"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Database; postgres://... or sqlite://path
	DatabaseURL string
	// GitHub
	GitHubAPIURL        string
	GitHubWebhookSecret string
	// Optional static GitHub token used when a user has none stored
	GitHubToken string
	// Linear
	LinearAPIURL string
	// AI provider credentials keyed by provider id
	ProviderKeys map[string]string
	// Worker
	WorkerConcurrency int
	QueueSize         int
	ReviewStaleAfter  time.Duration
	// Logging
	LogLevel  string
	LogFormat string
}

// SetDefaults registers every key with its default so AutomaticEnv can
// resolve it from the environment variable of the same name.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "*")
	v.SetDefault("db_url", "sqlite://data/prlens.db")
	v.SetDefault("github_api_url", "")
	v.SetDefault("github_webhook_secret", "")
	v.SetDefault("github_token", "")
	v.SetDefault("linear_api_url", "https://api.linear.app/graphql")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("queue_size", 100)
	v.SetDefault("review_stale_after", "0s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	for _, key := range provider.EnvKeys() {
		v.SetDefault(strings.ToLower(key), "")
	}
}

// Load reads .env (if present) into the environment, then resolves every
// setting through v.
func Load(v *viper.Viper) Config {
	_ = godotenv.Load()
	SetDefaults(v)
	v.AutomaticEnv()

	keys := make(map[string]string)
	for _, p := range provider.Table() {
		if key := strings.TrimSpace(v.GetString(strings.ToLower(p.EnvKey))); key != "" {
			keys[p.ID] = key
		}
	}

	return Config{
		Port:                v.GetString("port"),
		AllowedOrigin:       v.GetString("allowed_origin"),
		DatabaseURL:         v.GetString("db_url"),
		GitHubAPIURL:        v.GetString("github_api_url"),
		GitHubWebhookSecret: v.GetString("github_webhook_secret"),
		GitHubToken:         v.GetString("github_token"),
		LinearAPIURL:        v.GetString("linear_api_url"),
		ProviderKeys:        keys,
		WorkerConcurrency:   v.GetInt("worker_concurrency"),
		QueueSize:           v.GetInt("queue_size"),
		ReviewStaleAfter:    v.GetDuration("review_stale_after"),
		LogLevel:            v.GetString("log_level"),
		LogFormat:           v.GetString("log_format"),
	}
}

// Warn logs settings that leave part of the service disabled.
func (c Config) Warn(log *zap.Logger) {
	if len(c.ProviderKeys) == 0 {
		log.Warn("no AI provider key is set; reviews will fail until one is provided",
			zap.Strings("keys", provider.EnvKeys()))
	}
	if c.GitHubWebhookSecret == "" {
		log.Warn("GITHUB_WEBHOOK_SECRET is not set; webhook signatures will not be verified")
	}
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		log.Info("using SQLite database", zap.String("path", strings.TrimPrefix(c.DatabaseURL, "sqlite://")))
	}
}
