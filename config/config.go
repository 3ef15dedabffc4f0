// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type DBConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
	SQLitePath   string
}

type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type PipelineConfig struct {
	MaxMemories      int
	MemoryFetchLimit int
	HistoryLimit     int
	MaxAttempts      int
	PremiumTasks     []string
}

type AuthConfig struct {
	JWTSecret string
}

type TelegramConfig struct {
	Token   string
	Enabled bool
	// IdleTimeout is how long a chat worker waits for updates before exiting.
	IdleTimeout time.Duration
	// SessionTTL drops chat history not touched for this long.
	SessionTTL time.Duration
}

type StripeConfig struct {
	SecretKey  string
	WebhookKey string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type LogConfig struct {
	Development bool
}

type Config struct {
	Server          ServerConfig
	DB              DBConfig
	LLM             LLMConfig
	Pipeline        PipelineConfig
	Auth            AuthConfig
	Telegram        TelegramConfig
	Stripe          StripeConfig
	Log             LogConfig
	ShutdownTimeout time.Duration
}

// secrets that are commonly provided under their vendor names
var envAliases = map[string][]string{
	"llm.apikey":        {"LLM_API_KEY", "GEMINI_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY", "OPENAI_API_KEY"},
	"auth.jwtsecret":    {"AUTH_JWT_SECRET", "SUPABASE_JWT_SECRET"},
	"telegram.token":    {"TELEGRAM_TOKEN"},
	"stripe.secretkey":  {"STRIPE_SECRET_KEY"},
	"stripe.webhookkey": {"STRIPE_WEBHOOK_KEY"},
	"stripe.priceid":    {"STRIPE_PRICE_ID"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ShutdownTimeout", 10*time.Second)

	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Server.ReadTimeout", 15*time.Second)
	v.SetDefault("Server.WriteTimeout", 120*time.Second)
	v.SetDefault("Server.AllowedOrigins", []string{"*"})

	v.SetDefault("DB.Driver", "postgres")
	v.SetDefault("DB.Host", "localhost")
	v.SetDefault("DB.Port", "5432")
	v.SetDefault("DB.User", "postgres")
	v.SetDefault("DB.Password", "postgres")
	v.SetDefault("DB.DBName", "vitafit")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("DB.SQLitePath", "vitafit.db")

	v.SetDefault("LLM.Provider", "gemini")
	v.SetDefault("LLM.APIKey", "")
	v.SetDefault("LLM.BaseURL", "")
	v.SetDefault("LLM.Model", "gemini-1.5-flash")
	v.SetDefault("LLM.VisionModel", "")
	v.SetDefault("LLM.Temperature", 0.4)
	v.SetDefault("LLM.MaxTokens", 4096)
	v.SetDefault("LLM.Timeout", 60*time.Second)

	v.SetDefault("Pipeline.MaxMemories", 5)
	v.SetDefault("Pipeline.MemoryFetchLimit", 20)
	v.SetDefault("Pipeline.HistoryLimit", 10)
	v.SetDefault("Pipeline.MaxAttempts", 1)
	v.SetDefault("Pipeline.PremiumTasks", []string{})

	v.SetDefault("Auth.JWTSecret", "")
	v.SetDefault("Telegram.Token", "")
	v.SetDefault("Telegram.Enabled", false)
	v.SetDefault("Telegram.IdleTimeout", 10*time.Minute)
	v.SetDefault("Telegram.SessionTTL", 24*time.Hour)

	v.SetDefault("Stripe.SecretKey", "")
	v.SetDefault("Stripe.WebhookKey", "")
	v.SetDefault("Stripe.PriceID", "")
	v.SetDefault("Stripe.SuccessURL", "http://localhost:3000/billing/success")
	v.SetDefault("Stripe.CancelURL", "http://localhost:3000/billing/cancel")

	v.SetDefault("Log.Development", false)
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.vitafit")

	setDefaults(v)

	// LLM.Model -> LLM_MODEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			v.Set(key, os.Getenv(envVar))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the service cannot run without.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported LLM provider %q", c.LLM.Provider)
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB driver %q", c.DB.Driver)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive, got %s", c.LLM.Timeout)
	}
	if c.Pipeline.MaxMemories < 0 {
		return fmt.Errorf("pipeline max memories must not be negative")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max attempts must be at least 1")
	}
	return nil
}

// ConnString builds the pgx connection string for the postgres driver.
func (c DBConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.MaxOpenConns,
	)
}
