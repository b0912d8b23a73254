package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL         string        `mapstructure:"url"`
		MaxConns    int           `mapstructure:"max_conns"`
		PingTimeout time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"database"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
	Security struct {
		InternalToken      string        `mapstructure:"internal_token"`
		InternalTokenFile  string        `mapstructure:"internal_token_file"`
		EventSigningSecret string        `mapstructure:"event_signing_secret"`
		EventSignatureAge  time.Duration `mapstructure:"event_signature_max_age"`
		JWTPublicKeyFile   string        `mapstructure:"jwt_public_key_file"`
		JWTPrivateKeyFile  string        `mapstructure:"jwt_private_key_file"`
	} `mapstructure:"security"`
	CORS struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	RateLimit struct {
		IntakePerMinute    int `mapstructure:"intake_per_minute"`
		DeductionPerMinute int `mapstructure:"deduction_per_minute"`
	} `mapstructure:"rate_limit"`
	Recalculation struct {
		Enabled  bool          `mapstructure:"enabled"`
		Schedule string        `mapstructure:"schedule"`
		Timeout  time.Duration `mapstructure:"timeout"`
		PageSize int           `mapstructure:"page_size"`
	} `mapstructure:"recalculation"`
	Alert struct {
		TelegramBotToken string  `mapstructure:"telegram_bot_token"`
		TelegramAPIBase  string  `mapstructure:"telegram_api_base"`
		AdminChatIDs     []int64 `mapstructure:"admin_chat_ids"`
	} `mapstructure:"alert"`
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if path := strings.TrimSpace(os.Getenv("POINTS_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "POINTS_DATABASE_URL", "DATABASE_URL")

	v.SetDefault("app.env", "production")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("security.internal_token", "")
	v.SetDefault("security.internal_token_file", "")
	v.SetDefault("security.event_signing_secret", "")
	v.SetDefault("security.event_signature_max_age", "5m")
	v.SetDefault("security.jwt_public_key_file", "")
	v.SetDefault("security.jwt_private_key_file", "")
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("rate_limit.intake_per_minute", 600)
	v.SetDefault("rate_limit.deduction_per_minute", 10)
	v.SetDefault("recalculation.enabled", false)
	v.SetDefault("recalculation.schedule", "0 0 4 * * *")
	v.SetDefault("recalculation.timeout", "30m")
	v.SetDefault("recalculation.page_size", 100)
	v.SetDefault("alert.telegram_bot_token", "")
	v.SetDefault("alert.telegram_api_base", "")
	v.SetDefault("alert.admin_chat_ids", []int64{})

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	if strings.TrimSpace(cfg.Security.InternalToken) == "" && strings.TrimSpace(cfg.Security.InternalTokenFile) != "" {
		// #nosec G304 -- path is provided by operator config.
		raw, err := os.ReadFile(strings.TrimSpace(cfg.Security.InternalTokenFile))
		if err != nil {
			return Config{}, fmt.Errorf("read security.internal_token_file failed: %w", err)
		}
		cfg.Security.InternalToken = strings.TrimSpace(string(raw))
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Database.MaxConns <= 0 {
		return errors.New("database.max_conns must be greater than 0")
	}
	if cfg.Database.PingTimeout <= 0 {
		return errors.New("database.ping_timeout must be greater than 0")
	}

	if len(cfg.CORS.AllowOrigins) == 0 {
		return errors.New("cors.allow_origins must not be empty")
	}
	for _, origin := range cfg.CORS.AllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			return errors.New("cors.allow_origins must not contain wildcard *")
		}
	}

	if cfg.Security.EventSignatureAge < 0 {
		return errors.New("security.event_signature_max_age must not be negative")
	}
	if cfg.RateLimit.IntakePerMinute < 0 || cfg.RateLimit.DeductionPerMinute < 0 {
		return errors.New("rate_limit values must not be negative")
	}

	if cfg.Recalculation.Enabled {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).
			Parse(cfg.Recalculation.Schedule); err != nil {
			return fmt.Errorf("recalculation.schedule is invalid: %w", err)
		}
	}
	if cfg.Recalculation.Timeout <= 0 {
		return errors.New("recalculation.timeout must be greater than 0")
	}
	if cfg.Recalculation.PageSize < 0 {
		return errors.New("recalculation.page_size must not be negative")
	}

	return nil
}
