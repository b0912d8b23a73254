package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Env      string
	Level    string
	Encoding string
}

// New builds the process logger. Development gets the console encoder and
// debug level unless overridden.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(strings.TrimSpace(opts.Env), "development") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level := strings.TrimSpace(opts.Level); level != "" {
		if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log.level: %w", err)
		}
	}

	switch encoding := strings.TrimSpace(opts.Encoding); encoding {
	case "":
	case "json", "console":
		cfg.Encoding = encoding
	default:
		return nil, fmt.Errorf("invalid log.encoding %q", encoding)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger failed: %w", err)
	}
	return logger, nil
}
