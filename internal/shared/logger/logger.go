package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// GetLogger returns zap.Logger instance, but using singleton pattern creates only one reusable instace.
// APP_ENV=production selects the JSON production config, anything else the development one.
// LOG_LEVEL (debug, info, warn, error) overrides the default level of the selected config.
func GetLogger() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
			cfg = zap.NewProductionConfig()
		}
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			level, err := zapcore.ParseLevel(lvl)
			if err == nil {
				cfg.Level = zap.NewAtomicLevelAt(level)
			}
		}

		var err error
		logger, err = cfg.Build()
		if err != nil {
			panic("failed logger setup : " + err.Error())
		}
	})
	return logger
}
