// Package logger configures the CLI's zap logger. The engine itself
// traces through util.DPrintf; zap is the outer shell's voice.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global sugared logger of the CLI.
var Logger *zap.SugaredLogger

// Init builds the logger. format is "human" or "json".
func Init(debug bool, format string) error {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	Logger = l.Sugar()
	return nil
}

func init() {
	// a usable default until Init runs with real configuration
	l, _ := zap.NewDevelopment()
	Logger = l.Sugar()
}
