package log

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is shared by every package of the module. It starts as a no-op
// logger so library users that never call InitLogger stay silent.
var Logger = zap.NewNop()

// Options selects how InitLogger builds the logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Development switches to the human oriented console encoder.
	Development bool
}

func InitLogger(opts Options) error {
	config := zap.NewProductionConfig()
	if opts.Development {
		config = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return err
		}
	}
	config.Level = zap.NewAtomicLevelAt(level)

	config.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339Nano))
	}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// SetLogger replaces the shared logger and returns a func restoring the
// previous one.
func SetLogger(l *zap.Logger) (restore func()) {
	prev := Logger
	Logger = l
	return func() { Logger = prev }
}
