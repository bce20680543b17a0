package logger

import (
	"fmt"

	"github.com/celer-network/eth-txmgr/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	*zap.SugaredLogger
}

var _ types.Logger = (*ZapLogger)(nil)

// NewZapLogger creates a wrapped zap logger
func NewZapLogger(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{
		SugaredLogger: logger,
	}
}

// New builds a production zap logger at the given level, console encoded
// unless json is set.
func New(level string, json bool) (*ZapLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if !json {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "could not build zap logger")
	}
	return NewZapLogger(logger.Named("eth-txmgr").Sugar()), nil
}

// NewDevelopment returns a debug level logger meant for tests and local runs.
func NewDevelopment() *ZapLogger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return NewZapLogger(logger.Sugar())
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapLogger {
	return NewZapLogger(zap.NewNop().Sugar())
}

// Trace is a shim stand-in for when we have real trace-level logging support
func (zl *ZapLogger) Trace(args ...interface{}) {
	zl.Debug(append([]interface{}{"TRACE: "}, args...))
}

// Tracef is a shim stand-in for when we have real trace-level logging support
func (zl *ZapLogger) Tracef(format string, values ...interface{}) {
	zl.Debugf("TRACE: " + fmt.Sprintf(format, values...))
}

// Tracew is a shim stand-in for when we have real trace-level logging support
func (zl *ZapLogger) Tracew(msg string, keysAndValues ...interface{}) {
	zl.Debugw("TRACE: "+msg, keysAndValues...)
}
