package core

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProductionLogger is the default Logger, backed by zap.
// Every entry carries the service name and, when scoped, the component.
type ProductionLogger struct {
	base        *zap.Logger
	level       zap.AtomicLevel
	serviceName string
	component   string
	format      string
}

// NewProductionLogger builds a zap logger from LoggingConfig.
// Format "json" selects the JSON encoder, anything else the console encoder.
// Output is "stdout", "stderr" or a file path.
func NewProductionLogger(logging LoggingConfig, serviceName string) Logger {
	level := zap.NewAtomicLevelAt(parseLevel(logging.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(logging.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	zc := zapcore.NewCore(encoder, openSink(logging.Output), level)
	return newProductionLogger(zc, level, serviceName, logging.Format)
}

func newProductionLogger(zc zapcore.Core, level zap.AtomicLevel, serviceName, format string) *ProductionLogger {
	base := zap.New(zc).With(zap.String("service", serviceName))
	return &ProductionLogger{
		base:        base,
		level:       level,
		serviceName: serviceName,
		format:      format,
	}
}

func openSink(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // nosec G304 -- operator supplied path
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.Lock(f)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithComponent returns a child logger tagged with component.
// The parent is left unchanged.
func (p *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		base:        p.base.With(zap.String("component", component)),
		level:       p.level,
		serviceName: p.serviceName,
		component:   component,
		format:      p.format,
	}
}

// SetLevel changes the minimum level at runtime for this logger and its children.
func (p *ProductionLogger) SetLevel(level string) {
	p.level.SetLevel(parseLevel(level))
}

// Sync flushes buffered entries.
func (p *ProductionLogger) Sync() error {
	return p.base.Sync()
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.base.Info(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.base.Error(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.base.Warn(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	p.base.Debug(msg, toZapFields(fields)...)
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
