package rwpool

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled log sink used by the Manager. From most to least
// severe: Error, Warn, Info, Verbose, Debug, Silly.
type Logger interface {
	Error(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Verbose(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Silly(msg string, fields ...zap.Field)
}

// NopLogger discards everything.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Error(string, ...zap.Field)   {}
func (NopLogger) Warn(string, ...zap.Field)    {}
func (NopLogger) Info(string, ...zap.Field)    {}
func (NopLogger) Verbose(string, ...zap.Field) {}
func (NopLogger) Debug(string, ...zap.Field)   {}
func (NopLogger) Silly(string, ...zap.Field)   {}

// zap has a single level below info, so verbose takes zap's debug level and
// debug and silly sit below it.
const (
	VerboseLevel = zapcore.DebugLevel
	DebugLevel   = zapcore.DebugLevel - 1
	SillyLevel   = zapcore.DebugLevel - 2
)

// LoggingConfig holds the configuration for NewLogger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // error, warn, info, verbose, debug, silly
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

type zapLogger struct {
	zap *zap.Logger
}

// NewZapLogger adapts a zap.Logger. Verbose, Debug and Silly are written at
// VerboseLevel, DebugLevel and SillyLevel.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return &zapLogger{zap: l}
}

func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }

func (l *zapLogger) Verbose(msg string, fields ...zap.Field) { l.log(VerboseLevel, msg, fields) }
func (l *zapLogger) Debug(msg string, fields ...zap.Field)   { l.log(DebugLevel, msg, fields) }
func (l *zapLogger) Silly(msg string, fields ...zap.Field)   { l.log(SillyLevel, msg, fields) }

func (l *zapLogger) log(lvl zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.zap.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

// NewLogger builds a zap-backed Logger.
func NewLogger(cfg LoggingConfig) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = LevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" || cfg.Format == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var ws zapcore.WriteSyncer
	switch cfg.OutputPath {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		ws = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, ws, level)
	return NewZapLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))), nil
}

// ParseLevel accepts verbose, debug and silly in addition to zap's own level
// names.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "verbose":
		return VerboseLevel, nil
	case "debug":
		return DebugLevel, nil
	case "silly":
		return SillyLevel, nil
	}
	var l zapcore.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// LevelEncoder names the extra levels.
func LevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case VerboseLevel:
		enc.AppendString("verbose")
	case DebugLevel:
		enc.AppendString("debug")
	case SillyLevel:
		enc.AppendString("silly")
	default:
		zapcore.LowercaseLevelEncoder(l, enc)
	}
}
