package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
	// Fields are attached to every entry, e.g. the service name.
	Fields   map[string]string `yaml:"fields" json:"fields"`
	Sampling *SamplingConfig   `yaml:"sampling" json:"sampling"`
}

// SamplingConfig caps repeated entries per message and level each second.
type SamplingConfig struct {
	Initial    int `yaml:"initial" json:"initial"`
	Thereafter int `yaml:"thereafter" json:"thereafter"`
}

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: FormatConsole,
		Output: OutputStdout,
		Level:  config.Level,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}

	logger, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	for key, value := range lConfig.Fields {
		logger = logger.With(zap.String(key, value))
	}

	l := NewZapWrapper(logger)

	l.Info("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
		zap.Bool("sampling", lConfig.Sampling != nil))

	return l, nil
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Format == FormatConsole {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))
	zapConfig.Sampling = nil
	if s := config.Sampling; s != nil && s.Initial > 0 {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: s.Initial, Thereafter: s.Thereafter}
	}

	outputs, errorOutputs, err := outputPaths(config)
	if err != nil {
		return nil, err
	}
	zapConfig.OutputPaths = outputs
	zapConfig.ErrorOutputPaths = errorOutputs

	return zapConfig.Build(zap.AddCaller())
}

func outputPaths(config *ZapLoggerConfig) ([]string, []string, error) {
	switch config.Output {
	case OutputStderr:
		return []string{OutputStderr}, []string{OutputStderr}, nil
	case OutputFile:
		if config.File == "" {
			break
		}
		if err := ensureLogDir(config.File); err != nil {
			return nil, nil, err
		}
		return []string{config.File}, []string{config.File}, nil
	}
	return []string{OutputStdout}, []string{OutputStderr}, nil
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
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

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, filepath.Separator) {
		return types.ErrLogFileWrongFormat
	}

	return types.WrapError(os.MkdirAll(dir, 0755), "access denied to log directory")
}

// ZapWrapper adapts a zap logger to types.Logger.
type ZapWrapper struct {
	Logger *zap.Logger
	stack  io.Writer
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return &ZapWrapper{Logger: logger, stack: os.Stderr}
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

// With returns a child logger carrying fields on every entry.
func (z *ZapWrapper) With(fields ...zap.Field) types.Logger {
	return &ZapWrapper{Logger: z.Logger.With(fields...), stack: z.stack}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(2)).Log(lvl, msg, fields...)
}

// ErrorWithErrStack logs the root cause of err and prints its pkg/errors stack.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+1)
	allFields = append(allFields, zap.String("error", errors.Cause(err).Error()))
	allFields = append(allFields, fields...)

	z.Logger.WithOptions(zap.AddCallerSkip(2)).Error(msg, allFields...)

	if stack := extractStackFromError(err); stack != "" {
		z.logPrettyStack(stack)
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func extractStackFromError(err error) string {
	var tracer stackTracer
	if st, ok := errors.Cause(err).(stackTracer); ok {
		tracer = st
	} else if st, ok := err.(stackTracer); ok {
		tracer = st
	}

	if tracer == nil {
		return fmt.Sprintf("%+v", err)
	}
	return fmt.Sprintf("%+v", tracer.StackTrace())
}

func (z *ZapWrapper) logPrettyStack(stack string) {
	_, _ = fmt.Fprintln(z.stack, "ERROR STACK TRACE")

	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || skipStackLine(line) {
			continue
		}

		if len(line) > 90 {
			line = line[:87] + "..."
		}
		_, _ = fmt.Fprintf(z.stack, "%-95s\n", line)
	}
}

func skipStackLine(line string) bool {
	for _, noise := range []string{"types.WrapError", "types/errors.go:", "runtime.goexit", "asm_amd64.s:", "asm_arm64.s:"} {
		if strings.Contains(line, noise) {
			return true
		}
	}
	return false
}
