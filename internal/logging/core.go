package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const otelScopeName = "github.com/fyrsmithlabs/insightd/internal/logging"

// newCore assembles the destination cores, applies redaction and sampling.
func newCore(config *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if config.Output.Stdout {
		enc := newEncoder(config)
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), config.Level))
	}
	if config.Output.OTEL {
		bridge := otelzap.NewCore(otelScopeName, otelzap.WithLoggerProvider(provider))
		cores = append(cores, &levelFilterCore{
			Core: bridge,
			min:  config.Level,
			max:  zapcore.FatalLevel,
		})
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		core = zapcore.NewNopCore()
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, config.Sampling), nil
}

func newEncoder(config *Config) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if config.Format == FormatConsole {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	if config.Redaction.Enabled {
		enc = NewRedactingEncoder(enc, config.Redaction)
	}
	return enc
}

// encodeLevel renders TraceLevel as "trace" instead of zap's "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// newSampledCore rate-limits entries below ErrorLevel. Errors and above
// always pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	low := &levelFilterCore{Core: core, min: TraceLevel, max: zapcore.WarnLevel}
	high := &levelFilterCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	sampled := zapcore.NewSamplerWithOptions(low, cfg.Tick, cfg.First, cfg.Thereafter)
	return zapcore.NewTee(sampled, high)
}

// levelFilterCore passes through entries whose level falls in [min, max].
type levelFilterCore struct {
	zapcore.Core
	min zapcore.Level
	max zapcore.Level
}

func (c *levelFilterCore) Enabled(l zapcore.Level) bool {
	return l >= c.min && l <= c.max && c.Core.Enabled(l)
}

func (c *levelFilterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}
