package logging

import (
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redactedValue = "[REDACTED]"

// RedactedString returns the placeholder written in place of sensitive
// values.
func RedactedString() string { return redactedValue }

// RedactingEncoder wraps an encoder and masks the values of configured
// field keys. Keys are matched case-insensitively.
type RedactingEncoder struct {
	zapcore.Encoder
	keys map[string]struct{}
}

// NewRedactingEncoder wraps enc with redaction for cfg.Fields.
func NewRedactingEncoder(enc zapcore.Encoder, cfg RedactionConfig) *RedactingEncoder {
	keys := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = struct{}{}
	}
	return &RedactingEncoder{Encoder: enc, keys: keys}
}

func (e *RedactingEncoder) sensitive(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

// EncodeEntry rewrites sensitive per-entry fields before delegating, since
// the wrapped encoder adds those fields to itself directly.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clean := fields
	copied := false
	for i, f := range fields {
		if !e.sensitive(f.Key) {
			continue
		}
		if !copied {
			clean = make([]zapcore.Field, len(fields))
			copy(clean, fields)
			copied = true
		}
		clean[i] = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redactedValue}
	}
	return e.Encoder.EncodeEntry(ent, clean)
}

func (e *RedactingEncoder) AddString(key, value string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddString(key, value)
}

func (e *RedactingEncoder) AddByteString(key string, value []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddByteString(key, value)
}

func (e *RedactingEncoder) AddBinary(key string, value []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddBinary(key, value)
}

func (e *RedactingEncoder) AddReflected(key string, value any) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, value)
}

func (e *RedactingEncoder) AddArray(key string, marshaler zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, marshaler)
}

func (e *RedactingEncoder) AddObject(key string, marshaler zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, marshaler)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys}
}
