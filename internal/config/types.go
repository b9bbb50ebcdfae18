package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration with text and JSON marshaling so config
// files can say "30s" or "5m". Negative durations are rejected.
type Duration time.Duration

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative, got %q", string(text))
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		return d.UnmarshalText([]byte(value))
	case float64:
		if value < 0 {
			return fmt.Errorf("duration must not be negative, got %v", value)
		}
		*d = Duration(time.Duration(value))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Secret holds a sensitive string. Its formatting and marshaling methods
// emit a placeholder so the value cannot leak through logs or dumps; the
// real value is only reachable through Value.
type Secret string

const secretPlaceholder = "[REDACTED]"

// Value returns the underlying secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a value is present.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretPlaceholder
}

// GoString hides the value from %#v as well.
func (s Secret) GoString() string {
	return "config.Secret(" + s.String() + ")"
}

// MarshalText writes the placeholder, never the value.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalJSON writes the placeholder, never the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalText accepts the raw secret.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// UnmarshalJSON accepts the raw secret.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("secret must be a string: %w", err)
	}
	*s = Secret(v)
	return nil
}
