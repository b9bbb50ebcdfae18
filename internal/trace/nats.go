package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events to per-session subjects so external consumers
// can follow a run live.
//
// Events are published to:
//
//	{prefix}.{session_id}.{event_type}
//
// e.g. insightd.trace.0198aaaa-....phase_end. The connection is owned by
// the caller and survives Close.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink wraps an established NATS connection. An empty prefix
// defaults to "insightd.trace".
func NewNATSSink(conn *nats.Conn, prefix string) (*NATSSink, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = "insightd.trace"
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

// Emit publishes one event. Publish is fire-and-forget; delivery rides on
// the connection's reconnect buffering.
func (s *NATSSink) Emit(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", s.prefix, ev.SessionID, ev.Type)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish trace event: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the connection.
func (s *NATSSink) Close() error {
	return nil
}
