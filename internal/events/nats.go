// Package events mirrors the gate's broadcast stream onto NATS so other
// services (result boards, loggers) can follow a session without holding a
// WebSocket open.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/futureproathletes/timing-gates/internal/broadcast"
	"github.com/futureproathletes/timing-gates/internal/monitoring"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "gate"

// Subjects under the prefix.
const (
	subjectEvents   = "events"
	subjectDistance = "distance"
	subjectCommands = "commands"
)

// NATSPublisher is a broadcast sink that publishes each frame as-is. Distance
// updates go to <prefix>.distance; hello and timing events go to
// <prefix>.events.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	sub    *nats.Subscription
}

// NewNATSPublisher connects to url with automatic reconnection. Extra
// nats.Option values are appended to the defaults.
func NewNATSPublisher(url, prefix string, opts ...nats.Option) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	defaults := []nats.Option{
		nats.Name("timing-gates"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				monitoring.Logf("events: disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			monitoring.Logf("events: reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// Subject returns the subject a frame of the given type is published on.
func (p *NATSPublisher) Subject(frameType string) string {
	if frameType == broadcast.TypeDistance {
		return p.prefix + "." + subjectDistance
	}
	return p.prefix + "." + subjectEvents
}

// CommandSubject is where remote clients send {"type":"reset"}.
func (p *NATSPublisher) CommandSubject() string {
	return p.prefix + "." + subjectCommands
}

// WriteFrame implements broadcast.Sink. Publishing only fails once the
// connection is closed for good; while reconnecting, frames are buffered by
// the client or dropped.
func (p *NATSPublisher) WriteFrame(f broadcast.Frame) error {
	err := p.conn.Publish(p.Subject(f.Type), f.Data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrConnectionClosed):
		return err
	default:
		monitoring.Logf("events: dropped %s frame: %v", f.Type, err)
		return nil
	}
}

// SubscribeCommands delivers client commands published on CommandSubject.
// onCommand runs on the NATS dispatch goroutine and must not block.
func (p *NATSPublisher) SubscribeCommands(onCommand func(broadcast.ClientMessage)) error {
	sub, err := p.conn.Subscribe(p.CommandSubject(), func(msg *nats.Msg) {
		cmd, err := broadcast.DecodeClientMessage(msg.Data)
		if err != nil {
			monitoring.Logf("events: ignoring command: %v", err)
			return
		}
		onCommand(cmd)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", p.CommandSubject(), err)
	}
	if err := p.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	p.sub = sub
	return nil
}

// Close flushes pending frames and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}
	_ = p.conn.FlushTimeout(time.Second)
	p.conn.Close()
	return nil
}
