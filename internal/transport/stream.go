package transport

import (
	"bytes"
	"context"
	"iter"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"exgate/pkg/core"
)

const streamBufferSize = 256

// streamConn is one websocket connection. Messages are handed to the consumer
// through events; a slow consumer blocks the read loop rather than losing data.
type streamConn struct {
	gws.BuiltinEventHandler

	socket   *gws.Conn
	events   chan []byte
	closed   chan struct{}
	stop     chan struct{}
	idle     time.Duration
	logger   zerolog.Logger
	closeErr error

	closeOnce sync.Once
	stopOnce  sync.Once
}

func newStreamConn(idle time.Duration, logger zerolog.Logger) *streamConn {
	return &streamConn{
		events: make(chan []byte, streamBufferSize),
		closed: make(chan struct{}),
		stop:   make(chan struct{}),
		idle:   idle,
		logger: logger,
	}
}

func (c *streamConn) extendDeadline(socket *gws.Conn) {
	if c.idle > 0 {
		_ = socket.SetDeadline(time.Now().Add(c.idle))
	}
}

func (c *streamConn) OnOpen(socket *gws.Conn) {
	c.extendDeadline(socket)
}

func (c *streamConn) OnClose(socket *gws.Conn, err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}

func (c *streamConn) OnPing(socket *gws.Conn, payload []byte) {
	c.extendDeadline(socket)
	_ = socket.WritePong(payload)
}

func (c *streamConn) OnPong(socket *gws.Conn, payload []byte) {
	c.extendDeadline(socket)
}

func (c *streamConn) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	c.extendDeadline(socket)

	data := bytes.Clone(message.Bytes())
	if len(data) == 0 {
		return
	}

	select {
	case c.events <- data:
	case <-c.stop:
	}
}

func (c *streamConn) write(payload []byte) error {
	return c.socket.WriteMessage(gws.OpcodeText, payload)
}

// keepalive sends pings until the connection closes or is stopped.
func (c *streamConn) keepalive(interval time.Duration, message func() []byte) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var err error
			if message != nil {
				err = c.write(message())
			} else {
				err = c.socket.WritePing(nil)
			}
			if err != nil {
				c.logger.Debug().Err(err).Msg("stream ping failed")
				return
			}
		case <-c.closed:
			return
		case <-c.stop:
			return
		}
	}
}

// shutdown stops delivery and closes the socket. Safe to call more than once.
func (c *streamConn) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.socket != nil {
			_ = c.socket.NetConn().Close()
		}
	})
}

// OpenStream returns a lazy, unbounded sequence of raw messages for spec.
// Disconnects are repaired transparently: the endpoint is resolved again, a new
// connection is dialed with exponential backoff and jitter, and the subscribe
// frames are replayed. Messages published during the gap are not recovered.
// The sequence ends when ctx is done, the transport is closed, the consumer stops,
// the endpoint cannot be resolved for a non-transient reason, or the configured
// reconnect budget is spent. The ending reason, if any, is yielded as the last error.
func (t *Transport) OpenStream(ctx context.Context, spec core.StreamSpec) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		logger := t.logger.With().Str("channel", spec.Channel).Logger()
		bo := t.reconnectBackOff()
		failures := 0

		for {
			if t.isClosed() {
				yield(nil, t.closedError())
				return
			}
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}

			conn, err := t.connectStream(ctx, spec, logger)
			if err != nil {
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return
				}
				if !core.IsRetryable(err) {
					yield(nil, err)
					return
				}
				failures++
				if limit := t.config.StreamMaxReconnects; limit > 0 && failures >= limit {
					yield(nil, core.Errorf(t.name, core.ErrorKindTransientNetwork,
						"stream %s: gave up after %d connection attempts: %v", spec.Channel, failures, err).
						WithCode(core.ErrCodeStreamExhausted).
						WithCause(err))
					return
				}
				wait := bo.NextBackOff()
				logger.Warn().Err(err).Int("failures", failures).Dur("wait", wait).Msg("stream connect failed")
				t.sleep(ctx, wait)
				continue
			}

			failures = 0
			bo.Reset()
			logger.Info().Msg("stream connected")

			outcome := t.pump(ctx, conn, yield)
			conn.shutdown()
			switch outcome {
			case pumpConsumerDone:
				return
			case pumpInterrupted:
				// The loop head reports why.
				continue
			}

			wait := bo.NextBackOff()
			logger.Warn().Err(conn.closeErr).Dur("wait", wait).Msg("stream disconnected, reconnecting")
			t.sleep(ctx, wait)
		}
	}
}

type pumpOutcome int

const (
	pumpDisconnected pumpOutcome = iota
	pumpConsumerDone
	pumpInterrupted
)

// pump forwards messages until the connection drops, the consumer stops, or
// ctx or the transport ends. Messages already read when the connection drops are
// still delivered.
func (t *Transport) pump(ctx context.Context, conn *streamConn, yield func([]byte, error) bool) pumpOutcome {
	for {
		select {
		case <-ctx.Done():
			return pumpInterrupted
		case <-t.done:
			return pumpInterrupted
		case data := <-conn.events:
			if !yield(data, nil) {
				return pumpConsumerDone
			}
		case <-conn.closed:
			for {
				select {
				case data := <-conn.events:
					if !yield(data, nil) {
						return pumpConsumerDone
					}
				default:
					return pumpDisconnected
				}
			}
		}
	}
}

func (t *Transport) connectStream(ctx context.Context, spec core.StreamSpec, logger zerolog.Logger) (*streamConn, error) {
	endpoint, err := spec.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	conn := newStreamConn(t.config.StreamIdleTimeout, logger)
	socket, _, err := gws.NewClient(conn, &gws.ClientOption{
		Addr:             endpoint.URL,
		HandshakeTimeout: t.config.Timeout,
	})
	if err != nil {
		return nil, t.networkError(err)
	}
	conn.socket = socket
	go socket.ReadLoop()

	for _, frame := range endpoint.Subscribe {
		if err := conn.write(frame); err != nil {
			conn.shutdown()
			return nil, t.networkError(err)
		}
	}

	interval := endpoint.PingInterval
	if interval <= 0 {
		interval = t.config.StreamPingInterval
	}
	go conn.keepalive(interval, endpoint.PingMessage)

	return conn, nil
}

func (t *Transport) reconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.config.StreamReconnectMin
	b.MaxInterval = t.config.StreamReconnectMax
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d. It returns false if ctx or the transport ended first.
func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
}
