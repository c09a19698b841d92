// Package session drives authenticated request/response traffic over an
// established UART link. One session owns the link; requests are serialized
// so every notification can be matched to the single outstanding command.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
	"github.com/openscoot/m365/pkg/protocol"
)

var (
	// ErrTimeout means the controller did not answer within the configured
	// window. The session stays usable; the caller may retry.
	ErrTimeout = errors.New("session: request timed out")

	// ErrClosed means the notification stream ended underneath us. The
	// session is invalid and every later call fails fast.
	ErrClosed = errors.New("session: link closed")

	// ErrMalformedResponse means a decoded response failed the typed
	// accessor's validation, such as answering for the wrong attribute.
	ErrMalformedResponse = errors.New("session: malformed response")
)

const defaultRequestTimeout = 2 * time.Second

// Config tunes a session. The zero value is usable.
type Config struct {
	// RequestTimeout bounds each Request round trip. Defaults to 2s.
	RequestTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Session is a live authenticated conversation with a scooter controller.
// Construct one through the login flow; New is exported for wiring the
// pieces together, not for skipping authentication.
type Session struct {
	link *ble.UARTLink
	key  []byte
	log  logging.LeveledLogger

	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// New wraps an established link and the session key produced by the
// handshake.
func New(link *ble.UARTLink, key []byte, cfg Config) *Session {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Session{
		link:    link,
		key:     append([]byte(nil), key...),
		log:     cfg.LoggerFactory.NewLogger("session"),
		timeout: cfg.RequestTimeout,
	}
}

// Send writes a command without waiting for an answer. Used for actuator
// writes where the firmware does not reply.
func (s *Session) Send(ctx context.Context, cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.write(ctx, cmd)
}

// Request writes a command and blocks for the matching response frame.
// Requests are serialized; a timeout leaves the session usable while a
// closed stream invalidates it.
func (s *Session) Request(ctx context.Context, cmd protocol.Command) (*protocol.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	// A late answer to an earlier timed-out request would otherwise be
	// matched to this one.
	s.drainStale()
	if s.closed {
		return nil, ErrClosed
	}

	if err := s.write(ctx, cmd); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case n, ok := <-s.link.Notifications():
			if !ok {
				s.closed = true
				return nil, ErrClosed
			}
			if n.UUID != s.link.RX().UUID {
				continue
			}
			pkt, err := protocol.Decode(n.Value)
			if err != nil {
				// Radio noise. The genuine response may still be on
				// its way; keep waiting out the timeout.
				s.log.Warnf("discarding undecodable frame: %v", err)
				continue
			}
			s.log.Tracef("response %s attr=%#02x len=%d", pkt.Direction, byte(pkt.Attribute), len(pkt.Payload))
			return pkt, nil
		case <-timer.C:
			s.log.Warnf("no response to attr=%#02x within %s", byte(cmd.Attribute), s.timeout)
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the session dead. It does not tear down the connection; that
// belongs to the owner of the peripheral.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) write(ctx context.Context, cmd protocol.Command) error {
	raw, err := protocol.Encode(cmd)
	if err != nil {
		return errors.Wrap(err, "encode command")
	}
	s.log.Tracef("request %s attr=%#02x", cmd.Direction, byte(cmd.Attribute))
	return s.link.WritePacket(ctx, raw)
}

func (s *Session) drainStale() {
	for {
		select {
		case n, ok := <-s.link.Notifications():
			if !ok {
				s.closed = true
				return
			}
			s.log.Tracef("discarding stale notification on %s", n.UUID)
		default:
			return
		}
	}
}
