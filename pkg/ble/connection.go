package ble

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

// State is the connection lifecycle state, owned exclusively by Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// ErrRetriesExhausted wraps the transport's last error once the bounded
// connect retries are used up.
var ErrRetriesExhausted = errors.New("ble: connect retries exhausted")

// Connection is the connect/disconnect/reconnect state machine around a
// single peer handle. Transport flakiness is absorbed here with bounded
// retries; everything it cannot absorb is surfaced to the caller.
type Connection struct {
	dev    Peripheral
	timing Timing
	log    logging.LeveledLogger

	mu    sync.Mutex
	state State
}

// NewConnection wraps a peer handle with the given timing policy.
func NewConnection(dev Peripheral, timing Timing, lf logging.LoggerFactory) *Connection {
	return &Connection{
		dev:    dev,
		timing: timing,
		log:    lf.NewLogger("ble"),
		state:  StateDisconnected,
	}
}

// Device returns the wrapped peer handle.
func (c *Connection) Device() Peripheral { return c.dev }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect is idempotent. An already-connected peer is stability-checked and
// returned without any connect attempt; otherwise attempts are retried up to
// Timing.ConnectRetries, each followed by a stabilization delay before the
// status is re-checked.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	connected, err := c.dev.IsConnected()
	if err != nil {
		c.setState(StateDisconnected)
		return errors.Wrap(err, "connection status")
	}
	if connected {
		if err := sleep(ctx, c.timing.StabilizeDelay); err != nil {
			c.setState(StateDisconnected)
			return err
		}
		connected, err = c.dev.IsConnected()
		if err != nil {
			c.setState(StateDisconnected)
			return errors.Wrap(err, "connection status")
		}
		if connected {
			c.log.Debug("already connected and stable")
			c.setState(StateConnected)
			return nil
		}
		c.log.Debug("connection dropped during stability check")
	}

	retries := c.timing.ConnectRetries
	for {
		err := c.dev.Connect(ctx)
		if err == nil {
			if err := sleep(ctx, c.timing.StabilizeDelay); err != nil {
				c.setState(StateDisconnected)
				return err
			}
			connected, serr := c.dev.IsConnected()
			if serr != nil {
				c.setState(StateDisconnected)
				return errors.Wrap(serr, "connection status")
			}
			if connected {
				c.log.Debugf("connected to %s", c.dev.Addr())
				c.setState(StateConnected)
				return nil
			}
			err = errors.New("connect reported success but link is not up")
		}
		if retries <= 0 {
			c.setState(StateDisconnected)
			return errors.Wrapf(ErrRetriesExhausted, "%v", err)
		}
		retries--
		c.log.Debugf("retrying connection, %d retries left: %v", retries, err)
		if err := sleep(ctx, c.timing.RetryDelay); err != nil {
			c.setState(StateDisconnected)
			return err
		}
	}
}

// Disconnect is idempotent and tolerant of races: the status is polled a few
// times before the peer is treated as already disconnected, which counts as
// success. On platforms with slow teardown it waits, bounded, for the status
// to reflect the disconnect.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.setState(StateDisconnecting)
	defer c.setState(StateDisconnected)

	connected := false
	for i := 0; i < c.timing.DisconnectPolls; i++ {
		up, err := c.dev.IsConnected()
		if err != nil {
			return errors.Wrap(err, "connection status")
		}
		if up {
			connected = true
			break
		}
		if err := sleep(ctx, c.timing.DisconnectPollDelay); err != nil {
			return err
		}
	}
	if !connected {
		c.log.Debug("already disconnected")
		return nil
	}

	if err := c.dev.Disconnect(ctx); err != nil {
		// Soft failure: the status poll below decides whether the link
		// actually stayed up.
		c.log.Warnf("disconnect: %v", err)
	}
	for i := 0; i < c.timing.DisconnectPolls; i++ {
		up, err := c.dev.IsConnected()
		if err != nil {
			return errors.Wrap(err, "connection status")
		}
		if !up {
			c.log.Debugf("disconnected from %s", c.dev.Addr())
			return nil
		}
		if err := sleep(ctx, c.timing.DisconnectPollDelay); err != nil {
			return err
		}
	}
	return errors.New("ble: peer still connected after disconnect")
}

// Reconnect performs disconnect, cooldown, connect, in that order. The
// cooldown is waited even when the peer was already disconnected. This is
// the sole recovery path after a session-level transport failure.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.log.Debug("reconnecting")
	if err := c.Disconnect(ctx); err != nil {
		return err
	}
	if err := sleep(ctx, c.timing.ReconnectCooldown); err != nil {
		return err
	}
	return c.Connect(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
