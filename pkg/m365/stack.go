// Package m365 ties the layers together: discovery, resilient connection,
// pairing, login and the authenticated session, behind one façade that a
// command-line tool or daemon drives.
package m365

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
	"github.com/openscoot/m365/pkg/miauth"
	"github.com/openscoot/m365/pkg/scanner"
	"github.com/openscoot/m365/pkg/session"
)

var (
	// ErrNotConnected means the call needs an established connection first.
	ErrNotConnected = errors.New("m365: not connected to a scooter")

	// ErrNotLoggedIn means the call needs an authenticated session first.
	ErrNotLoggedIn = errors.New("m365: no authenticated session")
)

// Config tunes the whole stack. The zero value is usable.
type Config struct {
	// Timing overrides the connection resilience defaults.
	Timing ble.Timing

	// RequestTimeout bounds session round trips.
	RequestTimeout time.Duration

	// StepTimeout and ButtonWindow bound the handshake exchanges.
	StepTimeout  time.Duration
	ButtonWindow time.Duration

	// Provider overrides the stock key schedule.
	Provider miauth.KeyProvider

	LoggerFactory logging.LoggerFactory
}

// Stack is the top-level object owning one scooter relationship at a time.
// Safe for concurrent use; the underlying session serializes traffic anyway.
type Stack struct {
	central ble.Central
	cfg     Config
	scan    *scanner.Scanner
	log     logging.LeveledLogger

	mu    sync.Mutex
	conn  *ble.Connection
	token miauth.Token
	auth  bool
	sess  *session.Session
}

// New builds a stack over the given discovery surface. Use ble.NewCentral
// for real hardware.
func New(central ble.Central, cfg Config) *Stack {
	if cfg.Timing == (ble.Timing{}) {
		cfg.Timing = ble.DefaultTiming()
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Stack{
		central: central,
		cfg:     cfg,
		scan:    scanner.New(central, cfg.LoggerFactory),
		log:     cfg.LoggerFactory.NewLogger("m365"),
	}
}

// Scanner exposes discovery.
func (s *Stack) Scanner() *scanner.Scanner { return s.scan }

// Connect resolves the address and establishes the link with retries.
func (s *Stack) Connect(ctx context.Context, addr string) error {
	dev, err := s.central.Peripheral(addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = ble.NewConnection(dev, s.cfg.Timing, s.cfg.LoggerFactory)
	return s.conn.Connect(ctx)
}

// Register runs pairing on the connected scooter and returns the token.
// The rider must press the power button when prompted.
func (s *Stack) Register(ctx context.Context) (miauth.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return miauth.Token{}, ErrNotConnected
	}
	req, err := miauth.NewRegistrationRequest(ctx, s.conn.Device(), s.handshakeOptions())
	if err != nil {
		return miauth.Token{}, err
	}
	return req.Start(ctx)
}

// Login authenticates with a previously issued token and opens the session.
func (s *Stack) Login(ctx context.Context, token miauth.Token) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	sess, err := s.login(ctx, token)
	if err != nil {
		return nil, err
	}
	s.token, s.auth = token, true
	return sess, nil
}

func (s *Stack) login(ctx context.Context, token miauth.Token) (*session.Session, error) {
	req, err := miauth.NewLoginRequest(ctx, s.conn.Device(), token, s.handshakeOptions())
	if err != nil {
		return nil, err
	}
	sess, err := req.Start(ctx)
	if err != nil {
		return nil, err
	}
	s.sess = sess
	return sess, nil
}

// Session returns the live session, or nil before login.
func (s *Stack) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Recover tears the link down, re-establishes it and logs in again with the
// stored token. Called when the session reports ErrClosed or times out
// repeatedly.
func (s *Stack) Recover(ctx context.Context) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	if !s.auth {
		return nil, ErrNotLoggedIn
	}
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
	s.log.Info("recovering connection")
	if err := s.conn.Reconnect(ctx); err != nil {
		return nil, err
	}
	return s.login(ctx, s.token)
}

// Close drops the session and disconnects.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
	if s.conn == nil {
		return nil
	}
	return s.conn.Disconnect(ctx)
}

func (s *Stack) handshakeOptions() miauth.Options {
	return miauth.Options{
		StepTimeout:    s.cfg.StepTimeout,
		ButtonWindow:   s.cfg.ButtonWindow,
		Provider:       s.cfg.Provider,
		RequestTimeout: s.cfg.RequestTimeout,
		LoggerFactory:  s.cfg.LoggerFactory,
	}
}
