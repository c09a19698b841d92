package miauth

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
	"github.com/openscoot/m365/pkg/session"
)

// State tracks login progress. Transitions only move forward; any failure
// abandons the request.
type State int

const (
	StateInit State = iota
	StateInfoRequested
	StateKeyExchangePending
	StateChallengeIssued
	StateResponseSent
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateInfoRequested:
		return "info-requested"
	case StateKeyExchangePending:
		return "key-exchange-pending"
	case StateChallengeIssued:
		return "challenge-issued"
	case StateResponseSent:
		return "response-sent"
	case StateConfirmed:
		return "confirmed"
	}
	return "unknown"
}

const (
	defaultStepTimeout  = 5 * time.Second
	defaultButtonWindow = 20 * time.Second

	nonceLen     = 16
	challengeLen = 16
	proofLen     = 32
	confirmLen   = 32
)

// Options tunes a handshake. The zero value is usable.
type Options struct {
	// StepTimeout bounds each individual exchange. Defaults to 5s.
	StepTimeout time.Duration

	// ButtonWindow bounds the wait for the rider to press the power
	// button during registration. Defaults to 20s.
	ButtonWindow time.Duration

	// Provider overrides the stock key schedule.
	Provider KeyProvider

	// RequestTimeout is handed to the session built on success.
	RequestTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

func (o *Options) fill() {
	if o.StepTimeout <= 0 {
		o.StepTimeout = defaultStepTimeout
	}
	if o.ButtonWindow <= 0 {
		o.ButtonWindow = defaultButtonWindow
	}
	if o.Provider == nil {
		o.Provider = HKDFProvider{}
	}
	if o.LoggerFactory == nil {
		o.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// LoginRequest is a single-use login attempt against a connected scooter.
type LoginRequest struct {
	dev   ble.Peripheral
	token Token
	opts  Options
	ch    *authChannel
	log   logging.LeveledLogger

	state State
	done  bool
}

// NewLoginRequest prepares the auth channel on an already connected peer.
func NewLoginRequest(ctx context.Context, dev ble.Peripheral, token Token, opts Options) (*LoginRequest, error) {
	opts.fill()
	log := opts.LoggerFactory.NewLogger("miauth")
	ch, err := openAuthChannel(ctx, dev, opts.StepTimeout, log)
	if err != nil {
		return nil, err
	}
	return &LoginRequest{dev: dev, token: token, opts: opts, ch: ch, log: log}, nil
}

// State reports how far the handshake got.
func (r *LoginRequest) State() State { return r.state }

// Start runs the login exchange to completion and, on success, selects the
// UART pair and returns a ready session. A LoginRequest runs once; a failed
// handshake cannot be resumed.
func (r *LoginRequest) Start(ctx context.Context) (*session.Session, error) {
	if r.done {
		return nil, errors.Wrap(ErrRestartRequired, "login request already consumed")
	}
	r.done = true

	key, err := r.handshake(ctx)
	if err != nil {
		r.log.Warnf("login failed in state %s: %v", r.state, err)
		return nil, err
	}
	r.log.Info("login confirmed")

	link, err := ble.EstablishUART(ctx, r.dev, r.opts.LoggerFactory)
	if err != nil {
		return nil, err
	}
	return session.New(link, key, session.Config{
		RequestTimeout: r.opts.RequestTimeout,
		LoggerFactory:  r.opts.LoggerFactory,
	}), nil
}

func (r *LoginRequest) handshake(ctx context.Context) ([]byte, error) {
	if err := r.ch.command(ctx, cmdGetInfo); err != nil {
		return nil, err
	}
	r.state = StateInfoRequested
	remoteInfo, err := r.ch.receive(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.ch.command(ctx, cmdLogin); err != nil {
		return nil, err
	}
	r.state = StateKeyExchangePending
	if err := r.ch.expect(ctx, rcvReady); err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	if err := r.ch.sendData(ctx, nonce); err != nil {
		return nil, err
	}
	challenge, err := r.ch.receiveData(ctx, challengeLen)
	if err != nil {
		return nil, err
	}
	r.state = StateChallengeIssued

	key, err := r.opts.Provider.Derive(r.token, append(remoteInfo, nonce...))
	if err != nil {
		return nil, errors.Wrap(err, "derive keys")
	}
	if err := r.ch.sendData(ctx, r.opts.Provider.Prove(key, challenge)); err != nil {
		return nil, err
	}
	r.state = StateResponseSent

	confirmation, err := r.ch.receiveData(ctx, confirmLen)
	if err != nil {
		return nil, err
	}
	if !r.opts.Provider.Confirm(key, confirmation) {
		return nil, ErrRejected
	}
	r.state = StateConfirmed
	return key, nil
}
