package miauth

import (
	"context"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
)

// RegistrationRequest is a single-use pairing attempt. The scooter only
// accepts it while the pairing window is open, which the rider confirms by
// pressing the power button when the headlight blinks.
type RegistrationRequest struct {
	dev  ble.Peripheral
	opts Options
	ch   *authChannel
	did  []byte
	log  logging.LeveledLogger
	done bool
}

// NewRegistrationRequest prepares the auth channel on a connected peer. A
// fresh random device identity is minted per attempt.
func NewRegistrationRequest(ctx context.Context, dev ble.Peripheral, opts Options) (*RegistrationRequest, error) {
	opts.fill()
	log := opts.LoggerFactory.NewLogger("miauth")
	ch, err := openAuthChannel(ctx, dev, opts.StepTimeout, log)
	if err != nil {
		return nil, err
	}
	did := uuid.New()
	return &RegistrationRequest{dev: dev, opts: opts, ch: ch, did: did[:], log: log}, nil
}

// Start runs the pairing exchange and returns the token the scooter issued.
// The scooter waits for its button before answering the opening command, so
// the first step gets the long window rather than the per-step timeout.
func (r *RegistrationRequest) Start(ctx context.Context) (Token, error) {
	var token Token
	if r.done {
		return token, errors.Wrap(ErrRestartRequired, "registration request already consumed")
	}
	r.done = true

	if err := r.ch.command(ctx, cmdGetInfo); err != nil {
		return token, err
	}
	r.log.Info("press the power button on the scooter to confirm pairing")
	r.ch.timeout = r.opts.ButtonWindow
	if err := r.ch.expect(ctx, rcvSendDID); err != nil {
		return token, err
	}
	r.ch.timeout = r.opts.StepTimeout

	if err := r.ch.sendData(ctx, r.did); err != nil {
		return token, err
	}
	if err := r.ch.expect(ctx, rcvReady); err != nil {
		return token, err
	}

	if err := r.ch.command(ctx, cmdSetKey); err != nil {
		return token, err
	}
	material, err := r.ch.receiveData(ctx, TokenSize)
	if err != nil {
		return token, err
	}
	copy(token[:], material)

	if err := r.ch.command(ctx, cmdAuth); err != nil {
		return token, err
	}
	if err := r.ch.expect(ctx, rcvOK); err != nil {
		return token, err
	}
	r.log.Info("paired, token issued")
	return token, nil
}
