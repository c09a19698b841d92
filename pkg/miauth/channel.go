package miauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/ble"
)

// Data transfers on AVDTP are chunked: each frame carries a little-endian
// frame index starting at 1, then up to 18 bytes of payload.
const frameChunk = 18

// authChannel is the subscribed UPNP/AVDTP pair on a connected peer plus the
// per-step deadline shared by every handshake exchange.
type authChannel struct {
	dev   ble.Peripheral
	upnp  ble.Characteristic
	avdtp ble.Characteristic

	timeout time.Duration
	log     logging.LeveledLogger
}

func openAuthChannel(ctx context.Context, dev ble.Peripheral, timeout time.Duration, log logging.LeveledLogger) (*authChannel, error) {
	chars, err := dev.DiscoverCharacteristics(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discover characteristics")
	}
	upnp, okW := ble.FindCharacteristic(chars, UPNPUUID)
	avdtp, okN := ble.FindCharacteristic(chars, AVDTPUUID)
	if !okW || !okN {
		return nil, ErrNoAuthChannel
	}
	for _, c := range []ble.Characteristic{upnp, avdtp} {
		if err := dev.Subscribe(ctx, c); err != nil {
			return nil, errors.Wrapf(err, "subscribe %s", c.UUID)
		}
	}
	return &authChannel{dev: dev, upnp: upnp, avdtp: avdtp, timeout: timeout, log: log}, nil
}

// command writes a raw command word to UPNP.
func (c *authChannel) command(ctx context.Context, cmd []byte) error {
	c.log.Tracef("command %x", cmd)
	return c.dev.Write(ctx, c.upnp, cmd, !c.upnp.Properties.Has(ble.PropertyWriteWithoutResponse))
}

// sendData chunks data into indexed frames on AVDTP.
func (c *authChannel) sendData(ctx context.Context, data []byte) error {
	withResponse := !c.avdtp.Properties.Has(ble.PropertyWriteWithoutResponse)
	for i := 0; len(data) > 0; i++ {
		n := frameChunk
		if n > len(data) {
			n = len(data)
		}
		frame := make([]byte, 2+n)
		binary.LittleEndian.PutUint16(frame, uint16(i+1))
		copy(frame[2:], data[:n])
		if err := c.dev.Write(ctx, c.avdtp, frame, withResponse); err != nil {
			return errors.Wrapf(err, "write frame %d", i+1)
		}
		data = data[n:]
	}
	return nil
}

// receive returns the next raw AVDTP value. A silent peer is a derailed
// handshake, not a retryable timeout.
func (c *authChannel) receive(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case n, ok := <-c.dev.Notifications():
			if !ok {
				return nil, errors.Wrap(ErrRestartRequired, "stream closed")
			}
			if n.UUID != c.avdtp.UUID {
				continue
			}
			return n.Value, nil
		case <-timer.C:
			return nil, errors.Wrap(ErrRestartRequired, "peer silent")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// expect requires the next value to be exactly want.
func (c *authChannel) expect(ctx context.Context, want []byte) error {
	got, err := c.receive(ctx)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		c.log.Warnf("expected %x, peer sent %x", want, got)
		return errors.Wrap(ErrRestartRequired, "unexpected answer")
	}
	return nil
}

// receiveData reassembles indexed frames until total bytes arrive.
func (c *authChannel) receiveData(ctx context.Context, total int) ([]byte, error) {
	data := make([]byte, 0, total)
	for next := uint16(1); len(data) < total; next++ {
		frame, err := c.receive(ctx)
		if err != nil {
			return nil, err
		}
		if len(frame) < 3 || binary.LittleEndian.Uint16(frame) != next {
			return nil, errors.Wrap(ErrRestartRequired, "bad data frame")
		}
		data = append(data, frame[2:]...)
	}
	if len(data) != total {
		return nil, errors.Wrap(ErrRestartRequired, "oversized data frame")
	}
	return data, nil
}
