package miauth

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"gotest.tools/assert"

	"github.com/openscoot/m365/pkg/ble"
)

// pairingScooter scripts the firmware side of registration. The issued
// token is fixed so the test can check what comes back.
type pairingScooter struct {
	*scriptedScooter
	issued   Token
	did      []byte
	withhold bool // simulate the rider never pressing the button
}

func newPairingScooter(t *testing.T) *pairingScooter {
	p := &pairingScooter{
		scriptedScooter: newScriptedScooter(t),
		issued:          Token{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
	}
	p.dev.WriteHandler = p.handlePairingWrite
	return p
}

func (p *pairingScooter) handlePairingWrite(c ble.Characteristic, data []byte, withResponse bool) {
	switch c.UUID {
	case UPNPUUID:
		switch {
		case bytes.Equal(data, cmdGetInfo):
			if !p.withhold {
				p.dev.Notify(AVDTPUUID, rcvSendDID)
			}
		case bytes.Equal(data, cmdSetKey):
			p.notifyFramed(p.issued[:])
		case bytes.Equal(data, cmdAuth):
			p.dev.Notify(AVDTPUUID, rcvOK)
		}
	case AVDTPUUID:
		if len(data) < 3 {
			p.t.Fatalf("runt data frame %x", data)
		}
		p.did = append(p.did, data[2:]...)
		p.dev.Notify(AVDTPUUID, rcvReady)
	}
}

func TestRegistrationHappyPath(t *testing.T) {
	sc := newPairingScooter(t)
	req, err := NewRegistrationRequest(context.Background(), sc.dev, shortOpts())
	assert.NilError(t, err)

	token, err := req.Start(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, token, sc.issued)
	assert.Equal(t, len(sc.did), 16)
}

func TestRegistrationButtonNeverPressed(t *testing.T) {
	sc := newPairingScooter(t)
	sc.withhold = true
	req, err := NewRegistrationRequest(context.Background(), sc.dev, shortOpts())
	assert.NilError(t, err)

	_, err = req.Start(context.Background())
	assert.Assert(t, errors.Is(err, ErrRestartRequired))
}

func TestRegistrationSingleUse(t *testing.T) {
	sc := newPairingScooter(t)
	req, err := NewRegistrationRequest(context.Background(), sc.dev, shortOpts())
	assert.NilError(t, err)

	_, err = req.Start(context.Background())
	assert.NilError(t, err)
	_, err = req.Start(context.Background())
	assert.Assert(t, errors.Is(err, ErrRestartRequired))
}

func TestTokenFromBytes(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	token, err := TokenFromBytes(raw)
	assert.NilError(t, err)
	assert.DeepEqual(t, token[:], raw)

	_, err = TokenFromBytes(raw[:8])
	assert.Assert(t, err != nil)
}
