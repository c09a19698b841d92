// Package miauth implements the MiAuth pairing and login handshake spoken by
// M365-family controllers over the vendor UPNP/AVDTP characteristic pair.
// Registration runs once per scooter while its button blinks and yields a
// token; login replays that token to open an authenticated session.
package miauth

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Handshake characteristics under the vendor service. Commands go out on
// UPNP; everything the scooter says comes back on AVDTP.
var (
	UPNPUUID  = uuid.MustParse("00000010-0000-1000-8000-00805f9b34fb")
	AVDTPUUID = uuid.MustParse("00000019-0000-1000-8000-00805f9b34fb")
)

// Command words, written raw to UPNP.
var (
	cmdGetInfo = []byte{0xA2, 0x00, 0x00, 0x00}
	cmdSetKey  = []byte{0x15, 0x00, 0x00, 0x00}
	cmdAuth    = []byte{0x13, 0x00, 0x00, 0x00}
	cmdLogin   = []byte{0x24, 0x00, 0x00, 0x00}
)

// Status words the scooter answers with on AVDTP.
var (
	rcvSendDID = []byte{0x00, 0x00, 0x00, 0x00, 0x02, 0x00}
	rcvReady   = []byte{0x00, 0x00, 0x01, 0x01}
	rcvOK      = []byte{0x00, 0x00, 0x01, 0x00}
)

// TokenSize is the length of the pairing secret issued at registration.
const TokenSize = 12

// Token is the long-lived pairing secret. Persist it; losing it means
// re-registering at the scooter.
type Token [TokenSize]byte

// TokenFromBytes validates length and copies the slice into a Token.
func TokenFromBytes(b []byte) (Token, error) {
	var t Token
	if len(b) != TokenSize {
		return t, errors.Errorf("miauth: token must be %d bytes, got %d", TokenSize, len(b))
	}
	copy(t[:], b)
	return t, nil
}

var (
	// ErrRestartRequired means the handshake derailed: the scooter went
	// silent or answered out of sequence. The whole exchange must be
	// restarted from scratch; resuming mid-way is never valid.
	ErrRestartRequired = errors.New("miauth: handshake must be restarted")

	// ErrRejected means the scooter's confirmation did not verify against
	// the derived key. Almost always a stale or foreign token.
	ErrRejected = errors.New("miauth: login rejected, token may be stale")

	// ErrNoAuthChannel means the peer lacks the UPNP/AVDTP pair and cannot
	// speak this handshake at all.
	ErrNoAuthChannel = errors.New("miauth: peer has no auth characteristics")
)
