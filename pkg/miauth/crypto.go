package miauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// KeyProvider turns the pairing token and the handshake's exchanged material
// into session keys and proof values. The default suits stock firmware;
// fuzzing rigs and clone firmware substitute their own.
type KeyProvider interface {
	// Derive expands the token and the exchanged handshake material into
	// key material. Both sides must arrive at the same bytes.
	Derive(token Token, exchanged []byte) ([]byte, error)

	// Prove answers the scooter's challenge under the derived key.
	Prove(key, challenge []byte) []byte

	// Confirm verifies the scooter's closing confirmation under the
	// derived key.
	Confirm(key, confirmation []byte) bool
}

const (
	derivedKeyLen = 64
	hkdfInfo      = "mible-login-info"
	confirmLabel  = "mible-login-confirm"
)

// HKDFProvider is the stock key schedule: HKDF-SHA256 expands the token
// salted with the exchanged material into 64 bytes. The first half keys the
// host's proof, the second half keys the scooter's confirmation.
type HKDFProvider struct{}

func (HKDFProvider) Derive(token Token, exchanged []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, token[:], exchanged, []byte(hkdfInfo))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "hkdf expand")
	}
	return key, nil
}

func (HKDFProvider) Prove(key, challenge []byte) []byte {
	mac := hmac.New(sha256.New, key[:derivedKeyLen/2])
	mac.Write(challenge)
	return mac.Sum(nil)
}

func (HKDFProvider) Confirm(key, confirmation []byte) bool {
	return hmac.Equal(confirmation, Confirmation(key))
}

// Confirmation computes what a genuine controller sends after accepting the
// proof under the stock key schedule. Exported for firmware simulators.
func Confirmation(key []byte) []byte {
	mac := hmac.New(sha256.New, key[derivedKeyLen/2:])
	mac.Write([]byte(confirmLabel))
	return mac.Sum(nil)
}
