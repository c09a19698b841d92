package protocol

import (
	"errors"
	"testing"

	"gotest.tools/assert"
)

func TestEncodeKnownVector(t *testing.T) {
	// read firmware version: 55 AA 03 20 01 1A 02 BF FF
	pkt, err := Encode(Command{
		Direction: MasterToMotor,
		ReadWrite: Read,
		Attribute: 0x1A,
		Payload:   []byte{0x02},
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, pkt, []byte{0x55, 0xAA, 0x03, 0x20, 0x01, 0x1A, 0x02, 0xBF, 0xFF})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dirs := []Direction{MasterToMotor, MasterToBattery, MotorToMaster, BatteryToMaster}
	ops := []ReadWrite{Read, Write}
	payloads := [][]byte{nil, {0x02}, {0x00, 0xFF, 0x7F}, make([]byte, MaxPayload)}
	for _, d := range dirs {
		for _, op := range ops {
			for _, p := range payloads {
				c := Command{Direction: d, ReadWrite: op, Attribute: AttrMotorInfo, Payload: p}
				raw, err := Encode(c)
				assert.NilError(t, err)
				pkt, err := Decode(raw)
				assert.NilError(t, err)
				assert.Equal(t, pkt.Direction, d)
				assert.Equal(t, pkt.ReadWrite, op)
				assert.Equal(t, pkt.Attribute, AttrMotorInfo)
				assert.Equal(t, len(pkt.Payload), len(p))
				if len(p) > 0 {
					assert.DeepEqual(t, pkt.Payload, p)
				}
			}
		}
	}
}

func TestDecodeRejectsFlippedBits(t *testing.T) {
	raw, err := Encode(Command{
		Direction: MasterToBattery,
		ReadWrite: Read,
		Attribute: AttrBatteryInfo,
		Payload:   []byte{0x0A, 0x33, 0x91},
	})
	assert.NilError(t, err)
	// flip every bit of every body byte in turn; decode must never succeed
	for i := 2; i < len(raw)-2; i++ {
		for bit := uint(0); bit < 8; bit++ {
			mutated := append([]byte(nil), raw...)
			mutated[i] ^= 1 << bit
			_, err := Decode(mutated)
			if err == nil {
				t.Fatalf("flipped bit %d of byte %d decoded successfully", bit, i)
			}
		}
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	raw, err := Encode(Command{Direction: MasterToMotor, ReadWrite: Read, Attribute: AttrSpeed, Payload: []byte{0x02}})
	assert.NilError(t, err)
	raw[6] ^= 0x01 // corrupt payload, length still consistent
	_, err = Decode(raw)
	assert.Assert(t, errors.Is(err, ErrChecksumMismatch))
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	pkt, err := Encode(Command{
		Direction: MasterToMotor,
		ReadWrite: Write,
		Attribute: AttrGeneralInfo,
		Payload:   make([]byte, MaxPayload+1),
	})
	assert.Assert(t, errors.Is(err, ErrPayloadTooLarge))
	assert.Assert(t, pkt == nil)
}

func TestDecodeBadPreamble(t *testing.T) {
	_, err := Decode([]byte{0x55, 0xAB, 0x03, 0x20, 0x01, 0x1A, 0x02, 0xBF, 0xFF})
	assert.Assert(t, errors.Is(err, ErrBadPreamble))
}

func TestDecodeTruncated(t *testing.T) {
	for _, raw := range [][]byte{
		{0x55},
		{0x55, 0xAA, 0x03, 0x20, 0x01},
		{0x55, 0xAA, 0x10, 0x23, 0x01, 0xB0, 0x00, 0x00}, // declares more than present
	} {
		_, err := Decode(raw)
		assert.Assert(t, errors.Is(err, ErrTruncated))
	}
}

func TestBuildPassThrough(t *testing.T) {
	prebuilt := []byte{0x55, 0xAA, 0x03, 0x20, 0x01, 0x1A, 0x02, 0xBF, 0xFF}
	assert.DeepEqual(t, Build(prebuilt), prebuilt)

	body := []byte{0x03, 0x20, 0x01, 0x1A, 0x02}
	assert.DeepEqual(t, Build(body), prebuilt)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, Checksum([]byte{0x03, 0x20, 0x01, 0x1A, 0x02}), uint16(0xFFBF))
	assert.Equal(t, Checksum(nil), uint16(0xFFFF))
}
