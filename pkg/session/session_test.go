package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"gotest.tools/assert"

	"github.com/openscoot/m365/internal"
	"github.com/openscoot/m365/pkg/ble"
	"github.com/openscoot/m365/pkg/protocol"
	"github.com/openscoot/m365/pkg/session"
)

// fakeScooter scripts a controller behind a NUS link: each write to the TX
// characteristic is decoded and answered through the respond callback.
type fakeScooter struct {
	dev *internal.DummyPeripheral

	mu       sync.Mutex
	requests []protocol.Packet
	respond  func(req *protocol.Packet) *protocol.Command
}

func newFakeScooter(t *testing.T) *fakeScooter {
	t.Helper()
	f := &fakeScooter{dev: internal.NewDummyPeripheral("aa:bb:cc:dd:ee:ff")}
	f.dev.SetConnected(true)
	f.dev.Chars = []ble.Characteristic{
		{UUID: ble.NUSTxUUID, Properties: ble.PropertyWriteWithoutResponse},
		{UUID: ble.NUSRxUUID, Properties: ble.PropertyNotify},
	}
	f.dev.WriteHandler = func(c ble.Characteristic, data []byte, withResponse bool) {
		req, err := protocol.Decode(data)
		assert.NilError(t, err)
		f.mu.Lock()
		f.requests = append(f.requests, *req)
		respond := f.respond
		f.mu.Unlock()
		if respond == nil {
			return
		}
		resp := respond(req)
		if resp == nil {
			return
		}
		raw, err := protocol.Encode(*resp)
		assert.NilError(t, err)
		f.dev.Notify(ble.NUSRxUUID, raw)
	}
	return f
}

func (f *fakeScooter) session(t *testing.T, timeout time.Duration) *session.Session {
	t.Helper()
	link, err := ble.EstablishUART(context.Background(), f.dev, logging.NewDefaultLoggerFactory())
	assert.NilError(t, err)
	return session.New(link, []byte("0123456789abcdef"), session.Config{RequestTimeout: timeout})
}

func (f *fakeScooter) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func echoTelemetry(attr protocol.Attribute, payload []byte) func(*protocol.Packet) *protocol.Command {
	return func(req *protocol.Packet) *protocol.Command {
		if req.Attribute != attr {
			return nil
		}
		dir := protocol.MotorToMaster
		if req.Direction == protocol.MasterToBattery {
			dir = protocol.BatteryToMaster
		}
		return &protocol.Command{
			Direction: dir,
			ReadWrite: protocol.Read,
			Attribute: attr,
			Payload:   payload,
		}
	}
}

func TestRequestRoundTrip(t *testing.T) {
	f := newFakeScooter(t)
	// 2340 -> 23.40 km/h, stored /1000 km/h units times 1000.
	f.respond = echoTelemetry(protocol.AttrSpeed, []byte{0x24, 0x09})
	s := f.session(t, time.Second)

	got, err := s.Speed(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, got, float32(2.340))
	assert.Equal(t, f.requestCount(), 1)
}

func TestBatteryPercent(t *testing.T) {
	f := newFakeScooter(t)
	f.respond = echoTelemetry(protocol.AttrBatteryPercent, []byte{0x48, 0x00})
	s := f.session(t, time.Second)

	got, err := s.BatteryPercent(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, got, uint16(72))
}

func TestMotorInfoRoundTrip(t *testing.T) {
	payload := make([]byte, protocol.MotorInfoLen)
	payload[8] = 0x48 // battery 72%
	payload[10] = 0xA4
	payload[11] = 0x06 // 1700 -> 1.7 km/h
	f := newFakeScooter(t)
	f.respond = echoTelemetry(protocol.AttrMotorInfo, payload)
	s := f.session(t, time.Second)

	info, err := s.MotorInfo(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, info.BatteryPercent, uint16(72))
	assert.Equal(t, info.SpeedKmh, float32(1.7))
}

func TestTimeoutLeavesSessionUsable(t *testing.T) {
	f := newFakeScooter(t)
	var drop bool
	f.respond = func(req *protocol.Packet) *protocol.Command {
		if !drop {
			drop = true
			return nil // swallow the first request
		}
		return echoTelemetry(protocol.AttrBatteryPercent, []byte{0x48, 0x00})(req)
	}
	s := f.session(t, 30*time.Millisecond)

	_, err := s.BatteryPercent(context.Background())
	assert.Assert(t, errors.Is(err, session.ErrTimeout))

	got, err := s.BatteryPercent(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, got, uint16(72))
}

func TestLateResponseIsDrained(t *testing.T) {
	f := newFakeScooter(t)
	s := f.session(t, 30*time.Millisecond)

	_, err := s.BatteryPercent(context.Background())
	assert.Assert(t, errors.Is(err, session.ErrTimeout))

	// The answer to the first request arrives between requests. It must
	// not be matched to the second one.
	stale, err := protocol.Encode(protocol.Command{
		Direction: protocol.BatteryToMaster,
		ReadWrite: protocol.Read,
		Attribute: protocol.AttrBatteryVoltage,
		Payload:   []byte{0xD0, 0x0F},
	})
	assert.NilError(t, err)
	f.dev.Notify(ble.NUSRxUUID, stale)

	f.respond = echoTelemetry(protocol.AttrBatteryPercent, []byte{0x48, 0x00})
	got, err := s.BatteryPercent(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, got, uint16(72))
}

func TestClosedStreamInvalidatesSession(t *testing.T) {
	f := newFakeScooter(t)
	s := f.session(t, time.Second)

	f.dev.CloseStream()
	_, err := s.BatteryPercent(context.Background())
	assert.Assert(t, errors.Is(err, session.ErrClosed))

	// Every later call fails fast without touching the link.
	_, err = s.Speed(context.Background())
	assert.Assert(t, errors.Is(err, session.ErrClosed))
	err = s.SetCruise(context.Background(), true)
	assert.Assert(t, errors.Is(err, session.ErrClosed))
}

func TestCorruptFrameBeforeResponseIsDiscarded(t *testing.T) {
	f := newFakeScooter(t)
	f.dev.WriteHandler = func(c ble.Characteristic, data []byte, withResponse bool) {
		good, err := protocol.Encode(protocol.Command{
			Direction: protocol.BatteryToMaster,
			ReadWrite: protocol.Read,
			Attribute: protocol.AttrBatteryPercent,
			Payload:   []byte{0x48, 0x00},
		})
		assert.NilError(t, err)
		bad := append([]byte(nil), good...)
		bad[6] ^= 0xFF // breaks the checksum
		f.dev.Notify(ble.NUSRxUUID, bad)
		f.dev.Notify(ble.NUSRxUUID, good)
	}
	s := f.session(t, time.Second)

	got, err := s.BatteryPercent(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, got, uint16(72))
}

func TestCorruptFrameAloneTimesOut(t *testing.T) {
	f := newFakeScooter(t)
	f.dev.WriteHandler = func(c ble.Characteristic, data []byte, withResponse bool) {
		f.dev.Notify(ble.NUSRxUUID, []byte{0x55, 0xAA, 0x02, 0x23})
	}
	s := f.session(t, 30*time.Millisecond)

	_, err := s.BatteryPercent(context.Background())
	assert.Assert(t, errors.Is(err, session.ErrTimeout))
}

func TestMismatchedAttributeRejected(t *testing.T) {
	f := newFakeScooter(t)
	f.respond = func(req *protocol.Packet) *protocol.Command {
		return &protocol.Command{
			Direction: protocol.BatteryToMaster,
			ReadWrite: protocol.Read,
			Attribute: protocol.AttrBatteryVoltage,
			Payload:   []byte{0xD0, 0x0F},
		}
	}
	s := f.session(t, time.Second)

	_, err := s.BatteryPercent(context.Background())
	assert.Assert(t, errors.Is(err, session.ErrMalformedResponse))
}

func TestActuatorWrites(t *testing.T) {
	f := newFakeScooter(t)
	s := f.session(t, time.Second)
	ctx := context.Background()

	assert.NilError(t, s.SetCruise(ctx, true))
	assert.NilError(t, s.SetTailLight(ctx, session.TailLightAlways))
	assert.NilError(t, s.SetKers(ctx, session.KersStrong))
	assert.NilError(t, s.SetLock(ctx, true))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, len(f.requests), 4)
	assert.Equal(t, f.requests[0].Attribute, protocol.AttrCruise)
	assert.DeepEqual(t, f.requests[0].Payload, []byte{0x01, 0x00})
	assert.Equal(t, f.requests[1].Attribute, protocol.AttrTailLight)
	assert.DeepEqual(t, f.requests[1].Payload, []byte{0x02, 0x00})
	assert.Equal(t, f.requests[2].Attribute, protocol.AttrKers)
	assert.DeepEqual(t, f.requests[2].Payload, []byte{0x02, 0x00})
	assert.Equal(t, f.requests[3].Attribute, protocol.AttrGeneralInfo)
	assert.DeepEqual(t, f.requests[3].Payload, []byte{0x31, 0x01, 0x00})
}
