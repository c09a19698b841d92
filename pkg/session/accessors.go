package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/openscoot/m365/pkg/protocol"
)

// TailLightMode selects when the rear light is lit.
type TailLightMode byte

const (
	TailLightOff     TailLightMode = 0x00
	TailLightOnBrake TailLightMode = 0x01
	TailLightAlways  TailLightMode = 0x02
)

// KersLevel selects regenerative braking strength.
type KersLevel byte

const (
	KersWeak   KersLevel = 0x00
	KersMedium KersLevel = 0x01
	KersStrong KersLevel = 0x02
)

// SpeedMode selects the drive profile.
type SpeedMode byte

const (
	SpeedModeEco    SpeedMode = 0x01
	SpeedModeNormal SpeedMode = 0x00
	SpeedModeSport  SpeedMode = 0x02
)

func (s *Session) read(ctx context.Context, dir protocol.Direction, attr protocol.Attribute, size byte) (*protocol.Packet, error) {
	pkt, err := s.Request(ctx, protocol.Command{
		Direction: dir,
		ReadWrite: protocol.Read,
		Attribute: attr,
		Payload:   []byte{size},
	})
	if err != nil {
		return nil, err
	}
	if pkt.Attribute != attr {
		return nil, errors.Wrapf(ErrMalformedResponse, "expected attr %#02x, got %#02x", byte(attr), byte(pkt.Attribute))
	}
	return pkt, nil
}

// MotorInfo fetches the aggregate drive telemetry block.
func (s *Session) MotorInfo(ctx context.Context) (*protocol.MotorInfo, error) {
	pkt, err := s.read(ctx, protocol.MasterToMotor, protocol.AttrMotorInfo, protocol.MotorInfoLen)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeMotorInfo(pkt.Payload)
}

// BatteryInfo fetches the aggregate battery telemetry block.
func (s *Session) BatteryInfo(ctx context.Context) (*protocol.BatteryInfo, error) {
	pkt, err := s.read(ctx, protocol.MasterToBattery, protocol.AttrBatteryInfo, protocol.BatteryInfoLen)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeBatteryInfo(pkt.Payload)
}

// DistanceLeft reports the estimated remaining range in kilometers.
func (s *Session) DistanceLeft(ctx context.Context) (float32, error) {
	pkt, err := s.read(ctx, protocol.MasterToMotor, protocol.AttrDistanceLeft, 2)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeDistanceLeft(pkt.Payload)
}

// Speed reports the current speed in km/h.
func (s *Session) Speed(ctx context.Context) (float32, error) {
	pkt, err := s.read(ctx, protocol.MasterToMotor, protocol.AttrSpeed, 2)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeSpeed(pkt.Payload)
}

// BatteryVoltage reports the pack voltage in volts.
func (s *Session) BatteryVoltage(ctx context.Context) (float32, error) {
	pkt, err := s.read(ctx, protocol.MasterToBattery, protocol.AttrBatteryVoltage, 2)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVoltage(pkt.Payload)
}

// BatteryCurrent reports the pack current in amperes. Negative while
// charging.
func (s *Session) BatteryCurrent(ctx context.Context) (float32, error) {
	pkt, err := s.read(ctx, protocol.MasterToBattery, protocol.AttrBatteryCurrent, 2)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeCurrent(pkt.Payload)
}

// BatteryPercent reports the charge level 0..100.
func (s *Session) BatteryPercent(ctx context.Context) (uint16, error) {
	pkt, err := s.read(ctx, protocol.MasterToBattery, protocol.AttrBatteryPercent, 2)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeUint16(pkt.Payload)
}

func (s *Session) writeAttr(ctx context.Context, attr protocol.Attribute, payload []byte) error {
	return s.Send(ctx, protocol.Command{
		Direction: protocol.MasterToMotor,
		ReadWrite: protocol.Write,
		Attribute: attr,
		Payload:   payload,
	})
}

// SetCruise toggles cruise control.
func (s *Session) SetCruise(ctx context.Context, on bool) error {
	return s.writeAttr(ctx, protocol.AttrCruise, []byte{boolByte(on), 0x00})
}

// SetTailLight selects the rear light mode.
func (s *Session) SetTailLight(ctx context.Context, mode TailLightMode) error {
	return s.writeAttr(ctx, protocol.AttrTailLight, []byte{byte(mode), 0x00})
}

// SetHeadlight toggles the front light. Shares a register with the tail
// light mode on stock firmware.
func (s *Session) SetHeadlight(ctx context.Context, on bool) error {
	return s.writeAttr(ctx, protocol.AttrTailLight, []byte{boolByte(on), 0x00})
}

// SetKers selects regenerative braking strength.
func (s *Session) SetKers(ctx context.Context, level KersLevel) error {
	return s.writeAttr(ctx, protocol.AttrKers, []byte{byte(level), 0x00})
}

// SetLock engages or releases the motor lock.
func (s *Session) SetLock(ctx context.Context, on bool) error {
	return s.writeAttr(ctx, protocol.AttrGeneralInfo, []byte{0x31, boolByte(on), 0x00})
}

// SetSpeedMode selects the drive profile.
func (s *Session) SetSpeedMode(ctx context.Context, mode SpeedMode) error {
	return s.writeAttr(ctx, protocol.AttrGeneralInfo, []byte{0x2E, byte(mode), 0x00})
}

// PowerOff shuts the scooter down. The link drops shortly after.
func (s *Session) PowerOff(ctx context.Context) error {
	return s.writeAttr(ctx, protocol.AttrGeneralInfo, []byte{0x68, 0x00, 0x00})
}

// Reboot restarts the controller. The link drops shortly after.
func (s *Session) Reboot(ctx context.Context) error {
	return s.writeAttr(ctx, protocol.AttrGeneralInfo, []byte{0x69, 0x00, 0x00})
}

func boolByte(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}
