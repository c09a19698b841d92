package protocol

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// ErrShortResponse means a telemetry response was shorter than the decoder
// for its attribute requires. Length is validated before any offset access.
var ErrShortResponse = errors.New("protocol: response too short for attribute")

// MotorInfo is the motor controller telemetry block behind AttrMotorInfo.
type MotorInfo struct {
	BatteryPercent   uint16
	SpeedKmh         float32
	SpeedAverageKmh  float32
	TotalDistanceM   uint32
	TripDistanceM    uint16
	Uptime           time.Duration
	FrameTemperature float32
}

// MotorInfoLen is the number of payload bytes a motor info read returns.
const MotorInfoLen = 26

// DecodeMotorInfo parses the AttrMotorInfo payload. Speeds are carried in
// thousandths of km/h, the frame temperature in tenths of a degree.
func DecodeMotorInfo(payload []byte) (*MotorInfo, error) {
	if len(payload) < MotorInfoLen {
		return nil, errors.Wrapf(ErrShortResponse, "motor info: got %d bytes, want %d", len(payload), MotorInfoLen)
	}
	return &MotorInfo{
		BatteryPercent:   binary.LittleEndian.Uint16(payload[8:10]),
		SpeedKmh:         float32(int16(binary.LittleEndian.Uint16(payload[10:12]))) / 1000,
		SpeedAverageKmh:  float32(binary.LittleEndian.Uint16(payload[12:14])) / 1000,
		TotalDistanceM:   binary.LittleEndian.Uint32(payload[14:18]),
		TripDistanceM:    binary.LittleEndian.Uint16(payload[18:20]),
		Uptime:           time.Duration(binary.LittleEndian.Uint16(payload[22:24])) * time.Second,
		FrameTemperature: float32(int16(binary.LittleEndian.Uint16(payload[24:26]))) / 10,
	}, nil
}

// BatteryInfo is the BMS telemetry block behind AttrBatteryInfo.
type BatteryInfo struct {
	CapacityMah  uint16
	Percent      uint16
	CurrentA     float32
	VoltageV     float32
	Temperature1 int
	Temperature2 int
}

// BatteryInfoLen is the number of payload bytes a battery info read returns.
const BatteryInfoLen = 10

// DecodeBatteryInfo parses the AttrBatteryInfo payload. Current and voltage
// are in hundredths; temperature bytes carry an offset of 20.
func DecodeBatteryInfo(payload []byte) (*BatteryInfo, error) {
	if len(payload) < BatteryInfoLen {
		return nil, errors.Wrapf(ErrShortResponse, "battery info: got %d bytes, want %d", len(payload), BatteryInfoLen)
	}
	return &BatteryInfo{
		CapacityMah:  binary.LittleEndian.Uint16(payload[0:2]),
		Percent:      binary.LittleEndian.Uint16(payload[2:4]),
		CurrentA:     float32(int16(binary.LittleEndian.Uint16(payload[4:6]))) / 100,
		VoltageV:     float32(binary.LittleEndian.Uint16(payload[6:8])) / 100,
		Temperature1: int(payload[8]) - 20,
		Temperature2: int(payload[9]) - 20,
	}, nil
}

// DecodeUint16 parses a two-byte scalar register.
func DecodeUint16(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, errors.Wrapf(ErrShortResponse, "scalar: got %d bytes, want 2", len(payload))
	}
	return binary.LittleEndian.Uint16(payload[0:2]), nil
}

// DecodeInt16 parses a two-byte signed scalar register.
func DecodeInt16(payload []byte) (int16, error) {
	v, err := DecodeUint16(payload)
	return int16(v), err
}

// DecodeDistanceLeft parses AttrDistanceLeft into kilometers (wire unit is
// hundredths of a kilometer).
func DecodeDistanceLeft(payload []byte) (float32, error) {
	v, err := DecodeUint16(payload)
	if err != nil {
		return 0, err
	}
	return float32(v) / 100, nil
}

// DecodeSpeed parses AttrSpeed into km/h (wire unit is thousandths).
func DecodeSpeed(payload []byte) (float32, error) {
	v, err := DecodeInt16(payload)
	if err != nil {
		return 0, err
	}
	return float32(v) / 1000, nil
}

// DecodeVoltage parses AttrBatteryVoltage into volts (wire unit is hundredths).
func DecodeVoltage(payload []byte) (float32, error) {
	v, err := DecodeUint16(payload)
	if err != nil {
		return 0, err
	}
	return float32(v) / 100, nil
}

// DecodeCurrent parses AttrBatteryCurrent into amperes (wire unit is
// hundredths, negative while charging).
func DecodeCurrent(payload []byte) (float32, error) {
	v, err := DecodeInt16(payload)
	if err != nil {
		return 0, err
	}
	return float32(v) / 100, nil
}
