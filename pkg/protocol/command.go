package protocol

// Direction selects which controller a command addresses and which one a
// response came from.
type Direction byte

const (
	MasterToMotor   Direction = 0x20
	MasterToBattery Direction = 0x22
	MotorToMaster   Direction = 0x23
	BatteryToMaster Direction = 0x25
)

func (d Direction) String() string {
	switch d {
	case MasterToMotor:
		return "master->motor"
	case MasterToBattery:
		return "master->battery"
	case MotorToMaster:
		return "motor->master"
	case BatteryToMaster:
		return "battery->master"
	}
	return "unknown"
}

// ReadWrite is the operation selector byte.
type ReadWrite byte

const (
	Read  ReadWrite = 0x01
	Write ReadWrite = 0x03
)

// Attribute is a semantic register identifier addressed by read/write
// commands. The set below is the catalogue the stack knows how to decode;
// the firmware exposes more.
type Attribute byte

const (
	AttrGeneralInfo         Attribute = 0x10
	AttrDistanceLeft        Attribute = 0x25
	AttrSpeed               Attribute = 0xB5
	AttrTripDistance        Attribute = 0xB9
	AttrBatteryVoltage      Attribute = 0x34
	AttrBatteryCurrent      Attribute = 0x33
	AttrBatteryPercent      Attribute = 0x32
	AttrMotorInfo           Attribute = 0xB0
	AttrBatteryCellVoltages Attribute = 0x40
	AttrSupplementary       Attribute = 0x7B
	AttrCruise              Attribute = 0x7C
	AttrTailLight           Attribute = 0x7D
	AttrBatteryInfo         Attribute = 0x31
	AttrKers                Attribute = 0x7E
)

// Command is the logical direction+operation+attribute+payload unit before
// wire wrapping. Immutable once constructed; Encode serializes it, nothing
// mutates it.
type Command struct {
	Direction Direction
	ReadWrite ReadWrite
	Attribute Attribute
	Payload   []byte
}

// body returns the frame body: length, direction, operation, attribute and
// payload. The length field counts the operation and attribute bytes plus the
// payload, which is why it is payload+2.
func (c Command) body() []byte {
	b := make([]byte, 0, 4+len(c.Payload))
	b = append(b, byte(len(c.Payload)+2), byte(c.Direction), byte(c.ReadWrite), byte(c.Attribute))
	return append(b, c.Payload...)
}
