package sparkmax

import (
	"encoding/binary"
	"math"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"

	"swerve/bus"
)

// FRC CAN device addressing.
const (
	deviceTypeMotorController uint32 = 2
	manufacturerREV           uint32 = 5

	maxDeviceID = 62
)

// API identifiers (class<<4 | index).
const (
	apiDutyCycleSetpoint uint32 = 0x002
	apiVelocitySetpoint  uint32 = 0x012
	apiPositionSetpoint  uint32 = 0x032
	apiStatus0           uint32 = 0x060
	apiStatus1           uint32 = 0x061
	apiStatus2           uint32 = 0x062
	apiClearFaults       uint32 = 0x06E
	apiFactoryDefaults   uint32 = 0x074
	apiSetEncoderPos     uint32 = 0x0B3
	apiHeartbeat         uint32 = 0x0B2
	apiParameterBase     uint32 = 0x300
)

// ArbID returns the 29-bit arbitration id of api on device id.
func ArbID(api uint32, id uint8) uint32 {
	return deviceTypeMotorController<<24 | manufacturerREV<<16 | (api&0x3FF)<<6 | uint32(id)&0x3F
}

type paramID uint32

// Firmware parameter numbers.
const (
	paramIdleMode             paramID = 6
	paramP0                   paramID = 13
	paramI0                   paramID = 14
	paramD0                   paramID = 15
	paramF0                   paramID = 16
	paramOpenLoopRampRate     paramID = 41
	paramCurrentLimit         paramID = 59
	paramClosedLoopRampRate   paramID = 101
	paramInverted             paramID = 102
	paramPositionConversion   paramID = 112
	paramVelocityConversion   paramID = 113
	paramPositionWrapEnable   paramID = 148
	paramPositionWrapMinInput paramID = 149
	paramPositionWrapMaxInput paramID = 150
)

type paramType byte

const (
	paramTypeInt32   paramType = 0
	paramTypeUint32  paramType = 1
	paramTypeFloat32 paramType = 2
	paramTypeBool    paramType = 3
)

type parameter struct {
	id    paramID
	typ   paramType
	value float64
}

func (p parameter) toFrame(id uint8) canbus.Frame {
	frame := canbus.Frame{
		ID:   ArbID(apiParameterBase+uint32(p.id), id),
		Data: make([]byte, 5),
		Kind: canbus.EFF,
	}
	var raw uint32
	switch p.typ {
	case paramTypeFloat32:
		raw = math.Float32bits(float32(p.value))
	case paramTypeInt32:
		raw = uint32(int32(p.value))
	case paramTypeUint32, paramTypeBool:
		raw = uint32(p.value)
	}
	binary.LittleEndian.PutUint32(frame.Data[0:4], raw)
	frame.Data[4] = byte(p.typ)
	return frame
}

// Arbitrary feedforward is carried in 1/1024 V steps after the setpoint.
var arbFeedforward = bus.Signal{Scalar: 1.0 / 1024, Start: 32, Length: 16, LittleEndian: true, Signed: true}

func setpointFrame(api uint32, id uint8, setpoint, arbFFVolts float64) (canbus.Frame, error) {
	frame := canbus.Frame{
		ID:   ArbID(api, id),
		Data: make([]byte, 8),
		Kind: canbus.EFF,
	}
	binary.LittleEndian.PutUint32(frame.Data[0:4], math.Float32bits(float32(setpoint)))
	if err := arbFeedforward.Insert(frame.Data, arbFFVolts); err != nil {
		return canbus.Frame{}, errors.Wrap(err, "encoding feedforward")
	}
	return frame, nil
}

func encoderPositionFrame(id uint8, position float64) canbus.Frame {
	frame := canbus.Frame{
		ID:   ArbID(apiSetEncoderPos, id),
		Data: make([]byte, 4),
		Kind: canbus.EFF,
	}
	binary.LittleEndian.PutUint32(frame.Data, math.Float32bits(float32(position)))
	return frame
}

func commandFrame(api uint32, id uint8) canbus.Frame {
	return canbus.Frame{
		ID:   ArbID(api, id),
		Data: []byte{},
		Kind: canbus.EFF,
	}
}

// Heartbeat returns the frame that keeps the listed controllers enabled. It has to be
// re-sent continuously; controllers disable their outputs when it stops.
func Heartbeat(ids ...uint8) canbus.Frame {
	frame := canbus.Frame{
		ID:   ArbID(apiHeartbeat, 0),
		Data: make([]byte, 8),
		Kind: canbus.EFF,
	}
	for _, id := range ids {
		if id > maxDeviceID {
			continue
		}
		frame.Data[id/8] |= 1 << (id % 8)
	}
	return frame
}

// Status frame layouts.
var (
	appliedOutput = bus.Signal{Scalar: 1.0 / 32768, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	faults        = bus.Signal{Scalar: 1, Start: 16, Length: 16, LittleEndian: true}
	stickyFaults  = bus.Signal{Scalar: 1, Start: 32, Length: 16, LittleEndian: true}

	temperature   = bus.Signal{Scalar: 1, Start: 32, Length: 8, LittleEndian: true}
	busVoltage    = bus.Signal{Scalar: 1.0 / 128, Start: 40, Length: 12, LittleEndian: true}
	outputCurrent = bus.Signal{Scalar: 1.0 / 32, Start: 52, Length: 12, LittleEndian: true}
)

func float32At(data []byte, offset int) (float64, error) {
	if len(data) < offset+4 {
		return 0, errors.Errorf("payload has %d bytes, need %d", len(data), offset+4)
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4]))), nil
}
