package swervemodule

import (
	"context"
	"math"
)

// ControlType selects how a motor controller interprets a setpoint.
type ControlType int

// Control types understood by an Actuator.
const (
	ControlDutyCycle ControlType = iota
	ControlVelocity
	ControlPosition
)

func (c ControlType) String() string {
	switch c {
	case ControlDutyCycle:
		return "duty_cycle"
	case ControlVelocity:
		return "velocity"
	case ControlPosition:
		return "position"
	default:
		return "unknown"
	}
}

// IdleMode is what a motor does when commanded to zero output.
type IdleMode int

// Idle modes.
const (
	IdleCoast IdleMode = iota
	IdleBrake
)

// PIDGains are the firmware closed-loop gains of one motor controller slot.
type PIDGains struct {
	P float64 `json:"p" yaml:"p"`
	I float64 `json:"i" yaml:"i"`
	D float64 `json:"d" yaml:"d"`
	F float64 `json:"f" yaml:"f"`
}

// Wrapping is a circular position domain [Min, Max).
type Wrapping struct {
	Min float64
	Max float64
}

// Error returns setpoint-measurement reduced to the shorter arc of the domain, in
// [-(Max-Min)/2, (Max-Min)/2).
func (w Wrapping) Error(setpoint, measurement float64) float64 {
	span := w.Max - w.Min
	half := span / 2
	e := math.Mod(setpoint-measurement+half, span)
	if e < 0 {
		e += span
	}
	return e - half
}

// MotorConfig is everything applied to a motor controller after a factory reset.
// Conversion factors scale native rotations and RPM into the module's units.
type MotorConfig struct {
	Inverted                 bool
	IdleMode                 IdleMode
	CurrentLimitAmps         int
	OpenLoopRampSeconds      float64
	ClosedLoopRampSeconds    float64
	PID                      PIDGains
	PositionWrapping         *Wrapping
	PositionConversionFactor float64
	VelocityConversionFactor float64
}

// Reference is one setpoint for a motor controller. ArbFeedforwardVolts is added by
// the firmware on top of its own loop output.
type Reference struct {
	Type                ControlType
	Setpoint            float64
	ArbFeedforwardVolts float64
}

// Actuator is a motor controller with an integrated relative encoder.
type Actuator interface {
	RestoreFactoryDefaults(ctx context.Context) error
	Configure(ctx context.Context, cfg MotorConfig) error
	SetReference(ctx context.Context, ref Reference) error
	// SetEncoderPosition overwrites the relative encoder, in converted units.
	SetEncoderPosition(ctx context.Context, position float64) error
	// Position is in converted units (meters or radians).
	Position(ctx context.Context) (float64, error)
	// Velocity is in converted units per second.
	Velocity(ctx context.Context) (float64, error)
}

// AbsoluteSensorRange is the interval an absolute sensor reports in.
type AbsoluteSensorRange int

// Absolute sensor ranges.
const (
	RangeUnsigned0To360 AbsoluteSensorRange = iota
	RangeSigned180
)

// InitializationStrategy decides how an absolute sensor seeds its own position at boot.
type InitializationStrategy int

// Initialization strategies.
const (
	BootToZero InitializationStrategy = iota
	BootToAbsolutePosition
)

// SensorTimeBase is the time unit of reported velocities.
type SensorTimeBase int

// Sensor time bases.
const (
	PerSecond SensorTimeBase = iota
	Per100Milliseconds
	PerMinute
)

// SensorConfig is applied to an absolute sensor after a factory reset.
type SensorConfig struct {
	Range          AbsoluteSensorRange
	Reversed       bool
	Initialization InitializationStrategy
	TimeBase       SensorTimeBase
}

// AbsoluteSensor is a magnetic absolute angle sensor.
type AbsoluteSensor interface {
	ConfigFactoryDefault(ctx context.Context) error
	ConfigAll(ctx context.Context, cfg SensorConfig) error
	// AbsolutePosition is in degrees within the configured range.
	AbsolutePosition(ctx context.Context) (float64, error)
}

// Telemetry receives named values for display. Delivery is best effort.
type Telemetry interface {
	PutNumber(key string, value float64)
}
