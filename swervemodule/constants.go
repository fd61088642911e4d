package swervemodule

import (
	"math"

	"github.com/pkg/errors"
)

// Constants is the tuning shared by every module of a drivetrain.
type Constants struct {
	MaxVelocityMetersPerSecond float64
	WheelDiameterMeters        float64
	DriveGearRatio             float64 // motor rotations per wheel rotation
	AngleGearRatio             float64 // motor rotations per module rotation

	DrivePID         PIDGains
	DriveFeedforward Feedforward
	AnglePID         PIDGains

	DriveInverted   bool
	AngleInverted   bool
	EncoderReversed bool

	DriveIdleMode IdleMode
	AngleIdleMode IdleMode

	DriveCurrentLimitAmps int
	AngleCurrentLimitAmps int

	OpenLoopRampSeconds   float64
	ClosedLoopRampSeconds float64

	// AngleHoldThresholdMetersPerSecond, when set, keeps the wheel at its last
	// commanded angle while the optimized speed magnitude is at or below it.
	AngleHoldThresholdMetersPerSecond *float64
}

// DefaultConstants returns tuning for an MK4i L2 module on two NEO motors.
func DefaultConstants() Constants {
	return Constants{
		MaxVelocityMetersPerSecond: 4.5,
		WheelDiameterMeters:        0.1016,
		DriveGearRatio:             6.75,
		AngleGearRatio:             150.0 / 7.0,

		DrivePID:         PIDGains{P: 0.1},
		DriveFeedforward: Feedforward{KS: 0.11, KV: 2.7},
		AnglePID:         PIDGains{P: 1.0, D: 0.1},

		DriveInverted:   false,
		AngleInverted:   true,
		EncoderReversed: false,

		DriveIdleMode: IdleBrake,
		AngleIdleMode: IdleCoast,

		DriveCurrentLimitAmps: 40,
		AngleCurrentLimitAmps: 20,

		OpenLoopRampSeconds:   0.25,
		ClosedLoopRampSeconds: 0,
	}
}

// Validate reports tuning that would make the conversions meaningless.
func (c Constants) Validate() error {
	if c.MaxVelocityMetersPerSecond <= 0 {
		return errors.New("max velocity must be > 0")
	}
	if c.WheelDiameterMeters <= 0 {
		return errors.New("wheel diameter must be > 0")
	}
	if c.DriveGearRatio <= 0 || c.AngleGearRatio <= 0 {
		return errors.New("gear ratios must be > 0")
	}
	if c.AngleHoldThresholdMetersPerSecond != nil && *c.AngleHoldThresholdMetersPerSecond < 0 {
		return errors.New("angle hold threshold must be >= 0")
	}
	return nil
}

// DriveRotationsToMeters converts drive motor rotations to wheel travel.
func (c Constants) DriveRotationsToMeters() float64 {
	return math.Pi * c.WheelDiameterMeters / c.DriveGearRatio
}

// DriveRPMToMetersPerSecond converts drive motor RPM to wheel speed.
func (c Constants) DriveRPMToMetersPerSecond() float64 {
	return c.DriveRotationsToMeters() / 60
}

// AngleRotationsToRadians converts turn motor rotations to module heading.
func (c Constants) AngleRotationsToRadians() float64 {
	return 2 * math.Pi / c.AngleGearRatio
}

// AngleRPMToRadiansPerSecond converts turn motor RPM to heading rate.
func (c Constants) AngleRPMToRadiansPerSecond() float64 {
	return c.AngleRotationsToRadians() / 60
}

func (c Constants) driveMotorConfig() MotorConfig {
	return MotorConfig{
		Inverted:                 c.DriveInverted,
		IdleMode:                 c.DriveIdleMode,
		CurrentLimitAmps:         c.DriveCurrentLimitAmps,
		OpenLoopRampSeconds:      c.OpenLoopRampSeconds,
		ClosedLoopRampSeconds:    c.ClosedLoopRampSeconds,
		PID:                      c.DrivePID,
		PositionConversionFactor: c.DriveRotationsToMeters(),
		VelocityConversionFactor: c.DriveRPMToMetersPerSecond(),
	}
}

// turnWrapping is the continuous input domain of the turn position loop.
var turnWrapping = Wrapping{Min: 0, Max: 2 * math.Pi}

func (c Constants) angleMotorConfig() MotorConfig {
	wrap := turnWrapping
	return MotorConfig{
		Inverted:                 c.AngleInverted,
		IdleMode:                 c.AngleIdleMode,
		CurrentLimitAmps:         c.AngleCurrentLimitAmps,
		PID:                      c.AnglePID,
		PositionWrapping:         &wrap,
		PositionConversionFactor: c.AngleRotationsToRadians(),
		VelocityConversionFactor: c.AngleRPMToRadiansPerSecond(),
	}
}

// SensorConfig is applied to every absolute encoder before it is read.
func (c Constants) SensorConfig() SensorConfig {
	return SensorConfig{
		Range:          RangeUnsigned0To360,
		Reversed:       c.EncoderReversed,
		Initialization: BootToAbsolutePosition,
		TimeBase:       PerSecond,
	}
}
