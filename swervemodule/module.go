// Package swervemodule drives one wheel of a swerve drivetrain: it optimizes the
// requested wheel state against the measured heading, dispatches speed and heading
// setpoints to the drive and turn motor controllers, and calibrates the turn motor's
// relative encoder from an absolute sensor once at startup.
//
// A Controller is owned by a single control loop; none of its methods are safe for
// concurrent use.
package swervemodule

import (
	"context"
	"math"
	"strconv"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Devices are the hardware handles one module owns exclusively.
type Devices struct {
	Drive   Actuator
	Turn    Actuator
	Encoder AbsoluteSensor
}

// Controller is the per-wheel actuation layer.
type Controller struct {
	calib       Calibration
	consts      Constants
	feedforward Feedforward

	drive     Actuator
	turn      Actuator
	encoder   AbsoluteSensor
	telemetry Telemetry
	logger    logging.Logger

	lastAngle s1.Angle
}

type discardTelemetry struct{}

func (discardTelemetry) PutNumber(string, float64) {}

// NewController configures the module's devices and seeds the turn encoder from the
// absolute sensor. Any device error aborts construction; nothing is retried.
func NewController(
	ctx context.Context,
	calib Calibration,
	consts Constants,
	devices Devices,
	telemetry Telemetry,
	logger logging.Logger,
) (*Controller, error) {
	if err := calib.Validate(); err != nil {
		return nil, err
	}
	if err := consts.Validate(); err != nil {
		return nil, errors.Wrapf(err, "module %d", calib.Number)
	}
	if devices.Drive == nil || devices.Turn == nil || devices.Encoder == nil {
		return nil, errors.Errorf("module %d: drive, turn and encoder devices are required", calib.Number)
	}
	if telemetry == nil {
		telemetry = discardTelemetry{}
	}

	c := &Controller{
		calib:       calib,
		consts:      consts,
		feedforward: consts.DriveFeedforward,
		drive:       devices.Drive,
		turn:        devices.Turn,
		encoder:     devices.Encoder,
		telemetry:   telemetry,
		logger:      logger,
	}

	if err := c.configureDevices(ctx); err != nil {
		return nil, errors.Wrapf(err, "module %d", calib.Number)
	}

	angle, err := c.Angle(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "module %d: reading turn angle", calib.Number)
	}
	c.lastAngle = angle

	return c, nil
}

func (c *Controller) configureDevices(ctx context.Context) error {
	// Drive motor.
	if err := c.drive.RestoreFactoryDefaults(ctx); err != nil {
		return errors.Wrap(err, "restoring drive motor defaults")
	}
	if err := c.drive.Configure(ctx, c.consts.driveMotorConfig()); err != nil {
		return errors.Wrap(err, "configuring drive motor")
	}
	if err := c.drive.SetEncoderPosition(ctx, 0); err != nil {
		return errors.Wrap(err, "zeroing drive encoder")
	}

	// Turn motor.
	if err := c.turn.RestoreFactoryDefaults(ctx); err != nil {
		return errors.Wrap(err, "restoring turn motor defaults")
	}
	if err := c.turn.Configure(ctx, c.consts.angleMotorConfig()); err != nil {
		return errors.Wrap(err, "configuring turn motor")
	}

	if err := c.turn.SetReference(ctx, Reference{Type: ControlPosition}); err != nil {
		return errors.Wrap(err, "setting initial turn reference")
	}
	if err := c.drive.SetReference(ctx, Reference{Type: ControlDutyCycle}); err != nil {
		return errors.Wrap(err, "setting initial drive reference")
	}

	// Absolute sensor.
	if err := c.encoder.ConfigFactoryDefault(ctx); err != nil {
		return errors.Wrap(err, "restoring absolute sensor defaults")
	}
	if err := c.encoder.ConfigAll(ctx, c.consts.SensorConfig()); err != nil {
		return errors.Wrap(err, "configuring absolute sensor")
	}

	absolute, err := c.encoder.AbsolutePosition(ctx)
	if err != nil {
		return errors.Wrap(err, "reading absolute sensor")
	}
	n := strconv.Itoa(c.calib.Number)
	c.telemetry.PutNumber("Start"+n, absolute)

	seed := SeedAngle(absolute, c.calib.OffsetDegrees)
	if err := c.turn.SetEncoderPosition(ctx, seed.Radians()); err != nil {
		return errors.Wrap(err, "seeding turn encoder")
	}
	c.telemetry.PutNumber("StartRotations"+n, absolute)

	c.logger.Infow("swerve module calibrated",
		"module", c.calib.Number,
		"absolute_deg", absolute,
		"offset_deg", c.calib.OffsetDegrees,
		"seed_deg", seed.Degrees(),
	)
	return nil
}

// SeedAngle is the turn encoder value that makes the relative encoder agree with the
// wheel's physical heading: (absolute + offset) folded into [0°, 360°).
func SeedAngle(absoluteDegrees, offsetDegrees float64) s1.Angle {
	deg := math.Mod(absoluteDegrees+offsetDegrees, 360)
	if deg < 0 {
		deg += 360
	}
	return s1.Angle(deg) * s1.Degree
}

// SetState optimizes desired against the measured heading and sends one drive and one
// turn setpoint. openLoop selects a duty-cycle drive command instead of closed-loop
// velocity with feedforward. Both setpoints are attempted even if one fails.
func (c *Controller) SetState(ctx context.Context, desired State, openLoop bool) error {
	current, err := c.Angle(ctx)
	if err != nil {
		return errors.Wrapf(err, "module %d: reading turn angle", c.calib.Number)
	}
	state := Optimize(desired, current)

	driveErr := c.drive.SetReference(ctx, c.driveReference(state.SpeedMetersPerSecond, openLoop))

	angle := state.Angle
	if t := c.consts.AngleHoldThresholdMetersPerSecond; t != nil && math.Abs(state.SpeedMetersPerSecond) <= *t {
		angle = c.lastAngle
	}
	turnErr := c.turn.SetReference(ctx, Reference{Type: ControlPosition, Setpoint: angle.Radians()})
	if turnErr == nil {
		c.lastAngle = angle
	}

	c.logger.Debugw("set state",
		"module", c.calib.Number,
		"speed_mps", state.SpeedMetersPerSecond,
		"angle_deg", angle.Degrees(),
		"open_loop", openLoop,
	)

	return multierr.Combine(
		errors.Wrapf(driveErr, "module %d: drive setpoint", c.calib.Number),
		errors.Wrapf(turnErr, "module %d: turn setpoint", c.calib.Number),
	)
}

func (c *Controller) driveReference(speed float64, openLoop bool) Reference {
	if openLoop {
		return Reference{
			Type:     ControlDutyCycle,
			Setpoint: speed / c.consts.MaxVelocityMetersPerSecond,
		}
	}
	return Reference{
		Type:                ControlVelocity,
		Setpoint:            speed,
		ArbFeedforwardVolts: c.feedforward.Calculate(speed),
	}
}

// State returns the measured wheel velocity and heading.
func (c *Controller) State(ctx context.Context) (State, error) {
	velocity, err := c.drive.Velocity(ctx)
	if err != nil {
		return State{}, errors.Wrapf(err, "module %d: reading drive velocity", c.calib.Number)
	}
	angle, err := c.Angle(ctx)
	if err != nil {
		return State{}, err
	}
	return State{SpeedMetersPerSecond: velocity, Angle: angle}, nil
}

// Position returns the accumulated wheel distance and heading.
func (c *Controller) Position(ctx context.Context) (Position, error) {
	distance, err := c.drive.Position(ctx)
	if err != nil {
		return Position{}, errors.Wrapf(err, "module %d: reading drive position", c.calib.Number)
	}
	angle, err := c.Angle(ctx)
	if err != nil {
		return Position{}, err
	}
	return Position{DistanceMeters: distance, Angle: angle}, nil
}

// Angle returns the turn encoder heading folded into (-π, π].
func (c *Controller) Angle(ctx context.Context) (s1.Angle, error) {
	pos, err := c.turn.Position(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "module %d: reading turn position", c.calib.Number)
	}
	return s1.Angle(pos).Normalized(), nil
}

// AbsoluteAngle returns the absolute sensor reading in degrees. It is for diagnostics
// and recalibration; control never uses it after startup.
func (c *Controller) AbsoluteAngle(ctx context.Context) (float64, error) {
	deg, err := c.encoder.AbsolutePosition(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "module %d: reading absolute sensor", c.calib.Number)
	}
	return deg, nil
}

// LastCommandedAngle is the most recent heading sent to the turn motor.
func (c *Controller) LastCommandedAngle() s1.Angle {
	return c.lastAngle
}

// Number is the module's index on the drivetrain.
func (c *Controller) Number() int {
	return c.calib.Number
}

// Stop commands zero duty cycle on the drive motor and holds the last heading.
func (c *Controller) Stop(ctx context.Context) error {
	return multierr.Combine(
		c.drive.SetReference(ctx, Reference{Type: ControlDutyCycle}),
		c.turn.SetReference(ctx, Reference{Type: ControlPosition, Setpoint: c.lastAngle.Radians()}),
	)
}
