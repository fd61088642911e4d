package swervemodule_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/s1"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"swerve/swervemodule"
	"swerve/swervemodule/fake"
	"swerve/telemetry"
)

const tol = 1e-9

type rig struct {
	drive   *fake.Motor
	turn    *fake.Motor
	encoder *fake.AbsoluteEncoder
	table   *telemetry.Table
}

func newRig(absoluteDegrees float64) *rig {
	return &rig{
		drive:   &fake.Motor{},
		turn:    &fake.Motor{},
		encoder: fake.NewAbsoluteEncoder(absoluteDegrees),
		table:   telemetry.NewTable(),
	}
}

func (r *rig) devices() swervemodule.Devices {
	return swervemodule.Devices{Drive: r.drive, Turn: r.turn, Encoder: r.encoder}
}

func (r *rig) build(t *testing.T, calib swervemodule.Calibration, consts swervemodule.Constants) *swervemodule.Controller {
	t.Helper()
	c, err := swervemodule.NewController(context.Background(), calib, consts, r.devices(), r.table, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return c
}

func calibration(number int, offset float64) swervemodule.Calibration {
	return swervemodule.Calibration{Number: number, DriveMotorID: 1, TurnMotorID: 2, EncoderID: 9, OffsetDegrees: offset}
}

func TestNewControllerConfiguresDevices(t *testing.T) {
	r := newRig(10)
	consts := swervemodule.DefaultConstants()
	r.build(t, calibration(0, 0), consts)

	test.That(t, r.drive.FactoryResets(), test.ShouldEqual, 1)
	test.That(t, r.turn.FactoryResets(), test.ShouldEqual, 1)
	test.That(t, r.encoder.FactoryResets(), test.ShouldEqual, 1)

	driveCfg := r.drive.Config()
	test.That(t, driveCfg, test.ShouldNotBeNil)
	test.That(t, driveCfg.PositionConversionFactor, test.ShouldAlmostEqual, consts.DriveRotationsToMeters())
	test.That(t, driveCfg.VelocityConversionFactor, test.ShouldAlmostEqual, consts.DriveRPMToMetersPerSecond())
	test.That(t, driveCfg.OpenLoopRampSeconds, test.ShouldEqual, consts.OpenLoopRampSeconds)
	test.That(t, driveCfg.IdleMode, test.ShouldEqual, swervemodule.IdleBrake)
	test.That(t, driveCfg.PositionWrapping, test.ShouldBeNil)

	turnCfg := r.turn.Config()
	test.That(t, turnCfg, test.ShouldNotBeNil)
	test.That(t, turnCfg.PositionWrapping, test.ShouldNotBeNil)
	test.That(t, turnCfg.PositionWrapping.Min, test.ShouldEqual, 0.0)
	test.That(t, turnCfg.PositionWrapping.Max, test.ShouldAlmostEqual, 2*math.Pi)
	test.That(t, turnCfg.PositionConversionFactor*consts.AngleGearRatio, test.ShouldAlmostEqual, 2*math.Pi)
	test.That(t, turnCfg.Inverted, test.ShouldBeTrue)

	sensorCfg := r.encoder.Config()
	test.That(t, sensorCfg, test.ShouldNotBeNil)
	test.That(t, sensorCfg.Range, test.ShouldEqual, swervemodule.RangeUnsigned0To360)
	test.That(t, sensorCfg.Initialization, test.ShouldEqual, swervemodule.BootToAbsolutePosition)
	test.That(t, sensorCfg.TimeBase, test.ShouldEqual, swervemodule.PerSecond)

	test.That(t, r.drive.Seeds(), test.ShouldResemble, []float64{0})

	turnRefs := r.turn.References()
	test.That(t, len(turnRefs), test.ShouldEqual, 1)
	test.That(t, turnRefs[0].Type, test.ShouldEqual, swervemodule.ControlPosition)
	driveRefs := r.drive.References()
	test.That(t, len(driveRefs), test.ShouldEqual, 1)
	test.That(t, driveRefs[0], test.ShouldResemble, swervemodule.Reference{Type: swervemodule.ControlDutyCycle})
}

func TestNewControllerSeedsTurnEncoder(t *testing.T) {
	t.Run("offset crossing zero", func(t *testing.T) {
		r := newRig(350)
		c := r.build(t, calibration(2, 20), swervemodule.DefaultConstants())

		seeds := r.turn.Seeds()
		test.That(t, len(seeds), test.ShouldEqual, 1)
		test.That(t, seeds[0], test.ShouldAlmostEqual, 10*math.Pi/180, tol)

		angle, err := c.Angle(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 10, tol)
		test.That(t, c.LastCommandedAngle().Degrees(), test.ShouldAlmostEqual, 10, tol)
	})

	t.Run("telemetry", func(t *testing.T) {
		r := newRig(123.5)
		r.build(t, calibration(3, -40), swervemodule.DefaultConstants())

		start, ok := r.table.Number("Start3")
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, start, test.ShouldEqual, 123.5)
		rotations, ok := r.table.Number("StartRotations3")
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, rotations, test.ShouldEqual, 123.5)
	})

	t.Run("nil telemetry", func(t *testing.T) {
		r := newRig(0)
		_, err := swervemodule.NewController(context.Background(), calibration(0, 0), swervemodule.DefaultConstants(),
			r.devices(), nil, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
	})
}

func TestNewControllerErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	consts := swervemodule.DefaultConstants()

	t.Run("sensor failure aborts", func(t *testing.T) {
		r := newRig(0)
		r.encoder.Err = errors.New("no status frame")
		_, err := swervemodule.NewController(ctx, calibration(1, 0), consts, r.devices(), r.table, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "module 1")
		test.That(t, r.turn.Seeds(), test.ShouldBeEmpty)
		_, ok := r.table.Number("Start1")
		test.That(t, ok, test.ShouldBeFalse)
	})

	t.Run("drive failure aborts before turn", func(t *testing.T) {
		r := newRig(0)
		r.drive.Err = errors.New("bus off")
		_, err := swervemodule.NewController(ctx, calibration(1, 0), consts, r.devices(), r.table, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, r.turn.FactoryResets(), test.ShouldEqual, 0)
	})

	t.Run("missing device", func(t *testing.T) {
		r := newRig(0)
		devices := r.devices()
		devices.Encoder = nil
		_, err := swervemodule.NewController(ctx, calibration(1, 0), consts, devices, r.table, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("invalid constants", func(t *testing.T) {
		r := newRig(0)
		bad := consts
		bad.MaxVelocityMetersPerSecond = 0
		_, err := swervemodule.NewController(ctx, calibration(1, 0), bad, r.devices(), r.table, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, r.drive.FactoryResets(), test.ShouldEqual, 0)
	})
}

func TestSetStateOpenLoop(t *testing.T) {
	r := newRig(0)
	consts := swervemodule.DefaultConstants()
	c := r.build(t, calibration(0, 0), consts)
	ctx := context.Background()

	err := c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: consts.MaxVelocityMetersPerSecond}, true)
	test.That(t, err, test.ShouldBeNil)
	ref, _ := r.drive.LastReference()
	test.That(t, ref.Type, test.ShouldEqual, swervemodule.ControlDutyCycle)
	test.That(t, ref.Setpoint, test.ShouldAlmostEqual, 1.0)
	test.That(t, ref.ArbFeedforwardVolts, test.ShouldEqual, 0.0)

	err = c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: -consts.MaxVelocityMetersPerSecond / 2}, true)
	test.That(t, err, test.ShouldBeNil)
	ref, _ = r.drive.LastReference()
	test.That(t, ref.Setpoint, test.ShouldAlmostEqual, -0.5)
}

func TestSetStateClosedLoop(t *testing.T) {
	r := newRig(0)
	consts := swervemodule.DefaultConstants()
	consts.DriveFeedforward = swervemodule.Feedforward{KS: 0.2, KV: 2.5}
	c := r.build(t, calibration(0, 0), consts)
	ctx := context.Background()

	test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 2}, false), test.ShouldBeNil)
	ref, _ := r.drive.LastReference()
	test.That(t, ref.Type, test.ShouldEqual, swervemodule.ControlVelocity)
	test.That(t, ref.Setpoint, test.ShouldEqual, 2.0)
	test.That(t, ref.ArbFeedforwardVolts, test.ShouldAlmostEqual, 5.2)

	test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 0}, false), test.ShouldBeNil)
	ref, _ = r.drive.LastReference()
	test.That(t, ref.ArbFeedforwardVolts, test.ShouldEqual, 0.0)

	state, err := c.State(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.SpeedMetersPerSecond, test.ShouldEqual, 0.0)
}

func TestSetStateReversesInsteadOfTurning(t *testing.T) {
	r := newRig(170)
	c := r.build(t, calibration(0, 0), swervemodule.DefaultConstants())
	ctx := context.Background()

	desired := swervemodule.State{SpeedMetersPerSecond: 2, Angle: 350 * s1.Degree}
	test.That(t, c.SetState(ctx, desired, false), test.ShouldBeNil)

	driveRef, _ := r.drive.LastReference()
	test.That(t, driveRef.Setpoint, test.ShouldEqual, -2.0)

	turnRef, _ := r.turn.LastReference()
	test.That(t, turnRef.Type, test.ShouldEqual, swervemodule.ControlPosition)
	test.That(t, s1.Angle(turnRef.Setpoint).Degrees(), test.ShouldAlmostEqual, 170, tol)

	angle, err := c.Angle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 170, tol)
}

func TestSetStateTurnsAcrossZero(t *testing.T) {
	r := newRig(350)
	c := r.build(t, calibration(0, 0), swervemodule.DefaultConstants())
	ctx := context.Background()

	test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 1, Angle: 10 * s1.Degree}, false), test.ShouldBeNil)

	driveRef, _ := r.drive.LastReference()
	test.That(t, driveRef.Setpoint, test.ShouldEqual, 1.0)

	raw, err := r.turn.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, raw, test.ShouldAlmostEqual, 370*math.Pi/180, tol)

	angle, err := c.Angle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 10, tol)
}

func TestAngleHold(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled by default", func(t *testing.T) {
		r := newRig(0)
		c := r.build(t, calibration(0, 0), swervemodule.DefaultConstants())

		test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 0, Angle: 45 * s1.Degree}, true), test.ShouldBeNil)
		ref, _ := r.turn.LastReference()
		test.That(t, s1.Angle(ref.Setpoint).Degrees(), test.ShouldAlmostEqual, 45, tol)
		test.That(t, c.LastCommandedAngle().Degrees(), test.ShouldAlmostEqual, 45, tol)
	})

	t.Run("holds at low speed", func(t *testing.T) {
		r := newRig(0)
		consts := swervemodule.DefaultConstants()
		threshold := 0.05
		consts.AngleHoldThresholdMetersPerSecond = &threshold
		c := r.build(t, calibration(0, 0), consts)

		test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 1, Angle: 30 * s1.Degree}, true), test.ShouldBeNil)
		ref, _ := r.turn.LastReference()
		test.That(t, s1.Angle(ref.Setpoint).Degrees(), test.ShouldAlmostEqual, 30, tol)

		test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 0.01, Angle: 80 * s1.Degree}, true), test.ShouldBeNil)
		ref, _ = r.turn.LastReference()
		test.That(t, s1.Angle(ref.Setpoint).Degrees(), test.ShouldAlmostEqual, 30, tol)
		test.That(t, c.LastCommandedAngle().Degrees(), test.ShouldAlmostEqual, 30, tol)

		driveRef, _ := r.drive.LastReference()
		test.That(t, driveRef.Setpoint, test.ShouldAlmostEqual, 0.01/consts.MaxVelocityMetersPerSecond)

		// The threshold itself still holds, in either direction.
		for _, speed := range []float64{threshold, -threshold} {
			test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: speed, Angle: 80 * s1.Degree}, true), test.ShouldBeNil)
			ref, _ = r.turn.LastReference()
			test.That(t, s1.Angle(ref.Setpoint).Degrees(), test.ShouldAlmostEqual, 30, tol)
		}

		test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 0.5, Angle: 80 * s1.Degree}, true), test.ShouldBeNil)
		ref, _ = r.turn.LastReference()
		test.That(t, s1.Angle(ref.Setpoint).Degrees(), test.ShouldAlmostEqual, 80, tol)
	})
}

func TestSetStateAttemptsBothSetpoints(t *testing.T) {
	r := newRig(0)
	c := r.build(t, calibration(4, 0), swervemodule.DefaultConstants())
	ctx := context.Background()

	before := len(r.turn.References())
	r.drive.Err = errors.New("tx queue full")
	err := c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 1, Angle: 20 * s1.Degree}, true)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "drive setpoint")
	test.That(t, len(r.turn.References()), test.ShouldEqual, before+1)
	test.That(t, c.LastCommandedAngle().Degrees(), test.ShouldAlmostEqual, 20, tol)
}

func TestReadback(t *testing.T) {
	r := newRig(200)
	c := r.build(t, calibration(5, 0), swervemodule.DefaultConstants())
	ctx := context.Background()

	r.drive.SetMeasured(12.5, 3.25)

	state, err := c.State(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, state.SpeedMetersPerSecond, test.ShouldEqual, 3.25)
	test.That(t, state.Angle.Degrees(), test.ShouldAlmostEqual, -160, tol)

	pos, err := c.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.DistanceMeters, test.ShouldEqual, 12.5)
	test.That(t, pos.Angle.Degrees(), test.ShouldAlmostEqual, -160, tol)

	r.encoder.SetDegrees(201.5)
	abs, err := c.AbsoluteAngle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, abs, test.ShouldEqual, 201.5)

	test.That(t, c.Number(), test.ShouldEqual, 5)
}

func TestStop(t *testing.T) {
	r := newRig(0)
	c := r.build(t, calibration(0, 0), swervemodule.DefaultConstants())
	ctx := context.Background()

	test.That(t, c.SetState(ctx, swervemodule.State{SpeedMetersPerSecond: 2, Angle: 60 * s1.Degree}, false), test.ShouldBeNil)
	test.That(t, c.Stop(ctx), test.ShouldBeNil)

	driveRef, _ := r.drive.LastReference()
	test.That(t, driveRef, test.ShouldResemble, swervemodule.Reference{Type: swervemodule.ControlDutyCycle})
	turnRef, _ := r.turn.LastReference()
	test.That(t, s1.Angle(turnRef.Setpoint).Degrees(), test.ShouldAlmostEqual, 60, tol)
}
