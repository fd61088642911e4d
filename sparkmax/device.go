// Package sparkmax drives REV SPARK MAX motor controllers over a CAN bus.
//
// Setpoints, configuration and encoder seeds are sent as single frames without
// waiting for an acknowledgement. Periodic status frames are cached as they arrive,
// so reading position or velocity never touches the bus.
package sparkmax

import (
	"context"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/bus"
	"swerve/swervemodule"
)

// ErrNoStatus is returned by Diagnostics before any status frame has arrived.
var ErrNoStatus = errors.New("no status frame received")

// Status is the latest decoded telemetry of one controller. Position and velocity are
// in the units set by the conversion factors.
type Status struct {
	AppliedOutput      float64
	Faults             uint16
	StickyFaults       uint16
	Velocity           float64
	TemperatureCelsius float64
	BusVoltage         float64
	OutputCurrentAmps  float64
	Position           float64
	LastUpdate         time.Time
}

// Device is one SPARK MAX.
type Device struct {
	conn   bus.Conn
	id     uint8
	logger logging.Logger
	cancel []func()

	mu       sync.Mutex
	status   Status
	received bool
}

var _ swervemodule.Actuator = (*Device)(nil)

// New subscribes to the status frames of controller id on conn.
func New(conn bus.Conn, id uint8, logger logging.Logger) (*Device, error) {
	if id == 0 || id > maxDeviceID {
		return nil, errors.Errorf("device id must be between 1 and %d, got %d", maxDeviceID, id)
	}
	d := &Device{conn: conn, id: id, logger: logger}
	d.cancel = []func(){
		conn.Subscribe(ArbID(apiStatus0, id), d.handleStatus0),
		conn.Subscribe(ArbID(apiStatus1, id), d.handleStatus1),
		conn.Subscribe(ArbID(apiStatus2, id), d.handleStatus2),
	}
	return d, nil
}

// Close stops listening for status frames. The cached status stays readable.
func (d *Device) Close() error {
	for _, cancel := range d.cancel {
		cancel()
	}
	d.logger.Debugw("spark max released", "id", d.id)
	return nil
}

func (d *Device) send(frame canbus.Frame, what string) error {
	if err := d.conn.Send(frame); err != nil {
		return errors.Wrapf(err, "spark max %d: %s", d.id, what)
	}
	return nil
}

// RestoreFactoryDefaults resets every parameter and clears faults.
func (d *Device) RestoreFactoryDefaults(ctx context.Context) error {
	if err := d.send(commandFrame(apiFactoryDefaults, d.id), "restoring factory defaults"); err != nil {
		return err
	}
	return d.send(commandFrame(apiClearFaults, d.id), "clearing faults")
}

// Configure writes one parameter frame per field of cfg.
func (d *Device) Configure(ctx context.Context, cfg swervemodule.MotorConfig) error {
	for _, p := range parameters(cfg) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.send(p.toFrame(d.id), "writing parameter"); err != nil {
			return err
		}
	}
	d.logger.Debugw("spark max configured", "id", d.id, "inverted", cfg.Inverted, "wrapping", cfg.PositionWrapping != nil)
	return nil
}

func parameters(cfg swervemodule.MotorConfig) []parameter {
	params := []parameter{
		{paramInverted, paramTypeBool, boolValue(cfg.Inverted)},
		{paramIdleMode, paramTypeUint32, float64(cfg.IdleMode)},
		{paramCurrentLimit, paramTypeUint32, float64(cfg.CurrentLimitAmps)},
		{paramOpenLoopRampRate, paramTypeFloat32, cfg.OpenLoopRampSeconds},
		{paramClosedLoopRampRate, paramTypeFloat32, cfg.ClosedLoopRampSeconds},
		{paramP0, paramTypeFloat32, cfg.PID.P},
		{paramI0, paramTypeFloat32, cfg.PID.I},
		{paramD0, paramTypeFloat32, cfg.PID.D},
		{paramF0, paramTypeFloat32, cfg.PID.F},
		{paramPositionConversion, paramTypeFloat32, orOne(cfg.PositionConversionFactor)},
		{paramVelocityConversion, paramTypeFloat32, orOne(cfg.VelocityConversionFactor)},
	}
	if w := cfg.PositionWrapping; w != nil {
		params = append(params,
			parameter{paramPositionWrapEnable, paramTypeBool, 1},
			parameter{paramPositionWrapMinInput, paramTypeFloat32, w.Min},
			parameter{paramPositionWrapMaxInput, paramTypeFloat32, w.Max},
		)
	} else {
		params = append(params, parameter{paramPositionWrapEnable, paramTypeBool, 0})
	}
	return params
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// A zero conversion factor would report every position as zero.
func orOne(f float64) float64 {
	if f == 0 {
		return 1
	}
	return f
}

// SetReference sends a duty cycle, velocity or position setpoint.
func (d *Device) SetReference(ctx context.Context, ref swervemodule.Reference) error {
	var api uint32
	switch ref.Type {
	case swervemodule.ControlDutyCycle:
		api = apiDutyCycleSetpoint
	case swervemodule.ControlVelocity:
		api = apiVelocitySetpoint
	case swervemodule.ControlPosition:
		api = apiPositionSetpoint
	default:
		return errors.Errorf("spark max %d: unsupported control type %s", d.id, ref.Type)
	}
	frame, err := setpointFrame(api, d.id, ref.Setpoint, ref.ArbFeedforwardVolts)
	if err != nil {
		return errors.Wrapf(err, "spark max %d", d.id)
	}
	return d.send(frame, ref.Type.String()+" setpoint")
}

// SetEncoderPosition overwrites the integrated encoder. The cached position takes the
// new value immediately.
func (d *Device) SetEncoderPosition(ctx context.Context, position float64) error {
	if err := d.send(encoderPositionFrame(d.id, position), "setting encoder position"); err != nil {
		return err
	}
	d.mu.Lock()
	d.status.Position = position
	d.mu.Unlock()
	return nil
}

// Position returns the last reported encoder position.
func (d *Device) Position(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status.Position, nil
}

// Velocity returns the last reported encoder velocity.
func (d *Device) Velocity(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status.Velocity, nil
}

// Diagnostics returns the latest status snapshot.
func (d *Device) Diagnostics() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.received {
		return Status{}, ErrNoStatus
	}
	return d.status, nil
}

func (d *Device) handleStatus0(frame canbus.Frame) {
	output, err := appliedOutput.Extract(frame.Data)
	if err != nil {
		d.logger.Warnw("bad status 0 frame", "id", d.id, "error", err)
		return
	}
	f, _ := faults.Extract(frame.Data)
	sticky, _ := stickyFaults.Extract(frame.Data)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.AppliedOutput = output
	d.status.Faults = uint16(f)
	d.status.StickyFaults = uint16(sticky)
	d.touch()
}

func (d *Device) handleStatus1(frame canbus.Frame) {
	if len(frame.Data) < 8 {
		d.logger.Warnw("bad status 1 frame", "id", d.id, "len", len(frame.Data))
		return
	}
	velocity, _ := float32At(frame.Data, 0)
	temp, _ := temperature.Extract(frame.Data)
	volts, _ := busVoltage.Extract(frame.Data)
	amps, _ := outputCurrent.Extract(frame.Data)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Velocity = velocity
	d.status.TemperatureCelsius = temp
	d.status.BusVoltage = volts
	d.status.OutputCurrentAmps = amps
	d.touch()
}

func (d *Device) handleStatus2(frame canbus.Frame) {
	position, err := float32At(frame.Data, 0)
	if err != nil {
		d.logger.Warnw("bad status 2 frame", "id", d.id, "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Position = position
	d.touch()
}

// touch must be called with mu held.
func (d *Device) touch() {
	d.status.LastUpdate = time.Now()
	d.received = true
}
