package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"swerve/cancoder"
	"swerve/sparkmax"
	"swerve/swervemodule"
	"swerve/telemetry"
)

const mqttConnectTimeout = 5 * time.Second

type swerveModule struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger

	mu         sync.Mutex
	controller *swervemodule.Controller
	table      *telemetry.Table

	// diagnostics reports driver status alongside the table in get_telemetry.
	diagnostics func() map[string]interface{}
	closers     []func() error
}

// newSwerveModule opens (or shares) the module's CAN channel, builds the motor and
// encoder drivers on it and calibrates the wheel.
func newSwerveModule(ctx context.Context, conf resource.Config, logger logging.Logger) (resource.Resource, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	motors := []uint8{uint8(cfg.DriveMotorID), uint8(cfg.TurnMotorID)}
	conn, err := buses.acquire(cfg.channel(), motors, logger)
	if err != nil {
		return nil, err
	}
	closers := []func() error{func() error {
		return buses.release(cfg.channel(), motors)
	}}
	cleanup := func() {
		for _, c := range closers {
			//nolint:errcheck
			c()
		}
	}

	drive, err := sparkmax.New(conn, uint8(cfg.DriveMotorID), logger)
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "drive motor")
	}
	// Drivers unsubscribe before the channel is released.
	closers = append([]func() error{drive.Close}, closers...)
	turn, err := sparkmax.New(conn, uint8(cfg.TurnMotorID), logger)
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "turn motor")
	}
	closers = append([]func() error{turn.Close}, closers...)
	encoder, err := cancoder.New(conn, uint8(cfg.EncoderID), logger)
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "encoder")
	}
	closers = append([]func() error{encoder.Close}, closers...)

	table := telemetry.NewTable()
	sinks := telemetry.Multi{table}
	if cfg.MQTTBroker != "" {
		client, err := telemetry.DialMQTT(cfg.MQTTBroker, conf.Name, mqttConnectTimeout, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		sinks = append(sinks, telemetry.NewMQTT(client, cfg.topic(), logger))
		closers = append(closers, func() error {
			client.Disconnect(250)
			return nil
		})
	}

	devices := swervemodule.Devices{Drive: drive, Turn: turn, Encoder: encoder}
	m, err := newComponent(ctx, conf.ResourceName().AsNamed(), cfg, devices, sinks, table, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	m.closers = closers
	m.diagnostics = func() map[string]interface{} {
		out := map[string]interface{}{}
		for name, d := range map[string]*sparkmax.Device{"drive": drive, "turn": turn} {
			status, err := d.Diagnostics()
			if err != nil {
				continue
			}
			out[name+"_temperature_c"] = status.TemperatureCelsius
			out[name+"_bus_voltage"] = status.BusVoltage
			out[name+"_current_a"] = status.OutputCurrentAmps
			out[name+"_applied_output"] = status.AppliedOutput
			out[name+"_faults"] = int(status.Faults)
		}
		if reading, ok := encoder.Latest(); ok {
			out["encoder_magnet"] = int(reading.Magnet)
		}
		return out
	}
	return m, nil
}

// newComponent calibrates the wheel on the given devices.
func newComponent(
	ctx context.Context,
	named resource.Named,
	cfg *Config,
	devices swervemodule.Devices,
	sink swervemodule.Telemetry,
	table *telemetry.Table,
	logger logging.Logger,
) (*swerveModule, error) {
	controller, err := swervemodule.NewController(ctx, cfg.calibration(), cfg.constants(), devices, sink, logger)
	if err != nil {
		return nil, err
	}
	return &swerveModule{
		Named:      named,
		logger:     logger,
		controller: controller,
		table:      table,
	}, nil
}

// DoCommand exposes the wheel's operations: set_state, stop, get_state,
// get_position, get_absolute_angle and get_telemetry.
func (m *swerveModule) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "set_state":
		speed, err := floatArg(cmd, "speed_mps")
		if err != nil {
			return nil, err
		}
		angle, err := floatArg(cmd, "angle_deg")
		if err != nil {
			return nil, err
		}
		openLoop := false
		if raw, ok := cmd["open_loop"]; ok {
			if openLoop, ok = raw.(bool); !ok {
				return nil, errors.New("open_loop value must be a boolean")
			}
		}
		desired := swervemodule.State{SpeedMetersPerSecond: speed, Angle: s1.Angle(angle) * s1.Degree}
		if err := m.controller.SetState(ctx, desired, openLoop); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "set_state command processed"}, nil

	case "stop":
		if err := m.controller.Stop(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "stop command processed"}, nil

	case "get_state":
		state, err := m.controller.State(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"speed_mps": state.SpeedMetersPerSecond,
			"angle_deg": state.Angle.Degrees(),
		}, nil

	case "get_position":
		pos, err := m.controller.Position(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"distance_m": pos.DistanceMeters,
			"angle_deg":  pos.Angle.Degrees(),
		}, nil

	case "get_absolute_angle":
		deg, err := m.controller.AbsoluteAngle(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"absolute_deg": deg}, nil

	case "get_telemetry":
		out := m.table.All()
		out["last_commanded_angle_deg"] = m.controller.LastCommandedAngle().Degrees()
		if m.diagnostics != nil {
			for k, v := range m.diagnostics() {
				out[k] = v
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

func floatArg(cmd map[string]interface{}, key string) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		return 0, errors.Errorf("%s must be set", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, errors.Errorf("%s value must be a number but is type %T", key, raw)
	}
}

// Close stops both motors and releases the CAN channel.
func (m *swerveModule) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.controller.Stop(ctx)
	if err != nil {
		m.logger.Warnw("failed to stop swerve module", "module", m.controller.Number(), "error", err)
	}
	for _, c := range m.closers {
		err = multierr.Append(err, c())
	}
	return err
}
