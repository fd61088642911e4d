// Package fake implements in-memory motor controllers and absolute sensors for
// exercising a swervemodule.Controller without hardware.
package fake

import (
	"context"
	"sync"

	"swerve/swervemodule"
)

// Motor is a fake motor controller. Position references move the encoder to the
// setpoint along the shorter arc when wrapping is configured; velocity references set
// the reported velocity.
type Motor struct {
	mu            sync.Mutex
	factoryResets int
	config        *swervemodule.MotorConfig
	references    []swervemodule.Reference
	seeds         []float64
	position      float64
	velocity      float64

	// Err, when set, is returned by every call.
	Err error
}

// RestoreFactoryDefaults forgets the configuration.
func (m *Motor) RestoreFactoryDefaults(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.factoryResets++
	m.config = nil
	return nil
}

// Configure stores cfg.
func (m *Motor) Configure(ctx context.Context, cfg swervemodule.MotorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.config = &cfg
	return nil
}

// SetReference records ref and moves the simulated encoder.
func (m *Motor) SetReference(ctx context.Context, ref swervemodule.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.references = append(m.references, ref)
	switch ref.Type {
	case swervemodule.ControlPosition:
		if m.config != nil && m.config.PositionWrapping != nil {
			m.position += m.config.PositionWrapping.Error(ref.Setpoint, m.position)
		} else {
			m.position = ref.Setpoint
		}
	case swervemodule.ControlVelocity:
		m.velocity = ref.Setpoint
	case swervemodule.ControlDutyCycle:
	}
	return nil
}

// SetEncoderPosition overwrites the encoder.
func (m *Motor) SetEncoderPosition(ctx context.Context, position float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.seeds = append(m.seeds, position)
	m.position = position
	return nil
}

// Position returns the simulated encoder position.
func (m *Motor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.position, nil
}

// Velocity returns the simulated velocity.
func (m *Motor) Velocity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.velocity, nil
}

// SetMeasured overrides the simulated position and velocity, as if the wheel had been
// moved by hand.
func (m *Motor) SetMeasured(position, velocity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = position
	m.velocity = velocity
}

// FactoryResets counts RestoreFactoryDefaults calls.
func (m *Motor) FactoryResets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.factoryResets
}

// Config returns the applied configuration, or nil.
func (m *Motor) Config() *swervemodule.MotorConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// References returns every reference received, oldest first.
func (m *Motor) References() []swervemodule.Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]swervemodule.Reference(nil), m.references...)
}

// LastReference returns the most recent reference.
func (m *Motor) LastReference() (swervemodule.Reference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.references) == 0 {
		return swervemodule.Reference{}, false
	}
	return m.references[len(m.references)-1], true
}

// Seeds returns every SetEncoderPosition value, oldest first.
func (m *Motor) Seeds() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.seeds...)
}

// AbsoluteEncoder is a fake absolute sensor reporting a fixed angle.
type AbsoluteEncoder struct {
	mu            sync.Mutex
	degrees       float64
	factoryResets int
	config        *swervemodule.SensorConfig

	// Err, when set, is returned by every call.
	Err error
}

// NewAbsoluteEncoder returns an encoder reading degrees.
func NewAbsoluteEncoder(degrees float64) *AbsoluteEncoder {
	return &AbsoluteEncoder{degrees: degrees}
}

// ConfigFactoryDefault forgets the configuration.
func (e *AbsoluteEncoder) ConfigFactoryDefault(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.factoryResets++
	e.config = nil
	return nil
}

// ConfigAll stores cfg.
func (e *AbsoluteEncoder) ConfigAll(ctx context.Context, cfg swervemodule.SensorConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.config = &cfg
	return nil
}

// AbsolutePosition returns the configured reading.
func (e *AbsoluteEncoder) AbsolutePosition(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return 0, e.Err
	}
	return e.degrees, nil
}

// SetDegrees changes the reading.
func (e *AbsoluteEncoder) SetDegrees(degrees float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.degrees = degrees
}

// FactoryResets counts ConfigFactoryDefault calls.
func (e *AbsoluteEncoder) FactoryResets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.factoryResets
}

// Config returns the applied configuration, or nil.
func (e *AbsoluteEncoder) Config() *swervemodule.SensorConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}
