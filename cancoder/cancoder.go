// Package cancoder reads CTRE CANcoder magnetic absolute encoders over a CAN bus.
package cancoder

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/bus"
	"swerve/swervemodule"
)

const (
	deviceTypeSensor uint32 = 7
	manufacturerCTRE uint32 = 4

	maxDeviceID = 62

	apiStatusPosition uint32 = 0x050
	apiConfigSet      uint32 = 0x1C0
	apiFactoryDefault uint32 = 0x1C1

	// FirstStatusTimeout bounds the wait for the first position frame when the caller's
	// context has no deadline.
	FirstStatusTimeout = 2 * time.Second
)

// ArbID returns the 29-bit arbitration id of api on encoder id.
func ArbID(api uint32, id uint8) uint32 {
	return deviceTypeSensor<<24 | manufacturerCTRE<<16 | (api&0x3FF)<<6 | uint32(id)&0x3F
}

type configParam byte

const (
	configSensorRange  configParam = 1
	configDirection    configParam = 2
	configInitStrategy configParam = 3
	configTimeBase     configParam = 4
)

// Status frame layout.
var (
	rawPosition = bus.Signal{Scalar: 360.0 / 65536, Start: 0, Length: 16, LittleEndian: true}
	rawVelocity = bus.Signal{Scalar: 0.1, Start: 16, Length: 16, LittleEndian: true, Signed: true}
	magnetField = bus.Signal{Scalar: 1, Start: 32, Length: 2, LittleEndian: true}
)

// MagnetHealth reports how well the magnet is seen.
type MagnetHealth int

// Magnet health levels, from the status frame.
const (
	MagnetInvalid MagnetHealth = iota
	MagnetRed
	MagnetOrange
	MagnetGreen
)

// Reading is the latest decoded status of an encoder.
type Reading struct {
	Degrees          float64 // in the configured range, direction applied
	DegreesPerSecond float64 // always per second, whatever the configured time base
	Magnet           MagnetHealth
	LastUpdate       time.Time
}

// Encoder is one CANcoder.
type Encoder struct {
	conn   bus.Conn
	id     uint8
	logger logging.Logger
	cancel func()

	mu      sync.Mutex
	config  swervemodule.SensorConfig
	reading Reading
	raw     float64

	readyOnce sync.Once
	ready     chan struct{}
}

var _ swervemodule.AbsoluteSensor = (*Encoder)(nil)

// New subscribes to the status frames of encoder id on conn.
func New(conn bus.Conn, id uint8, logger logging.Logger) (*Encoder, error) {
	if id == 0 || id > maxDeviceID {
		return nil, errors.Errorf("device id must be between 1 and %d, got %d", maxDeviceID, id)
	}
	e := &Encoder{
		conn:   conn,
		id:     id,
		logger: logger,
		ready:  make(chan struct{}),
	}
	e.cancel = conn.Subscribe(ArbID(apiStatusPosition, id), e.handleStatus)
	return e, nil
}

// Close stops listening for status frames.
func (e *Encoder) Close() error {
	e.cancel()
	return nil
}

// ConfigFactoryDefault resets the encoder's stored configuration.
func (e *Encoder) ConfigFactoryDefault(ctx context.Context) error {
	frame := canbus.Frame{ID: ArbID(apiFactoryDefault, e.id), Data: []byte{}, Kind: canbus.EFF}
	if err := e.conn.Send(frame); err != nil {
		return errors.Wrapf(err, "cancoder %d: restoring factory defaults", e.id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = swervemodule.SensorConfig{}
	e.recompute()
	return nil
}

// ConfigAll writes every field of cfg.
func (e *Encoder) ConfigAll(ctx context.Context, cfg swervemodule.SensorConfig) error {
	for _, p := range []struct {
		param configParam
		value int32
	}{
		{configSensorRange, int32(cfg.Range)},
		{configDirection, boolValue(cfg.Reversed)},
		{configInitStrategy, int32(cfg.Initialization)},
		{configTimeBase, int32(cfg.TimeBase)},
	} {
		if err := e.sendConfig(p.param, p.value); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
	e.recompute()
	return nil
}

func (e *Encoder) sendConfig(param configParam, value int32) error {
	frame := canbus.Frame{
		ID:   ArbID(apiConfigSet, e.id),
		Data: make([]byte, 5),
		Kind: canbus.EFF,
	}
	frame.Data[0] = byte(param)
	binary.LittleEndian.PutUint32(frame.Data[1:5], uint32(value))
	if err := e.conn.Send(frame); err != nil {
		return errors.Wrapf(err, "cancoder %d: writing config %d", e.id, param)
	}
	return nil
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// AbsolutePosition returns the latest absolute angle in degrees. Until the first
// status frame arrives it waits, for at most FirstStatusTimeout unless ctx carries its
// own deadline.
func (e *Encoder) AbsolutePosition(ctx context.Context) (float64, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, FirstStatusTimeout)
		defer cancel()
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return 0, errors.Wrapf(ctx.Err(), "cancoder %d: waiting for first status frame", e.id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reading.Degrees, nil
}

// Latest returns the latest reading without waiting.
func (e *Encoder) Latest() (Reading, bool) {
	select {
	case <-e.ready:
	default:
		return Reading{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reading, true
}

func (e *Encoder) handleStatus(frame canbus.Frame) {
	raw, err := rawPosition.Extract(frame.Data)
	if err != nil {
		e.logger.Warnw("bad cancoder status frame", "id", e.id, "error", err)
		return
	}
	velocity, _ := rawVelocity.Extract(frame.Data)
	magnet, _ := magnetField.Extract(frame.Data)

	e.mu.Lock()
	e.raw = raw
	if e.config.Reversed {
		velocity = -velocity
	}
	e.reading.DegreesPerSecond = velocity
	e.reading.Magnet = MagnetHealth(magnet)
	e.reading.LastUpdate = time.Now()
	e.recompute()
	e.mu.Unlock()

	e.readyOnce.Do(func() { close(e.ready) })
}

// recompute must be called with mu held.
func (e *Encoder) recompute() {
	e.reading.Degrees = toRange(e.raw, e.config)
}

// toRange applies direction to a raw [0, 360) reading and folds the result into the
// configured range.
func toRange(raw float64, cfg swervemodule.SensorConfig) float64 {
	deg := raw
	if cfg.Reversed {
		deg = -deg
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if cfg.Range == swervemodule.RangeSigned180 && deg >= 180 {
		deg -= 360
	}
	return deg
}
