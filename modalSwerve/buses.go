package main

import (
	"sort"
	"sync"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/bus"
	"swerve/sparkmax"
)

// sharedConn is an open channel every module on it sends through.
type sharedConn interface {
	bus.Conn
	SetHeartbeat(frame *canbus.Frame)
	Close() error
}

type sharedBus struct {
	conn   sharedConn
	refs   int
	motors map[uint8]int
}

// busRegistry hands out one connection per CAN channel and keeps its heartbeat
// enabling every motor controller registered on it.
type busRegistry struct {
	mu    sync.Mutex
	open  func(channel string, logger logging.Logger) (sharedConn, error)
	buses map[string]*sharedBus
}

var buses = newBusRegistry(func(channel string, logger logging.Logger) (sharedConn, error) {
	b, err := bus.Open(channel, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
})

func newBusRegistry(open func(string, logging.Logger) (sharedConn, error)) *busRegistry {
	return &busRegistry{open: open, buses: map[string]*sharedBus{}}
}

func (r *busRegistry) acquire(channel string, motorIDs []uint8, logger logging.Logger) (sharedConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sb, ok := r.buses[channel]
	if !ok {
		conn, err := r.open(channel, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", channel)
		}
		sb = &sharedBus{conn: conn, motors: map[uint8]int{}}
		r.buses[channel] = sb
		logger.Infow("opened CAN channel", "channel", channel)
	}
	sb.refs++
	for _, id := range motorIDs {
		sb.motors[id]++
	}
	sb.updateHeartbeat()
	return sb.conn, nil
}

func (r *busRegistry) release(channel string, motorIDs []uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sb, ok := r.buses[channel]
	if !ok {
		return errors.Errorf("channel %s is not open", channel)
	}
	for _, id := range motorIDs {
		if sb.motors[id]--; sb.motors[id] <= 0 {
			delete(sb.motors, id)
		}
	}
	if sb.refs--; sb.refs > 0 {
		sb.updateHeartbeat()
		return nil
	}
	delete(r.buses, channel)
	sb.conn.SetHeartbeat(nil)
	return sb.conn.Close()
}

func (sb *sharedBus) updateHeartbeat() {
	if len(sb.motors) == 0 {
		sb.conn.SetHeartbeat(nil)
		return
	}
	ids := make([]uint8, 0, len(sb.motors))
	for id := range sb.motors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	frame := sparkmax.Heartbeat(ids...)
	sb.conn.SetHeartbeat(&frame)
}
