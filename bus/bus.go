// Package bus shares one SocketCAN channel between the devices of a robot. Frames are
// sent fire-and-forget, received frames are dispatched by arbitration id, and an
// optional heartbeat frame is re-sent every 10ms to keep motor controllers enabled.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
	"golang.org/x/sys/unix"
)

const heartbeatInterval = 10 * time.Millisecond

// Handler receives every frame addressed to the arbitration id it subscribed to.
// Handlers run on the receive goroutine and must not block.
type Handler func(frame canbus.Frame)

// Conn is the part of a bus a device driver needs. Subscribe returns a function that
// removes the handler again; calling it more than once is harmless.
type Conn interface {
	Send(frame canbus.Frame) error
	Subscribe(id uint32, handler Handler) (unsubscribe func())
}

type subscription struct {
	token   uint64
	handler Handler
}

type socket interface {
	Send(msg canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// Bus is an open CAN channel.
type Bus struct {
	channel string
	tx      socket
	rx      socket
	logger  logging.Logger

	sendMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[uint32][]subscription
	nextToken  uint64

	heartbeatMu sync.Mutex
	heartbeat   *canbus.Frame

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// Open binds a transmit and a receive socket to channel (e.g. "can0") and starts the
// publish and receive goroutines. Only extended (29-bit) frames are received.
func Open(channel string, logger logging.Logger) (*Bus, error) {
	tx, err := canbus.New()
	if err != nil {
		return nil, errors.Wrap(err, "creating transmit socket")
	}
	if err := tx.Bind(channel); err != nil {
		tx.Close()
		return nil, errors.Wrapf(err, "binding transmit socket to %s", channel)
	}

	rx, err := canbus.New()
	if err != nil {
		tx.Close()
		return nil, errors.Wrap(err, "creating receive socket")
	}
	err = rx.SetFilters([]unix.CanFilter{
		{Id: unix.CAN_EFF_FLAG, Mask: unix.CAN_EFF_FLAG},
	})
	if err != nil {
		tx.Close()
		rx.Close()
		return nil, errors.Wrap(err, "setting receive filters")
	}
	if err := rx.Bind(channel); err != nil {
		tx.Close()
		rx.Close()
		return nil, errors.Wrapf(err, "binding receive socket to %s", channel)
	}

	return newBus(channel, tx, rx, logger), nil
}

func newBus(channel string, tx, rx socket, logger logging.Logger) *Bus {
	cancelCtx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		channel:  channel,
		tx:       tx,
		rx:       rx,
		logger:   logger,
		handlers: map[uint32][]subscription{},
		cancel:   cancel,
	}

	b.activeBackgroundWorkers.Add(2)
	viamutils.ManagedGo(func() {
		b.publishThread(cancelCtx)
	}, b.activeBackgroundWorkers.Done)
	viamutils.ManagedGo(func() {
		b.receiveThread(cancelCtx)
	}, b.activeBackgroundWorkers.Done)

	return b
}

// Channel returns the name of the CAN interface.
func (b *Bus) Channel() string {
	return b.channel
}

// Send puts one frame on the bus. It does not wait for any acknowledgement and
// never retries.
func (b *Bus) Send(frame canbus.Frame) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if _, err := b.tx.Send(frame); err != nil {
		b.logger.Errorw("CAN Tx error", "id", frame.ID, "error", err)
		return errors.Wrapf(err, "sending frame 0x%X", frame.ID)
	}
	return nil
}

// Subscribe registers handler for frames with the given arbitration id.
func (b *Bus) Subscribe(id uint32, handler Handler) func() {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.nextToken++
	token := b.nextToken
	b.handlers[id] = append(b.handlers[id], subscription{token: token, handler: handler})
	return func() { b.unsubscribe(id, token) }
}

func (b *Bus) unsubscribe(id uint32, token uint64) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[id] = without(b.handlers[id], token)
	if len(b.handlers[id]) == 0 {
		delete(b.handlers, id)
	}
}

// without returns a new slice so dispatch can keep iterating an old one.
func without(subs []subscription, token uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.token != token {
			out = append(out, s)
		}
	}
	return out
}

// Subscribers counts the handlers registered for id.
func (b *Bus) Subscribers(id uint32) int {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()
	return len(b.handlers[id])
}

// SetHeartbeat installs the frame re-sent every heartbeat interval. A nil frame stops
// the heartbeat.
func (b *Bus) SetHeartbeat(frame *canbus.Frame) {
	b.heartbeatMu.Lock()
	defer b.heartbeatMu.Unlock()
	if frame == nil {
		b.heartbeat = nil
		return
	}
	f := *frame
	b.heartbeat = &f
}

func (b *Bus) currentHeartbeat() *canbus.Frame {
	b.heartbeatMu.Lock()
	defer b.heartbeatMu.Unlock()
	return b.heartbeat
}

// publishThread re-sends the heartbeat frame until ctx is cancelled.
func (b *Bus) publishThread(ctx context.Context) {
	for {
		if !viamutils.SelectContextOrWait(ctx, heartbeatInterval) {
			return
		}
		if hb := b.currentHeartbeat(); hb != nil {
			//nolint:errcheck
			b.Send(*hb)
		}
	}
}

// receiveThread dispatches received frames to their subscribers.
func (b *Bus) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := b.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("CAN Rx error", "error", err)
			if !viamutils.SelectContextOrWait(ctx, heartbeatInterval) {
				return
			}
			continue
		}

		frame.ID &= unix.CAN_EFF_MASK
		b.handlersMu.RLock()
		subs := b.handlers[frame.ID]
		b.handlersMu.RUnlock()
		for _, s := range subs {
			s.handler(frame)
		}
	}
}

// Close stops the background goroutines and closes both sockets.
func (b *Bus) Close() error {
	b.cancel()
	rxErr := b.rx.Close()
	b.activeBackgroundWorkers.Wait()
	txErr := b.tx.Close()
	if rxErr != nil {
		return errors.Wrap(rxErr, "closing receive socket")
	}
	return errors.Wrap(txErr, "closing transmit socket")
}
