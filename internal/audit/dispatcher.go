package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink delivers events to one downstream channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// DispatcherConfig configures event fan-out.
type DispatcherConfig struct {
	BufferSize      int           `json:"buffer_size" yaml:"buffer_size"`
	DeliveryTimeout time.Duration `json:"delivery_timeout" yaml:"delivery_timeout"`
}

// Dispatcher is an asynchronous Publisher fanning events out to sinks.
// When its buffer is full events are dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	events  chan Event
	logger  *zap.Logger
	config  DispatcherConfig
	dropped atomic.Uint64

	mu       sync.RWMutex
	closed   bool
	finished chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine.
func NewDispatcher(logger *zap.Logger, config DispatcherConfig, sinks ...Sink) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		sinks:    sinks,
		events:   make(chan Event, config.BufferSize),
		logger:   logger,
		config:   config,
		finished: make(chan struct{}),
	}

	go d.run()

	return d
}

// Publish enqueues ev without blocking.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Audit buffer full, dropping event",
			zap.String("event_id", ev.ID.String()),
			zap.String("type", string(ev.Type)))
	}
}

// Dropped returns the number of events discarded so far.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events, drains the buffer and waits for delivery to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	<-d.finished
}

func (d *Dispatcher) run() {
	defer close(d.finished)

	for ev := range d.events {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.DeliveryTimeout)
		err := sink.Deliver(ctx, ev)
		cancel()

		if err != nil {
			d.logger.Warn("Audit sink delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", ev.ID.String()),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}
