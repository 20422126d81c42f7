package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wolfinch/wolfinch/internal/logger"
)

// DefaultQueueSize bounds each sink's channel.
const DefaultQueueSize = 1000

// Fanout feeds every enabled sink through its own bounded channel and
// worker. Sinks are invoked in the fixed order they were registered
// (time-series, bus, audit, metrics); none of them can block or fail
// the hot path. On overflow the oldest queued event is dropped and
// counted.
type Fanout struct {
	sinks  []*sinkState
	log    *logger.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewFanout creates the fan-out over the sinks in publication order.
func NewFanout(queueSize int, sinks ...Sink) *Fanout {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	f := &Fanout{log: logger.Component("event-fanout")}
	for _, s := range sinks {
		state := &sinkState{
			sink:  s,
			queue: make(chan Event, queueSize),
		}
		state.healthy.Store(true)
		f.sinks = append(f.sinks, state)
	}
	return f
}

// Start launches one worker per sink.
func (f *Fanout) Start(ctx context.Context) {
	for _, state := range f.sinks {
		f.wg.Add(1)
		go f.run(ctx, state)
	}
}

func (f *Fanout) run(ctx context.Context, state *sinkState) {
	defer f.wg.Done()
	for e := range state.queue {
		if err := state.sink.Publish(ctx, e); err != nil {
			state.errors.Add(1)
			if state.healthy.Swap(false) {
				f.log.WithError(err).Warn("sink degraded", "sink", state.sink.Name())
			}
		} else if !state.healthy.Swap(true) {
			f.log.Info("sink recovered", "sink", state.sink.Name())
		}
	}
}

// Publish enqueues the event to every sink, never blocking. A full
// queue drops its oldest entry to make room.
func (f *Fanout) Publish(e Event) {
	if f.closed.Load() {
		return
	}
	for _, state := range f.sinks {
		select {
		case state.queue <- e:
		default:
			// Drop-oldest: evict one, then retry once.
			select {
			case <-state.queue:
				state.drops.Add(1)
			default:
			}
			select {
			case state.queue <- e:
			default:
				state.drops.Add(1)
			}
		}
	}
}

// Health returns each sink's health bit and counters in fixed order.
func (f *Fanout) Health() []SinkHealth {
	out := make([]SinkHealth, 0, len(f.sinks))
	for _, state := range f.sinks {
		out = append(out, SinkHealth{
			Name:    state.sink.Name(),
			Healthy: state.healthy.Load(),
			Errors:  state.errors.Load(),
			Drops:   state.drops.Load(),
		})
	}
	return out
}

// Close stops accepting events, drains the workers and closes sinks.
func (f *Fanout) Close() {
	if f.closed.Swap(true) {
		return
	}
	for _, state := range f.sinks {
		close(state.queue)
	}
	f.wg.Wait()
	for _, state := range f.sinks {
		if err := state.sink.Close(); err != nil {
			f.log.WithError(err).Warn("sink close failed", "sink", state.sink.Name())
		}
	}
}
