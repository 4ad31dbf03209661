package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/kafka"
)

// Sink receives events; *kafka.Producer satisfies it.
type Sink interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers events and publishes them from a background goroutine.
// With a nil sink every tracked event is discarded.
type Collector struct {
	sink    Sink
	eventCh chan kafka.Event
	logger  *slog.Logger
	done    chan struct{}

	startOnce sync.Once
	started   atomic.Bool

	mu     sync.RWMutex
	closed bool
}

func NewCollector(sink Sink, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		sink:    sink,
		eventCh: make(chan kafka.Event, bufferSize),
		logger:  slog.Default().With("component", "event-collector"),
		done:    make(chan struct{}),
	}
}

// Start launches the publish loop. It returns immediately.
func (c *Collector) Start(ctx context.Context) {
	if c.sink == nil {
		return
	}
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.loop(ctx)
		c.logger.Info("event collector started", "buffer_size", cap(c.eventCh))
	})
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		case <-ctx.Done():
			c.drainRemaining()
			return
		}
	}
}

// Track enqueues event, dropping it when the buffer is full or the
// collector is closed.
func (c *Collector) Track(event kafka.Event) {
	if c.sink == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("event dropped (buffer full)", "type", event.Type)
	}
}

// Close stops accepting events and waits for buffered ones to be published.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.eventCh)
	c.mu.Unlock()
	if c.started.Load() {
		<-c.done
	}
}

func (c *Collector) publish(ctx context.Context, event kafka.Event) {
	if err := c.sink.Publish(ctx, event); err != nil {
		c.logger.Error("failed to publish event", "type", event.Type, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}

// Router is a Sink that dispatches each event by its Type. Events with no
// matching route go to the "" route, or are discarded when there is none.
type Router map[string]Sink

func (r Router) Publish(ctx context.Context, event kafka.Event) error {
	sink, ok := r[event.Type]
	if !ok {
		sink = r[""]
	}
	if sink == nil {
		return nil
	}
	return sink.Publish(ctx, event)
}
