package rowflow

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event
type EventType string

const (
	// EventCreated is emitted once when a job or task starts
	EventCreated EventType = "created"
	// EventStatusChanged is emitted on every status transition
	EventStatusChanged EventType = "status-changed"
	// EventProgress is emitted after every processed row
	EventProgress EventType = "progress"
	// EventRowError is emitted for every row-level error
	EventRowError EventType = "row-error"
	// EventCompleted is emitted once with the final status
	EventCompleted EventType = "completed"
)

// Progress is a cumulative snapshot of a running job
type Progress struct {
	TotalRows     int
	ProcessedRows int
	SuccessRows   int
	FailedRows    int
	SkippedRows   int
	Percent       float64
	Elapsed       time.Duration
	// Throughput is successful rows per second
	Throughput float64
}

// Event is delivered to observers. Progress is set for progress and completed events,
// Error for row-error events.
type Event struct {
	Type     EventType
	JobID    string
	Status   JobStatus
	Progress Progress
	Error    *ImportError
	Time     time.Time
}

// Observer receives job events. Notify must not block; the pipeline waits for it to return.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Notify implements Observer
func (f ObserverFunc) Notify(e Event) {
	f(e)
}

// MultiObserver fans events out to several observers in order
type MultiObserver []Observer

// Notify implements Observer
func (m MultiObserver) Notify(e Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(e)
		}
	}
}

// nopObserver discards events
type nopObserver struct{}

func (nopObserver) Notify(Event) {}

// ChannelObserver delivers events to a buffered channel without ever blocking the pipeline.
// Events that do not fit into the buffer are dropped and counted.
type ChannelObserver struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

// NewChannelObserver creates an observer with a buffer of size events
func NewChannelObserver(size int) *ChannelObserver {
	if size <= 0 {
		size = 64
	}
	return &ChannelObserver{ch: make(chan Event, size)}
}

// Events returns the channel to consume. It is closed by Close.
func (c *ChannelObserver) Events() <-chan Event {
	return c.ch
}

// Notify implements Observer. Events that do not fit into the buffer are counted and dropped.
func (c *ChannelObserver) Notify(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

// Dropped returns the number of events discarded because the buffer was full
func (c *ChannelObserver) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the event channel
func (c *ChannelObserver) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
