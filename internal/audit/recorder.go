package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holdfast-sec/holdfast/internal/model"
)

const (
	// DefaultBatchSize is the queue depth that triggers a flush.
	DefaultBatchSize = 64
	// DefaultFlushInterval is how often the interval flusher runs.
	DefaultFlushInterval = 2 * time.Second
)

// ErrRecorderClosed is returned by Log after Close has drained the queue.
var ErrRecorderClosed = errors.New("audit: recorder closed")

// Sink receives flushed audit events. Delivery is at-least-once: a sink may
// see the same event again after a flush error, so sinks must tolerate
// redelivery (the SQL store keys on event_id; the chain sink appends).
type Sink interface {
	Write(events []Event) error
	Close() error
}

// RecorderConfig tunes queue flushing.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Recorder buffers audit events and flushes them to sinks in batches.
// Flush triggers: the queue reaching BatchSize, the interval flusher, or a
// CRITICAL event, which is flushed synchronously before Log returns. Events
// are never dropped: a failed flush re-queues the batch.
type Recorder struct {
	mu     sync.Mutex
	cfg    RecorderConfig
	queue  []Event
	sinks  []Sink
	closed bool
}

// NewRecorder creates a Recorder over the given sinks. The caller schedules
// interval flushes (Flush on a FlushInterval ticker) and must Close the
// recorder on shutdown to drain the queue.
func NewRecorder(cfg RecorderConfig, sinks ...Sink) *Recorder {
	return &Recorder{
		cfg:   cfg.withDefaults(),
		sinks: sinks,
	}
}

// Interval returns the configured flush interval for the caller's ticker.
func (r *Recorder) Interval() time.Duration {
	return r.cfg.FlushInterval
}

// Log appends an event to the queue, assigning its ID and timestamp when
// unset. CRITICAL events are flushed synchronously: when Log returns, the
// event is visible in every sink. Other severities flush when the batch
// fills or the interval flusher runs.
func (r *Recorder) Log(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = FormatTimestamp(time.Now())
	}

	r.queue = append(r.queue, ev)

	if ev.Severity == model.SeverityCritical || len(r.queue) >= r.cfg.BatchSize {
		return r.flushLocked()
	}
	return nil
}

// Flush writes all queued events to the sinks.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

// flushLocked delivers the queue to every sink. Every sink is attempted even
// after a failure so one bad sink does not starve the others; on any failure
// the batch is re-queued ahead of newer events.
func (r *Recorder) flushLocked() error {
	if len(r.queue) == 0 {
		return nil
	}

	batch := r.queue
	r.queue = nil

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Write(batch); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		r.queue = append(batch, r.queue...)
		return fmt.Errorf("audit: flush: %w", errors.Join(errs...))
	}
	return nil
}

// QueueDepth returns the number of unflushed events.
func (r *Recorder) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Close drains the queue and closes the sinks. Events logged after Close
// return ErrRecorderClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	flushErr := r.flushLocked()
	r.closed = true

	var errs []error
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
