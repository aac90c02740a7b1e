package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nerrad567/crm-core/internal/ids"
	"github.com/nerrad567/crm-core/internal/store"
)

// DefaultBufferSize is the queue length used when none is configured.
const DefaultBufferSize = 256

// sinkTimeout bounds a single sink write.
const sinkTimeout = 5 * time.Second

// Sink receives every recorded entry.
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, entry *Entry) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock overrides the time source used to stamp entries.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithRecorderLogger sets the logger for dropped entries and sink failures.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// Recorder queues entries and writes them serially to its sinks.
//
// Record never blocks. Run drains the queue until its context is
// cancelled, then writes whatever is still queued and returns.
type Recorder struct {
	queue   chan *Entry
	sinks   []Sink
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Uint64
}

// NewRecorder creates a recorder with a queue of size entries.
func NewRecorder(size int, sinks []Sink, opts ...RecorderOption) *Recorder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	r := &Recorder{
		queue:  make(chan *Entry, size),
		sinks:  sinks,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stamps and enqueues an entry. A nil recorder discards it.
func (r *Recorder) Record(entry *Entry) {
	if r == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = store.Stamp(r.now())
	}
	if entry.Source == "" {
		entry.Source = SourceAPI
	}

	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

// Dropped reports how many entries were discarded on a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run writes queued entries until ctx is cancelled, then drains the queue.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.queue:
			r.deliver(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.deliver(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) deliver(entry *Entry) {
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.Write(ctx, entry)
		cancel()
		if err != nil {
			r.logger.Error("audit sink write failed",
				"action", entry.Action,
				"entity_type", entry.EntityType,
				"sink", sinkName(sink),
				"error", err,
			)
		}
	}
}
