package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placelists/placelists/internal/platform/database"
)

// LoggerConfig configures the async audit logger. Zero values take defaults.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// AsyncLogger implements Logger by queueing events and writing them in
// batches from a single background goroutine.
type AsyncLogger struct {
	events  chan Event
	store   *Store
	db      database.Querier
	logger  *slog.Logger
	batch   int
	every   time.Duration
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewAsyncLogger creates and starts an async audit logger.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &AsyncLogger{
		events:  make(chan Event, cfg.BufferSize),
		store:   store,
		db:      db,
		logger:  cfg.Logger.With("component", "audit"),
		batch:   cfg.BatchSize,
		every:   cfg.FlushInterval,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Log queues an event. It never blocks: when the queue is full the event is
// dropped and counted.
func (l *AsyncLogger) Log(_ context.Context, event Event) {
	select {
	case l.events <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("audit queue full, dropping events", "action", event.Action, "dropped", n)
		}
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close writes everything still queued and stops the worker. Calling it
// more than once is harmless.
func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	<-l.stopped
	return nil
}

func (l *AsyncLogger) run() {
	defer close(l.stopped)

	ticker := time.NewTicker(l.every)
	defer ticker.Stop()

	pending := make([]Event, 0, l.batch)
	add := func(e Event) {
		pending = append(pending, e)
		if len(pending) >= l.batch {
			pending = l.write(pending)
		}
	}

	for {
		select {
		case e := <-l.events:
			add(e)
		case <-ticker.C:
			pending = l.write(pending)
		case <-l.done:
			for {
				select {
				case e := <-l.events:
					add(e)
				default:
					l.write(pending)
					return
				}
			}
		}
	}
}

// write stores pending and returns it emptied for reuse. Failed batches are
// logged and discarded.
func (l *AsyncLogger) write(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, pending); err != nil {
		l.logger.Error("writing audit events", "error", err, "count", len(pending))
	}
	return pending[:0]
}
