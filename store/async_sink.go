package store

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/expflow/types"
)

// AsyncSinkConfig configures the delivery pool.
type AsyncSinkConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// DefaultAsyncSinkConfig returns sensible defaults.
func DefaultAsyncSinkConfig() AsyncSinkConfig {
	return AsyncSinkConfig{Workers: 4, QueueSize: 1024}
}

// AsyncSink decouples fact delivery from the request path. Events are queued
// and delivered to the wrapped sink by a fixed pool of workers; when the
// queue is full events are dropped and counted instead of blocking writers.
// Dropping is acceptable because counters are already durable before the
// sink is invoked — the sink stream is a best-effort feed.
type AsyncSink struct {
	inner  Sink
	queue  chan sinkEvent
	logger *zap.Logger

	wg     sync.WaitGroup
	closed atomic.Bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// sinkEvent holds exactly one fact.
type sinkEvent struct {
	assignment *types.Assignment
	conversion *types.Conversion
}

// NewAsyncSink wraps inner with a bounded delivery pool. Workers start
// eagerly and run until Close.
func NewAsyncSink(inner Sink, cfg AsyncSinkConfig, logger *zap.Logger) *AsyncSink {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultAsyncSinkConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultAsyncSinkConfig().QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AsyncSink{
		inner:  inner,
		queue:  make(chan sinkEvent, cfg.QueueSize),
		logger: logger.With(zap.String("component", "async_sink")),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// AssignmentRecorded implements Sink.
func (s *AsyncSink) AssignmentRecorded(a *types.Assignment) {
	s.enqueue(sinkEvent{assignment: a})
}

// ConversionRecorded implements Sink.
func (s *AsyncSink) ConversionRecorded(c *types.Conversion) {
	s.enqueue(sinkEvent{conversion: c})
}

func (s *AsyncSink) enqueue(ev sinkEvent) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- ev:
	default:
		if n := s.dropped.Add(1); n%1000 == 1 {
			s.logger.Warn("sink queue full, dropping events", zap.Int64("dropped_total", n))
		}
	}
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.deliver(ev)
	}
}

func (s *AsyncSink) deliver(ev sinkEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sink panicked", zap.Any("panic", r))
		}
	}()

	switch {
	case ev.assignment != nil:
		s.inner.AssignmentRecorded(ev.assignment)
	case ev.conversion != nil:
		s.inner.ConversionRecorded(ev.conversion)
	}
	s.delivered.Add(1)
}

// Close stops accepting events and waits until the queue drains.
func (s *AsyncSink) Close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.queue)
	s.wg.Wait()
}

// AsyncSinkStats is a snapshot of delivery counters.
type AsyncSinkStats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// Stats returns current delivery counters.
func (s *AsyncSink) Stats() AsyncSinkStats {
	return AsyncSinkStats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Queued:    len(s.queue),
	}
}

var _ Sink = (*AsyncSink)(nil)
