// Package reporter delivers decision events to the sinks off the request
// path. Delivery is at-most-once. Events that do not fit in the queue are
// dropped and failed sink writes are only logged and counted.
package reporter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/event"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/internal/sink"
	"github.com/shortontech/cloakgate/pkg/config"
)

const queueName = "reporter"

// Reporter fans queued events out to every sink.
type Reporter struct {
	sinks   []sink.Sink
	queue   chan event.Event
	workers int
	metrics *metrics.Metrics
	logger  *zap.Logger

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	// abandoned is set when Close gives up on the queue; workers stop
	// delivering and the sinks are closed once the last write returns.
	abandoned   atomic.Bool
	sinksClosed chan struct{}
}

// New sizes the queue and worker pool from cfg. Non-positive values fall
// back to one slot and one worker.
func New(sinks []sink.Sink, cfg config.ReporterConfig, m *metrics.Metrics, logger *zap.Logger) *Reporter {
	size := max(cfg.QueueSize, 1)
	workers := max(cfg.Workers, 1)
	if m == nil {
		m = metrics.NewNop()
	}
	return &Reporter{
		sinks:   sinks,
		queue:   make(chan event.Event, size),
		workers: workers,
		metrics: m,
		logger:  logger.Named("reporter"),
		closed:  make(chan struct{}),

		sinksClosed: make(chan struct{}),
	}
}

// Start starts every sink and then the workers. A sink that fails to start
// is logged and left out.
func (r *Reporter) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		started := r.sinks[:0:0]
		for _, s := range r.sinks {
			if err := s.Start(ctx); err != nil {
				r.logger.Error("sink failed to start", zap.String("sink", s.Name()), zap.Error(err))
				r.metrics.IncrementSinkErrors(s.Name(), "start")
				continue
			}
			r.logger.Info("sink started", zap.String("sink", s.Name()))
			started = append(started, s)
		}
		r.sinks = started

		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.work()
		}
	})
}

// Report queues ev without blocking. It returns false when the event was
// dropped.
func (r *Reporter) Report(ev event.Event) bool {
	select {
	case <-r.closed:
		r.metrics.IncrementReporterDropped()
		return false
	default:
	}

	select {
	case r.queue <- ev:
		r.metrics.SetQueueDepth(queueName, float64(len(r.queue)))
		return true
	default:
		r.metrics.IncrementReporterDropped()
		r.logger.Debug("queue full, event dropped", zap.String("event_id", ev.EventID))
		return false
	}
}

func (r *Reporter) work() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ev)
		case <-r.closed:
			// drain what is already queued
			for {
				select {
				case ev := <-r.queue:
					r.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) deliver(ev event.Event) {
	r.metrics.SetQueueDepth(queueName, float64(len(r.queue)))
	for _, s := range r.sinks {
		if r.abandoned.Load() {
			r.metrics.IncrementReporterDropped()
			return
		}
		if err := s.Enqueue(ev); err != nil {
			r.metrics.IncrementSinkErrors(s.Name(), "enqueue")
			r.logger.Warn("sink write failed",
				zap.String("sink", s.Name()),
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			continue
		}
		r.metrics.IncrementEventsIngested(s.Name())
	}
}

// Run starts the reporter and closes it once ctx is done.
func (r *Reporter) Run(ctx context.Context, shutdownGrace time.Duration) error {
	r.Start(ctx)
	<-ctx.Done()
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return r.Close(closeCtx)
}

// Close stops accepting events, lets the workers drain the queue until ctx
// is done, and closes the sinks. When ctx ends first the rest of the queue
// is abandoned and the sinks are closed after the writes in progress return.
func (r *Reporter) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)

		drained := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			r.closeSinks()
		case <-ctx.Done():
			r.abandoned.Store(true)
			r.logger.Warn("shutdown deadline reached, pending events abandoned",
				zap.Int("pending", len(r.queue)))
			err = ctx.Err()
			go func() {
				<-drained
				r.closeSinks()
			}()
		}
	})
	return err
}

func (r *Reporter) closeSinks() {
	defer close(r.sinksClosed)
	for _, s := range r.sinks {
		if cerr := s.Close(); cerr != nil {
			r.logger.Error("sink close failed", zap.String("sink", s.Name()), zap.Error(cerr))
		}
	}
}
