// Package pipeline hands assembled product records to a Sink through a
// bounded pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/models"
	"github.com/aluiziolira/go-scrape-beauty/parser"
)

// ErrPipelineClosed is returned when Process is called after shutdown. It
// matches models.ErrProcessorClosed.
var ErrPipelineClosed = fmt.Errorf("pipeline: %w", models.ErrProcessorClosed)

// Sink persists one record at a time. Implementations must be safe for
// concurrent use.
type Sink interface {
	Upsert(ctx context.Context, record *models.ProductRecord) error
	Close() error
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Received  int64
	Persisted int64
	Failed    int64
	Invalid   int64
}

// Pipeline validates records and upserts them into a Sink. A failed upsert
// is logged and counted; it never stops the pipeline.
type Pipeline struct {
	sink    Sink
	records chan *models.ProductRecord
	workers int
	logger  *zap.Logger
	upserts *prometheus.CounterVec

	wg sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats

	mu      sync.Mutex // guards closed/started
	closed  bool
	started bool

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(sink Sink, cfg config.PipelineConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	buffer := cfg.BufferSize
	if buffer < 0 {
		buffer = 0
	}
	return &Pipeline{
		sink:    sink,
		records: make(chan *models.ProductRecord, buffer),
		workers: workers,
		logger:  logger.Named("pipeline"),
		upserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beauty_pipeline_upserts_total",
				Help: "Records handed to the sink, by outcome.",
			},
			[]string{"outcome"},
		),
		shutdown: make(chan struct{}),
	}
}

// Collectors exposes the pipeline metrics for registration.
func (p *Pipeline) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.upserts}
}

// Start launches the workers. Upserts run on a context detached from ctx's
// cancellation so queued records still drain after a shutdown signal.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true

	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workCtx)
	}
}

// Process enqueues one record. It blocks while the buffer is full.
func (p *Pipeline) Process(ctx context.Context, record *models.ProductRecord) error {
	if record == nil {
		return nil
	}
	if p.isClosed() {
		return ErrPipelineClosed
	}
	p.addStat(func(s *Stats) { s.Received++ })
	return p.enqueue(ctx, record)
}

// Close stops accepting records and waits for queued ones to be handed to
// the sink. The sink itself stays open; its owner closes it.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.records)
	})
	p.wg.Wait()
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				p.logger.Info("pipeline progress",
					zap.Int64("received", s.Received),
					zap.Int64("persisted", s.Persisted),
					zap.Int64("failed", s.Failed),
					zap.Int64("invalid", s.Invalid),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()

	for record := range p.records {
		if err := parser.ValidateProduct(record); err != nil {
			p.addStat(func(s *Stats) { s.Invalid++ })
			p.upserts.WithLabelValues("invalid").Inc()
			p.logger.Warn("invalid record", zap.String("url", record.URL), zap.Error(err))
			continue
		}

		if err := p.sink.Upsert(ctx, record); err != nil {
			p.addStat(func(s *Stats) { s.Failed++ })
			p.upserts.WithLabelValues("failed").Inc()
			p.logger.Error("upsert record", zap.String("url", record.URL), zap.String("name", record.Name), zap.Error(err))
			continue
		}
		p.addStat(func(s *Stats) { s.Persisted++ })
		p.upserts.WithLabelValues("persisted").Inc()
	}
}

func (p *Pipeline) enqueue(ctx context.Context, record *models.ProductRecord) (err error) {
	// A send racing with Close can hit the closed channel.
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	// Records that fit in the buffer are accepted even after ctx is done.
	select {
	case p.records <- record:
		return nil
	default:
	}

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-ctx.Done():
		return errors.Join(ErrPipelineClosed, ctx.Err())
	case p.records <- record:
		return nil
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) addStat(fn func(*Stats)) {
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
