// Package pipeline validates crawled records and writes them in batches,
// preserving the order in which they were submitted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-pages/config"
	"github.com/aluiziolira/go-scrape-pages/models"
	"github.com/aluiziolira/go-scrape-pages/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when the writer does not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: timed out draining writer")
)

var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.Record) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, optional de-duplication, and output
// writing. A single writer goroutine consumes the queue so records reach
// the writer in submission order.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	recordCh  chan models.Record
	batchSize int

	required    []string
	dedupeField string
	seen        *lru.Cache[string, struct{}]

	wg      sync.WaitGroup
	metrics metrics

	mu      sync.Mutex // guards closed/err/started
	closed  bool
	started bool
	err     error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	p := &Pipeline{
		ctx:         ctx,
		writer:      writer,
		recordCh:    make(chan models.Record, bufferSize),
		batchSize:   batchSize,
		dedupeField: cfg.DedupeField,
		metrics:     metrics{validation: make(map[string]int)},
		shutdown:    make(chan struct{}),
	}
	if cfg.DedupeField != "" {
		size := cfg.DedupeMaxSize
		if size <= 0 {
			size = 1
		}
		seen, err := lru.New[string, struct{}](size)
		if err == nil {
			p.seen = seen
		}
	}
	return p
}

// Require sets the fields that must carry a value for a record to be written.
func (p *Pipeline) Require(fields ...string) *Pipeline {
	p.required = append([]string(nil), fields...)
	return p
}

// Start launches the writer goroutine. Calling it twice has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed || p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.worker()
}

// Process enqueues records for validation and writing. It blocks while the
// queue is full.
func (p *Pipeline) Process(records ...models.Record) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, r := range records {
		if err := p.enqueue(r); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting records and waits up to drainTimeout for the
// writer to flush what is queued.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.Err()
	case <-time.After(drainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
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
				m := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed", m["processed_records"].(int64)),
					slog.Int64("written", m["written_records"].(int64)),
					slog.Any("rejected", m["validation_errors"]),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.metrics.addWritten(len(batch))
		batch = batch[:0]
		return nil
	}

	for r := range p.recordCh {
		if !p.accept(r) {
			continue
		}
		batch = append(batch, r)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) accept(r models.Record) bool {
	if err := parser.ValidateRecord(r, p.required); err != nil {
		p.metrics.addValidation("invalid_record")
		slog.Debug("record rejected", slog.Any("error", err))
		return false
	}

	if p.seen != nil {
		key := r.String(p.dedupeField)
		if key != "" {
			if ok, _ := p.seen.ContainsOrAdd(key, struct{}{}); ok {
				p.metrics.addValidation("duplicate_" + p.dedupeField)
				return false
			}
		}
	}

	p.metrics.incrementProcessed()
	return true
}

func (p *Pipeline) enqueue(r models.Record) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ErrPipelineClosed
		}
	}()

	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.recordCh <- r:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	written    int64
	validation map[string]int
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addWritten(n int) {
	m.mu.Lock()
	m.written += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"written_records":   m.written,
		"validation_errors": copyValidation,
	}
}
