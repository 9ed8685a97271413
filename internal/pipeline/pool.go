package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

// Frame is one probe embedding produced by the capture and inference collaborator.
type Frame struct {
	Embedding  []float32
	CapturedAt time.Time
}

// Processor handles a single frame.
type Processor interface {
	ProcessFrameEmbedding(ctx context.Context, probe []float32, at time.Time) (domain.Outcome, error)
}

// FramePoolConfig holds configuration for the pool
type FramePoolConfig struct {
	Workers    int // Concurrent processors (default: 4)
	BufferSize int // Frames waiting for a worker (default: 64)
}

func DefaultFramePoolConfig() FramePoolConfig {
	return FramePoolConfig{
		Workers:    4,
		BufferSize: 64,
	}
}

// FramePool processes frames on a fixed set of workers. Submit never blocks the
// capture loop: when every worker is busy and the buffer is full the frame is dropped.
type FramePool struct {
	processor Processor
	logger    *slog.Logger
	observer  Observer
	workers   int

	frames chan Frame

	processed atomic.Uint64
	dropped   atomic.Uint64

	// Lifecycle
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewFramePool(processor Processor, logger *slog.Logger, config FramePoolConfig, observer Observer) *FramePool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if observer == nil {
		observer = noopObserver{}
	}

	return &FramePool{
		processor: processor,
		logger:    logger,
		observer:  observer,
		workers:   config.Workers,
		frames:    make(chan Frame, config.BufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the workers. Frames are processed with ctx, so cancelling it
// aborts in-flight enqueues.
func (p *FramePool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(ctx)
		}
		p.logger.Info("frame pool started",
			"workers", p.workers,
			"buffer_size", cap(p.frames),
		)
	})
}

// Stop waits for in-flight frames. Buffered frames that no worker picked up are discarded.
func (p *FramePool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.logger.Info("frame pool stopped",
			"processed", p.processed.Load(),
			"dropped", p.dropped.Load(),
		)
	})
}

// Submit hands a frame to the pool and reports whether it was accepted.
func (p *FramePool) Submit(frame Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.frames <- frame:
		return true
	default:
		p.dropped.Add(1)
		p.observer.FrameDropped()
		p.logger.Debug("frame dropped - buffer full")
		return false
	}
}

// Dropped returns the number of frames rejected because the buffer was full.
func (p *FramePool) Dropped() uint64 {
	return p.dropped.Load()
}

// Processed returns the number of frames handed to the processor.
func (p *FramePool) Processed() uint64 {
	return p.processed.Load()
}

func (p *FramePool) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case frame := <-p.frames:
			// errors are logged and counted by the processor
			_, _ = p.processor.ProcessFrameEmbedding(ctx, frame.Embedding, frame.CapturedAt)
			p.processed.Add(1)
		}
	}
}
