// Package service wires detection, rendering, advice and statistics into the
// operations served by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/ewaste/internal/adapters/detector"
	"github.com/okian/ewaste/internal/adapters/mq/queue"
	"github.com/okian/ewaste/internal/adapters/mq/worker"
	"github.com/okian/ewaste/internal/adapters/render"
	"github.com/okian/ewaste/internal/adapters/storage"
	"github.com/okian/ewaste/internal/domain/advisory"
	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/internal/domain/stats"
	"github.com/okian/ewaste/internal/domain/types"
	"github.com/okian/ewaste/pkg/logger"
	"github.com/okian/ewaste/pkg/metrics"
)

const (
	// ImagePathPrefix is where the API serves stored images.
	ImagePathPrefix = "/api/images/"
	// AnnotatedPrefix marks the annotated copy of an upload.
	AnnotatedPrefix = "output_"

	defaultThreshold = 0.25
	defaultQueueSize = 256
)

// Service implements the API dependencies for the advisory system.
type Service struct {
	mu sync.RWMutex

	detector detector.Detector
	store    storage.Store
	renderer *render.Renderer
	kb       advisory.KnowledgeBase
	engine   *advisory.Engine
	stats    *stats.Aggregator
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	workerCount int
	queueSize   int
	threshold   float64
	now         func() time.Time

	started bool
	cancel  context.CancelFunc
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDetector sets the object detector. Required.
func WithDetector(d detector.Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithStore sets the image store. Required.
func WithStore(st storage.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithRenderer replaces the default annotation renderer.
func WithRenderer(r *render.Renderer) Option {
	return func(s *Service) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithKnowledgeBase replaces the built-in knowledge base.
func WithKnowledgeBase(kb advisory.KnowledgeBase) Option {
	return func(s *Service) {
		if kb.Recycling != nil || kb.Reuse != nil {
			s.kb = kb
		}
	}
}

// WithAggregator shares an existing statistics aggregator.
func WithAggregator(a *stats.Aggregator) Option {
	return func(s *Service) {
		if a != nil {
			s.stats = a
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of waiting detection jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithConfidenceThreshold sets the threshold used when an upload has none.
func WithConfidenceThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithClock overrides time.Now for naming and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Start must be called before Detect.
func New(opts ...Option) *Service {
	s := &Service{
		renderer:    render.New(),
		kb:          advisory.Default(),
		stats:       stats.New(),
		workerCount: runtime.NumCPU() * 2,
		queueSize:   defaultQueueSize,
		threshold:   defaultThreshold,
		now:         time.Now,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = advisory.NewEngine(s.kb,
		advisory.WithRecorder(s.stats),
		advisory.WithLabelColor(render.HexFor),
		advisory.WithLogger(s.logger.Named("advisory")),
	)
	return s
}

// Start creates the job queue and starts the worker pool. Workers outlive
// ctx's request scope; they stop in Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.detector == nil {
		return fmt.Errorf("%w: detector", ErrMissingDep)
	}
	if s.store == nil {
		return fmt.Errorf("%w: image store", ErrMissingDep)
	}

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s, s.logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)
	s.started = true

	s.logger.Info(ctx, "advisory service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
		logger.Float64("confidence_threshold", s.threshold),
		logger.Int("recycling_categories", s.kb.Recycling.Len()),
		logger.Int("reuse_categories", s.kb.Reuse.Len()),
	)
	return nil
}

// Stop drains queued jobs and stops the workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping advisory service...")

	err := s.pool.Shutdown(ctx)
	s.cancel()
	s.started = false

	s.logger.Info(ctx, "advisory service stopped")
	return err
}

// Detect queues an upload for processing and waits for its report. A full
// queue fails fast with ErrBackpressure.
func (s *Service) Detect(ctx context.Context, upload model.Upload) (model.Report, error) {
	s.mu.RLock()
	started, q := s.started, s.queue
	s.mu.RUnlock()
	if !started {
		return model.Report{}, ErrNotStarted
	}
	if len(upload.Data) == 0 {
		return model.Report{}, fmt.Errorf("%w: empty image", ErrInvalidUpload)
	}
	metrics.RecordUploadBytes(len(upload.Data))

	reply := make(chan model.JobResult, 1)
	job := model.Job{ID: uuid.NewString(), Ctx: ctx, Upload: upload, Reply: reply}
	if !q.Enqueue(ctx, job) {
		if err := ctx.Err(); err != nil {
			return model.Report{}, err
		}
		return model.Report{}, ErrBackpressure
	}

	select {
	case res := <-reply:
		return res.Report, res.Err
	case <-ctx.Done():
		return model.Report{}, ctx.Err()
	}
}

// Process runs the detection pipeline for one upload: decode, detect,
// validate, render, store the original and the annotation, and finally
// enrich. Nothing is stored until the detections are valid and rendered.
// Statistics are recorded by enrichment, so any earlier failure leaves them
// untouched.
func (s *Service) Process(ctx context.Context, upload model.Upload) (model.Report, error) {
	now := s.now()
	name := UploadName(now, upload.Filename)

	img, err := render.DecodeBytes(upload.Data)
	if err != nil {
		return model.Report{}, err
	}
	threshold := upload.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}

	start := time.Now()
	detections, err := s.detector.Detect(ctx, upload.Data, name, threshold)
	if err != nil {
		return model.Report{}, fmt.Errorf("detect %s: %w", name, err)
	}
	if err := model.ValidateBatch(detections); err != nil {
		metrics.RecordInvalidDetectionBatch()
		s.logger.Warn(ctx, "detector returned malformed detections",
			logger.String("file", name), logger.Error(err))
		return model.Report{}, err
	}

	annotated, err := s.renderer.Render(img, detections)
	if err != nil {
		return model.Report{}, err
	}
	encoded, err := render.EncodeBytes(annotated, name)
	if err != nil {
		return model.Report{}, err
	}
	elapsed := time.Since(start)

	if err := s.store.Put(ctx, name, upload.Data); err != nil {
		return model.Report{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	output := AnnotatedPrefix + name
	if err := s.store.Put(ctx, output, encoded); err != nil {
		return model.Report{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	enriched := s.engine.Enrich(ctx, detections, elapsed)
	s.logger.Info(ctx, "image processed",
		logger.String("file", name),
		logger.Int("detections", len(enriched)),
		logger.Duration("elapsed", elapsed))

	return model.Report{
		OriginalImage:  ImagePathPrefix + name,
		AnnotatedImage: ImagePathPrefix + output,
		Detections:     enriched,
		Timestamp:      now.Unix(),
	}, nil
}

// Image returns stored image bytes by name.
func (s *Service) Image(ctx context.Context, name string) ([]byte, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, name)
}

// Stats returns a snapshot of the processing statistics.
func (s *Service) Stats(_ context.Context) types.Statistics {
	return s.stats.Snapshot()
}

// QueueLen reports the number of waiting jobs.
func (s *Service) QueueLen(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil {
		return 0
	}
	return s.queue.Len(ctx)
}

// UploadName builds the stored name "<unix>_<uuid8>_<secure filename>".
func UploadName(now time.Time, filename string) string {
	secure := storage.SecureFilename(filename)
	if secure == "" {
		secure = "upload"
	}
	return fmt.Sprintf("%d_%s_%s", now.Unix(), uuid.NewString()[:8], secure)
}
