package classifier

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Tutortoise/leafdx/bridge"
	"github.com/Tutortoise/leafdx/inference"
	"github.com/Tutortoise/leafdx/models"
	"github.com/Tutortoise/leafdx/preprocess"
)

const DefaultTopK = 3

var (
	ErrNotInitialized = inference.ErrNotInitialized
	// ErrShutDown also matches ErrNotInitialized.
	ErrShutDown = fmt.Errorf("%w: classifier is shut down", ErrNotInitialized)
)

// ModelSource supplies the raw model bytes.
type ModelSource func(ctx context.Context) ([]byte, error)

// BytesSource serves an in-memory model.
func BytesSource(modelBytes []byte) ModelSource {
	return func(context.Context) ([]byte, error) { return modelBytes, nil }
}

type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	ShutDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case ShutDown:
		return "shut down"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Service classifies images with one loaded model.
//
// Initialize, Classify and Shutdown never block on model work: Initialize and
// Classify return futures completed by a background executor. Calling
// Initialize again while ready succeeds without reloading; while a load is in
// flight it returns that load's future. Shutdown is terminal.
//
// Infer calls are limited to the handle's declared concurrency (one for a
// single session), and Shutdown waits for every accepted task before the
// handle is released.
type Service struct {
	engine       inference.Engine
	source       ModelSource
	labels       []string
	resampler    preprocess.Resampler
	topK         int
	executor     *bridge.Executor
	ownsExecutor bool
	logger       *log.Entry

	mu         sync.Mutex
	state      State
	initFuture *bridge.Future[struct{}]
	initGen    uint64
	handle     inference.Handle
	encoder    *preprocess.Encoder
	inferSem   *semaphore.Weighted
	tasks      sync.WaitGroup

	classified atomic.Int64
}

type Option func(*Service)

// WithLabels replaces the default plant disease catalog.
func WithLabels(labels []string) Option {
	return func(s *Service) {
		s.labels = append([]string(nil), labels...)
	}
}

func WithResampler(r preprocess.Resampler) Option {
	return func(s *Service) { s.resampler = r }
}

func WithTopK(k int) Option {
	return func(s *Service) { s.topK = k }
}

// WithExecutor runs tasks on a shared executor. The caller keeps ownership
// and must not close it before Shutdown returns.
func WithExecutor(ex *bridge.Executor) Option {
	return func(s *Service) {
		if ex != nil {
			s.executor = ex
			s.ownsExecutor = false
		}
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(engine inference.Engine, source ModelSource, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		source:    source,
		labels:    models.DefaultLabels(),
		resampler: preprocess.DefaultResampler(),
		topK:      DefaultTopK,
		logger:    log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.executor == nil {
		s.executor = bridge.NewExecutor(0, s.logger)
		s.ownsExecutor = true
	}
	s.logger = s.logger.WithField("component", "classifier")
	return s
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Initialize loads the model in the background.
func (s *Service) Initialize(ctx context.Context) *bridge.Future[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Ready:
		return bridge.Completed(struct{}{}, nil)
	case Initializing:
		return s.initFuture
	case ShutDown:
		return bridge.Completed(struct{}{}, fmt.Errorf("initialize: %w", ErrShutDown))
	}

	s.state = Initializing
	s.initGen++
	gen := s.initGen
	s.tasks.Add(1)
	s.logger.WithField("state", s.state).Debug("Loading model")

	f := bridge.Submit(s.executor, "initialize", func() (struct{}, error) {
		err := s.load(ctx)
		if err != nil {
			s.abortInit(gen)
		}
		return struct{}{}, err
	})
	f.OnComplete(func(_ struct{}, err error) {
		if err != nil {
			s.abortInit(gen)
		}
		s.tasks.Done()
	})
	s.initFuture = f
	return f
}

func (s *Service) load(ctx context.Context) error {
	modelBytes, err := s.source(ctx)
	if err != nil {
		return &inference.LoadError{Message: "read model", Cause: err}
	}

	handle, err := s.engine.Load(modelBytes)
	if err != nil {
		return err
	}

	shape := handle.Shape()
	if err := s.checkShape(shape); err != nil {
		handle.Release()
		return err
	}

	layout := preprocess.Interleaved
	if shape.ChannelsFirst {
		layout = preprocess.Planar
	}
	encoder := preprocess.NewEncoder(preprocess.WithResampler(s.resampler), preprocess.WithLayout(layout))

	s.mu.Lock()
	if s.state != Initializing {
		s.mu.Unlock()
		handle.Release()
		return fmt.Errorf("initialize: %w", ErrShutDown)
	}
	s.handle = handle
	s.encoder = encoder
	s.inferSem = semaphore.NewWeighted(int64(max(handle.Concurrency(), 1)))
	s.state = Ready
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{
		"shape":   shape.String(),
		"layout":  encoder.Layout().String(),
		"classes": len(s.labels),
	}).Info("Classifier ready")
	return nil
}

func (s *Service) checkShape(shape inference.Shape) error {
	if shape.Channels != preprocess.Channels {
		return &inference.LoadError{Message: fmt.Sprintf("model expects %d channels, want %d", shape.Channels, preprocess.Channels)}
	}
	if shape.Width <= 0 || shape.Height <= 0 {
		return &inference.LoadError{Message: fmt.Sprintf("model input %dx%d is not usable", shape.Width, shape.Height)}
	}
	if shape.Classes != len(s.labels) {
		return &inference.LoadError{Message: fmt.Sprintf("model declares %d classes, catalog has %d labels", shape.Classes, len(s.labels))}
	}
	return nil
}

// abortInit returns a failed load to Uninitialized so a caller may retry.
func (s *Service) abortInit(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Initializing && s.initGen == gen {
		s.state = Uninitialized
		s.initFuture = nil
	}
}

// Classify runs the full pipeline on img in the background. It fails with
// ErrNotInitialized unless the service is ready.
func (s *Service) Classify(img image.Image) *bridge.Future[models.ClassificationResult] {
	s.mu.Lock()
	if s.state != Ready {
		state := s.state
		s.mu.Unlock()
		err := ErrNotInitialized
		if state == ShutDown {
			err = ErrShutDown
		}
		return bridge.Completed(models.ClassificationResult{}, fmt.Errorf("classify: %w", err))
	}
	handle, encoder, sem := s.handle, s.encoder, s.inferSem
	s.tasks.Add(1)
	s.mu.Unlock()

	f := bridge.Submit(s.executor, "classify", func() (models.ClassificationResult, error) {
		return s.classify(handle, encoder, sem, img)
	})
	f.OnComplete(func(models.ClassificationResult, error) { s.tasks.Done() })
	return f
}

func (s *Service) classify(handle inference.Handle, encoder *preprocess.Encoder, sem *semaphore.Weighted, img image.Image) (models.ClassificationResult, error) {
	timings := models.ProcessingTimings{RequestID: uuid.NewString()}
	startTotal := time.Now()
	shape := handle.Shape()

	prepStart := time.Now()
	input, err := encoder.Encode(img, shape.Width, shape.Height)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("prepare input buffer: %w", err)
	}
	defer encoder.Recycle(input)
	timings.Preprocess = time.Since(prepStart)

	queueStart := time.Now()
	// Background never cancels, so Acquire cannot fail.
	_ = sem.Acquire(context.Background(), 1)
	timings.Queue = time.Since(queueStart)

	inferStart := time.Now()
	scores, err := handle.Infer(input)
	sem.Release(1)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("model inference: %w", err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	result, err := Postprocess(scores, s.labels, s.topK)
	if err != nil {
		return models.ClassificationResult{}, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)
	timings.Total = time.Since(startTotal)
	result.Timings = timings

	s.classified.Add(1)
	s.logTimings(result)
	return result, nil
}

func (s *Service) logTimings(result models.ClassificationResult) {
	if !s.logger.Logger.IsLevelEnabled(log.DebugLevel) {
		return
	}
	t := result.Timings
	s.logger.WithFields(log.Fields{
		"request_id":  t.RequestID,
		"label":       result.Label,
		"confidence":  result.Confidence,
		"preprocess":  t.Preprocess,
		"queue":       t.Queue,
		"inference":   t.Inference,
		"postprocess": t.Postprocess,
		"total":       t.Total,
	}).Debug("Classified image")
}

// Shutdown stops accepting work, waits for accepted tasks and releases the
// model. Later calls return immediately.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.state == ShutDown {
		s.mu.Unlock()
		return
	}
	s.state = ShutDown
	s.mu.Unlock()

	s.tasks.Wait()

	s.mu.Lock()
	handle, encoder := s.handle, s.encoder
	s.handle, s.encoder, s.inferSem, s.initFuture = nil, nil, nil, nil
	s.mu.Unlock()

	if handle != nil {
		if err := handle.Release(); err != nil {
			s.logger.WithError(err).Warn("Failed to release model")
		}
	}
	if encoder != nil {
		encoder.Reset()
	}
	if s.ownsExecutor {
		s.executor.Close()
	}
	s.logger.Info("Classifier shut down")
}

// Stats is a monitoring snapshot.
type Stats struct {
	State      string               `json:"state"`
	Shape      *inference.Shape     `json:"shape,omitempty"`
	Layout     string               `json:"layout,omitempty"`
	Labels     []string             `json:"labels"`
	Classified int64                `json:"classified"`
	Tasks      bridge.Stats         `json:"tasks"`
	Pool       *inference.PoolStats `json:"pool,omitempty"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	state, handle, encoder := s.state, s.handle, s.encoder
	s.mu.Unlock()

	stats := Stats{
		State:      state.String(),
		Labels:     s.Labels(),
		Classified: s.classified.Load(),
		Tasks:      s.executor.Stats(),
	}
	if handle != nil {
		shape := handle.Shape()
		stats.Shape = &shape
		stats.Layout = encoder.Layout().String()
		if pool, ok := handle.(*inference.SessionPool); ok {
			poolStats := pool.GetMetrics()
			stats.Pool = &poolStats
		}
	}
	return stats
}
