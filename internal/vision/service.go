// Package vision is the frame capture module: a ticker-paced loop pulls
// frames from a Camera collaborator, runs an optional Detector, and publishes
// vision_update events when something was seen.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
)

// ModuleName is the supervisor registration name.
const ModuleName = "vision"

// ErrInvalidFrameRate indicates a frame rate outside the supported range.
var ErrInvalidFrameRate = errors.New("vision: frame rate out of range")

// ErrCameraClosed is returned by StaticCamera captures before Open.
var ErrCameraClosed = errors.New("vision: camera not opened")

const (
	defaultWidth        = 640
	defaultHeight       = 480
	defaultFrameRate    = 15
	defaultFailureLimit = 5

	maxFrameRate = 120
)

// Frame is one captured image.
type Frame struct {
	Width      int
	Height     int
	Data       []byte
	CapturedAt time.Time
}

// Camera produces frames. Capture blocks for at most one frame interval.
type Camera interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]eventbus.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame Frame) ([]eventbus.Detection, error)

// Detect invokes the underlying function.
func (f DetectorFunc) Detect(ctx context.Context, frame Frame) ([]eventbus.Detection, error) {
	return f(ctx, frame)
}

// StaticCamera produces synthetic blank frames. It is the default
// collaborator when no capture device is wired.
type StaticCamera struct {
	Width  int
	Height int

	mu       sync.Mutex
	opened   bool
	captures uint64
}

// Open implements Camera.
func (c *StaticCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Height <= 0 {
		c.Height = defaultHeight
	}
	c.opened = true
	return nil
}

// Capture implements Camera.
func (c *StaticCamera) Capture(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return Frame{}, ErrCameraClosed
	}
	c.captures++
	return Frame{
		Width:      c.Width,
		Height:     c.Height,
		Data:       make([]byte, c.Width*c.Height),
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Close implements Camera.
func (c *StaticCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}

// Captures returns how many frames were produced.
func (c *StaticCamera) Captures() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCamera sets the capture device.
func WithCamera(camera Camera) Option {
	return func(s *Service) {
		if camera != nil {
			s.camera = camera
		}
	}
}

// WithDetector sets the object detector run on each frame.
func WithDetector(detector Detector) Option {
	return func(s *Service) {
		if detector != nil {
			s.detector = detector
		}
	}
}

// WithFrameRate overrides the capture cadence, validated at Start.
func WithFrameRate(fps int) Option {
	return func(s *Service) {
		if fps != 0 {
			s.frameRate = fps
		}
	}
}

// WithResolution overrides the requested frame size.
func WithResolution(width, height int) Option {
	return func(s *Service) {
		if width > 0 && height > 0 {
			s.width = width
			s.height = height
		}
	}
}

// WithFailureLimit overrides how many consecutive capture failures are
// tolerated before the module goes into error state.
func WithFailureLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.failureLimit = limit
		}
	}
}

// Service is the vision module.
type Service struct {
	bus      *eventbus.Bus
	camera   Camera
	detector Detector
	logger   *log.Logger

	frameRate    int
	width        int
	height       int
	failureLimit int
	joinTimeout  time.Duration

	life module.Lifecycle
	loop eventbus.ServiceLifecycle

	mu             sync.RWMutex
	frames         uint64
	published      uint64
	failures       int
	lastDetections []eventbus.Detection
}

// New creates a vision module bound to the bus.
func New(bus *eventbus.Bus, opts ...Option) *Service {
	svc := &Service{
		bus:          bus,
		logger:       log.Default(),
		frameRate:    defaultFrameRate,
		width:        defaultWidth,
		height:       defaultHeight,
		failureLimit: defaultFailureLimit,
		joinTimeout:  constants.WorkerJoinTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Name implements module.Module.
func (s *Service) Name() string { return ModuleName }

// Start opens the camera and launches the capture loop.
func (s *Service) Start(ctx context.Context) error {
	if state := s.life.Status().State; state.Terminal() {
		return fmt.Errorf("vision: cannot start from state %s", state)
	}
	if s.life.Running() {
		return nil
	}

	if s.frameRate < 1 || s.frameRate > maxFrameRate {
		err := fmt.Errorf("%w: %d", ErrInvalidFrameRate, s.frameRate)
		s.life.Fail(err)
		return err
	}
	if s.camera == nil {
		s.camera = &StaticCamera{Width: s.width, Height: s.height}
	}

	if err := s.camera.Open(ctx); err != nil {
		s.life.Fail(err)
		return fmt.Errorf("vision: open camera: %w", err)
	}

	s.loop.Start(ctx)
	s.loop.Go(s.captureLoop)
	s.life.MarkRunning()
	s.logger.Printf("[Vision] started (%dx%d @%dfps)", s.width, s.height, s.frameRate)
	return nil
}

// Stop halts the capture loop and releases the camera. Cleanup runs at most
// once.
func (s *Service) Stop(ctx context.Context) error {
	if !s.life.BeginStop() {
		return nil
	}

	s.loop.Stop()
	waitCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	err := s.loop.Wait(waitCtx)
	cancel()
	if err != nil {
		s.logger.Printf("[Vision] capture loop did not exit within %s: %v", s.joinTimeout, err)
	}

	if s.camera != nil {
		if err := s.camera.Close(); err != nil {
			s.logger.Printf("[Vision] camera close failed: %v", err)
		}
	}

	s.life.MarkStopped()
	s.logger.Printf("[Vision] stopped")
	return nil
}

// Status implements module.Module.
func (s *Service) Status() module.Status { return s.life.Status() }

// Running implements module.Module.
func (s *Service) Running() bool { return s.life.Running() }

// WaitUntilReady implements module.Module.
func (s *Service) WaitUntilReady(timeout time.Duration) bool {
	return s.life.WaitUntilReady(timeout)
}

func (s *Service) captureLoop(ctx context.Context) {
	interval := time.Second / time.Duration(s.frameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := s.step(ctx, &seq); stop {
				return
			}
		}
	}
}

// step captures and processes one frame. It returns true when the loop must
// exit because the camera is considered lost.
func (s *Service) step(ctx context.Context, seq *uint64) bool {
	frame, err := s.camera.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		failures := s.recordFailure()
		s.logger.Printf("[Vision] capture failed (%d/%d): %v", failures, s.failureLimit, err)
		if failures < s.failureLimit {
			return false
		}

		cause := fmt.Sprintf("camera failed %d times in a row: %v", failures, err)
		s.life.Fail(errors.New(cause))
		_ = eventbus.Publish(ctx, s.bus, eventbus.System.Error, eventbus.SourceVision, eventbus.ErrorEvent{
			Module:      ModuleName,
			Message:     cause,
			Recoverable: false,
		})
		return true
	}
	s.resetFailures()
	*seq++

	var detections []eventbus.Detection
	if s.detector != nil {
		detections, err = s.detector.Detect(ctx, frame)
		if err != nil {
			s.logger.Printf("[Vision] detection failed on frame %d: %v", *seq, err)
			s.noteFrame(nil)
			return false
		}
	}
	s.noteFrame(detections)

	if len(detections) == 0 {
		return false
	}

	err = eventbus.Publish(ctx, s.bus, eventbus.Vision.Update, eventbus.SourceVision, eventbus.VisionUpdateEvent{
		Sequence:   *seq,
		Detections: detections,
		CapturedAt: frame.CapturedAt,
	})
	if err != nil {
		s.logger.Printf("[Vision] publish update failed: %v", err)
		return false
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	return false
}

func (s *Service) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

func (s *Service) resetFailures() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

func (s *Service) noteFrame(detections []eventbus.Detection) {
	s.mu.Lock()
	s.frames++
	if len(detections) > 0 {
		s.lastDetections = append([]eventbus.Detection(nil), detections...)
	}
	s.mu.Unlock()
}

// Frames returns the number of frames processed.
func (s *Service) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Published returns the number of vision updates emitted.
func (s *Service) Published() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// ConsecutiveFailures returns the current run of capture failures.
func (s *Service) ConsecutiveFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

// LastDetections returns a copy of the most recent non-empty detection set.
func (s *Service) LastDetections() []eventbus.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]eventbus.Detection(nil), s.lastDetections...)
}
