package vision

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
)

type scriptedCamera struct {
	mu        sync.Mutex
	opened    bool
	closed    int
	captures  int
	transient int
	permanent error
}

func (c *scriptedCamera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
	return nil
}

func (c *scriptedCamera) Capture(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return Frame{}, ErrCameraClosed
	}
	c.captures++
	if c.permanent != nil {
		return Frame{}, c.permanent
	}
	if c.transient > 0 {
		c.transient--
		return Frame{}, errors.New("transient capture failure")
	}
	return Frame{Width: 320, Height: 240, Data: []byte{0}, CapturedAt: time.Now().UTC()}, nil
}

func (c *scriptedCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	c.closed++
	return nil
}

func (c *scriptedCamera) captureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

func (c *scriptedCamera) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishesUpdatesOnDetections(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	var frameMu sync.Mutex
	var frameDims []int
	detector := DetectorFunc(func(ctx context.Context, frame Frame) ([]eventbus.Detection, error) {
		frameMu.Lock()
		frameDims = []int{frame.Width, frame.Height}
		frameMu.Unlock()
		return []eventbus.Detection{{Label: "personne", Confidence: 0.9}}, nil
	})

	events := make(chan eventbus.Envelope, 32)
	_, err := eventbus.SubscribeTo(bus, eventbus.Vision.Update, func(ctx context.Context, env eventbus.Envelope, ev eventbus.VisionUpdateEvent) error {
		events <- env
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	svc := New(bus,
		WithCamera(&scriptedCamera{}),
		WithDetector(detector),
		WithFrameRate(100),
		WithLogger(quietLogger()),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	var first, second eventbus.VisionUpdateEvent
	for i := 0; i < 2; i++ {
		select {
		case env := <-events:
			ev := env.Payload.(eventbus.VisionUpdateEvent)
			if env.Source != eventbus.SourceVision {
				t.Fatalf("unexpected source %q", env.Source)
			}
			if i == 0 {
				first = ev
			} else {
				second = ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for vision update %d", i+1)
		}
	}

	if second.Sequence <= first.Sequence {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Sequence, second.Sequence)
	}
	if len(first.Detections) != 1 || first.Detections[0].Label != "personne" {
		t.Fatalf("unexpected detections %+v", first.Detections)
	}
	if first.CapturedAt.IsZero() {
		t.Fatalf("expected capture timestamp")
	}

	frameMu.Lock()
	dims := append([]int(nil), frameDims...)
	frameMu.Unlock()
	if len(dims) != 2 || dims[0] != 320 || dims[1] != 240 {
		t.Fatalf("unexpected frame dimensions %v", dims)
	}

	last := svc.LastDetections()
	if len(last) != 1 || last[0].Label != "personne" {
		t.Fatalf("unexpected last detections %+v", last)
	}
}

func TestNoPublishWithoutDetections(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	detector := DetectorFunc(func(ctx context.Context, frame Frame) ([]eventbus.Detection, error) {
		return nil, nil
	})

	svc := New(bus,
		WithCamera(&scriptedCamera{}),
		WithDetector(detector),
		WithFrameRate(100),
		WithLogger(quietLogger()),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	waitFor(t, "frames", func() bool { return svc.Frames() >= 3 })
	if got := svc.Published(); got != 0 {
		t.Fatalf("expected no published updates, got %d", got)
	}
}

func TestCameraFailuresTurnFatal(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	errCh := make(chan eventbus.ErrorEvent, 1)
	_, err := eventbus.SubscribeTo(bus, eventbus.System.Error, func(ctx context.Context, env eventbus.Envelope, ev eventbus.ErrorEvent) error {
		errCh <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	camera := &scriptedCamera{permanent: errors.New("device lost")}
	svc := New(bus,
		WithCamera(camera),
		WithFrameRate(100),
		WithFailureLimit(3),
		WithLogger(quietLogger()),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	select {
	case ev := <-errCh:
		if ev.Module != ModuleName || ev.Recoverable {
			t.Fatalf("unexpected error event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for fatal camera error")
	}

	waitFor(t, "error state", func() bool { return svc.Status().State == module.StateError })
	if svc.Running() {
		t.Fatalf("expected module not running after camera loss")
	}
	if got := svc.ConsecutiveFailures(); got != 3 {
		t.Fatalf("expected 3 recorded failures, got %d", got)
	}
}

func TestTransientFailuresReset(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(quietLogger()))
	defer bus.Shutdown()

	camera := &scriptedCamera{transient: 2}
	svc := New(bus,
		WithCamera(camera),
		WithFrameRate(100),
		WithFailureLimit(5),
		WithLogger(quietLogger()),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	waitFor(t, "recovered frames", func() bool { return svc.Frames() >= 2 })
	if got := svc.ConsecutiveFailures(); got != 0 {
		t.Fatalf("expected failure count reset, got %d", got)
	}
	if !svc.Running() {
		t.Fatalf("expected module running after recovery")
	}
}

func TestStartRejectsBadFrameRate(t *testing.T) {
	svc := New(nil, WithFrameRate(500), WithLogger(quietLogger()))
	err := svc.Start(context.Background())
	if !errors.Is(err, ErrInvalidFrameRate) {
		t.Fatalf("expected ErrInvalidFrameRate, got %v", err)
	}
	if st := svc.Status(); st.State != module.StateError {
		t.Fatalf("expected error state, got %s", st.State)
	}
}

func TestStopClosesCameraOnce(t *testing.T) {
	camera := &scriptedCamera{}
	svc := New(nil, WithCamera(camera), WithFrameRate(100), WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "first frame", func() bool { return svc.Frames() >= 1 })

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if got := camera.closeCount(); got != 1 {
		t.Fatalf("expected camera closed exactly once, got %d", got)
	}

	captured := camera.captureCount()
	time.Sleep(50 * time.Millisecond)
	if camera.captureCount() != captured {
		t.Fatalf("expected capture loop halted after stop")
	}

	if st := svc.Status(); st.State != module.StateStopped {
		t.Fatalf("expected stopped, got %s", st.State)
	}
}

func TestDefaultStaticCamera(t *testing.T) {
	svc := New(nil, WithFrameRate(100), WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	waitFor(t, "frames from static camera", func() bool { return svc.Frames() >= 1 })
	if !svc.Running() {
		t.Fatalf("expected running with default camera")
	}
}

func TestStaticCameraLifecycle(t *testing.T) {
	cam := &StaticCamera{Width: 8, Height: 4}

	if _, err := cam.Capture(context.Background()); !errors.Is(err, ErrCameraClosed) {
		t.Fatalf("expected ErrCameraClosed before open, got %v", err)
	}

	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	frame, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if frame.Width != 8 || frame.Height != 4 || len(frame.Data) != 32 {
		t.Fatalf("unexpected frame %dx%d len=%d", frame.Width, frame.Height, len(frame.Data))
	}
	if cam.Captures() != 1 {
		t.Fatalf("expected one capture, got %d", cam.Captures())
	}

	if err := cam.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := cam.Capture(context.Background()); !errors.Is(err, ErrCameraClosed) {
		t.Fatalf("expected ErrCameraClosed after close, got %v", err)
	}
}
