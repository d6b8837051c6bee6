// Package daemon assembles the Ada assistant: stored settings feed the
// worker modules, a supervisor owns their lifecycle, and the local HTTP
// gateway exposes the running instance.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ada-ai/ada/internal/audio"
	"github.com/ada-ai/ada/internal/config"
	configstore "github.com/ada-ai/ada/internal/config/store"
	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/conversation"
	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/language"
	"github.com/ada-ai/ada/internal/module"
	"github.com/ada-ai/ada/internal/observability"
	"github.com/ada-ai/ada/internal/server"
	"github.com/ada-ai/ada/internal/supervisor"
	"github.com/ada-ai/ada/internal/vision"
)

// Settings keys the daemon reads and writes. SettingGatewayPort and
// SettingAllowedOrigins are configuration; the daemon.* keys record runtime
// state for the CLI.
const (
	SettingGatewayPort    = "gateway.http_port"
	SettingAllowedOrigins = "gateway.allowed_origins"
	SettingDaemonPort     = "daemon.http_port"
	SettingLastStartedAt  = "daemon.last_started_at"
)

// storeQueryTimeout bounds context deadlines for store lookups during
// daemon operation.
const storeQueryTimeout = 5 * time.Second

// Options groups dependencies required to construct an Assistant.
type Options struct {
	// Store is the opened configuration store. Required. The assistant
	// closes it when Run returns.
	Store *configstore.Store

	// Home overrides the instance directory. Empty means the default
	// Ada home.
	Home string

	// Logger receives daemon diagnostics. Defaults to log.Default().
	Logger *log.Logger

	// GatewayDisabled runs the assistant without the HTTP gateway.
	GatewayDisabled bool

	// GatewayPort overrides the stored gateway port when non-zero.
	GatewayPort int

	// Optional collaborators. Nil fields fall back to the built-ins: a
	// logging synthesizer, a synthetic camera, no detector, and the
	// rule-based French processor.
	Synthesizer audio.Synthesizer
	Camera      vision.Camera
	Detector    vision.Detector
	Processor   conversation.Processor
}

// Assistant is the composed Ada runtime.
type Assistant struct {
	store  *configstore.Store
	paths  config.InstancePaths
	logger *log.Logger

	bus     *eventbus.Bus
	counter *observability.EventCounter
	sup     *supervisor.Supervisor
	gateway *server.Gateway

	audio        *audio.Service
	conversation *conversation.Service
	vision       *vision.Service

	lifecycle *lifecycle

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	errMu  sync.Mutex
	runErr error
}

// New creates an assistant wired from the stored module settings.
func New(opts Options) (*Assistant, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: configuration store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	paths := config.GetInstancePaths(opts.Home)

	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()

	// Heal hand-edited rows before they feed module construction.
	for _, e := range []struct {
		name string
		fn   func(context.Context) (bool, error)
	}{
		{audio.ModuleName, opts.Store.EnsureAudioSettings},
		{conversation.ModuleName, opts.Store.EnsureConversationSettings},
		{vision.ModuleName, opts.Store.EnsureVisionSettings},
	} {
		repaired, err := e.fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("daemon: ensure %s settings: %w", e.name, err)
		}
		if repaired {
			logger.Printf("[Daemon] repaired out-of-range %s settings", e.name)
		}
	}

	audioCfg, err := opts.Store.LoadAudioSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("daemon: load audio settings: %w", err)
	}
	convCfg, err := opts.Store.LoadConversationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("daemon: load conversation settings: %w", err)
	}
	visionCfg, err := opts.Store.LoadVisionSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("daemon: load vision settings: %w", err)
	}

	counter := observability.NewEventCounter()
	bus := eventbus.New(eventbus.WithLogger(logger), eventbus.WithObserver(counter))

	processor := opts.Processor
	if processor == nil {
		processor = language.NewProcessor(
			language.WithLanguage(convCfg.Language),
			language.WithLogger(logger),
		)
	}

	audioOpts := []audio.Option{
		audio.WithLogger(logger),
		audio.WithSampleRate(audioCfg.SampleRate),
		audio.WithVoice(audioCfg.Voice),
		audio.WithVolume(audioCfg.Volume),
	}
	if opts.Synthesizer != nil {
		audioOpts = append(audioOpts, audio.WithSynthesizer(opts.Synthesizer))
	}
	audioSvc := audio.New(bus, audioOpts...)

	convSvc := conversation.NewService(bus, processor,
		conversation.WithLogger(logger),
		conversation.WithMaxHistory(convCfg.MaxHistory),
		conversation.WithContextWindow(convCfg.ContextWindow),
		conversation.WithLanguage(convCfg.Language),
		conversation.WithResponseTimeout(convCfg.ResponseTimeout),
	)

	visionOpts := []vision.Option{
		vision.WithLogger(logger),
		vision.WithResolution(visionCfg.FrameWidth, visionCfg.FrameHeight),
		vision.WithFrameRate(visionCfg.FrameRate),
	}
	if opts.Camera != nil {
		visionOpts = append(visionOpts, vision.WithCamera(opts.Camera))
	}
	if opts.Detector != nil && visionCfg.DetectionEnabled {
		visionOpts = append(visionOpts, vision.WithDetector(opts.Detector))
	}
	visionSvc := vision.New(bus, visionOpts...)

	sup := supervisor.New(bus, supervisor.WithLogger(logger))

	// Audio first so replies can be voiced the moment the conversation
	// module comes up; vision is an independent consumer and starts last.
	for _, mod := range []module.Module{audioSvc, convSvc, visionSvc} {
		if err := sup.Register(mod); err != nil {
			return nil, fmt.Errorf("daemon: register module %q: %w", mod.Name(), err)
		}
	}

	a := &Assistant{
		store:        opts.Store,
		paths:        paths,
		logger:       logger,
		bus:          bus,
		counter:      counter,
		sup:          sup,
		audio:        audioSvc,
		conversation: convSvc,
		vision:       visionSvc,
		lifecycle:    newLifecycle(),
	}

	if lang, ok := language.Normalize(convCfg.Language); ok {
		logger.Printf("[Daemon] conversation language %s (%s)", lang.ISO1, lang.NativeName)
	}

	if !opts.GatewayDisabled {
		port := opts.GatewayPort
		if port == 0 {
			port = storedGatewayPort(ctx, opts.Store, logger)
		}

		exporter := observability.NewPrometheusExporter(bus, counter)
		exporter.WithModuleStates(a.moduleStates)
		exporter.WithQueueDepths(a.queueDepths)
		exporter.WithSpeechMetrics(a.speechMetrics)

		gw := server.New(bus,
			server.WithLogger(logger),
			server.WithPort(port),
			server.WithAllowedOrigins(storedAllowedOrigins(ctx, opts.Store)...),
			server.WithModuleStatusProvider(sup),
			server.WithConversationProvider(convSvc),
			server.WithMetricsExporter(exporter),
		)
		gw.SetShutdownFunc(func(context.Context) error {
			go a.Shutdown()
			return nil
		})
		a.gateway = gw
	}

	return a, nil
}

// Run brings the assistant up and blocks until Shutdown is called, a module
// fails fatally, or ctx is cancelled. The config store is closed before Run
// returns.
func (a *Assistant) Run(ctx context.Context) error {
	if err := WritePIDFile(a.paths.PID, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer RemovePIDFile(a.paths.PID)

	runCtx, cancel := context.WithCancel(ctx)
	a.setCancel(cancel)
	defer cancel()

	a.bus.StartMetricsReporter(runCtx, constants.MetricsReportInterval)

	if a.gateway != nil {
		// Bind before the modules start so a taken port fails fast and
		// the recorded port is the real one.
		if err := a.gateway.Listen(); err != nil {
			a.closeStore()
			return fmt.Errorf("daemon: %w", err)
		}
		go func() {
			if err := a.gateway.Serve(); err != nil {
				a.setRunError(err)
				a.lifecycle.Shutdown()
			}
		}()
	}

	if err := a.sup.Start(runCtx); err != nil {
		a.setRunError(fmt.Errorf("daemon: start modules: %w", err))
	} else {
		a.watchModuleFailures()
		a.recordStartup(runCtx)
		a.logger.Printf("[Daemon] ada is ready (home=%s)", a.paths.Home)

		select {
		case <-a.lifecycle.Done():
		case <-a.sup.Done():
			a.setRunError(a.sup.Cause())
		case <-runCtx.Done():
		}
	}

	// Mark the stop as requested before cancelling so module exits caused
	// by the teardown are not reported as run failures.
	a.lifecycle.Shutdown()
	cancel()

	// Gateway first so no new input reaches stopping modules, then the
	// supervisor's guarded reverse stop.
	if a.gateway != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), constants.GatewayShutdownTimeout)
		if err := a.gateway.Shutdown(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "daemon: gateway shutdown error: %v\n", err)
		}
		stopCancel()
	}

	if err := a.sup.Stop(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "daemon: module shutdown error: %v\n", err)
		a.setRunError(err)
	}

	a.bus.Shutdown()
	a.closeStore()

	return a.getRunError()
}

// Shutdown asks a running assistant to stop. It returns immediately; Run
// performs the teardown and returns its error.
func (a *Assistant) Shutdown() {
	a.lifecycle.Shutdown()

	a.cancelMu.Lock()
	cancel := a.cancel
	a.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// watchModuleFailures surfaces the supervisor's fatal error and turns it
// into a shutdown request.
func (a *Assistant) watchModuleFailures() {
	go func() {
		for {
			select {
			case err := <-a.sup.Errors():
				if err == nil {
					continue
				}
				select {
				case <-a.lifecycle.Done():
					// Teardown already in flight; module exits are
					// a consequence, not a failure.
				default:
					a.setRunError(err)
					fmt.Fprintf(os.Stderr, "%v\n", err)
				}
				a.lifecycle.Shutdown()
			case <-a.sup.Done():
				return
			}
		}
	}()
}

// recordStartup persists runtime state the CLI reads to find a live daemon.
func (a *Assistant) recordStartup(ctx context.Context) {
	saveCtx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()

	values := map[string]string{
		SettingLastStartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if a.gateway != nil {
		values[SettingDaemonPort] = strconv.Itoa(a.gateway.Port())
	}
	if err := a.store.SaveSettings(saveCtx, values); err != nil {
		a.logger.Printf("[Daemon] record startup state: %v", err)
		return
	}
	if a.gateway == nil {
		if err := a.store.DeleteSetting(saveCtx, SettingDaemonPort); err != nil {
			a.logger.Printf("[Daemon] clear %s: %v", SettingDaemonPort, err)
		}
	}
}

func (a *Assistant) closeStore() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: store close error: %v\n", err)
	}
}

func (a *Assistant) setCancel(cancel context.CancelFunc) {
	a.cancelMu.Lock()
	a.cancel = cancel
	a.cancelMu.Unlock()
}

func (a *Assistant) setRunError(err error) {
	if err == nil {
		return
	}

	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.runErr == nil {
		a.runErr = err
	}
}

func (a *Assistant) getRunError() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.runErr
}

func (a *Assistant) moduleStates() map[string]module.Status {
	statuses := a.sup.Statuses()
	out := make(map[string]module.Status, len(statuses))
	for _, st := range statuses {
		out[st.Name] = st.Status
	}
	return out
}

func (a *Assistant) queueDepths() map[string]int {
	return map[string]int{
		audio.ModuleName:        a.audio.QueueDepth(),
		conversation.ModuleName: a.conversation.QueueDepth(),
	}
}

func (a *Assistant) speechMetrics() observability.SpeechMetricsSnapshot {
	return observability.SpeechMetricsSnapshot{
		Spoken:   a.audio.Spoken(),
		Speaking: a.audio.Speaking(),
	}
}

// Bus returns the event bus.
func (a *Assistant) Bus() *eventbus.Bus {
	return a.bus
}

// Supervisor returns the module supervisor.
func (a *Assistant) Supervisor() *supervisor.Supervisor {
	return a.sup
}

// Gateway returns the HTTP gateway, or nil when disabled.
func (a *Assistant) Gateway() *server.Gateway {
	return a.gateway
}

// Conversation returns the conversation module.
func (a *Assistant) Conversation() *conversation.Service {
	return a.conversation
}

// Audio returns the audio module.
func (a *Assistant) Audio() *audio.Service {
	return a.audio
}

// Vision returns the vision module.
func (a *Assistant) Vision() *vision.Service {
	return a.vision
}

// storedGatewayPort reads the configured gateway port, falling back to the
// default on missing or unusable values.
func storedGatewayPort(ctx context.Context, st *configstore.Store, logger *log.Logger) int {
	value, err := st.GetSetting(ctx, SettingGatewayPort)
	if err != nil {
		if !configstore.IsNotFound(err) {
			logger.Printf("[Daemon] read %s: %v", SettingGatewayPort, err)
		}
		return server.DefaultPort
	}

	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 0 || port > 65535 {
		logger.Printf("[Daemon] ignoring invalid %s value %q", SettingGatewayPort, value)
		return server.DefaultPort
	}
	return port
}

// storedAllowedOrigins reads the comma-separated extra CORS origins.
func storedAllowedOrigins(ctx context.Context, st *configstore.Store) []string {
	value, err := st.GetSetting(ctx, SettingAllowedOrigins)
	if err != nil {
		return nil
	}

	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
