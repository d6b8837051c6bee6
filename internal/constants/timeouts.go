package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration5Milliseconds   = 5 * time.Millisecond
	Duration10Milliseconds  = 10 * time.Millisecond
	Duration25Milliseconds  = 25 * time.Millisecond
	Duration50Milliseconds  = 50 * time.Millisecond
	Duration100Milliseconds = 100 * time.Millisecond
	Duration200Milliseconds = 200 * time.Millisecond
	Duration250Milliseconds = 250 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration2Seconds  = 2 * time.Second
	Duration3Seconds  = 3 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration15Seconds = 15 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration60Seconds = 60 * time.Second

	Duration2Minutes  = 2 * time.Minute
	Duration5Minutes  = 5 * time.Minute
	Duration10Minutes = 10 * time.Minute
)

// Domain-level timeout constants.
const (
	// HealthPollInterval paces the supervisor's liveness sweep over modules.
	HealthPollInterval = Duration1Second

	// ModuleReadyTimeout bounds how long the supervisor waits for a module
	// to signal readiness after a successful start call.
	ModuleReadyTimeout = Duration5Seconds

	// ModuleStopTimeout bounds each module's stop during reverse shutdown.
	ModuleStopTimeout = Duration5Seconds

	// WorkerIdleTick is the queue-receive timeout inside worker loops; an
	// idle tick lets the loop re-check liveness without busy waiting.
	WorkerIdleTick = Duration1Second

	// WorkerJoinTimeout bounds the wait for a worker goroutine to exit
	// during stop. Expiry is logged and stop proceeds.
	WorkerJoinTimeout = Duration2Seconds

	GatewayShutdownTimeout = Duration5Seconds
	ClientRequestTimeout   = Duration5Seconds
	ModelDownloadTimeout   = Duration10Minutes

	// MetricsReportInterval paces the bus counter log line.
	MetricsReportInterval = Duration60Seconds
)
