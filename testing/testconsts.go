package testing

import "time"

// Logger Constants
// These constants define common logger configurations used across test files.
const (
	// TestLoggerLevelDisabled completely disables logging in tests
	TestLoggerLevelDisabled = "disabled"
)

// Service Names
// Common service and worker names used in test configurations.
const (
	TestServiceName = "test-service"
	TestWorkerOne   = "worker-1"
	TestWorkerTwo   = "worker-2"
)

// Time Duration Constants
// Common time durations used in test synchronization and timeouts.
const (
	// TestLongDelay is a longer delay for slow operations (1 second)
	TestLongDelay = 1 * time.Second
	// TestEventuallyTimeout is the timeout for require.Eventually assertions (500ms)
	TestEventuallyTimeout = 500 * time.Millisecond
	// TestEventuallyTick is the polling interval for require.Eventually (50ms)
	TestEventuallyTick = 50 * time.Millisecond
)
