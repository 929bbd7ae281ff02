package observability

import "sync/atomic"

// requestLoggingEnabled gates per-request access logging. Errors (4xx/5xx)
// are always logged regardless of this setting.
var requestLoggingEnabled atomic.Bool

func init() {
	requestLoggingEnabled.Store(true)
}

// IsRequestLoggingEnabled reports whether successful HTTP requests should be logged.
func IsRequestLoggingEnabled() bool {
	return requestLoggingEnabled.Load()
}

// SetRequestLogging enables or disables logging of successful HTTP requests.
func SetRequestLogging(enabled bool) {
	requestLoggingEnabled.Store(enabled)
}
