package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultErrorBodyExcerptBytes = 512
)

// File size constants used by media packages
const (
	BytesPerMegabyte      = 1024 * 1024
	DefaultMaxMediaSizeMB = 16
)

// Validation constants used by packages
const (
	MaxMessageIDLength = 256
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

// Circuit breaker defaults for outbound provider calls
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerTimeoutSec  = 30
)
