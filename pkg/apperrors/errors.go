// Package apperrors defines the error taxonomy shared across the engine.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrTenantNotResolved indicates the tenant directory has no entry for
	// the requested tenant. Callers render this as "tenant not provisioned".
	ErrTenantNotResolved = errors.New("tenant not resolved")

	// ErrMissingParameter indicates a template placeholder has no
	// corresponding entry in the supplied parameters.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrInvalidParameter indicates a supplied parameter value failed
	// validation (non-integer list element, injection pattern, bad date).
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrJobNotFound indicates the backend reports no job for the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrCacheCorrupt indicates a cached payload could not be decoded.
	// Recovered locally (treated as a miss) and never surfaced to callers.
	ErrCacheCorrupt = errors.New("cache entry corrupt")

	// ErrRelayUnavailable indicates the pub/sub relay could not be reached.
	// Logged and swallowed; never fails the primary query operation.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrMultipleStatements indicates a query contained statement chaining.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed")
)

// UpstreamQueryError is returned when the remote query-execution backend
// answers with a non-2xx status or an unparsable body. The raw body is
// carried for diagnostics and attached to responses only outside production.
type UpstreamQueryError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamQueryError) Error() string {
	return fmt.Sprintf("upstream query error: status %d: %s", e.StatusCode, e.Body)
}

// AsUpstream reports whether err is (or wraps) an UpstreamQueryError.
func AsUpstream(err error) (*UpstreamQueryError, bool) {
	var ue *UpstreamQueryError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
