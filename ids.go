package transit

import "github.com/google/uuid"

// newTraceID mints an identifier used to correlate a Scope's log lines
// and errors across redirects, retries, and pool lease attempts.
func newTraceID() string {
	return uuid.New().String()
}
