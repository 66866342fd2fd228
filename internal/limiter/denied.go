package limiter

// Denied wraps a rejection so the HTTP layer can recover the full
// decision (for X-RateLimit headers) while the error chain still
// carries the standard rate-limited error.
type Denied struct {
	Decision *Decision
	cause    error
}

func NewDenied(decision *Decision, cause error) *Denied {
	return &Denied{Decision: decision, cause: cause}
}

func (d *Denied) Error() string {
	return d.cause.Error()
}

func (d *Denied) Unwrap() error {
	return d.cause
}
