package upstream

import "fmt"

// UnavailableError reports a transient upstream failure that exhausted the
// retry budget. LastToken is the continuation token of the page that could
// not be fetched; a later run can resume from it instead of restarting from
// page one.
type UnavailableError struct {
	Endpoint  string
	LastToken string
	Attempts  int
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable: %s (gave up after %d attempts, resume token %q): %v",
		e.Endpoint, e.Attempts, e.LastToken, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RejectedError reports a permanent upstream rejection (a non-retryable 4xx).
// Retrying will not help; an operator needs to look at the request.
type RejectedError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected: %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}
