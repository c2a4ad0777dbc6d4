package httpclient

import "fmt"

// RetryExhaustedError reports that every attempt of a request failed with a
// transient error.
type RetryExhaustedError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d after %d attempts: %v", e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}
