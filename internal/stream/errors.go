package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by Subscribe after Destroy.
	ErrDestroyed = errors.New("stream manager destroyed")

	// ErrSubscriptionClosed is returned by Receive once a subscription has
	// completed without a terminal error.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// MaxRetriesError is the terminal error delivered when a stream exhausts its
// retry budget.
type MaxRetriesError struct {
	Key      string
	Attempts int
	Last     error // Last connection error, if any
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("Max retry attempts (%d) exceeded for stream: %s", e.Attempts, e.Key)
}

func (e *MaxRetriesError) Unwrap() error {
	return e.Last
}
