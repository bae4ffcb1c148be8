package broker

import "fmt"

// ErrSessionExpired and ErrRateLimited are raised directly from the HTTP
// status code; the gateway layer maps them onto execution's sentinel errors.
var (
	ErrSessionExpired = fmt.Errorf("broker session expired")
	ErrRateLimited    = fmt.Errorf("broker rate limited")
)

// RejectedError carries the broker's own refusal message verbatim.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("broker rejected: %s", e.Reason)
}
