package gateway

import (
	"errors"
	"fmt"

	"github.com/quantwell/optioncore/backend/broker"
	"github.com/quantwell/optioncore/backend/execution"
)

// translate maps a broker-package error (or any other transport failure)
// onto the execution taxonomy from §7. Anything unrecognized is wrapped as
// BrokerUnavailable per §4.1.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var rejected *broker.RejectedError
	if errors.As(err, &rejected) {
		return execution.BrokerRejected{Reason: rejected.Reason}
	}
	if errors.Is(err, broker.ErrSessionExpired) {
		return execution.ErrSessionExpired
	}
	if errors.Is(err, broker.ErrRateLimited) {
		return execution.ErrRateLimited
	}
	return fmt.Errorf("%w: %v", execution.ErrBrokerUnavailable, err)
}
