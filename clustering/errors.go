package clustering

import "errors"

var (
	// ErrInitialization is returned when the agent fails to start: the
	// membership scheme is misconfigured or the group can not be joined.
	ErrInitialization = errors.New("clustering initialization failed")

	// ErrSendFailed is returned when the substrate has refused a message.
	ErrSendFailed = errors.New("failed to send message")

	// ErrDeliveryFailed is the only error reported by the Cluster facade.
	ErrDeliveryFailed = errors.New("message delivery failed")

	ErrNotStarted     = errors.New("agent is not started")
	ErrAlreadyStarted = errors.New("agent is already started")
)
