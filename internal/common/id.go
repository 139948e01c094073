package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique workflow-run ID with the "run_" prefix.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewChannelID generates a fresh push-channel ID.
func NewChannelID() string {
	return "chan-" + uuid.New().String()
}

// NewEnvelopeID generates a queue envelope ID.
func NewEnvelopeID() string {
	return "env_" + uuid.New().String()
}

// NewDealID generates a unique deal ID with the "deal_" prefix.
func NewDealID() string {
	return "deal_" + uuid.New().String()
}

// NewRequestID generates an HTTP request correlation ID.
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// NewChannelToken generates the opaque token embedded in a push channel and
// echoed back by the provider on every ping.
func NewChannelToken() string {
	return uuid.New().String()
}
