package model

import "time"

// Outcome is the result of one channel attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeConfigError     Outcome = "config_error"
	OutcomeTransportError  Outcome = "transport_error"
)

// DeliveryAttempt records one hop of a fallback chain. The ordered list of
// attempts for a single event forms the chain.
type DeliveryAttempt struct {
	Channel     Channel       `json:"channel"`
	Target      string        `json:"target"`
	Message     string        `json:"-"`
	Outcome     Outcome       `json:"outcome"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	Error       string        `json:"-"`
	Tries       int           `json:"tries"`
	Took        time.Duration `json:"took"`
}

func (a DeliveryAttempt) OK() bool { return a.Outcome == OutcomeSuccess }
