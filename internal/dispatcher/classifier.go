package dispatcher

import (
	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

// Classify maps a device result to its outcome. Only the platform's
// unregistered-token code is permanent; every other failure is transient.
func Classify(result models.DispatchResult) models.Outcome {
	switch {
	case result.Success:
		return models.OutcomeDelivered
	case result.ErrorCode == constants.ErrorCodeTokenNotRegistered:
		return models.OutcomeInvalidToken
	default:
		return models.OutcomeTransientError
	}
}

// Classification groups device results by outcome, preserving result order.
type Classification struct {
	Delivered []string
	Transient []models.DispatchResult
	Invalid   []string
}

// ClassifyAll classifies every result.
func ClassifyAll(results []models.DispatchResult) Classification {
	var c Classification
	for _, r := range results {
		switch Classify(r) {
		case models.OutcomeDelivered:
			c.Delivered = append(c.Delivered, r.Token)
		case models.OutcomeInvalidToken:
			c.Invalid = append(c.Invalid, r.Token)
		default:
			c.Transient = append(c.Transient, r)
		}
	}
	return c
}
