package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sos-notifications-worker/internal/constants"
	"sos-notifications-worker/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		result models.DispatchResult
		want   models.Outcome
	}{
		{name: "success", result: models.DispatchResult{Success: true}, want: models.OutcomeDelivered},
		{name: "unregistered", result: models.DispatchResult{ErrorCode: constants.ErrorCodeTokenNotRegistered}, want: models.OutcomeInvalidToken},
		{name: "quota", result: models.DispatchResult{ErrorCode: constants.ErrorCodeQuotaExceeded}, want: models.OutcomeTransientError},
		{name: "invalid argument", result: models.DispatchResult{ErrorCode: constants.ErrorCodeInvalidArgument}, want: models.OutcomeTransientError},
		{name: "timeout", result: models.DispatchResult{ErrorCode: constants.ErrorCodeDeadlineExceeded}, want: models.OutcomeTransientError},
		{name: "no code", result: models.DispatchResult{Error: "boom"}, want: models.OutcomeTransientError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.result))
		})
	}
}

func TestClassifyAll(t *testing.T) {
	results := []models.DispatchResult{
		{Token: "a", Success: true},
		{Token: "b", ErrorCode: constants.ErrorCodeTokenNotRegistered},
		{Token: "c", ErrorCode: constants.ErrorCodeUnavailable},
		{Token: "d", Success: true},
		{Token: "e", ErrorCode: constants.ErrorCodeTokenNotRegistered},
	}

	c := ClassifyAll(results)
	assert.Equal(t, []string{"a", "d"}, c.Delivered)
	assert.Equal(t, []string{"b", "e"}, c.Invalid)
	assert.Len(t, c.Transient, 1)
	assert.Equal(t, "c", c.Transient[0].Token)
}
