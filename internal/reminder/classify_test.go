package reminder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]ResponseType{
		"YES":           ResponseVisitConfirmed,
		"yes":           ResponseVisitConfirmed,
		"  Yes!  ":      ResponseVisitConfirmed,
		"c":             ResponseVisitConfirmed,
		"Confirmed.":    ResponseVisitConfirmed,
		"no":            ResponseVisitCancelled,
		"Cancel":        ResponseVisitCancelled,
		"canceled":      ResponseVisitCancelled,
		"stop   visit":  ResponseVisitCancelled,
		"done":          ResponseFormCompleted,
		"Forms done":    ResponseFormCompleted,
		"not done":      ResponseFormIncomplete,
		"INCOMPLETE":    ResponseFormIncomplete,
		"help":          ResponseHelpRequest,
		"?":             ResponseHelpRequest,
		"info":          ResponseHelpRequest,
		"":              ResponseUnknown,
		"see you then":  ResponseUnknown,
		"yes and no":    ResponseUnknown,
	}

	for body, want := range cases {
		assert.Equal(t, want, Classify(body), "body %q", body)
	}
}

func TestActionForDefaultsToManualReview(t *testing.T) {
	assert.Equal(t, ActionManualReview, actionFor(ResponseUnknown))
	assert.Equal(t, ActionManualReview, actionFor("something_new"))
	assert.Equal(t, ActionEmergencyCancellation, actionFor(ResponseVisitCancelled))
}
