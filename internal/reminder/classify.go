package reminder

import "strings"

var smsVocabulary = map[string]ResponseType{
	"YES":        ResponseVisitConfirmed,
	"Y":          ResponseVisitConfirmed,
	"CONFIRM":    ResponseVisitConfirmed,
	"CONFIRMED":  ResponseVisitConfirmed,
	"C":          ResponseVisitConfirmed,
	"NO":         ResponseVisitCancelled,
	"N":          ResponseVisitCancelled,
	"CANCEL":     ResponseVisitCancelled,
	"CANCELLED":  ResponseVisitCancelled,
	"CANCELED":   ResponseVisitCancelled,
	"STOP VISIT": ResponseVisitCancelled,
	"DONE":       ResponseFormCompleted,
	"FORMS DONE": ResponseFormCompleted,
	"COMPLETED":  ResponseFormCompleted,
	"NOT DONE":   ResponseFormIncomplete,
	"INCOMPLETE": ResponseFormIncomplete,
	"HELP":       ResponseHelpRequest,
	"INFO":       ResponseHelpRequest,
	"?":          ResponseHelpRequest,
}

// Classify maps a free-text SMS reply to a response type. Matching is on the
// whole message, case-insensitive, ignoring surrounding punctuation and
// repeated spaces.
func Classify(body string) ResponseType {
	normalized := strings.Join(strings.Fields(strings.ToUpper(body)), " ")
	if normalized == "?" {
		return ResponseHelpRequest
	}
	normalized = strings.Trim(normalized, ".,!?;:'\" ")
	if rt, ok := smsVocabulary[normalized]; ok {
		return rt
	}
	return ResponseUnknown
}

// actionFor is the fixed response-to-action table. Anything it does not
// recognize goes to a human.
func actionFor(rt ResponseType) Action {
	switch rt {
	case ResponseFormCompleted:
		return ActionMarkFormsComplete
	case ResponseFormIncomplete:
		return ActionSendFormHelp
	case ResponseVisitConfirmed:
		return ActionMarkVisitConfirmed
	case ResponseVisitCancelled:
		return ActionEmergencyCancellation
	case ResponseHelpRequest:
		return ActionSendHelpInfo
	default:
		return ActionManualReview
	}
}
