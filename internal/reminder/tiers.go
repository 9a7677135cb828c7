package reminder

import "time"

type Tier struct {
	Kind   Kind
	Offset time.Duration
}

// Tiers lists the reminder offsets before the appointment, earliest first.
var Tiers = []Tier{
	{Kind: KindInitial, Offset: 7 * 24 * time.Hour},
	{Kind: KindFormCheck, Offset: 24 * time.Hour},
	{Kind: KindFinalConfirmation, Offset: 2 * time.Hour},
}

// FireTimes returns the tiers for an appointment starting at start whose fire
// time is still after now.
func FireTimes(start, now time.Time) map[Kind]time.Time {
	out := make(map[Kind]time.Time, len(Tiers))
	for _, t := range Tiers {
		at := start.Add(-t.Offset)
		if at.After(now) {
			out[t.Kind] = at
		}
	}
	return out
}

// replyTypesFor lists the intents a reminder of kind k offers links for.
func replyTypesFor(k Kind) []ResponseType {
	switch k {
	case KindFormCheck:
		return []ResponseType{ResponseFormCompleted, ResponseFormIncomplete, ResponseVisitConfirmed, ResponseVisitCancelled}
	case KindFinalConfirmation:
		return []ResponseType{ResponseVisitConfirmed, ResponseVisitCancelled}
	}
	return nil
}
