package domain

var transitions = map[Status][]Status{
	StatusNew:             {StatusClassified},
	StatusClassified:      {StatusSkipped, StatusNotified, StatusPendingApproval},
	StatusPendingApproval: {StatusApproved, StatusEdited, StatusSkipped},
	StatusApproved:        {StatusPosted, StatusFailed},
	StatusEdited:          {StatusPosted, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func NextStatuses(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// CheckTransition validates that next is a legal successor of cur: one graph edge,
// one appended history entry, and no change to fields that are fixed once set.
func CheckTransition(cur, next Candidate) error {
	conflict := func(reason string) error {
		return &StateConflictError{Fingerprint: cur.Fingerprint, From: cur.Status, To: next.Status, Reason: reason}
	}

	if next.Fingerprint != cur.Fingerprint {
		return conflict("fingerprint changed")
	}
	if cur.Status.Terminal() {
		return conflict("candidate is terminal")
	}
	if !CanTransition(cur.Status, next.Status) {
		return conflict("transition not allowed")
	}

	if len(next.History) != len(cur.History)+1 {
		return conflict("history must grow by exactly one entry")
	}
	for i := range cur.History {
		if cur.History[i].Status != next.History[i].Status || !cur.History[i].At.Equal(next.History[i].At) {
			return conflict("history is append-only")
		}
	}
	if next.LastEntry().Status != next.Status {
		return conflict("history entry does not match status")
	}

	if cur.Status != StatusNew {
		if next.Intent != cur.Intent || next.Score != cur.Score || next.Confidence != cur.Confidence {
			return conflict("intent and score are fixed once classified")
		}
	} else if !next.Intent.Valid() {
		return conflict("classification requires a valid intent")
	}

	if cur.Status == StatusClassified && next.Status == StatusSkipped && next.Intent != IntentNoise {
		return conflict("only NOISE is skipped before approval")
	}

	if next.Draft != cur.Draft && next.Status != StatusPendingApproval && next.Status != StatusEdited {
		return conflict("draft may only change when entering PENDING_APPROVAL or EDITED")
	}
	if (next.Status == StatusPendingApproval || next.Status == StatusEdited) && next.Draft == "" {
		return conflict("draft text is required")
	}
	if next.Status == StatusNotified && next.Draft != "" {
		return conflict("NOTIFIED candidates carry no draft")
	}
	return nil
}
