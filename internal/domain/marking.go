package domain

import "time"

// MarkingOutcomeKind classifies how a single target's self-approve attempt
// ended (§4.H.2).
type MarkingOutcomeKind string

const (
	MarkingOutcomeSuccess      MarkingOutcomeKind = "success"
	MarkingOutcomeNeeds2FA     MarkingOutcomeKind = "needs_2fa"
	MarkingOutcomeTokenExpired MarkingOutcomeKind = "token_expired"
	MarkingOutcomeFailed       MarkingOutcomeKind = "failed"
)

// MarkingResult is the per-target record stored once a target has been
// attempted (§3.1 MarkingSession.results).
type MarkingResult struct {
	Target  UserID
	Outcome MarkingOutcomeKind
	Detail  string
}

// Succeeded reports whether this target's attempt is counted as successful.
func (r MarkingResult) Succeeded() bool {
	return r.Outcome == MarkingOutcomeSuccess
}

// MarkingSession is one mass-marking batch run (§3.1, §4.H).
//
// Invariants: Processed == Successful + Failed; Remaining and Results are
// disjoint by target id; Status == completed implies Remaining is empty.
type MarkingSession struct {
	ID            MarkingSessionID
	Owner         UserID
	Token         SecretString
	OwnerTokenJTI string
	Status        MarkingStatus
	Total         int
	Processed     int
	Successful    int
	Failed        int
	Remaining     []UserID
	Results       map[UserID]MarkingResult
	Group         string
	Discipline    string
	StartedAt     time.Time
	Error         string
}

// NewMarkingSession creates a fresh session in the starting state for the
// given owner, token, target list, and the JWT id of the ownership token
// minted for it.
func NewMarkingSession(id MarkingSessionID, owner UserID, token SecretString, ownerTokenJTI string, targets []UserID, startedAt time.Time) MarkingSession {
	remaining := make([]UserID, len(targets))
	copy(remaining, targets)
	return MarkingSession{
		ID:            id,
		Owner:         owner,
		Token:         token,
		OwnerTokenJTI: ownerTokenJTI,
		Status:        MarkingStatusStarting,
		Total:         len(targets),
		Remaining:     remaining,
		Results:       make(map[UserID]MarkingResult),
		StartedAt:     startedAt,
	}
}

// RecordResult removes target from Remaining (if present) and files its
// result, bumping the processed/successful/failed counters. Each target is
// attempted at most once per wave (§4.H.2).
func (s *MarkingSession) RecordResult(result MarkingResult) {
	s.Remaining = removeUserID(s.Remaining, result.Target)
	s.Results[result.Target] = result
	s.Processed++
	if result.Succeeded() {
		s.Successful++
	} else {
		s.Failed++
	}
}

// SetGroupDiscipline records the group/discipline inferred from the first
// successful response. Never overwritten once set (§4.H.2).
func (s *MarkingSession) SetGroupDiscipline(group, discipline string) {
	if s.Group == "" && s.Discipline == "" {
		s.Group = group
		s.Discipline = discipline
	}
}

// IsDrained reports whether every originally listed target has been attempted.
func (s *MarkingSession) IsDrained() bool {
	return len(s.Remaining) == 0
}

// Continue replaces the session's token for a fresh wave over the still
// remaining targets (§4.H.3). Callers must perform the ownership check
// before calling this.
func (s *MarkingSession) Continue(newToken SecretString) {
	s.Token = newToken
	s.Status = MarkingStatusContinuing
}

func removeUserID(ids []UserID, target UserID) []UserID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
