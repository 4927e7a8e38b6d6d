package models

// Suggestion is a proposed pair or small group of users to live together.
// It is created by a matching run and then mutated only through the
// transition methods in services.SuggestionService.
type Suggestion struct {
	SuggestionID  string             `dynamodbav:"suggestionId" json:"suggestionId"` // ✅ Partition Key
	RunID         string             `dynamodbav:"runId" json:"runId"`               // ✅ Batch that produced it
	Kind          string             `dynamodbav:"kind" json:"kind"`                 // "pair" or "group"
	MemberIDs     []string           `dynamodbav:"memberIds" json:"memberIds"`       // 2 for pair, 2-3 for group
	FitScore      float64            `dynamodbav:"fitScore" json:"fitScore"`         // aggregate score in [0,1]
	SectionScores map[string]float64 `dynamodbav:"sectionScores" json:"sectionScores"`
	Reasons       []string           `dynamodbav:"reasons" json:"reasons"`
	Status        string             `dynamodbav:"status" json:"status"`
	AcceptedBy    []string           `dynamodbav:"acceptedBy" json:"acceptedBy"` // subset of MemberIDs
	ExpiresAt     string             `dynamodbav:"expiresAt" json:"expiresAt"`   // RFC3339
	CreatedAt     string             `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     string             `dynamodbav:"updatedAt" json:"updatedAt"`
	Version       int64              `dynamodbav:"version" json:"version"` // optimistic concurrency counter
}

// HasMember reports whether userID belongs to the suggestion.
func (s *Suggestion) HasMember(userID string) bool {
	for _, id := range s.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasAccepted reports whether userID already accepted the suggestion.
func (s *Suggestion) HasAccepted(userID string) bool {
	for _, id := range s.AcceptedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// FullyAccepted reports whether every member has accepted.
func (s *Suggestion) FullyAccepted() bool {
	if len(s.AcceptedBy) < len(s.MemberIDs) {
		return false
	}
	for _, id := range s.MemberIDs {
		if !s.HasAccepted(id) {
			return false
		}
	}
	return true
}

// IsTerminal reports whether no further transitions are allowed.
func (s *Suggestion) IsTerminal() bool {
	return s.Status == SuggestionStatusConfirmed ||
		s.Status == SuggestionStatusDeclined ||
		s.Status == SuggestionStatusExpired
}

// IsActive reports whether the suggestion still binds its members for
// cross-run overlap filtering (pending, accepted or confirmed).
func (s *Suggestion) IsActive() bool {
	return s.Status == SuggestionStatusPending ||
		s.Status == SuggestionStatusAccepted ||
		s.Status == SuggestionStatusConfirmed
}

// SuggestionsTable is the DynamoDB table name for suggestions
const SuggestionsTable = "Suggestions"

// RunIDIndex is the GSI for fetching all suggestions of one run
const RunIDIndex = "runId-index" // PK: runId
