package models

// ✅ Suggestion kinds
const (
	SuggestionKindPair  = "pair"
	SuggestionKindGroup = "group"
)

// ✅ Suggestion statuses
const (
	SuggestionStatusPending   = "pending"
	SuggestionStatusAccepted  = "accepted"
	SuggestionStatusDeclined  = "declined"
	SuggestionStatusConfirmed = "confirmed"
	SuggestionStatusExpired   = "expired"
)

// ✅ Run modes
const (
	RunModePairs  = "pairs"
	RunModeGroups = "groups"
)

// ✅ Group size bounds (pair is always exactly 2)
const (
	MinGroupSize = 2
	MaxGroupSize = 3
)
