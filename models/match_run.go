package models

// MatchRun records one execution of the matching orchestrator. Immutable
// once written; used for audit and for fetching a batch of suggestions.
type MatchRun struct {
	RunID           string `dynamodbav:"runId" json:"runId"` // ✅ Partition Key
	Mode            string `dynamodbav:"mode" json:"mode"`   // "pairs" or "groups"
	CohortFilter    string `dynamodbav:"cohortFilter" json:"cohortFilter"`
	SuggestionCount int    `dynamodbav:"suggestionCount" json:"suggestionCount"`
	CreatedAt       string `dynamodbav:"createdAt" json:"createdAt"`
}

// MatchRunsTable is the DynamoDB table name for matching runs
const MatchRunsTable = "MatchRuns"
