package models

// GroupCompatibility is the live compatibility projection for an active
// group, keyed by the group's chat id. It is regenerated whenever group
// membership changes; the original Suggestion rows are never touched.
type GroupCompatibility struct {
	GroupID          string             `dynamodbav:"groupId" json:"groupId"` // ✅ Partition Key
	MemberIDs        []string           `dynamodbav:"memberIds" json:"memberIds"`
	FitScore         float64            `dynamodbav:"fitScore" json:"fitScore"`
	SectionScores    map[string]float64 `dynamodbav:"sectionScores" json:"sectionScores"`
	MemberDeviations map[string]float64 `dynamodbav:"memberDeviations" json:"memberDeviations"` // member -> distance from group mean
	Benefits         []string           `dynamodbav:"benefits" json:"benefits"`
	WatchOuts        []string           `dynamodbav:"watchOuts" json:"watchOuts"`
	Explanation      string             `dynamodbav:"explanation" json:"explanation"`
	UpdatedAt        string             `dynamodbav:"updatedAt" json:"updatedAt"`
}

// GroupCompatibilityTable is the DynamoDB table name for group projections
const GroupCompatibilityTable = "GroupCompatibility"
