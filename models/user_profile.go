package models

// UserProfile holds the matching-relevant view of a user. The onboarding
// questionnaire that fills Features lives in another service; the engine
// only reads it.
type UserProfile struct {
	UserID      string             `dynamodbav:"userId" json:"userId"` // ✅ Partition Key
	Name        string             `dynamodbav:"name" json:"name"`
	Institution string             `dynamodbav:"institution" json:"institution"` // cohort key
	Features    map[string]float64 `dynamodbav:"features" json:"features"`       // section -> normalized value in [0,1]
	Blocked     []string           `dynamodbav:"blocked,omitempty" json:"blocked,omitempty"`
	Active      bool               `dynamodbav:"active" json:"active"` // eligible for matching
	CreatedAt   string             `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt   string             `dynamodbav:"updatedAt" json:"updatedAt"`
}

// HasBlocked reports whether the profile's owner blocked the given user.
func (p *UserProfile) HasBlocked(userID string) bool {
	for _, id := range p.Blocked {
		if id == userID {
			return true
		}
	}
	return false
}

// UserProfilesTable is the DynamoDB table name for user profiles
const UserProfilesTable = "UserProfiles"

// InstitutionIndex is the GSI for loading a cohort by institution
const InstitutionIndex = "institution-index" // PK: institution
