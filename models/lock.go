package models

// Lock is one row of the distributed lock table. Acquisition is a
// conditional put: the row may only be created when absent or when the
// previous holder's lease has lapsed.
type Lock struct {
	LockKey    string `dynamodbav:"lockKey" json:"lockKey"` // ✅ Partition Key, e.g. "matching_refresh:<cohort>"
	OwnerToken string `dynamodbav:"ownerToken" json:"ownerToken"`
	ExpiresAt  string `dynamodbav:"expiresAt" json:"expiresAt"` // RFC3339 lease deadline
	AcquiredAt string `dynamodbav:"acquiredAt" json:"acquiredAt"`
}

// LocksTable is the DynamoDB table name for distributed locks
const LocksTable = "Locks"
