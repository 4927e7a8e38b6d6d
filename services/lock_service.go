package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"nestmate_server/models"
	"nestmate_server/utils"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// LockPolicy decides what happens when the lock backend itself fails.
type LockPolicy string

const (
	// LockPolicyStrict fails closed: a backend error aborts the protected
	// operation. This is the only safe setting in production.
	LockPolicyStrict LockPolicy = "strict"

	// LockPolicyPermissive fails open for local development without a
	// DynamoDB backend. Every fallback is logged loudly.
	LockPolicyPermissive LockPolicy = "permissive"
)

// ParseLockPolicy maps the LOCK_POLICY env value to a policy, defaulting to strict.
func ParseLockPolicy(value string) LockPolicy {
	if value == string(LockPolicyPermissive) {
		return LockPolicyPermissive
	}
	return LockPolicyStrict
}

// LockService is a TTL-leased distributed lock over a DynamoDB table.
// Acquire is one conditional put, so exactly one caller can own a key at a
// time; the lease expiry keeps the system live if a holder crashes without
// releasing (an occasional duplicate run is the accepted cost).
type LockService struct {
	Dynamo     *DynamoService
	Policy     LockPolicy
	ownerToken string
}

// NewLockService creates a lock client with a per-process owner token.
func NewLockService(dynamo *DynamoService, policy LockPolicy) *LockService {
	return &LockService{
		Dynamo:     dynamo,
		Policy:     policy,
		ownerToken: uuid.NewString(),
	}
}

// Acquire takes the lock for the given key, or returns ErrLockBusy when a
// live lease exists. A backend failure is ErrLockBackendUnavailable under
// strict policy; under permissive policy the caller proceeds unprotected.
func (ls *LockService) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	now := time.Now().UTC()
	lock := models.Lock{
		LockKey:    key,
		OwnerToken: ls.ownerToken,
		ExpiresAt:  now.Add(ttl).Format(time.RFC3339),
		AcquiredAt: now.Format(time.RFC3339),
	}

	// The row may be taken over only when absent or when its lease lapsed.
	conditionExpression := "attribute_not_exists(lockKey) OR expiresAt < :now"
	expressionValues := map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}

	err := ls.Dynamo.PutItemConditional(ctx, models.LocksTable, lock, conditionExpression, expressionValues, nil)
	if err == nil {
		log.Printf("🔒 Acquired lock %s until %s", key, lock.ExpiresAt)
		return nil
	}
	if errors.Is(err, ErrConditionFailed) {
		return fmt.Errorf("%w: key %s", ErrLockBusy, key)
	}

	if ls.Policy == LockPolicyPermissive {
		log.Printf("⚠️ PERMISSIVE LOCK POLICY: backend error ignored for key %s, proceeding UNPROTECTED: %v", key, err)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrLockBackendUnavailable, err)
}

// Release drops the lock if this process still owns it. Releasing a lock
// that lapsed and was taken over by someone else is a no-op, not an error.
func (ls *LockService) Release(ctx context.Context, key string) error {
	lockKey := map[string]types.AttributeValue{
		"lockKey": &types.AttributeValueMemberS{Value: key},
	}
	conditionExpression := "ownerToken = :owner"
	expressionValues := map[string]types.AttributeValue{
		":owner": &types.AttributeValueMemberS{Value: ls.ownerToken},
	}

	err := ls.Dynamo.DeleteItemConditional(ctx, models.LocksTable, lockKey, conditionExpression, expressionValues)
	if err == nil {
		log.Printf("🔓 Released lock %s", key)
		return nil
	}
	if errors.Is(err, ErrConditionFailed) {
		log.Printf("⚠️ Lock %s no longer owned by this instance, nothing to release", key)
		return nil
	}
	if ls.Policy == LockPolicyPermissive {
		log.Printf("⚠️ PERMISSIVE LOCK POLICY: release error ignored for key %s: %v", key, err)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrLockBackendUnavailable, err)
}

// Exists reports whether a live (unexpired) lease currently holds the key.
func (ls *LockService) Exists(ctx context.Context, key string) (bool, error) {
	lockKey := map[string]types.AttributeValue{
		"lockKey": &types.AttributeValueMemberS{Value: key},
	}
	item, err := ls.Dynamo.GetItem(ctx, models.LocksTable, lockKey)
	if err != nil {
		if ls.Policy == LockPolicyPermissive {
			log.Printf("⚠️ PERMISSIVE LOCK POLICY: exists check failed for key %s: %v", key, err)
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrLockBackendUnavailable, err)
	}
	if item == nil {
		return false, nil
	}

	deadline, err := time.Parse(time.RFC3339, utils.ExtractString(item, "expiresAt"))
	if err != nil {
		return false, nil
	}
	return time.Now().UTC().Before(deadline), nil
}
