package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"nestmate_server/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// SuggestionService owns the suggestion state machine. Every transition is a
// read, a pure in-memory state change, and a conditional write guarded by the
// row version, so concurrent accepts merge instead of losing updates.
type SuggestionService struct {
	Dynamo *DynamoService
}

// GetSuggestion retrieves a suggestion by id.
func (s *SuggestionService) GetSuggestion(ctx context.Context, suggestionID string) (*models.Suggestion, error) {
	key := map[string]types.AttributeValue{
		"suggestionId": &types.AttributeValueMemberS{Value: suggestionID},
	}
	item, err := s.Dynamo.GetItem(ctx, models.SuggestionsTable, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrSuggestionNotFound
	}

	var suggestion models.Suggestion
	if err := attributevalue.UnmarshalMap(item, &suggestion); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suggestion: %w", err)
	}
	return &suggestion, nil
}

// Propose creates a new pending suggestion. Membership is validated against
// the kind's size rules and against the run's existing suggestions, so no
// user appears twice within one run.
func (s *SuggestionService) Propose(
	ctx context.Context,
	kind string,
	memberIDs []string,
	fitScore float64,
	sectionScores map[string]float64,
	reasons []string,
	runID string,
	ttl time.Duration,
) (*models.Suggestion, error) {
	if err := validateMembership(kind, memberIDs); err != nil {
		return nil, err
	}

	existing, err := s.GetSuggestionsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to check run for duplicates: %w", err)
	}
	taken := make(map[string]bool)
	for _, other := range existing {
		for _, id := range other.MemberIDs {
			taken[id] = true
		}
	}
	for _, id := range memberIDs {
		if taken[id] {
			return nil, fmt.Errorf("%w: user %s already has a suggestion in run %s", ErrDuplicateCandidate, id, runID)
		}
	}

	suggestion := NewSuggestion(kind, memberIDs, fitScore, sectionScores, reasons, runID, ttl, time.Now().UTC())

	condition := "attribute_not_exists(suggestionId)"
	if err := s.Dynamo.PutItemConditional(ctx, models.SuggestionsTable, suggestion, condition, nil, nil); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, fmt.Errorf("%w: suggestion id collision", ErrDuplicateCandidate)
		}
		return nil, fmt.Errorf("failed to create suggestion: %w", err)
	}

	log.Printf("✅ Created %s suggestion %s for %v (run %s)", kind, suggestion.SuggestionID, memberIDs, runID)
	return suggestion, nil
}

// Accept records userID's acceptance. When the last member accepts, the same
// conditional write also flips the status to confirmed, so two members
// accepting concurrently can never strand a fully-accepted row. A version
// conflict is retried once against a fresh read before surfacing ErrStaleWrite.
func (s *SuggestionService) Accept(ctx context.Context, suggestionID, userID string) (*models.Suggestion, error) {
	return s.transition(ctx, suggestionID, true, func(sg *models.Suggestion, now time.Time) error {
		return applyAccept(sg, userID, now)
	})
}

// Decline marks the suggestion declined. A decline is terminal and wins
// regardless of how many other members already accepted.
func (s *SuggestionService) Decline(ctx context.Context, suggestionID, userID string) (*models.Suggestion, error) {
	return s.transition(ctx, suggestionID, true, func(sg *models.Suggestion, now time.Time) error {
		return applyDecline(sg, userID, now)
	})
}

// Expire transitions a past-deadline pending/accepted suggestion to expired.
// It bypasses the lazy-expiry shortcut: applyExpire is the expiry, so a nil
// error here means this call persisted the status change.
func (s *SuggestionService) Expire(ctx context.Context, suggestionID string) (*models.Suggestion, error) {
	return s.transition(ctx, suggestionID, false, func(sg *models.Suggestion, now time.Time) error {
		return applyExpire(sg, now)
	})
}

// BulkResult reports the outcome of one id within an administrative batch.
// MemberIDs is populated on expiry so callers can notify the affected users.
type BulkResult struct {
	SuggestionID string   `json:"suggestionId"`
	Outcome      string   `json:"outcome"` // "expired", "skipped" or "error"
	Detail       string   `json:"detail,omitempty"`
	MemberIDs    []string `json:"memberIds,omitempty"`
}

// ForceExpire is the administrative archive operation: it expires every given
// suggestion regardless of deadline, except confirmed and declined rows where
// it is an idempotent no-op. Each action is audit-logged.
func (s *SuggestionService) ForceExpire(ctx context.Context, suggestionIDs []string, actor string) []BulkResult {
	now := time.Now().UTC().Format(time.RFC3339)
	results := make([]BulkResult, 0, len(suggestionIDs))

	for _, id := range suggestionIDs {
		key := map[string]types.AttributeValue{
			"suggestionId": &types.AttributeValueMemberS{Value: id},
		}
		updateExpression := "SET #status = :expired, #updatedAt = :now ADD #version :one"
		conditionExpression := "attribute_exists(suggestionId) AND #status <> :confirmed AND #status <> :declined"
		expressionValues := map[string]types.AttributeValue{
			":expired":   &types.AttributeValueMemberS{Value: models.SuggestionStatusExpired},
			":confirmed": &types.AttributeValueMemberS{Value: models.SuggestionStatusConfirmed},
			":declined":  &types.AttributeValueMemberS{Value: models.SuggestionStatusDeclined},
			":now":       &types.AttributeValueMemberS{Value: now},
			":one":       &types.AttributeValueMemberN{Value: "1"},
		}
		expressionNames := map[string]string{
			"#status":    "status",
			"#updatedAt": "updatedAt",
			"#version":   "version",
		}

		attrs, err := s.Dynamo.UpdateItemConditional(ctx, models.SuggestionsTable, key, updateExpression, conditionExpression, expressionValues, expressionNames)
		switch {
		case err == nil:
			var updated models.Suggestion
			if err := attributevalue.UnmarshalMap(attrs, &updated); err != nil {
				log.Printf("⚠️ Archived %s but could not read back members: %v", id, err)
			}
			log.Printf("🗄️ Admin %s archived suggestion %s", actor, id)
			results = append(results, BulkResult{SuggestionID: id, Outcome: "expired", MemberIDs: updated.MemberIDs})
		case errors.Is(err, ErrConditionFailed):
			log.Printf("🗄️ Admin %s archive of %s skipped (terminal or missing)", actor, id)
			results = append(results, BulkResult{SuggestionID: id, Outcome: "skipped", Detail: "already confirmed, declined or missing"})
		default:
			log.Printf("❌ Admin archive of %s failed: %v", id, err)
			results = append(results, BulkResult{SuggestionID: id, Outcome: "error", Detail: err.Error()})
		}
	}
	return results
}

// GetSuggestionsForRun fetches every suggestion created by one run.
func (s *SuggestionService) GetSuggestionsForRun(ctx context.Context, runID string) ([]models.Suggestion, error) {
	keyCondition := "runId = :runId"
	expressionValues := map[string]types.AttributeValue{
		":runId": &types.AttributeValueMemberS{Value: runID},
	}

	items, err := s.Dynamo.QueryItemsWithIndex(ctx, models.SuggestionsTable, models.RunIDIndex, keyCondition, expressionValues, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch suggestions for run %s: %w", runID, err)
	}

	var suggestions []models.Suggestion
	if err := attributevalue.UnmarshalListOfMaps(items, &suggestions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run suggestions: %w", err)
	}
	return suggestions, nil
}

// GetSuggestionsForUser fetches the user's active suggestions. Declined and
// expired history is filtered server-side so the inbox never shows dead rows.
func (s *SuggestionService) GetSuggestionsForUser(ctx context.Context, userID string) ([]models.Suggestion, error) {
	filterExpression, expressionValues, expressionNames := userSuggestionsFilter(userID)

	var suggestions []models.Suggestion
	if err := s.Dynamo.ScanAllPages(ctx, models.SuggestionsTable, filterExpression, expressionValues, expressionNames, &suggestions); err != nil {
		return nil, fmt.Errorf("failed to fetch suggestions for user %s: %w", userID, err)
	}
	return suggestions, nil
}

// PurgeTerminal deletes declined and expired rows whose last update is older
// than the retention window. Confirmed rows are kept forever; rejected
// history is storage noise once the retention passes. Returns the number of
// rows deleted.
func (s *SuggestionService) PurgeTerminal(ctx context.Context, retention time.Duration) (int, error) {
	filterExpression := "#status = :declined OR #status = :expired"
	expressionValues := map[string]types.AttributeValue{
		":declined": &types.AttributeValueMemberS{Value: models.SuggestionStatusDeclined},
		":expired":  &types.AttributeValueMemberS{Value: models.SuggestionStatusExpired},
	}
	expressionNames := map[string]string{"#status": "status"}

	var terminal []models.Suggestion
	if err := s.Dynamo.ScanAllPages(ctx, models.SuggestionsTable, filterExpression, expressionValues, expressionNames, &terminal); err != nil {
		return 0, fmt.Errorf("failed to scan terminal suggestions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-retention)
	ids := purgeEligible(terminal, cutoff)
	if len(ids) == 0 {
		log.Printf("🗑️ Purge: no terminal suggestions older than %s", cutoff.Format(time.RFC3339))
		return 0, nil
	}

	deletes := make([]types.WriteRequest, 0, len(ids))
	for _, id := range ids {
		deletes = append(deletes, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					"suggestionId": &types.AttributeValueMemberS{Value: id},
				},
			},
		})
	}
	if err := s.Dynamo.BatchWriteItems(ctx, models.SuggestionsTable, deletes); err != nil {
		return 0, fmt.Errorf("failed to purge terminal suggestions: %w", err)
	}

	log.Printf("🗑️ Purged %d terminal suggestions older than %s", len(ids), cutoff.Format(time.RFC3339))
	return len(ids), nil
}

// transition runs one read-apply-write cycle with a single internal retry on
// a version conflict, which usually just means another member's transition
// landed between our read and our write. lazyExpire turns a member action on
// a lapsed row into the expiry itself; Expire sets it false because its
// apply function already is the expiry and its callers need persistence
// failures surfaced, not swallowed behind ErrAlreadyTerminal.
func (s *SuggestionService) transition(
	ctx context.Context,
	suggestionID string,
	lazyExpire bool,
	apply func(*models.Suggestion, time.Time) error,
) (*models.Suggestion, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		suggestion, err := s.GetSuggestion(ctx, suggestionID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		previousVersion := suggestion.Version

		// Lazy expiry: a member action that finds the deadline passed on a
		// not-yet-complete row expires it instead of applying.
		if lazyExpire && lapsed(suggestion, now) {
			applyLapse(suggestion, now)
			if err := s.saveTransition(ctx, suggestion, previousVersion); err != nil && !errors.Is(err, ErrConditionFailed) {
				log.Printf("⚠️ Failed to persist lazy expiry of %s: %v", suggestionID, err)
			}
			return nil, ErrAlreadyTerminal
		}

		if err := apply(suggestion, now); err != nil {
			return nil, err
		}

		err = s.saveTransition(ctx, suggestion, previousVersion)
		if err == nil {
			log.Printf("🔄 Suggestion %s -> %s (acceptedBy %v)", suggestionID, suggestion.Status, suggestion.AcceptedBy)
			return suggestion, nil
		}
		if !errors.Is(err, ErrConditionFailed) {
			return nil, err
		}
		lastErr = ErrStaleWrite
		log.Printf("🔁 Version conflict on suggestion %s, re-reading (attempt %d)", suggestionID, attempt+1)
	}

	return nil, lastErr
}

// saveTransition persists status, acceptedBy and updatedAt in one conditional
// write keyed on the version read before applying the transition.
func (s *SuggestionService) saveTransition(ctx context.Context, suggestion *models.Suggestion, previousVersion int64) error {
	suggestion.Version = previousVersion + 1

	acceptedBy, err := attributevalue.Marshal(suggestion.AcceptedBy)
	if err != nil {
		return fmt.Errorf("failed to marshal acceptedBy: %w", err)
	}

	key := map[string]types.AttributeValue{
		"suggestionId": &types.AttributeValueMemberS{Value: suggestion.SuggestionID},
	}
	updateExpression := "SET #status = :status, #acceptedBy = :acceptedBy, #updatedAt = :updatedAt, #version = :version"
	conditionExpression := "#version = :previousVersion"
	expressionValues := map[string]types.AttributeValue{
		":status":          &types.AttributeValueMemberS{Value: suggestion.Status},
		":acceptedBy":      acceptedBy,
		":updatedAt":       &types.AttributeValueMemberS{Value: suggestion.UpdatedAt},
		":version":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", suggestion.Version)},
		":previousVersion": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", previousVersion)},
	}
	expressionNames := map[string]string{
		"#status":     "status",
		"#acceptedBy": "acceptedBy",
		"#updatedAt":  "updatedAt",
		"#version":    "version",
	}

	_, err = s.Dynamo.UpdateItemConditional(ctx, models.SuggestionsTable, key, updateExpression, conditionExpression, expressionValues, expressionNames)
	return err
}

///// 🔹🔹🔹 Pure state machine 🔹🔹🔹 /////

// NewSuggestion builds a pending suggestion row. Callers are expected to have
// validated membership already.
func NewSuggestion(
	kind string,
	memberIDs []string,
	fitScore float64,
	sectionScores map[string]float64,
	reasons []string,
	runID string,
	ttl time.Duration,
	now time.Time,
) *models.Suggestion {
	timestamp := now.Format(time.RFC3339)
	return &models.Suggestion{
		SuggestionID:  uuid.NewString(),
		RunID:         runID,
		Kind:          kind,
		MemberIDs:     append([]string(nil), memberIDs...),
		FitScore:      fitScore,
		SectionScores: sectionScores,
		Reasons:       reasons,
		Status:        models.SuggestionStatusPending,
		AcceptedBy:    []string{},
		ExpiresAt:     now.Add(ttl).Format(time.RFC3339),
		CreatedAt:     timestamp,
		UpdatedAt:     timestamp,
		Version:       1,
	}
}

func validateMembership(kind string, memberIDs []string) error {
	switch kind {
	case models.SuggestionKindPair:
		if len(memberIDs) != 2 {
			return fmt.Errorf("%w: a pair needs exactly 2 members, got %d", ErrInvalidMembership, len(memberIDs))
		}
	case models.SuggestionKindGroup:
		if len(memberIDs) < models.MinGroupSize || len(memberIDs) > models.MaxGroupSize {
			return fmt.Errorf("%w: a group needs %d-%d members, got %d", ErrInvalidMembership, models.MinGroupSize, models.MaxGroupSize, len(memberIDs))
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMembership, kind)
	}

	seen := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		if id == "" {
			return fmt.Errorf("%w: empty member id", ErrInvalidMembership)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate member %s", ErrInvalidMembership, id)
		}
		seen[id] = true
	}
	return nil
}

func applyAccept(s *models.Suggestion, userID string, now time.Time) error {
	if !s.HasMember(userID) {
		return ErrNotAMember
	}
	if s.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !s.HasAccepted(userID) {
		s.AcceptedBy = append(s.AcceptedBy, userID)
	}
	if s.FullyAccepted() {
		s.Status = models.SuggestionStatusConfirmed
	} else {
		s.Status = models.SuggestionStatusAccepted
	}
	s.UpdatedAt = now.Format(time.RFC3339)
	return nil
}

func applyDecline(s *models.Suggestion, userID string, now time.Time) error {
	if !s.HasMember(userID) {
		return ErrNotAMember
	}
	if s.IsTerminal() {
		return ErrAlreadyTerminal
	}
	s.Status = models.SuggestionStatusDeclined
	s.UpdatedAt = now.Format(time.RFC3339)
	return nil
}

func applyExpire(s *models.Suggestion, now time.Time) error {
	if s.Status != models.SuggestionStatusPending && s.Status != models.SuggestionStatusAccepted {
		return ErrNotExpirable
	}
	// A fully-accepted row should have been confirmed atomically; expiring it
	// would destroy the evidence the reconciler uses to finish the confirm.
	if s.FullyAccepted() {
		return ErrNotExpirable
	}
	if !deadlinePassed(s, now) {
		return ErrNotExpirable
	}
	s.Status = models.SuggestionStatusExpired
	s.UpdatedAt = now.Format(time.RFC3339)
	return nil
}

// lapsed reports whether the suggestion sits past its deadline without
// having completed acceptance. A fully-accepted row is never lapsed: it is
// owed a confirm, not an expiry.
func lapsed(s *models.Suggestion, now time.Time) bool {
	if s.Status != models.SuggestionStatusPending && s.Status != models.SuggestionStatusAccepted {
		return false
	}
	if s.FullyAccepted() {
		return false
	}
	return deadlinePassed(s, now)
}

func applyLapse(s *models.Suggestion, now time.Time) {
	s.Status = models.SuggestionStatusExpired
	s.UpdatedAt = now.Format(time.RFC3339)
}

func deadlinePassed(s *models.Suggestion, now time.Time) bool {
	deadline, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil {
		// An unparseable deadline should never block user action.
		return false
	}
	return !now.Before(deadline)
}

// userSuggestionsFilter builds the scan filter for a user's inbox: membership
// plus an active status (pending, accepted or confirmed).
func userSuggestionsFilter(userID string) (string, map[string]types.AttributeValue, map[string]string) {
	filterExpression := "contains(memberIds, :userId) AND (#status = :pending OR #status = :accepted OR #status = :confirmed)"
	expressionValues := map[string]types.AttributeValue{
		":userId":    &types.AttributeValueMemberS{Value: userID},
		":pending":   &types.AttributeValueMemberS{Value: models.SuggestionStatusPending},
		":accepted":  &types.AttributeValueMemberS{Value: models.SuggestionStatusAccepted},
		":confirmed": &types.AttributeValueMemberS{Value: models.SuggestionStatusConfirmed},
	}
	expressionNames := map[string]string{"#status": "status"}
	return filterExpression, expressionValues, expressionNames
}

// purgeEligible picks the declined/expired rows last touched before cutoff.
// Rows with an unparseable updatedAt stay put.
func purgeEligible(suggestions []models.Suggestion, cutoff time.Time) []string {
	var ids []string
	for i := range suggestions {
		s := &suggestions[i]
		if s.Status != models.SuggestionStatusDeclined && s.Status != models.SuggestionStatusExpired {
			continue
		}
		updated, err := time.Parse(time.RFC3339, s.UpdatedAt)
		if err != nil || !updated.Before(cutoff) {
			continue
		}
		ids = append(ids, s.SuggestionID)
	}
	return ids
}
