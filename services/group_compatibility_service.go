package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"nestmate_server/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// GroupCompatibilityService maintains the live compatibility projection for
// active groups. When membership changes (someone moves out), the projection
// is recomputed over the remaining members; the originating Suggestion rows
// are immutable history and stay untouched.
type GroupCompatibilityService struct {
	Dynamo        *DynamoService
	Compatibility *CompatibilityService
}

// RecalculateGroup re-scores the remaining members of a group and rewrites
// its projection row.
func (gs *GroupCompatibilityService) RecalculateGroup(ctx context.Context, groupID string, memberIDs []string) (*models.GroupCompatibility, error) {
	if len(memberIDs) < models.MinGroupSize {
		return nil, fmt.Errorf("%w: group %s needs at least %d remaining members, got %d",
			ErrInvalidMembership, groupID, models.MinGroupSize, len(memberIDs))
	}

	profiles := make([]*models.UserProfile, 0, len(memberIDs))
	for _, id := range memberIDs {
		profile, err := gs.getProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	score := gs.Compatibility.ScoreGroup(profiles)

	projection := models.GroupCompatibility{
		GroupID:          groupID,
		MemberIDs:        append([]string(nil), memberIDs...),
		FitScore:         score.FitScore,
		SectionScores:    score.SectionScores,
		MemberDeviations: score.MemberDeviations,
		Benefits:         score.Benefits,
		WatchOuts:        score.WatchOuts,
		Explanation:      score.Explanation,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339),
	}

	if err := gs.Dynamo.PutItem(ctx, models.GroupCompatibilityTable, projection); err != nil {
		return nil, fmt.Errorf("failed to store group projection for %s: %w", groupID, err)
	}

	log.Printf("✅ Recalculated compatibility for group %s: fit %.2f over %d members", groupID, score.FitScore, len(memberIDs))
	return &projection, nil
}

// GetGroupCompatibility fetches the current projection for a group.
func (gs *GroupCompatibilityService) GetGroupCompatibility(ctx context.Context, groupID string) (*models.GroupCompatibility, error) {
	key := map[string]types.AttributeValue{
		"groupId": &types.AttributeValueMemberS{Value: groupID},
	}
	item, err := gs.Dynamo.GetItem(ctx, models.GroupCompatibilityTable, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("no compatibility projection for group %s", groupID)
	}

	var projection models.GroupCompatibility
	if err := attributevalue.UnmarshalMap(item, &projection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group projection: %w", err)
	}
	return &projection, nil
}

func (gs *GroupCompatibilityService) getProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	key := map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
	item, err := gs.Dynamo.GetItem(ctx, models.UserProfilesTable, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("user profile not found for userId: %s", userID)
	}

	var profile models.UserProfile
	if err := attributevalue.UnmarshalMap(item, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}
