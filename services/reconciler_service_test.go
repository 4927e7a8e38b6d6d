package services

import (
	"testing"
	"time"

	"nestmate_server/models"

	"github.com/stretchr/testify/require"
)

func baseSuggestion(id, runID, status string, members, acceptedBy []string, expiresIn time.Duration, now time.Time) models.Suggestion {
	return models.Suggestion{
		SuggestionID: id,
		RunID:        runID,
		Kind:         models.SuggestionKindPair,
		MemberIDs:    members,
		Status:       status,
		AcceptedBy:   acceptedBy,
		ExpiresAt:    now.Add(expiresIn).Format(time.RFC3339),
		CreatedAt:    now.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
		Version:      1,
	}
}

func violationTypes(violations []Violation) []string {
	types := make([]string, 0, len(violations))
	for _, v := range violations {
		types = append(types, v.Type)
	}
	return types
}

func TestClassifyViolations(t *testing.T) {
	now := time.Now().UTC()

	t.Run("healthy dataset has no violations", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusPending, []string{"A", "B"}, nil, time.Hour, now),
			baseSuggestion("s2", "run-1", models.SuggestionStatusAccepted, []string{"C", "D"}, []string{"C"}, time.Hour, now),
			baseSuggestion("s3", "run-1", models.SuggestionStatusConfirmed, []string{"E", "F"}, []string{"E", "F"}, time.Hour, now),
			baseSuggestion("s4", "run-2", models.SuggestionStatusDeclined, []string{"A", "C"}, []string{"A"}, time.Hour, now),
		}

		require.Empty(t, ClassifyViolations(suggestions, now))
	})

	t.Run("confirmed without full acceptance is critical", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusConfirmed, []string{"A", "B"}, []string{"A"}, time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Len(t, violations, 1)
		require.Equal(t, ViolationConfirmedIncomplete, violations[0].Type)
		require.True(t, violations[0].Critical)
		require.False(t, violations[0].Repairable)
	})

	t.Run("fully accepted but not confirmed is critical and repairable", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusAccepted, []string{"A", "B"}, []string{"B", "A"}, time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Len(t, violations, 1)
		require.Equal(t, ViolationStuckFullyAccepted, violations[0].Type)
		require.True(t, violations[0].Critical)
		require.True(t, violations[0].Repairable)
	})

	t.Run("past-deadline fully accepted row is stuck, not stale", func(t *testing.T) {
		// The deadline does not matter once everyone accepted: the repair is
		// a confirm, never an expiry.
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusAccepted, []string{"A", "B"}, []string{"A", "B"}, -time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Equal(t, []string{ViolationStuckFullyAccepted}, violationTypes(violations))
	})

	t.Run("expired row with full acceptance is critical", func(t *testing.T) {
		// Everyone accepted but the row somehow ended expired instead of
		// confirmed; the terminal status is evidence and must surface, not
		// be rewritten.
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusExpired, []string{"A", "B"}, []string{"A", "B"}, -time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Len(t, violations, 1)
		require.Equal(t, ViolationTerminalFullyAccepted, violations[0].Type)
		require.True(t, violations[0].Critical)
		require.False(t, violations[0].Repairable)
	})

	t.Run("declined row with full acceptance is critical", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusDeclined, []string{"A", "B"}, []string{"B", "A"}, time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Equal(t, []string{ViolationTerminalFullyAccepted}, violationTypes(violations))
		require.True(t, violations[0].Critical)
	})

	t.Run("stale expiry on a partially accepted row", func(t *testing.T) {
		// acceptedBy={A}, deadline in the past, status accepted: must be
		// flagged for expiry, not left as accepted.
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusAccepted, []string{"A", "B"}, []string{"A"}, -time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Equal(t, []string{ViolationStaleExpiry}, violationTypes(violations))
		require.True(t, violations[0].Repairable)
	})

	t.Run("acceptedBy outside membership", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusAccepted, []string{"A", "B"}, []string{"Z"}, time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Contains(t, violationTypes(violations), ViolationAcceptedByNotMember)
	})

	t.Run("duplicate membership within one run", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusPending, []string{"A", "B"}, nil, time.Hour, now),
			baseSuggestion("s2", "run-1", models.SuggestionStatusPending, []string{"A", "C"}, nil, time.Hour, now),
		}

		violations := ClassifyViolations(suggestions, now)
		require.Len(t, violations, 1)
		require.Equal(t, ViolationDuplicateMembership, violations[0].Type)
		require.False(t, violations[0].Repairable)
	})

	t.Run("same user across different runs is fine", func(t *testing.T) {
		suggestions := []models.Suggestion{
			baseSuggestion("s1", "run-1", models.SuggestionStatusExpired, []string{"A", "B"}, nil, -time.Hour, now),
			baseSuggestion("s2", "run-2", models.SuggestionStatusPending, []string{"A", "C"}, nil, time.Hour, now),
		}

		require.Empty(t, ClassifyViolations(suggestions, now))
	})
}

func TestReconcilerIdempotence(t *testing.T) {
	// Applying the planned repairs in memory and re-classifying must find
	// nothing: a second reconciler pass over a healed store is a no-op.
	now := time.Now().UTC()
	suggestions := []models.Suggestion{
		baseSuggestion("s1", "run-1", models.SuggestionStatusAccepted, []string{"A", "B"}, []string{"A", "B"}, time.Hour, now),
		baseSuggestion("s2", "run-1", models.SuggestionStatusPending, []string{"C", "D"}, nil, -time.Hour, now),
		baseSuggestion("s3", "run-1", models.SuggestionStatusAccepted, []string{"E", "F"}, []string{"E", "Z"}, time.Hour, now),
	}

	violations := ClassifyViolations(suggestions, now)
	require.NotEmpty(t, violations)

	byID := make(map[string]*models.Suggestion)
	for i := range suggestions {
		byID[suggestions[i].SuggestionID] = &suggestions[i]
	}
	for _, v := range violations {
		s := byID[v.SuggestionID]
		switch v.Type {
		case ViolationStuckFullyAccepted:
			s.Status = models.SuggestionStatusConfirmed
		case ViolationStaleExpiry:
			s.Status = models.SuggestionStatusExpired
		case ViolationAcceptedByNotMember:
			s.AcceptedBy = intersect(s.AcceptedBy, s.MemberIDs)
		}
	}

	require.Empty(t, ClassifyViolations(suggestions, now))
}

func TestIntersect(t *testing.T) {
	require.Equal(t, []string{"A", "B"}, intersect([]string{"A", "Z", "B"}, []string{"A", "B", "C"}))
	require.Nil(t, intersect([]string{"Z"}, []string{"A"}))
	require.Nil(t, intersect(nil, []string{"A"}))
}
