package services

import (
	"testing"
	"time"

	"nestmate_server/models"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

func newTestSuggestion(t *testing.T, members []string, ttl time.Duration) *models.Suggestion {
	t.Helper()
	kind := models.SuggestionKindPair
	if len(members) > 2 {
		kind = models.SuggestionKindGroup
	}
	return NewSuggestion(kind, members, 0.8, map[string]float64{"lifestyle": 0.8}, []string{"Closely aligned on lifestyle"}, "run-1", ttl, time.Now().UTC())
}

// checkInvariants asserts the state machine invariants on a suggestion.
func checkInvariants(t *testing.T, s *models.Suggestion) {
	t.Helper()

	// acceptedBy ⊆ memberIds
	for _, id := range s.AcceptedBy {
		require.True(t, s.HasMember(id), "acceptedBy contains non-member %s", id)
	}

	// confirmed ⇒ everyone accepted
	if s.Status == models.SuggestionStatusConfirmed {
		require.True(t, s.FullyAccepted(), "confirmed without full acceptance")
	}

	// everyone accepted ⇒ confirmed (no stuck rows)
	if s.FullyAccepted() && !s.IsTerminal() {
		t.Fatalf("fully accepted suggestion stuck in %s", s.Status)
	}
}

func TestValidateMembership(t *testing.T) {
	t.Run("valid pair", func(t *testing.T) {
		require.NoError(t, validateMembership(models.SuggestionKindPair, []string{"a", "b"}))
	})

	t.Run("pair with wrong size", func(t *testing.T) {
		err := validateMembership(models.SuggestionKindPair, []string{"a", "b", "c"})
		require.ErrorIs(t, err, ErrInvalidMembership)
	})

	t.Run("group of three", func(t *testing.T) {
		require.NoError(t, validateMembership(models.SuggestionKindGroup, []string{"a", "b", "c"}))
	})

	t.Run("group too large", func(t *testing.T) {
		err := validateMembership(models.SuggestionKindGroup, []string{"a", "b", "c", "d"})
		require.ErrorIs(t, err, ErrInvalidMembership)
	})

	t.Run("duplicate member", func(t *testing.T) {
		err := validateMembership(models.SuggestionKindPair, []string{"a", "a"})
		require.ErrorIs(t, err, ErrInvalidMembership)
	})

	t.Run("empty member id", func(t *testing.T) {
		err := validateMembership(models.SuggestionKindPair, []string{"a", ""})
		require.ErrorIs(t, err, ErrInvalidMembership)
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := validateMembership("triangle", []string{"a", "b"})
		require.ErrorIs(t, err, ErrInvalidMembership)
	})
}

func TestAcceptFlow(t *testing.T) {
	now := time.Now().UTC()

	t.Run("first accept moves pending to accepted", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)

		require.NoError(t, applyAccept(s, "A", now))
		require.Equal(t, models.SuggestionStatusAccepted, s.Status)
		require.Equal(t, []string{"A"}, s.AcceptedBy)
		checkInvariants(t, s)
	})

	t.Run("last accept auto-confirms", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)

		require.NoError(t, applyAccept(s, "A", now))
		require.NoError(t, applyAccept(s, "B", now))
		require.Equal(t, models.SuggestionStatusConfirmed, s.Status)
		require.ElementsMatch(t, []string{"A", "B"}, s.AcceptedBy)
		checkInvariants(t, s)
	})

	t.Run("triad confirms only after all three", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B", "C"}, time.Hour)

		require.NoError(t, applyAccept(s, "A", now))
		require.NoError(t, applyAccept(s, "B", now))
		require.Equal(t, models.SuggestionStatusAccepted, s.Status)
		checkInvariants(t, s)

		require.NoError(t, applyAccept(s, "C", now))
		require.Equal(t, models.SuggestionStatusConfirmed, s.Status)
		checkInvariants(t, s)
	})

	t.Run("repeat accept is idempotent", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)

		require.NoError(t, applyAccept(s, "A", now))
		require.NoError(t, applyAccept(s, "A", now))
		require.Equal(t, []string{"A"}, s.AcceptedBy)
		require.Equal(t, models.SuggestionStatusAccepted, s.Status)
	})

	t.Run("non-member cannot accept", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		require.ErrorIs(t, applyAccept(s, "Z", now), ErrNotAMember)
	})

	t.Run("accept after confirm fails", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		require.NoError(t, applyAccept(s, "A", now))
		require.NoError(t, applyAccept(s, "B", now))
		require.ErrorIs(t, applyAccept(s, "A", now), ErrAlreadyTerminal)
	})
}

func TestDeclinePrecedence(t *testing.T) {
	now := time.Now().UTC()

	t.Run("decline wins over partial acceptance", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)

		require.NoError(t, applyAccept(s, "A", now))
		require.NoError(t, applyDecline(s, "B", now))
		require.Equal(t, models.SuggestionStatusDeclined, s.Status)
		checkInvariants(t, s)
	})

	t.Run("accept after decline fails regardless of timing", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)

		require.NoError(t, applyDecline(s, "A", now))
		require.ErrorIs(t, applyAccept(s, "B", now), ErrAlreadyTerminal)
		require.Equal(t, models.SuggestionStatusDeclined, s.Status)
	})

	t.Run("decline after confirm fails", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)

		require.NoError(t, applyAccept(s, "A", now))
		require.NoError(t, applyAccept(s, "B", now))
		require.ErrorIs(t, applyDecline(s, "A", now), ErrAlreadyTerminal)
	})

	t.Run("non-member cannot decline", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		require.ErrorIs(t, applyDecline(s, "Z", now), ErrNotAMember)
	})
}

func TestExpiry(t *testing.T) {
	now := time.Now().UTC()

	t.Run("expire before deadline fails", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		require.ErrorIs(t, applyExpire(s, now), ErrNotExpirable)
	})

	t.Run("expire after deadline succeeds", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, -time.Minute)
		require.NoError(t, applyExpire(s, now))
		require.Equal(t, models.SuggestionStatusExpired, s.Status)
		checkInvariants(t, s)
	})

	t.Run("partially accepted row still expires", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		require.NoError(t, applyAccept(s, "A", now))
		s.ExpiresAt = now.Add(-time.Minute).Format(time.RFC3339)

		require.NoError(t, applyExpire(s, now))
		require.Equal(t, models.SuggestionStatusExpired, s.Status)
	})

	t.Run("confirmed row never expires", func(t *testing.T) {
		s := newTestSuggestion(t, []string{"A", "B"}, -time.Minute)
		s.Status = models.SuggestionStatusConfirmed
		s.AcceptedBy = []string{"A", "B"}
		require.ErrorIs(t, applyExpire(s, now), ErrNotExpirable)
	})

	t.Run("lapsed detects past-deadline pending and accepted rows only", func(t *testing.T) {
		stale := newTestSuggestion(t, []string{"A", "B"}, -time.Minute)
		require.True(t, lapsed(stale, now))

		fresh := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		require.False(t, lapsed(fresh, now))

		declined := newTestSuggestion(t, []string{"A", "B"}, -time.Minute)
		declined.Status = models.SuggestionStatusDeclined
		require.False(t, lapsed(declined, now))
	})

	t.Run("stuck fully accepted row is owed a confirm, never an expiry", func(t *testing.T) {
		// A row where everyone accepted but the confirm write was lost.
		s := newTestSuggestion(t, []string{"A", "B"}, -time.Minute)
		s.Status = models.SuggestionStatusAccepted
		s.AcceptedBy = []string{"A", "B"}
		require.True(t, s.FullyAccepted())

		require.False(t, lapsed(s, now))
		require.ErrorIs(t, applyExpire(s, now), ErrNotExpirable)
		require.Equal(t, models.SuggestionStatusAccepted, s.Status)

		// A member retry completes the confirm instead of expiring the row.
		require.NoError(t, applyAccept(s, "A", now))
		require.Equal(t, models.SuggestionStatusConfirmed, s.Status)
		checkInvariants(t, s)
	})
}

func TestUserSuggestionsFilter(t *testing.T) {
	expr, values, names := userSuggestionsFilter("U1")

	require.Contains(t, expr, "contains(memberIds, :userId)")
	require.Equal(t, "status", names["#status"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "U1"}, values[":userId"])

	// The inbox only ever shows live rows; terminal statuses stay out.
	statuses := make([]string, 0, len(values)-1)
	for key, value := range values {
		if key == ":userId" {
			continue
		}
		s, ok := value.(*types.AttributeValueMemberS)
		require.True(t, ok)
		statuses = append(statuses, s.Value)
	}
	require.ElementsMatch(t, []string{
		models.SuggestionStatusPending,
		models.SuggestionStatusAccepted,
		models.SuggestionStatusConfirmed,
	}, statuses)
}

func TestPurgeEligible(t *testing.T) {
	now := time.Now().UTC()
	cutoff := now.Add(-90 * 24 * time.Hour)
	old := now.Add(-120 * 24 * time.Hour).Format(time.RFC3339)
	recent := now.Add(-time.Hour).Format(time.RFC3339)

	suggestions := []models.Suggestion{
		{SuggestionID: "old-declined", Status: models.SuggestionStatusDeclined, UpdatedAt: old},
		{SuggestionID: "old-expired", Status: models.SuggestionStatusExpired, UpdatedAt: old},
		{SuggestionID: "recent-expired", Status: models.SuggestionStatusExpired, UpdatedAt: recent},
		{SuggestionID: "old-confirmed", Status: models.SuggestionStatusConfirmed, UpdatedAt: old},
		{SuggestionID: "bad-timestamp", Status: models.SuggestionStatusExpired, UpdatedAt: "not-a-time"},
	}

	require.ElementsMatch(t, []string{"old-declined", "old-expired"}, purgeEligible(suggestions, cutoff))
}

func TestInvariantsUnderRandomSequences(t *testing.T) {
	// Every interleaving of transitions must leave the row consistent.
	now := time.Now().UTC()
	actions := []func(s *models.Suggestion) error{
		func(s *models.Suggestion) error { return applyAccept(s, "A", now) },
		func(s *models.Suggestion) error { return applyAccept(s, "B", now) },
		func(s *models.Suggestion) error { return applyDecline(s, "A", now) },
		func(s *models.Suggestion) error { return applyExpire(s, now) },
	}

	// Exhaustive over all orderings of the four actions.
	perms := permutations([]int{0, 1, 2, 3})
	for _, perm := range perms {
		s := newTestSuggestion(t, []string{"A", "B"}, time.Hour)
		for _, idx := range perm {
			_ = actions[idx](s) // errors are legal; broken invariants are not
			checkInvariants(t, s)
		}
	}
}

func permutations(values []int) [][]int {
	if len(values) <= 1 {
		return [][]int{append([]int(nil), values...)}
	}
	var result [][]int
	for i := range values {
		rest := make([]int, 0, len(values)-1)
		rest = append(rest, values[:i]...)
		rest = append(rest, values[i+1:]...)
		for _, tail := range permutations(rest) {
			result = append(result, append([]int{values[i]}, tail...))
		}
	}
	return result
}

func TestNewSuggestion(t *testing.T) {
	now := time.Now().UTC()
	s := NewSuggestion(models.SuggestionKindPair, []string{"A", "B"}, 0.9, nil, nil, "run-7", time.Hour, now)

	require.NotEmpty(t, s.SuggestionID)
	require.Equal(t, "run-7", s.RunID)
	require.Equal(t, models.SuggestionStatusPending, s.Status)
	require.Empty(t, s.AcceptedBy)
	require.Equal(t, int64(1), s.Version)
	require.Equal(t, now.Add(time.Hour).Format(time.RFC3339), s.ExpiresAt)
}
