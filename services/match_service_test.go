package services

import (
	"testing"
	"time"

	"nestmate_server/models"

	"github.com/stretchr/testify/require"
)

func candidate(a, b string, score float64) pairCandidate {
	if a > b {
		a, b = b, a
	}
	return pairCandidate{A: a, B: b, FitScore: score}
}

func TestAssignPairs(t *testing.T) {
	t.Run("picks best non-overlapping pairs", func(t *testing.T) {
		// Cohort {A,B,C,D}: AB=0.9, CD=0.85, AC=0.4, AD=0.3, BC=0.5, BD=0.2
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("C", "D", 0.85),
			candidate("A", "C", 0.4),
			candidate("A", "D", 0.3),
			candidate("B", "C", 0.5),
			candidate("B", "D", 0.2),
		}

		units := assignPairs(candidates)
		require.Len(t, units, 2)
		require.Equal(t, []string{"A", "B"}, units[0].Members)
		require.InDelta(t, 0.9, units[0].FitScore, 1e-9)
		require.Equal(t, []string{"C", "D"}, units[1].Members)
		require.InDelta(t, 0.85, units[1].FitScore, 1e-9)
	})

	t.Run("odd one out stays unmatched without error", func(t *testing.T) {
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("A", "C", 0.8),
			candidate("B", "C", 0.7),
		}

		units := assignPairs(candidates)
		require.Len(t, units, 1)
		require.Equal(t, []string{"A", "B"}, units[0].Members)
	})

	t.Run("empty input produces zero pairs", func(t *testing.T) {
		require.Empty(t, assignPairs(nil))
	})

	t.Run("tie break prefers lower user id", func(t *testing.T) {
		candidates := []pairCandidate{
			candidate("C", "D", 0.8),
			candidate("A", "B", 0.8),
		}

		units := assignPairs(candidates)
		require.Len(t, units, 2)
		require.Equal(t, []string{"A", "B"}, units[0].Members)
	})

	t.Run("deterministic regardless of input order", func(t *testing.T) {
		forward := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("B", "C", 0.9),
			candidate("A", "C", 0.9),
		}
		reversed := []pairCandidate{forward[2], forward[1], forward[0]}

		first := assignPairs(forward)
		second := assignPairs(reversed)
		require.Equal(t, first, second)
		require.Equal(t, []string{"A", "B"}, first[0].Members)
	})

	t.Run("no user appears in two units of one run", func(t *testing.T) {
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("A", "C", 0.85),
			candidate("A", "D", 0.8),
			candidate("C", "D", 0.6),
		}

		units := assignPairs(candidates)
		seen := make(map[string]bool)
		for _, unit := range units {
			for _, member := range unit.Members {
				require.False(t, seen[member], "user %s assigned twice", member)
				seen[member] = true
			}
		}
	})
}

func TestAssignGroups(t *testing.T) {
	t.Run("forms a triad when every pairwise score clears the floor", func(t *testing.T) {
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("A", "C", 0.8),
			candidate("B", "C", 0.7),
		}

		units := assignGroups(candidates, 0.55)
		require.Len(t, units, 1)
		require.Equal(t, []string{"A", "B", "C"}, units[0].Members)
		// Mean of the three pairwise scores.
		require.InDelta(t, 0.8, units[0].FitScore, 1e-9)
	})

	t.Run("refuses a triad with one weak edge", func(t *testing.T) {
		// AB is great but C fits badly with B: no "one good, two bad" triads.
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("A", "C", 0.8),
			candidate("B", "C", 0.3),
		}

		units := assignGroups(candidates, 0.55)
		require.Len(t, units, 1)
		require.Equal(t, []string{"A", "B"}, units[0].Members)
	})

	t.Run("picks the third maximizing the weakest edge", func(t *testing.T) {
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("A", "C", 0.7),
			candidate("B", "C", 0.6),
			candidate("A", "D", 0.8),
			candidate("B", "D", 0.75),
			candidate("C", "D", 0.6),
		}

		units := assignGroups(candidates, 0.55)
		require.NotEmpty(t, units)
		// D's weakest edge into {A,B} is 0.75; C's is 0.6.
		require.Equal(t, []string{"A", "B", "D"}, units[0].Members)
	})

	t.Run("members of a triad are removed from the pool", func(t *testing.T) {
		candidates := []pairCandidate{
			candidate("A", "B", 0.9),
			candidate("A", "C", 0.8),
			candidate("B", "C", 0.7),
			candidate("D", "E", 0.85),
		}

		units := assignGroups(candidates, 0.55)
		require.Len(t, units, 2)
		require.Equal(t, []string{"A", "B", "C"}, units[0].Members)
		require.Equal(t, []string{"D", "E"}, units[1].Members)
	})
}

func TestScoreCohort(t *testing.T) {
	ms := &MatchService{Compatibility: &CompatibilityService{}}

	profile := func(id string, lifestyle float64, blocked ...string) *models.UserProfile {
		return &models.UserProfile{
			UserID:  id,
			Active:  true,
			Blocked: blocked,
			Features: map[string]float64{
				"lifestyle": lifestyle, "schedule": 0.5, "cleanliness": 0.5,
				"social": 0.5, "budget": 0.5, "location": 0.5,
			},
		}
	}

	t.Run("scores all admissible pairs", func(t *testing.T) {
		cohort := []*models.UserProfile{profile("A", 0.5), profile("B", 0.5), profile("C", 0.5)}
		candidates := ms.scoreCohort(cohort, nil)
		require.Len(t, candidates, 3)
	})

	t.Run("blocked pairs are excluded either direction", func(t *testing.T) {
		cohort := []*models.UserProfile{profile("A", 0.5, "B"), profile("B", 0.5)}
		require.Empty(t, ms.scoreCohort(cohort, nil))

		cohort = []*models.UserProfile{profile("A", 0.5), profile("B", 0.5, "A")}
		require.Empty(t, ms.scoreCohort(cohort, nil))
	})

	t.Run("pairs sharing an active suggestion are excluded", func(t *testing.T) {
		cohort := []*models.UserProfile{profile("A", 0.5), profile("B", 0.5), profile("C", 0.5)}
		excluded := map[string]bool{pairKey("A", "B"): true}

		candidates := ms.scoreCohort(cohort, excluded)
		require.Len(t, candidates, 2)
		for _, c := range candidates {
			require.NotEqual(t, "A|B", c.A+"|"+c.B)
		}
	})

	t.Run("cohort of one produces nothing", func(t *testing.T) {
		require.Empty(t, ms.scoreCohort([]*models.UserProfile{profile("A", 0.5)}, nil))
	})
}

func TestBuildRunPuts(t *testing.T) {
	now := time.Now().UTC()
	units := []matchUnit{
		{Members: []string{"A", "B"}, FitScore: 0.9},
		{Members: []string{"C", "D", "E"}, FitScore: 0.7},
	}
	run := models.MatchRun{
		RunID:           "run-9",
		Mode:            models.RunModeGroups,
		SuggestionCount: len(units),
		CreatedAt:       now.Format(time.RFC3339),
	}

	t.Run("run record rides in the same transaction as its suggestions", func(t *testing.T) {
		puts, suggestions := buildRunPuts(units, run, time.Hour, now)

		require.Len(t, puts, 3)
		require.Len(t, suggestions, 2)
		require.Equal(t, models.SuggestionsTable, puts[0].TableName)
		require.Equal(t, models.SuggestionsTable, puts[1].TableName)
		require.Equal(t, models.MatchRunsTable, puts[2].TableName)
		require.Equal(t, run, puts[2].Item)

		for i, suggestion := range suggestions {
			require.Equal(t, "run-9", suggestion.RunID)
			require.Equal(t, units[i].Members, suggestion.MemberIDs)
			require.Equal(t, suggestion, puts[i].Item)
		}
		require.Equal(t, models.SuggestionKindPair, suggestions[0].Kind)
		require.Equal(t, models.SuggestionKindGroup, suggestions[1].Kind)
	})

	t.Run("empty run still records the run row", func(t *testing.T) {
		puts, suggestions := buildRunPuts(nil, run, time.Hour, now)

		require.Len(t, puts, 1)
		require.Empty(t, suggestions)
		require.Equal(t, models.MatchRunsTable, puts[0].TableName)
	})
}
