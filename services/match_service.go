package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"nestmate_server/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Orchestrator defaults, overridable per service instance.
const (
	DefaultSuggestionTTL = 72 * time.Hour
	DefaultTriadFloor    = 0.55
	DefaultRunLockTTL    = 2 * time.Minute
)

// MatchService is the matching orchestrator: it turns a cohort of eligible
// users into a batch of non-overlapping pair/group suggestions under a
// distributed lock, so concurrent refresh triggers cannot double-write.
type MatchService struct {
	Dynamo        *DynamoService
	Compatibility *CompatibilityService
	Suggestions   *SuggestionService
	Lock          *LockService

	SuggestionTTL time.Duration
	TriadFloor    float64
	RunLockTTL    time.Duration
}

// RefreshResult is the outcome of one matching run, including the created
// suggestions so callers can push creation events to the members.
type RefreshResult struct {
	RunID           string               `json:"runId"`
	Mode            string               `json:"mode"`
	CohortFilter    string               `json:"cohortFilter"`
	SuggestionCount int                  `json:"suggestionCount"`
	UnmatchedCount  int                  `json:"unmatchedCount"`
	Suggestions     []*models.Suggestion `json:"suggestions"`
}

// RefreshMatches executes one matching run for the cohort. It acquires the
// per-cohort lock (ErrLockBusy when another instance is already running),
// scores the cohort, assigns pairs or triads greedily, and persists the whole
// batch transactionally under a fresh run id.
func (ms *MatchService) RefreshMatches(ctx context.Context, mode, cohortFilter string) (*RefreshResult, error) {
	if mode != models.RunModePairs && mode != models.RunModeGroups {
		return nil, fmt.Errorf("invalid mode %q: expected %q or %q", mode, models.RunModePairs, models.RunModeGroups)
	}

	lockKey := "matching_refresh:" + cohortFilter
	if err := ms.Lock.Acquire(ctx, lockKey, ms.runLockTTL()); err != nil {
		return nil, err
	}
	defer func() {
		if err := ms.Lock.Release(ctx, lockKey); err != nil {
			log.Printf("⚠️ Failed to release lock %s: %v", lockKey, err)
		}
	}()

	cohort, err := ms.loadCohort(ctx, cohortFilter)
	if err != nil {
		return nil, err
	}
	log.Printf("🔍 Matching run (%s) over cohort %q: %d eligible users", mode, cohortFilter, len(cohort))

	excluded, err := ms.loadActivePairExclusions(ctx)
	if err != nil {
		return nil, err
	}

	candidates := ms.scoreCohort(cohort, excluded)

	var units []matchUnit
	if mode == models.RunModePairs {
		units = assignPairs(candidates)
	} else {
		units = assignGroups(candidates, ms.triadFloor())
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	run := models.MatchRun{
		RunID:           runID,
		Mode:            mode,
		CohortFilter:    cohortFilter,
		SuggestionCount: len(units),
		CreatedAt:       now.Format(time.RFC3339),
	}

	// One transaction covers the suggestions and the run row, so a crash can
	// never leave a batch without its run record (or vice versa). The 100-item
	// transaction cap leaves room for 99 suggestions per run.
	puts, suggestions := buildRunPuts(units, run, ms.suggestionTTL(), now)
	if err := ms.Dynamo.TransactWriteItems(ctx, puts); err != nil {
		return nil, fmt.Errorf("failed to persist run %s: %w", runID, err)
	}

	matched := 0
	for _, unit := range units {
		matched += len(unit.Members)
	}
	log.Printf("✅ Run %s produced %d suggestions, %d users unmatched", runID, len(units), len(cohort)-matched)

	return &RefreshResult{
		RunID:           runID,
		Mode:            mode,
		CohortFilter:    cohortFilter,
		SuggestionCount: len(units),
		UnmatchedCount:  len(cohort) - matched,
		Suggestions:     suggestions,
	}, nil
}

// buildRunPuts turns the assigned units into suggestion rows and bundles
// them with the run record into one transactional batch.
func buildRunPuts(units []matchUnit, run models.MatchRun, ttl time.Duration, now time.Time) ([]TransactPut, []*models.Suggestion) {
	puts := make([]TransactPut, 0, len(units)+1)
	suggestions := make([]*models.Suggestion, 0, len(units))
	for _, unit := range units {
		suggestion := NewSuggestion(
			unit.kind(), unit.Members, unit.FitScore, unit.SectionScores, unit.Reasons, run.RunID, ttl, now,
		)
		suggestions = append(suggestions, suggestion)
		puts = append(puts, TransactPut{TableName: models.SuggestionsTable, Item: suggestion})
	}
	puts = append(puts, TransactPut{TableName: models.MatchRunsTable, Item: run})
	return puts, suggestions
}

// GetRun returns a run record and the suggestions it produced.
func (ms *MatchService) GetRun(ctx context.Context, runID string) (*models.MatchRun, []models.Suggestion, error) {
	key := map[string]types.AttributeValue{
		"runId": &types.AttributeValueMemberS{Value: runID},
	}
	item, err := ms.Dynamo.GetItem(ctx, models.MatchRunsTable, key)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, fmt.Errorf("run %s not found", runID)
	}

	var run models.MatchRun
	if err := attributevalue.UnmarshalMap(item, &run); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	suggestions, err := ms.Suggestions.GetSuggestionsForRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return &run, suggestions, nil
}

// loadCohort fetches active profiles, by institution when a filter is given,
// otherwise across the whole table.
func (ms *MatchService) loadCohort(ctx context.Context, cohortFilter string) ([]*models.UserProfile, error) {
	var profiles []models.UserProfile

	if cohortFilter != "" {
		keyCondition := "institution = :institution"
		expressionValues := map[string]types.AttributeValue{
			":institution": &types.AttributeValueMemberS{Value: cohortFilter},
		}
		items, err := ms.Dynamo.QueryItemsWithIndex(ctx, models.UserProfilesTable, models.InstitutionIndex, keyCondition, expressionValues, nil, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to load cohort %q: %w", cohortFilter, err)
		}
		if err := attributevalue.UnmarshalListOfMaps(items, &profiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cohort: %w", err)
		}
	} else {
		if err := ms.Dynamo.ScanAllPages(ctx, models.UserProfilesTable, "", nil, nil, &profiles); err != nil {
			return nil, fmt.Errorf("failed to load cohort: %w", err)
		}
	}

	eligible := make([]*models.UserProfile, 0, len(profiles))
	for i := range profiles {
		if profiles[i].Active {
			eligible = append(eligible, &profiles[i])
		}
	}
	return eligible, nil
}

// loadActivePairExclusions builds the set of user pairs that already share an
// active (pending/accepted/confirmed) suggestion from any earlier run.
func (ms *MatchService) loadActivePairExclusions(ctx context.Context) (map[string]bool, error) {
	filterExpression := "#status = :pending OR #status = :accepted OR #status = :confirmed"
	expressionValues := map[string]types.AttributeValue{
		":pending":   &types.AttributeValueMemberS{Value: models.SuggestionStatusPending},
		":accepted":  &types.AttributeValueMemberS{Value: models.SuggestionStatusAccepted},
		":confirmed": &types.AttributeValueMemberS{Value: models.SuggestionStatusConfirmed},
	}
	expressionNames := map[string]string{"#status": "status"}

	var active []models.Suggestion
	if err := ms.Dynamo.ScanAllPages(ctx, models.SuggestionsTable, filterExpression, expressionValues, expressionNames, &active); err != nil {
		return nil, fmt.Errorf("failed to load active suggestions: %w", err)
	}

	excluded := make(map[string]bool)
	for _, suggestion := range active {
		for i := 0; i < len(suggestion.MemberIDs); i++ {
			for j := i + 1; j < len(suggestion.MemberIDs); j++ {
				excluded[pairKey(suggestion.MemberIDs[i], suggestion.MemberIDs[j])] = true
			}
		}
	}
	return excluded, nil
}

// scoreCohort computes all pairwise candidates, dropping blocked pairs and
// pairs already bound by an active suggestion. O(n²) over the cohort, which
// is fine at per-institution sizes.
func (ms *MatchService) scoreCohort(cohort []*models.UserProfile, excluded map[string]bool) []pairCandidate {
	var candidates []pairCandidate
	for i := 0; i < len(cohort); i++ {
		for j := i + 1; j < len(cohort); j++ {
			a, b := cohort[i], cohort[j]
			if a.HasBlocked(b.UserID) || b.HasBlocked(a.UserID) {
				continue
			}
			if excluded[pairKey(a.UserID, b.UserID)] {
				continue
			}
			score := ms.Compatibility.ScorePair(a, b)
			candidates = append(candidates, pairCandidate{
				A:             minString(a.UserID, b.UserID),
				B:             maxString(a.UserID, b.UserID),
				FitScore:      score.FitScore,
				SectionScores: score.SectionScores,
				Reasons:       score.Reasons,
			})
		}
	}
	return candidates
}

func (ms *MatchService) suggestionTTL() time.Duration {
	if ms.SuggestionTTL > 0 {
		return ms.SuggestionTTL
	}
	return DefaultSuggestionTTL
}

func (ms *MatchService) triadFloor() float64 {
	if ms.TriadFloor > 0 {
		return ms.TriadFloor
	}
	return DefaultTriadFloor
}

func (ms *MatchService) runLockTTL() time.Duration {
	if ms.RunLockTTL > 0 {
		return ms.RunLockTTL
	}
	return DefaultRunLockTTL
}

///// 🔹🔹🔹 Pure assignment algorithm 🔹🔹🔹 /////

// pairCandidate is one scored, admissible pair with A < B for determinism.
type pairCandidate struct {
	A, B          string
	FitScore      float64
	SectionScores map[string]float64
	Reasons       []string
}

// matchUnit is one assigned suggestion-to-be (2 or 3 members).
type matchUnit struct {
	Members       []string
	FitScore      float64
	SectionScores map[string]float64
	Reasons       []string
}

func (u matchUnit) kind() string {
	if len(u.Members) > 2 {
		return models.SuggestionKindGroup
	}
	return models.SuggestionKindPair
}

// sortCandidates orders by score descending, then by lower user id, so runs
// over the same cohort are deterministic.
func sortCandidates(candidates []pairCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FitScore != candidates[j].FitScore {
			return candidates[i].FitScore > candidates[j].FitScore
		}
		if candidates[i].A != candidates[j].A {
			return candidates[i].A < candidates[j].A
		}
		return candidates[i].B < candidates[j].B
	})
}

// assignPairs repeatedly takes the best remaining admissible pair and removes
// both members from the pool. Users left without a partner stay unmatched.
func assignPairs(candidates []pairCandidate) []matchUnit {
	sorted := append([]pairCandidate(nil), candidates...)
	sortCandidates(sorted)

	used := make(map[string]bool)
	var units []matchUnit
	for _, c := range sorted {
		if used[c.A] || used[c.B] {
			continue
		}
		used[c.A] = true
		used[c.B] = true
		units = append(units, matchUnit{
			Members:       []string{c.A, c.B},
			FitScore:      c.FitScore,
			SectionScores: c.SectionScores,
			Reasons:       c.Reasons,
		})
	}
	return units
}

// assignGroups works like assignPairs but tries to grow each selected pair
// into a triad. A third member is added only when all three pairwise scores
// clear the floor, so no triad hides one good pair behind two bad ones;
// among admissible thirds the one maximizing the weakest pairwise score wins.
func assignGroups(candidates []pairCandidate, floor float64) []matchUnit {
	sorted := append([]pairCandidate(nil), candidates...)
	sortCandidates(sorted)

	scores := make(map[string]pairCandidate, len(candidates))
	memberSet := make(map[string]bool)
	for _, c := range candidates {
		scores[pairKey(c.A, c.B)] = c
		memberSet[c.A] = true
		memberSet[c.B] = true
	}
	members := make([]string, 0, len(memberSet))
	for id := range memberSet {
		members = append(members, id)
	}
	sort.Strings(members)

	used := make(map[string]bool)
	var units []matchUnit
	for _, c := range sorted {
		if used[c.A] || used[c.B] {
			continue
		}

		bestThird := ""
		bestMin := -1.0
		for _, third := range members {
			if third == c.A || third == c.B || used[third] {
				continue
			}
			ca, okA := scores[pairKey(c.A, third)]
			cb, okB := scores[pairKey(c.B, third)]
			if !okA || !okB {
				continue
			}
			weakest := min3(c.FitScore, ca.FitScore, cb.FitScore)
			if weakest < floor {
				continue
			}
			if weakest > bestMin {
				bestMin = weakest
				bestThird = third
			}
		}

		if bestThird != "" {
			triad := []string{c.A, c.B, bestThird}
			sort.Strings(triad)
			units = append(units, buildTriadUnit(triad, scores))
			for _, id := range triad {
				used[id] = true
			}
			continue
		}

		used[c.A] = true
		used[c.B] = true
		units = append(units, matchUnit{
			Members:       []string{c.A, c.B},
			FitScore:      c.FitScore,
			SectionScores: c.SectionScores,
			Reasons:       c.Reasons,
		})
	}
	return units
}

// buildTriadUnit aggregates a triad's three pairwise candidates into one unit.
func buildTriadUnit(triad []string, scores map[string]pairCandidate) matchUnit {
	sectionTotals := make(map[string]float64)
	sectionCounts := make(map[string]int)
	var total float64
	var reasons []string
	seenReasons := make(map[string]bool)

	for i := 0; i < len(triad); i++ {
		for j := i + 1; j < len(triad); j++ {
			c := scores[pairKey(triad[i], triad[j])]
			total += c.FitScore
			for section, score := range c.SectionScores {
				sectionTotals[section] += score
				sectionCounts[section]++
			}
			for _, reason := range c.Reasons {
				if !seenReasons[reason] {
					seenReasons[reason] = true
					reasons = append(reasons, reason)
				}
			}
		}
	}

	sectionScores := make(map[string]float64, len(sectionTotals))
	for section, sum := range sectionTotals {
		sectionScores[section] = round2(sum / float64(sectionCounts[section]))
	}

	return matchUnit{
		Members:       triad,
		FitScore:      round2(total / 3),
		SectionScores: sectionScores,
		Reasons:       reasons,
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func minString(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func maxString(a, b string) string {
	if a < b {
		return b
	}
	return a
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
