package services

import (
	"fmt"
	"math"
	"sort"

	"nestmate_server/models"
)

// CompatibilityService computes pairwise and group fit scores from user
// feature vectors. It is a pure scorer: no storage, no shared state. The
// weights below are the production defaults; how the vectors themselves are
// elicited belongs to the onboarding service.
type CompatibilityService struct{}

// Section weights. Must sum to 1.0 so aggregate scores stay in [0,1].
var sectionWeights = map[string]float64{
	"lifestyle":   0.20,
	"schedule":    0.20,
	"cleanliness": 0.20,
	"social":      0.15,
	"budget":      0.15,
	"location":    0.10,
}

// Score thresholds used when building human-readable reasons.
const (
	strongSectionThreshold = 0.75
	weakSectionThreshold   = 0.40
)

// PairScore is the scorer's output for two users.
type PairScore struct {
	FitScore      float64
	SectionScores map[string]float64
	Reasons       []string
}

// GroupScore is the scorer's output for 2-3 users.
type GroupScore struct {
	FitScore         float64
	SectionScores    map[string]float64
	MemberDeviations map[string]float64
	Benefits         []string
	WatchOuts        []string
	Explanation      string
}

// ScorePair computes the compatibility of two users. Missing sections in
// either vector are skipped and their weight redistributed over the rest.
func (cs *CompatibilityService) ScorePair(a, b *models.UserProfile) PairScore {
	sectionScores := make(map[string]float64)
	var weighted, totalWeight float64

	for section, weight := range sectionWeights {
		av, aok := a.Features[section]
		bv, bok := b.Features[section]
		if !aok || !bok {
			continue
		}
		similarity := 1.0 - math.Abs(clamp01(av)-clamp01(bv))
		sectionScores[section] = round2(similarity)
		weighted += similarity * weight
		totalWeight += weight
	}

	fit := 0.0
	if totalWeight > 0 {
		fit = weighted / totalWeight
	}

	return PairScore{
		FitScore:      round2(fit),
		SectionScores: sectionScores,
		Reasons:       buildPairReasons(sectionScores),
	}
}

// ScoreGroup computes the aggregate fit for 2-3 members as the mean of all
// pairwise scores, with per-member deviation from the group mean.
func (cs *CompatibilityService) ScoreGroup(members []*models.UserProfile) GroupScore {
	if len(members) < models.MinGroupSize {
		return GroupScore{SectionScores: map[string]float64{}, MemberDeviations: map[string]float64{}}
	}

	// Mean pairwise score per member, and pooled section scores.
	memberMeans := make(map[string]float64, len(members))
	memberPairs := make(map[string]int, len(members))
	sectionTotals := make(map[string]float64)
	sectionCounts := make(map[string]int)
	var total float64
	var pairs int

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			ps := cs.ScorePair(members[i], members[j])
			total += ps.FitScore
			pairs++
			memberMeans[members[i].UserID] += ps.FitScore
			memberMeans[members[j].UserID] += ps.FitScore
			memberPairs[members[i].UserID]++
			memberPairs[members[j].UserID]++
			for section, score := range ps.SectionScores {
				sectionTotals[section] += score
				sectionCounts[section]++
			}
		}
	}

	groupMean := total / float64(pairs)

	sectionScores := make(map[string]float64, len(sectionTotals))
	for section, sum := range sectionTotals {
		sectionScores[section] = round2(sum / float64(sectionCounts[section]))
	}

	deviations := make(map[string]float64, len(members))
	for _, m := range members {
		mean := memberMeans[m.UserID] / float64(memberPairs[m.UserID])
		deviations[m.UserID] = round2(math.Abs(mean - groupMean))
	}

	benefits, watchOuts := buildGroupCallouts(sectionScores)

	return GroupScore{
		FitScore:         round2(groupMean),
		SectionScores:    sectionScores,
		MemberDeviations: deviations,
		Benefits:         benefits,
		WatchOuts:        watchOuts,
		Explanation:      buildGroupExplanation(len(members), round2(groupMean), benefits, watchOuts),
	}
}

// buildPairReasons turns section scores into short, user-facing strings,
// strongest sections first.
func buildPairReasons(sectionScores map[string]float64) []string {
	type entry struct {
		section string
		score   float64
	}
	entries := make([]entry, 0, len(sectionScores))
	for section, score := range sectionScores {
		entries = append(entries, entry{section, score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].section < entries[j].section
	})

	var reasons []string
	for _, e := range entries {
		switch {
		case e.score >= strongSectionThreshold:
			reasons = append(reasons, fmt.Sprintf("Closely aligned on %s", e.section))
		case e.score < weakSectionThreshold:
			reasons = append(reasons, fmt.Sprintf("Expect differences around %s", e.section))
		}
	}
	return reasons
}

func buildGroupCallouts(sectionScores map[string]float64) (benefits, watchOuts []string) {
	sections := make([]string, 0, len(sectionScores))
	for section := range sectionScores {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	for _, section := range sections {
		score := sectionScores[section]
		switch {
		case score >= strongSectionThreshold:
			benefits = append(benefits, fmt.Sprintf("The whole group lines up on %s", section))
		case score < weakSectionThreshold:
			watchOuts = append(watchOuts, fmt.Sprintf("Talk early about %s expectations", section))
		}
	}
	return benefits, watchOuts
}

func buildGroupExplanation(size int, fit float64, benefits, watchOuts []string) string {
	quality := "mixed"
	switch {
	case fit >= 0.8:
		quality = "excellent"
	case fit >= 0.6:
		quality = "good"
	case fit < 0.4:
		quality = "low"
	}
	return fmt.Sprintf("%d-person group with %s overall compatibility (%.2f): %d shared strengths, %d points to discuss.",
		size, quality, fit, len(benefits), len(watchOuts))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
