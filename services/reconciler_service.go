package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"nestmate_server/models"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Violation types reported by the reconciler.
const (
	// ViolationConfirmedIncomplete - a confirmed row without full acceptance.
	// Critical: the atomic auto-confirm transition should make this impossible.
	ViolationConfirmedIncomplete = "confirmed_without_full_acceptance"

	// ViolationStuckFullyAccepted - every member accepted but the row never
	// flipped to confirmed. Critical, and safely auto-repairable.
	ViolationStuckFullyAccepted = "fully_accepted_not_confirmed"

	// ViolationTerminalFullyAccepted - a declined or expired row where every
	// member had accepted. The atomic auto-confirm should have won; something
	// overwrote a row that was owed a confirm. Critical, alert only: the
	// terminal status is the evidence and must not be rewritten blindly.
	ViolationTerminalFullyAccepted = "terminal_with_full_acceptance"

	// ViolationAcceptedByNotMember - acceptedBy contains ids outside memberIds.
	ViolationAcceptedByNotMember = "accepted_by_outside_membership"

	// ViolationStaleExpiry - pending/accepted row sitting past its deadline.
	ViolationStaleExpiry = "stale_expiry"

	// ViolationDuplicateMembership - a user appears in two suggestions of the
	// same run. No deterministic safe fix; alert only.
	ViolationDuplicateMembership = "duplicate_membership_within_run"
)

// Violation is one detected invariant breach on one suggestion.
type Violation struct {
	Type         string `json:"type"`
	SuggestionID string `json:"suggestionId"`
	RunID        string `json:"runId,omitempty"`
	Critical     bool   `json:"critical"`
	Repairable   bool   `json:"repairable"`
	Detail       string `json:"detail"`
}

// ConsistencyReport summarizes one reconciler pass.
type ConsistencyReport struct {
	CheckedAt       string         `json:"checkedAt"`
	ScannedCount    int            `json:"scannedCount"`
	ViolationCounts map[string]int `json:"violationCounts"`
	CriticalCount   int            `json:"criticalCount"`
	RepairsApplied  int            `json:"repairsApplied"`
	RepairsFailed   int            `json:"repairsFailed"`
	ProbeHealthy    bool           `json:"probeHealthy"`
	Violations      []Violation    `json:"violations"`
}

// ReconcilerService periodically scans the suggestion store for invariant
// violations, heals the ones with a deterministic safe fix, and alerts on the
// rest. It is deliberately idempotent: every repair is a conditional write,
// so overlapping runs (or a concurrent manual repair) degrade to no-ops.
type ReconcilerService struct {
	Dynamo      *DynamoService
	Suggestions *SuggestionService
	Reports     *S3Service // optional; nil skips snapshot upload
}

// RunConsistencyCheck scans, repairs and reports. Repair failures are
// collected rather than aborting the pass, so one bad row cannot block the
// rest; they surface through ErrReconciliationRepairFailed alongside the
// report.
func (rs *ReconcilerService) RunConsistencyCheck(ctx context.Context) (*ConsistencyReport, error) {
	report, suggestions, err := rs.inspect(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Suggestion, len(suggestions))
	for i := range suggestions {
		byID[suggestions[i].SuggestionID] = &suggestions[i]
	}

	for _, violation := range report.Violations {
		if !violation.Repairable {
			continue
		}
		suggestion := byID[violation.SuggestionID]
		if suggestion == nil {
			continue
		}
		if err := rs.repair(ctx, suggestion, violation); err != nil {
			report.RepairsFailed++
			log.Printf("❌ Repair of %s (%s) failed: %v", violation.SuggestionID, violation.Type, err)
		} else {
			report.RepairsApplied++
		}
	}

	report.ProbeHealthy = rs.probeConditionalWrites(ctx)

	rs.emitAlerts(report)
	rs.snapshot(ctx, report)

	if report.RepairsFailed > 0 {
		return report, fmt.Errorf("%w: %d of %d repairs did not apply", ErrReconciliationRepairFailed,
			report.RepairsFailed, report.RepairsApplied+report.RepairsFailed)
	}
	return report, nil
}

// Report scans and classifies without repairing, for operator tooling.
func (rs *ReconcilerService) Report(ctx context.Context) (*ConsistencyReport, error) {
	report, _, err := rs.inspect(ctx)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (rs *ReconcilerService) inspect(ctx context.Context) (*ConsistencyReport, []models.Suggestion, error) {
	var suggestions []models.Suggestion
	if err := rs.Dynamo.ScanAllPages(ctx, models.SuggestionsTable, "", nil, nil, &suggestions); err != nil {
		return nil, nil, fmt.Errorf("failed to scan suggestions: %w", err)
	}

	now := time.Now().UTC()
	violations := ClassifyViolations(suggestions, now)

	report := &ConsistencyReport{
		CheckedAt:       now.Format(time.RFC3339),
		ScannedCount:    len(suggestions),
		ViolationCounts: make(map[string]int),
		Violations:      violations,
		ProbeHealthy:    true,
	}
	for _, v := range violations {
		report.ViolationCounts[v.Type]++
		if v.Critical {
			report.CriticalCount++
		}
	}
	return report, suggestions, nil
}

// repair applies the deterministic fix for one violation as a conditional
// write keyed on the row version seen during the scan. A condition failure
// means someone else already moved the row; that is success, not an error.
func (rs *ReconcilerService) repair(ctx context.Context, suggestion *models.Suggestion, violation Violation) error {
	key := map[string]types.AttributeValue{
		"suggestionId": &types.AttributeValueMemberS{Value: suggestion.SuggestionID},
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var updateExpression string
	expressionValues := map[string]types.AttributeValue{
		":now":            &types.AttributeValueMemberS{Value: now},
		":one":            &types.AttributeValueMemberN{Value: "1"},
		":scannedVersion": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", suggestion.Version)},
	}
	expressionNames := map[string]string{
		"#status":    "status",
		"#updatedAt": "updatedAt",
		"#version":   "version",
	}
	conditionExpression := "#version = :scannedVersion"

	switch violation.Type {
	case ViolationStuckFullyAccepted:
		updateExpression = "SET #status = :confirmed, #updatedAt = :now ADD #version :one"
		expressionValues[":confirmed"] = &types.AttributeValueMemberS{Value: models.SuggestionStatusConfirmed}
	case ViolationStaleExpiry:
		// Route through the state machine's own time-gated transition; it
		// re-reads the row, so a concurrent confirm or manual repair makes
		// this a no-op. A nil error means the expiry was persisted by this
		// call; persistence failures come back as real errors and count as
		// failed repairs.
		_, err := rs.Suggestions.Expire(ctx, suggestion.SuggestionID)
		if errors.Is(err, ErrNotExpirable) || errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrStaleWrite) {
			log.Printf("ℹ️ Expiry repair of %s skipped: row moved since scan", suggestion.SuggestionID)
			return nil
		}
		if err == nil {
			log.Printf("🔧 Repaired %s: %s", suggestion.SuggestionID, violation.Type)
		}
		return err
	case ViolationAcceptedByNotMember:
		pruned := intersect(suggestion.AcceptedBy, suggestion.MemberIDs)
		acceptedBy := make([]types.AttributeValue, 0, len(pruned))
		for _, id := range pruned {
			acceptedBy = append(acceptedBy, &types.AttributeValueMemberS{Value: id})
		}
		updateExpression = "SET #acceptedBy = :acceptedBy, #updatedAt = :now ADD #version :one"
		expressionNames["#acceptedBy"] = "acceptedBy"
		expressionValues[":acceptedBy"] = &types.AttributeValueMemberL{Value: acceptedBy}
	default:
		return fmt.Errorf("no repair defined for violation type %s", violation.Type)
	}

	_, err := rs.Dynamo.UpdateItemConditional(ctx, models.SuggestionsTable, key, updateExpression, conditionExpression, expressionValues, expressionNames)
	if errors.Is(err, ErrConditionFailed) {
		log.Printf("ℹ️ Repair of %s (%s) skipped: row moved since scan", suggestion.SuggestionID, violation.Type)
		return nil
	}
	if err == nil {
		log.Printf("🔧 Repaired %s: %s", suggestion.SuggestionID, violation.Type)
	}
	return err
}

// probeConditionalWrites verifies the conditional-write machinery that the
// atomic transitions depend on: a put guarded by attribute_exists on a row
// that cannot exist must be rejected. If it is accepted, the primary defense
// against lost updates is gone.
func (rs *ReconcilerService) probeConditionalWrites(ctx context.Context) bool {
	sentinel := models.Suggestion{
		SuggestionID: "RECONCILER#PROBE",
		Status:       models.SuggestionStatusExpired,
	}
	err := rs.Dynamo.PutItemConditional(ctx, models.SuggestionsTable, sentinel,
		"attribute_exists(suggestionId) AND suggestionId = :never", map[string]types.AttributeValue{
			":never": &types.AttributeValueMemberS{Value: "RECONCILER#PROBE#NEVER"},
		}, nil)
	if errors.Is(err, ErrConditionFailed) {
		return true
	}
	if err == nil {
		log.Printf("🚨 HIGH SEVERITY: conditional-write probe was ACCEPTED; atomic transitions are unprotected")
		return false
	}
	log.Printf("⚠️ Conditional-write probe errored (backend issue, not a condition rejection): %v", err)
	return false
}

func (rs *ReconcilerService) emitAlerts(report *ConsistencyReport) {
	if report.CriticalCount == 0 && report.RepairsApplied == 0 && report.RepairsFailed == 0 && report.ProbeHealthy {
		log.Printf("✅ Consistency check clean: %d suggestions scanned, no violations", report.ScannedCount)
		return
	}
	log.Printf("🚨 CONSISTENCY ALERT: scanned=%d critical=%d repaired=%d failed=%d probeHealthy=%v counts=%v",
		report.ScannedCount, report.CriticalCount, report.RepairsApplied, report.RepairsFailed, report.ProbeHealthy, report.ViolationCounts)
	for _, v := range report.Violations {
		if v.Critical {
			log.Printf("🚨 critical violation [%s] suggestion %s: %s", v.Type, v.SuggestionID, v.Detail)
		}
	}
}

func (rs *ReconcilerService) snapshot(ctx context.Context, report *ConsistencyReport) {
	if rs.Reports == nil {
		return
	}
	if err := rs.Reports.UploadReport(ctx, report); err != nil {
		log.Printf("⚠️ Failed to upload consistency report snapshot: %v", err)
	}
}

///// 🔹🔹🔹 Pure classification 🔹🔹🔹 /////

// ClassifyViolations checks every store invariant over a full scan. It is
// pure so the rules
// can be tested without a store.
func ClassifyViolations(suggestions []models.Suggestion, now time.Time) []Violation {
	var violations []Violation

	runMembers := make(map[string]map[string]string) // runId -> userId -> first suggestionId

	for i := range suggestions {
		s := &suggestions[i]

		// acceptedBy must be a subset of memberIds.
		for _, id := range s.AcceptedBy {
			if !s.HasMember(id) {
				violations = append(violations, Violation{
					Type:         ViolationAcceptedByNotMember,
					SuggestionID: s.SuggestionID,
					RunID:        s.RunID,
					Repairable:   true,
					Detail:       fmt.Sprintf("acceptedBy contains non-member %s", id),
				})
				break
			}
		}

		// confirmed implies full acceptance.
		if s.Status == models.SuggestionStatusConfirmed && !s.FullyAccepted() {
			violations = append(violations, Violation{
				Type:         ViolationConfirmedIncomplete,
				SuggestionID: s.SuggestionID,
				RunID:        s.RunID,
				Critical:     true,
				Detail:       fmt.Sprintf("confirmed with acceptedBy=%v of members=%v", s.AcceptedBy, s.MemberIDs),
			})
		}

		// full acceptance implies confirmed.
		if s.FullyAccepted() && (s.Status == models.SuggestionStatusPending || s.Status == models.SuggestionStatusAccepted) {
			violations = append(violations, Violation{
				Type:         ViolationStuckFullyAccepted,
				SuggestionID: s.SuggestionID,
				RunID:        s.RunID,
				Critical:     true,
				Repairable:   true,
				Detail:       fmt.Sprintf("all %d members accepted but status is %s", len(s.MemberIDs), s.Status),
			})
		}

		// a fully-accepted row must never end declined or expired.
		if s.FullyAccepted() && (s.Status == models.SuggestionStatusDeclined || s.Status == models.SuggestionStatusExpired) {
			violations = append(violations, Violation{
				Type:         ViolationTerminalFullyAccepted,
				SuggestionID: s.SuggestionID,
				RunID:        s.RunID,
				Critical:     true,
				Detail:       fmt.Sprintf("all %d members accepted but row ended %s", len(s.MemberIDs), s.Status),
			})
		}

		// past-deadline rows must not linger as pending/accepted.
		// lapsed already excludes fully-accepted rows; those are owed a confirm.
		if lapsed(s, now) {
			violations = append(violations, Violation{
				Type:         ViolationStaleExpiry,
				SuggestionID: s.SuggestionID,
				RunID:        s.RunID,
				Repairable:   true,
				Detail:       fmt.Sprintf("status %s past deadline %s", s.Status, s.ExpiresAt),
			})
		}

		// one suggestion per user per run.
		if runMembers[s.RunID] == nil {
			runMembers[s.RunID] = make(map[string]string)
		}
		for _, id := range s.MemberIDs {
			if firstID, exists := runMembers[s.RunID][id]; exists && firstID != s.SuggestionID {
				violations = append(violations, Violation{
					Type:         ViolationDuplicateMembership,
					SuggestionID: s.SuggestionID,
					RunID:        s.RunID,
					Detail:       fmt.Sprintf("user %s also appears in suggestion %s of run %s", id, firstID, s.RunID),
				})
			} else {
				runMembers[s.RunID][id] = s.SuggestionID
			}
		}
	}

	return violations
}

func intersect(values, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}
	var result []string
	for _, id := range values {
		if allowedSet[id] {
			result = append(result, id)
		}
	}
	return result
}
