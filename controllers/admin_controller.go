package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"nestmate_server/services"
	"nestmate_server/socket"
)

// AdminController handles operator endpoints: bulk archival and the
// consistency reconciler.
type AdminController struct {
	SuggestionService *services.SuggestionService
	Reconciler        *services.ReconcilerService
	Audit             *services.S3Service // optional
	Notifier          *socket.Notifier
}

// ProposeSuggestionHandler lets an operator hand-create a suggestion, e.g.
// when support pairs two users outside a matching run.
func (c *AdminController) ProposeSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Kind          string             `json:"kind"`
		MemberIDs     []string           `json:"memberIds"`
		FitScore      float64            `json:"fitScore"`
		SectionScores map[string]float64 `json:"sectionScores"`
		Reasons       []string           `json:"reasons"`
		RunID         string             `json:"runId"`
		TTLHours      int                `json:"ttlHours"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("❌ Invalid request payload:", err)
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.RunID == "" || len(request.MemberIDs) == 0 {
		http.Error(w, "Missing runId or memberIds", http.StatusBadRequest)
		return
	}
	if request.TTLHours <= 0 {
		request.TTLHours = 72
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	suggestion, err := c.SuggestionService.Propose(ctx, request.Kind, request.MemberIDs,
		request.FitScore, request.SectionScores, request.Reasons, request.RunID,
		time.Duration(request.TTLHours)*time.Hour)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidMembership):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrDuplicateCandidate):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("❌ Failed to propose suggestion: %v", err)
			http.Error(w, "Failed to propose suggestion: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(suggestion)
}

// BulkExpireHandler force-expires a list of suggestions. Confirmed and
// declined rows are skipped (idempotent no-op), everything else expires
// regardless of deadline.
func (c *AdminController) BulkExpireHandler(w http.ResponseWriter, r *http.Request) {
	c.handleBulk(w, r, "expire")
}

// BulkArchiveHandler is the archival alias of BulkExpireHandler; archival is
// modeled as forced expiry, never a hard delete.
func (c *AdminController) BulkArchiveHandler(w http.ResponseWriter, r *http.Request) {
	c.handleBulk(w, r, "archive")
}

func (c *AdminController) handleBulk(w http.ResponseWriter, r *http.Request, operation string) {
	var request struct {
		IDs   []string `json:"ids"`
		Actor string   `json:"actor"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("❌ Invalid request payload:", err)
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if len(request.IDs) == 0 {
		http.Error(w, "Missing ids field", http.StatusBadRequest)
		return
	}
	if request.Actor == "" {
		request.Actor = "unknown"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results := c.SuggestionService.ForceExpire(ctx, request.IDs, request.Actor)

	for _, result := range results {
		if result.Outcome == "expired" {
			c.Notifier.NotifyMembers(result.MemberIDs, "suggestion:expired", result)
		}
	}

	if c.Audit != nil {
		if err := c.Audit.UploadAuditRecord(ctx, operation, map[string]interface{}{
			"actor":   request.Actor,
			"results": results,
			"at":      time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			log.Printf("⚠️ Failed to upload audit record for bulk %s: %v", operation, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
}

// PurgeHandler deletes declined/expired suggestions past the retention
// window. Hard deletion, so it is a distinct operation from archival and
// takes its window explicitly.
func (c *AdminController) PurgeHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		RetentionDays int    `json:"retentionDays"`
		Actor         string `json:"actor"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("❌ Invalid request payload:", err)
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.RetentionDays <= 0 {
		request.RetentionDays = 90
	}
	if request.Actor == "" {
		request.Actor = "unknown"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	purged, err := c.SuggestionService.PurgeTerminal(ctx, time.Duration(request.RetentionDays)*24*time.Hour)
	if err != nil {
		log.Printf("❌ Purge failed: %v", err)
		http.Error(w, "Purge failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if c.Audit != nil {
		if err := c.Audit.UploadAuditRecord(ctx, "purge", map[string]interface{}{
			"actor":         request.Actor,
			"retentionDays": request.RetentionDays,
			"purged":        purged,
			"at":            time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			log.Printf("⚠️ Failed to upload audit record for purge: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"purged": purged})
}

// ConsistencyReportHandler returns current violation counts without repairing
func (c *AdminController) ConsistencyReportHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	report, err := c.Reconciler.Report(ctx)
	if err != nil {
		log.Printf("❌ Consistency report failed: %v", err)
		http.Error(w, "Consistency report failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// RunConsistencyCheckHandler runs the reconciler: scan, repair, alert.
// The daily scheduled job calls this; repeat invocations on a healthy store
// are no-ops.
func (c *AdminController) RunConsistencyCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	report, err := c.Reconciler.RunConsistencyCheck(ctx)
	if err != nil && report == nil {
		log.Printf("❌ Consistency check failed: %v", err)
		http.Error(w, "Consistency check failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Partial repair failure still returns the report; the scheduler retries
	// on its own cadence.
	status := http.StatusOK
	if err != nil {
		log.Printf("⚠️ Consistency check finished with repair failures: %v", err)
		status = http.StatusMultiStatus
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(report)
}
