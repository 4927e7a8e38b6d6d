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

	"github.com/gorilla/mux"
)

// MatchController handles API requests for matching runs
type MatchController struct {
	MatchService *services.MatchService
	Notifier     *socket.Notifier
}

// RefreshMatchesHandler triggers one matching run for a cohort. Called by
// the admin console and by the scheduled refresh job.
func (c *MatchController) RefreshMatchesHandler(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Mode   string `json:"mode"`   // "pairs" or "groups"
		Cohort string `json:"cohort"` // institution filter, empty for all
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("❌ Invalid request payload:", err)
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.Mode == "" {
		http.Error(w, "Missing mode field", http.StatusBadRequest)
		return
	}

	// A scoring run over a large cohort can take a while.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := c.MatchService.RefreshMatches(ctx, request.Mode, request.Cohort)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLockBusy):
			// Expected under contention: another instance is already running.
			log.Printf("ℹ️ Refresh for cohort %q skipped, lock busy", request.Cohort)
			http.Error(w, "A matching run is already in progress for this cohort", http.StatusConflict)
		case errors.Is(err, services.ErrLockBackendUnavailable):
			log.Printf("❌ Refresh aborted, lock backend unavailable: %v", err)
			http.Error(w, "Lock backend unavailable, refusing to run unprotected", http.StatusServiceUnavailable)
		default:
			log.Printf("❌ Matching run failed: %v", err)
			http.Error(w, "Matching run failed: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	for _, suggestion := range result.Suggestions {
		c.Notifier.NotifyMembers(suggestion.MemberIDs, "suggestion:created", suggestion)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetRunHandler returns one run record with its suggestions
func (c *MatchController) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	if runID == "" {
		http.Error(w, "Missing runId parameter", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	run, suggestions, err := c.MatchService.GetRun(ctx, runID)
	if err != nil {
		log.Printf("❌ Failed to fetch run %s: %v", runID, err)
		http.Error(w, "Failed to fetch run: "+err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run":         run,
		"suggestions": suggestions,
	})
}
