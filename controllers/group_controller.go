package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"nestmate_server/services"

	"github.com/gorilla/mux"
)

// GroupController handles the live group-compatibility projection
type GroupController struct {
	GroupService *services.GroupCompatibilityService
}

// RecalculateGroupHandler recomputes a group's compatibility after a
// membership change (a member moved out). The caller sends the remaining
// member ids.
func (c *GroupController) RecalculateGroupHandler(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]

	var request struct {
		MemberIDs []string `json:"memberIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("❌ Invalid request payload:", err)
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if groupID == "" || len(request.MemberIDs) == 0 {
		http.Error(w, "Missing groupId or memberIds", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	projection, err := c.GroupService.RecalculateGroup(ctx, groupID, request.MemberIDs)
	if err != nil {
		if errors.Is(err, services.ErrInvalidMembership) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("❌ Failed to recalculate group %s: %v", groupID, err)
		http.Error(w, "Failed to recalculate group: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projection)
}

// GetGroupCompatibilityHandler returns the current projection for a group
func (c *GroupController) GetGroupCompatibilityHandler(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]
	if groupID == "" {
		http.Error(w, "Missing groupId parameter", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	projection, err := c.GroupService.GetGroupCompatibility(ctx, groupID)
	if err != nil {
		log.Printf("❌ Failed to fetch group projection %s: %v", groupID, err)
		http.Error(w, "Failed to fetch group compatibility: "+err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projection)
}
