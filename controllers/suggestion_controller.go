package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"nestmate_server/models"
	"nestmate_server/services"
	"nestmate_server/socket"
)

// SuggestionController handles API requests for suggestion transitions
type SuggestionController struct {
	SuggestionService *services.SuggestionService
	Notifier          *socket.Notifier
}

// AcceptSuggestionHandler records one member's acceptance
func (c *SuggestionController) AcceptSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	c.handleTransition(w, r, "accept", c.SuggestionService.Accept)
}

// DeclineSuggestionHandler records one member's decline (terminal)
func (c *SuggestionController) DeclineSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	c.handleTransition(w, r, "decline", c.SuggestionService.Decline)
}

// GetUserSuggestionsHandler fetches all suggestions that include a user
func (c *SuggestionController) GetUserSuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "Missing userId parameter", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	suggestions, err := c.SuggestionService.GetSuggestionsForUser(ctx, userID)
	if err != nil {
		log.Printf("❌ Failed to fetch suggestions for %s: %v", userID, err)
		http.Error(w, "Failed to fetch suggestions: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(suggestions)
}

func (c *SuggestionController) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	transition func(ctx context.Context, suggestionID, userID string) (*models.Suggestion, error),
) {
	var request struct {
		SuggestionID string `json:"suggestionId"`
		UserID       string `json:"userId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Println("❌ Invalid request payload:", err)
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.SuggestionID == "" || request.UserID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	suggestion, err := transition(ctx, request.SuggestionID, request.UserID)
	if err != nil {
		status, message := transitionErrorStatus(err)
		log.Printf("❌ Failed to %s suggestion %s for %s: %v", action, request.SuggestionID, request.UserID, err)
		http.Error(w, message, status)
		return
	}

	c.Notifier.NotifyMembers(suggestion.MemberIDs, "suggestion:"+suggestion.Status, suggestion)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(suggestion)
}

// transitionErrorStatus maps state machine sentinels to HTTP status codes
func transitionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrSuggestionNotFound):
		return http.StatusNotFound, "Suggestion not found"
	case errors.Is(err, services.ErrNotAMember):
		return http.StatusForbidden, "User is not a member of this suggestion"
	case errors.Is(err, services.ErrAlreadyTerminal):
		return http.StatusConflict, "Suggestion is already in a terminal state"
	case errors.Is(err, services.ErrStaleWrite):
		return http.StatusConflict, "Suggestion changed concurrently, please retry"
	default:
		return http.StatusInternalServerError, "Failed to process transition: " + err.Error()
	}
}
