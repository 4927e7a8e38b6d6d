package routes

import (
	"nestmate_server/controllers"
	"nestmate_server/services"
	"nestmate_server/socket"

	"github.com/gorilla/mux"
)

// RegisterSuggestionRoutes registers suggestion lifecycle routes under `/api/suggestions`
func RegisterSuggestionRoutes(router *mux.Router, suggestionService *services.SuggestionService, notifier *socket.Notifier) {
	controller := &controllers.SuggestionController{
		SuggestionService: suggestionService,
		Notifier:          notifier,
	}

	suggestionRouter := router.PathPrefix("/api/suggestions").Subrouter()

	suggestionRouter.HandleFunc("/accept", controller.AcceptSuggestionHandler).Methods("POST")
	suggestionRouter.HandleFunc("/decline", controller.DeclineSuggestionHandler).Methods("POST")
	suggestionRouter.HandleFunc("", controller.GetUserSuggestionsHandler).Methods("GET")
}
