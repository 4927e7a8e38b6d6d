package routes

import (
	"nestmate_server/controllers"
	"nestmate_server/services"
	"nestmate_server/socket"
	"nestmate_server/utils"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// RegisterMatchRoutes registers matching run routes under `/api/matching`
func RegisterMatchRoutes(router *mux.Router, matchService *services.MatchService, notifier *socket.Notifier) {
	controller := &controllers.MatchController{MatchService: matchService, Notifier: notifier}

	// One refresh per 30s with a small burst; a run is an O(n²) scoring job.
	refreshLimiter := rate.NewLimiter(rate.Limit(1.0/30.0), 2)

	matchRouter := router.PathPrefix("/api/matching").Subrouter()

	matchRouter.HandleFunc("/refresh", utils.RateLimit(refreshLimiter, controller.RefreshMatchesHandler)).Methods("POST")
	matchRouter.HandleFunc("/runs/{runId}", controller.GetRunHandler).Methods("GET")
}
