package routes

import (
	"nestmate_server/controllers"
	"nestmate_server/services"

	"github.com/gorilla/mux"
)

// RegisterGroupRoutes registers group compatibility routes under `/api/groups`
func RegisterGroupRoutes(router *mux.Router, groupService *services.GroupCompatibilityService) {
	controller := &controllers.GroupController{GroupService: groupService}

	groupRouter := router.PathPrefix("/api/groups").Subrouter()

	groupRouter.HandleFunc("/{groupId}/recalculate", controller.RecalculateGroupHandler).Methods("POST")
	groupRouter.HandleFunc("/{groupId}/compatibility", controller.GetGroupCompatibilityHandler).Methods("GET")
}
