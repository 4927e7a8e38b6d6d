package routes

import (
	"nestmate_server/controllers"
	"nestmate_server/services"
	"nestmate_server/socket"

	"github.com/gorilla/mux"
)

// RegisterAdminRoutes registers operator endpoints under `/api/admin`
func RegisterAdminRoutes(router *mux.Router, suggestionService *services.SuggestionService, reconciler *services.ReconcilerService, audit *services.S3Service, notifier *socket.Notifier) {
	controller := &controllers.AdminController{
		SuggestionService: suggestionService,
		Reconciler:        reconciler,
		Audit:             audit,
		Notifier:          notifier,
	}

	adminRouter := router.PathPrefix("/api/admin").Subrouter()

	adminRouter.HandleFunc("/suggestions/propose", controller.ProposeSuggestionHandler).Methods("POST")
	adminRouter.HandleFunc("/suggestions/expire", controller.BulkExpireHandler).Methods("POST")
	adminRouter.HandleFunc("/suggestions/archive", controller.BulkArchiveHandler).Methods("POST")
	adminRouter.HandleFunc("/suggestions/purge", controller.PurgeHandler).Methods("POST")
	adminRouter.HandleFunc("/consistency-report", controller.ConsistencyReportHandler).Methods("GET")
	adminRouter.HandleFunc("/consistency-run", controller.RunConsistencyCheckHandler).Methods("POST")
}
