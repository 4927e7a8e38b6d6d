package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"nestmate_server/routes"
	"nestmate_server/services"
	"nestmate_server/socket"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	_ "go.uber.org/automaxprocs"
)

func main() {
	// Initialize DynamoDB client and service
	log.Println("Initializing DynamoDB client...")
	dynamoClient := services.InitializeDynamoDBClient()
	dynamoService := &services.DynamoService{Client: dynamoClient}
	log.Println("DynamoDB client initialized.")

	// Optional S3 archival for consistency reports and admin audit records
	s3Service := services.NewS3Service()
	if s3Service == nil {
		log.Println("S3_BUCKET_NAME not set, report archival disabled.")
	}

	// Lock policy: strict fails closed when the lock backend is down.
	// Permissive is for local development only and logs every fallback.
	lockPolicy := services.ParseLockPolicy(os.Getenv("LOCK_POLICY"))
	log.Printf("Using lock policy: %s", lockPolicy)

	// Initialize Services
	compatibilityService := &services.CompatibilityService{}
	suggestionService := &services.SuggestionService{Dynamo: dynamoService}
	lockService := services.NewLockService(dynamoService, lockPolicy)
	matchService := &services.MatchService{
		Dynamo:        dynamoService,
		Compatibility: compatibilityService,
		Suggestions:   suggestionService,
		Lock:          lockService,
	}
	reconcilerService := &services.ReconcilerService{
		Dynamo:      dynamoService,
		Suggestions: suggestionService,
		Reports:     s3Service,
	}
	groupService := &services.GroupCompatibilityService{
		Dynamo:        dynamoService,
		Compatibility: compatibilityService,
	}

	// Socket.IO server for live suggestion updates
	notifier := socket.NewSocketServer()
	go func() {
		if err := notifier.Server.Serve(); err != nil {
			log.Printf("❌ Socket server error: %v", err)
		}
	}()
	defer notifier.Server.Close()

	// Set up the server port
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Using server port: %s\n", port)

	// Initialize the router
	r := mux.NewRouter()

	// Register a welcome route
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Welcome to NestMate")
	}).Methods("GET")

	// Register a health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		response := map[string]string{"status": "healthy"}
		json.NewEncoder(w).Encode(response)
	}).Methods("GET")

	// Register routes
	routes.RegisterMatchRoutes(r, matchService, notifier)
	routes.RegisterSuggestionRoutes(r, suggestionService, notifier)
	routes.RegisterAdminRoutes(r, suggestionService, reconcilerService, s3Service, notifier)
	routes.RegisterGroupRoutes(r, groupService)
	r.Handle("/socket.io/", notifier.Server)

	// Add CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Adjust for specific domains if needed
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	// Start the HTTP server
	log.Printf("Starting server on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, corsHandler))
}
