package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/daimoniac/swarmshield/internal/api/docs" // registers the swagger doc
	"github.com/daimoniac/swarmshield/internal/config"
	"github.com/daimoniac/swarmshield/internal/errors"
)

// @title SwarmShield API
// @version 1.0
// @description REST API of the SwarmShield supply-chain guard: CI release gate, signed credentials, incidents, agent registry and patch plans.
// @description
// @description ## Features
// @description - Ask the release gate whether a package version may be used
// @description - Inspect and verify signed credentials
// @description - Follow incidents from detection to mitigation
// @description - Register agents and report heartbeats
// @description - Create and accept patch plans
// @description - Trigger demo scenarios

// @contact.name swarmshield
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your API key (with or without "Bearer " prefix)

// maxBodyBytes caps request bodies, release events included
const maxBodyBytes = 4 << 20

// APIServer exposes the gate, the credential log and the agents over HTTP
type APIServer struct {
	config   *config.APIConfig
	services Services
	router   *http.ServeMux
	server   *http.Server
	now      func() time.Time
	logger   *slog.Logger
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.APIConfig, services Services, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	api := &APIServer{
		config:   cfg,
		services: services,
		router:   http.NewServeMux(),
		now:      time.Now,
		logger:   logger.With("component", "api"),
	}

	api.setupRoutes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// Handler returns the router wrapped in the CORS middleware
func (s *APIServer) Handler() http.Handler {
	return s.corsMiddleware(s.router.ServeHTTP)
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// CI gate
	s.router.HandleFunc("POST /api/v1/ci/check", s.authMiddleware(s.handleCICheck, false))
	s.router.HandleFunc("GET /api/v1/ci/policy", s.authMiddleware(s.handleCIPolicy, false))

	// Credentials and incidents
	s.router.HandleFunc("GET /api/v1/credentials", s.authMiddleware(s.handleListCredentials, false))
	s.router.HandleFunc("GET /api/v1/credentials/{id}", s.authMiddleware(s.handleGetCredential, false))
	s.router.HandleFunc("GET /api/v1/credentials/{id}/verify", s.authMiddleware(s.handleVerifyCredential, false))
	s.router.HandleFunc("GET /api/v1/incidents", s.authMiddleware(s.handleListIncidents, false))
	s.router.HandleFunc("GET /api/v1/incidents/{id}", s.authMiddleware(s.handleGetIncident, false))

	// Release ingestion
	s.router.HandleFunc("POST /api/v1/releases", s.authMiddleware(s.handleIngestRelease, true))

	// Agent registry
	s.router.HandleFunc("GET /api/v1/agents", s.authMiddleware(s.handleListAgents, false))
	s.router.HandleFunc("POST /api/v1/agents", s.authMiddleware(s.handleRegisterAgent, true))
	s.router.HandleFunc("GET /api/v1/agents/{identity}", s.authMiddleware(s.handleGetAgent, false))
	s.router.HandleFunc("POST /api/v1/agents/{identity}/heartbeat", s.authMiddleware(s.handleAgentHeartbeat, true))

	// Patch plans
	s.router.HandleFunc("GET /api/v1/patch-plans", s.authMiddleware(s.handleListPatchPlans, false))
	s.router.HandleFunc("POST /api/v1/patch-plans", s.authMiddleware(s.handleCreatePatchPlan, true))
	s.router.HandleFunc("GET /api/v1/patch-plans/alternatives", s.authMiddleware(s.handleListAlternatives, false))
	s.router.HandleFunc("GET /api/v1/patch-plans/{id}", s.authMiddleware(s.handleGetPatchPlan, false))
	s.router.HandleFunc("POST /api/v1/patch-plans/{id}/accept", s.authMiddleware(s.handleAcceptPatchPlan, true))

	// Demo
	s.router.HandleFunc("GET /api/v1/demo/scenarios", s.authMiddleware(s.handleListScenarios, false))
	s.router.HandleFunc("POST /api/v1/demo/trigger", s.authMiddleware(s.handleDemoTrigger, true))
	s.router.HandleFunc("POST /api/v1/demo/seed", s.authMiddleware(s.handleDemoSeed, true))

	// Integration endpoints
	s.router.HandleFunc("GET /api/v1/integration/keys", s.handleVerificationKeys)
	s.router.HandleFunc("GET /api/v1/integration/ci-step", s.handleCIStep)

	// Health and metrics
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Swagger documentation
	s.router.HandleFunc("GET /swagger/", httpSwagger.WrapHandler)

	// Redirect root to swagger
	s.router.HandleFunc("GET /", s.handleRootRedirect)
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// authMiddleware provides optional API key authentication
// requireWrite indicates if this is a write operation that should be blocked in read-only mode
func (s *APIServer) authMiddleware(next http.HandlerFunc, requireWrite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requireWrite && s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		if s.config.APIKey != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				s.respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract token - accept both "Bearer <token>" and just "<token>"
			token := authHeader
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token != s.config.APIKey {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}

		next(w, r)
	}
}

// Start starts the API server
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port,
		"read_only", s.config.ReadOnly)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a domain error onto its status code
func (s *APIServer) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into v. An empty body is accepted
// when optional is set.
func (s *APIServer) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return true
		}
		s.respondError(w, http.StatusBadRequest, "Request body required")
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// parseQueryParam extracts a query parameter from the request
func parseQueryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
		return intValue
	}
	return defaultValue
}

// parseQueryParamBool extracts a boolean query parameter
func parseQueryParamBool(r *http.Request, key string) *bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	boolValue := value == "true" || value == "1" || value == "yes"
	return &boolValue
}

// handleRootRedirect redirects / to /swagger/
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
}
