package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/demo"
	"github.com/daimoniac/swarmshield/internal/integration"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/types"
)

// releaseSource marks releases ingested through the API
const releaseSource = "api"

// handleCICheck evaluates the release gate for one package version
// @Summary Check a package version
// @Description Ask the release gate whether CI may use a package version. The decision is returned exactly as the gate produced it.
// @Tags CI
// @Accept json
// @Produce json
// @Param request body CheckRequest true "Package version to check"
// @Success 200 {object} policy.Decision
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /ci/check [post]
func (s *APIServer) handleCICheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}
	if req.PackageName == "" || req.Version == "" {
		s.respondError(w, http.StatusBadRequest, "packageName and version are required")
		return
	}

	decision, err := s.services.Gate.Evaluate(r.Context(), req.ProjectID, req.PackageName, req.Version)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.logger.Debug("ci check",
		"project_id", req.ProjectID,
		"package", req.PackageName,
		"version", req.Version,
		"allowed", decision.Allowed)

	s.respondJSON(w, http.StatusOK, decision)
}

// handleCIPolicy describes the active gate policy
// @Summary Describe the gate policy
// @Tags CI
// @Produce json
// @Success 200 {object} policy.Description
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /ci/policy [get]
func (s *APIServer) handleCIPolicy(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.services.Gate.Describe())
}

// handleListCredentials lists stored credentials
// @Summary List credentials
// @Description List credentials in the order they were issued
// @Tags Credentials
// @Produce json
// @Param package query string false "Filter by package name"
// @Param version query string false "Filter by version"
// @Param type query string false "Filter by credential type (RiskFindingCredential, VerifiedIncidentCredential, FalsePositiveCredential, SafeToUseAttestation)"
// @Param incident_id query string false "Filter by incident"
// @Param issuer query string false "Filter by issuer identity"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {array} credential.Credential
// @Failure 400 {object} map[string]string "Invalid filter"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /credentials [get]
func (s *APIServer) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	filter := statestore.CredentialFilter{
		PackageName: parseQueryParam(r, "package"),
		Version:     parseQueryParam(r, "version"),
		IncidentID:  parseQueryParam(r, "incident_id"),
		Issuer:      parseQueryParam(r, "issuer"),
		Limit:       parseQueryParamInt(r, "limit", 100),
		Offset:      parseQueryParamInt(r, "offset", 0),
	}
	if raw := parseQueryParam(r, "type"); raw != "" {
		t, ok := credential.ParseType(raw)
		if !ok {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown credential type %q", raw))
			return
		}
		filter.Type = t
	}

	creds, err := s.services.Store.QueryCredentials(r.Context(), filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if creds == nil {
		creds = []*credential.Credential{}
	}

	s.respondJSON(w, http.StatusOK, creds)
}

// handleGetCredential returns one credential exactly as stored
// @Summary Get a credential
// @Tags Credentials
// @Produce json
// @Param id path string true "Credential ID"
// @Success 200 {object} credential.Credential
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Credential not found"
// @Security BearerAuth
// @Router /credentials/{id} [get]
func (s *APIServer) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	c, err := s.services.Store.GetCredential(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

// handleVerifyCredential re-verifies a stored credential
// @Summary Verify a credential
// @Description Recompute the signature check and the issuer trust check of a stored credential. Expiry is reported separately.
// @Tags Credentials
// @Produce json
// @Param id path string true "Credential ID"
// @Success 200 {object} VerifyCredentialResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Credential not found"
// @Security BearerAuth
// @Router /credentials/{id}/verify [get]
func (s *APIServer) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.services.Store.GetCredential(ctx, r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	res := s.services.Verifier.Verify(ctx, c)
	s.respondJSON(w, http.StatusOK, newVerifyCredentialResponse(c, res, s.now()))
}

// handleListIncidents lists incidents
// @Summary List incidents
// @Tags Incidents
// @Produce json
// @Param package query string false "Filter by package name"
// @Param version query string false "Filter by version"
// @Param status query string false "Filter by status (detected, verified, false_positive, mitigated)"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {array} types.Incident
// @Failure 400 {object} map[string]string "Invalid filter"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /incidents [get]
func (s *APIServer) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := statestore.IncidentFilter{
		PackageName: parseQueryParam(r, "package"),
		Version:     parseQueryParam(r, "version"),
		Status:      types.IncidentStatus(parseQueryParam(r, "status")),
		Limit:       parseQueryParamInt(r, "limit", 100),
		Offset:      parseQueryParamInt(r, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown incident status %q", filter.Status))
		return
	}

	incidents, err := s.services.Store.QueryIncidents(r.Context(), filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if incidents == nil {
		incidents = []*types.Incident{}
	}

	s.respondJSON(w, http.StatusOK, incidents)
}

// handleGetIncident returns an incident with the ids of its credentials
// @Summary Get an incident
// @Tags Incidents
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} types.Incident
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Security BearerAuth
// @Router /incidents/{id} [get]
func (s *APIServer) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.services.Store.GetIncident(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, inc)
}

// handleIngestRelease scans a published release
// @Summary Ingest a release
// @Description Hand a published package version to the scanner. Suspicious releases open an incident and are sent to the verifiers.
// @Tags Releases
// @Accept json
// @Produce json
// @Param request body types.ReleaseEvent true "Release event"
// @Success 200 {object} scanner.Result
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /releases [post]
func (s *APIServer) handleIngestRelease(w http.ResponseWriter, r *http.Request) {
	var ev types.ReleaseEvent
	if !s.decodeBody(w, r, &ev, false) {
		return
	}
	if ev.Source == "" {
		ev.Source = releaseSource
	}

	res, err := s.services.Scanner.Scan(r.Context(), ev)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.logger.Info("release ingested",
		"package", ev.PackageName,
		"version", ev.Version,
		"suspicious", res.Suspicious,
		"incident_id", res.IncidentID)

	s.respondJSON(w, http.StatusOK, res)
}

// handleListAgents lists registered agents
// @Summary List agents
// @Description List registered agents. Status is derived from the last heartbeat.
// @Tags Agents
// @Produce json
// @Param online query bool false "Only agents that are online"
// @Success 200 {object} AgentListResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /agents [get]
func (s *APIServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	onlineOnly := parseQueryParamBool(r, "online")

	resp := AgentListResponse{Agents: []registry.Agent{}}
	for _, a := range s.services.Agents.List() {
		online := a.Status == registry.StatusOnline
		if online {
			resp.Online++
		}
		if onlineOnly != nil && *onlineOnly != online {
			continue
		}
		resp.Agents = append(resp.Agents, a)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleGetAgent returns one agent
// @Summary Get an agent
// @Tags Agents
// @Produce json
// @Param identity path string true "Agent identity"
// @Success 200 {object} registry.Agent
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Agent not registered"
// @Security BearerAuth
// @Router /agents/{identity} [get]
func (s *APIServer) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.services.Agents.Get(r.PathValue("identity"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

// handleRegisterAgent registers or re-registers an agent
// @Summary Register an agent
// @Tags Agents
// @Accept json
// @Produce json
// @Param request body RegisterAgentRequest true "Agent record"
// @Success 200 {object} registry.Agent
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Security BearerAuth
// @Router /agents [post]
func (s *APIServer) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}

	a, err := s.services.Agents.Register(req.agent())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	s.logger.Info("agent registered via API",
		"identity", a.Identity,
		"capabilities", a.Capabilities)

	s.respondJSON(w, http.StatusOK, a)
}

// handleAgentHeartbeat refreshes an agent's last-seen time
// @Summary Agent heartbeat
// @Tags Agents
// @Produce json
// @Param identity path string true "Agent identity"
// @Success 200 {object} registry.Agent
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 404 {object} map[string]string "Agent not registered"
// @Security BearerAuth
// @Router /agents/{identity}/heartbeat [post]
func (s *APIServer) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	a, err := s.services.Agents.Heartbeat(r.PathValue("identity"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

// handleListPatchPlans lists patch plans
// @Summary List patch plans
// @Tags Patch Plans
// @Produce json
// @Param incident_id query string false "Filter by incident"
// @Param status query string false "Filter by status (proposed, accepted)"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {array} types.PatchPlan
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /patch-plans [get]
func (s *APIServer) handleListPatchPlans(w http.ResponseWriter, r *http.Request) {
	filter := statestore.PatchPlanFilter{
		IncidentID: parseQueryParam(r, "incident_id"),
		Status:     types.PatchPlanStatus(parseQueryParam(r, "status")),
		Limit:      parseQueryParamInt(r, "limit", 100),
		Offset:     parseQueryParamInt(r, "offset", 0),
	}

	plans, err := s.services.Store.ListPatchPlans(r.Context(), filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if plans == nil {
		plans = []*types.PatchPlan{}
	}

	s.respondJSON(w, http.StatusOK, plans)
}

// handleGetPatchPlan returns one patch plan
// @Summary Get a patch plan
// @Tags Patch Plans
// @Produce json
// @Param id path string true "Patch plan ID"
// @Success 200 {object} types.PatchPlan
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Patch plan not found"
// @Security BearerAuth
// @Router /patch-plans/{id} [get]
func (s *APIServer) handleGetPatchPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.services.Store.GetPatchPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

// handleCreatePatchPlan plans remediation for a verified incident
// @Summary Create a patch plan
// @Description Return the plan for a verified incident, creating it on first use
// @Tags Patch Plans
// @Accept json
// @Produce json
// @Param request body CreatePatchPlanRequest true "Incident to plan for"
// @Success 200 {object} types.PatchPlan
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Incident is not verified"
// @Security BearerAuth
// @Router /patch-plans [post]
func (s *APIServer) handleCreatePatchPlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePatchPlanRequest
	if !s.decodeBody(w, r, &req, false) {
		return
	}

	plan, err := s.services.Planner.Plan(r.Context(), req.IncidentID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

// handleAcceptPatchPlan applies a plan and mitigates its incident
// @Summary Accept a patch plan
// @Tags Patch Plans
// @Produce json
// @Param id path string true "Patch plan ID"
// @Success 200 {object} types.PatchPlan
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 404 {object} map[string]string "Patch plan not found"
// @Failure 409 {object} map[string]string "Incident cannot be mitigated"
// @Security BearerAuth
// @Router /patch-plans/{id}/accept [post]
func (s *APIServer) handleAcceptPatchPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.services.Planner.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

// handleListAlternatives lists the known safe replacements
// @Summary List safe alternatives
// @Tags Patch Plans
// @Produce json
// @Success 200 {array} AlternativeResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Security BearerAuth
// @Router /patch-plans/alternatives [get]
func (s *APIServer) handleListAlternatives(w http.ResponseWriter, r *http.Request) {
	alternatives := s.services.Planner.Alternatives()

	names := make([]string, 0, len(alternatives))
	for name := range alternatives {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := make([]AlternativeResponse, 0, len(names))
	for _, name := range names {
		alt := alternatives[name]
		resp = append(resp, AlternativeResponse{
			Package:     name,
			Replacement: alt.Package,
			Version:     alt.Version,
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListScenarios lists the demo scenarios
// @Summary List demo scenarios
// @Tags Demo
// @Produce json
// @Success 200 {array} ScenarioResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Demo mode is disabled"
// @Security BearerAuth
// @Router /demo/scenarios [get]
func (s *APIServer) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	if !s.demoEnabled(w) {
		return
	}
	scenarios := demo.Scenarios()
	resp := make([]ScenarioResponse, 0, len(scenarios))
	for _, sc := range scenarios {
		resp = append(resp, newScenarioResponse(sc))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleDemoTrigger runs a demo scenario through the scanner
// @Summary Trigger a demo scenario
// @Description Feed a simulated malicious release to the scanner. An empty body runs the typosquat scenario.
// @Tags Demo
// @Accept json
// @Produce json
// @Param request body demo.TriggerRequest false "Scenario to trigger"
// @Success 200 {object} demo.TriggerResult
// @Failure 400 {object} map[string]string "Unknown scenario"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 404 {object} map[string]string "Demo mode is disabled"
// @Security BearerAuth
// @Router /demo/trigger [post]
func (s *APIServer) handleDemoTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.demoEnabled(w) {
		return
	}
	var req demo.TriggerRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	res, err := s.services.Demo.Trigger(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// handleDemoSeed registers the demo agents
// @Summary Seed demo agents
// @Tags Demo
// @Produce json
// @Success 200 {object} SeedResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 404 {object} map[string]string "Demo mode is disabled"
// @Security BearerAuth
// @Router /demo/seed [post]
func (s *APIServer) handleDemoSeed(w http.ResponseWriter, r *http.Request) {
	if !s.demoEnabled(w) {
		return
	}
	n, err := s.services.Demo.Seed(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, SeedResponse{Registered: n})
}

func (s *APIServer) demoEnabled(w http.ResponseWriter) bool {
	if s.services.Demo == nil {
		s.respondError(w, http.StatusNotFound, "Demo mode is disabled")
		return false
	}
	return true
}

// handleVerificationKeys publishes the credential verification keys
// @Summary Get verification keys
// @Description Public keys external verifiers use to check credential signatures offline. Symmetric schemes publish nothing.
// @Tags Integration
// @Produce json
// @Success 200 {object} integration.KeySet
// @Failure 404 {object} map[string]string "Scheme has no public keys"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /integration/keys [get]
func (s *APIServer) handleVerificationKeys(w http.ResponseWriter, r *http.Request) {
	var scheme credential.Scheme
	if s.services.Verifier != nil {
		scheme = s.services.Verifier.Scheme()
	}

	keys, err := integration.VerificationKeys(scheme)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, keys)
}

// handleCIStep renders a CI pipeline step that calls the gate
// @Summary Generate a CI step
// @Description Render a pipeline step that checks every locked dependency against /ci/check
// @Tags Integration
// @Produce plain
// @Param format query string false "CI system (github, gitlab)" default(github)
// @Param project_id query string false "Project id sent with every check"
// @Param lockfile query string false "Lockfile to read" default(package-lock.json)
// @Success 200 {string} string "Pipeline YAML"
// @Failure 400 {object} map[string]string "Invalid request"
// @Router /integration/ci-step [get]
func (s *APIServer) handleCIStep(w http.ResponseWriter, r *http.Request) {
	step, err := integration.GenerateCIStep(integration.CIStepOptions{
		APIURL:    s.config.PublicURL,
		ProjectID: parseQueryParam(r, "project_id"),
		Format:    parseQueryParam(r, "format"),
		Lockfile:  parseQueryParam(r, "lockfile"),
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(step))
}

// handleHealth provides health check endpoint
// @Summary Health check
// @Description Check the health status of the API server and its components
// @Tags Health
// @Produce json
// @Success 200 {object} observability.HealthStatus
// @Failure 503 {object} observability.HealthStatus
// @Router /health [get]
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.services.Health == nil {
		s.respondJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
		})
		return
	}
	s.services.Health.HealthHandler()(w, r)
}
