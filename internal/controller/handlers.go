package controller

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/agenttraffic/core/internal/apierrors"
)

// Handler returns the http.Handler implementing the endpoint table of
// spec §6, routed on a plain net/http.ServeMux since the controller's
// HTTP surface is a fixed set of JSON REST paths, not a streaming RPC
// contract. A panic in any handler is recovered, logged with its stack,
// and answered as an Internal error.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /message", c.handleMessage)
	mux.HandleFunc("POST /createAgent", c.handleCreateAgent)
	mux.HandleFunc("POST /pauseAgents", c.handleMissionCommand(OpPause))
	mux.HandleFunc("POST /abortAgents", c.handleMissionCommand(OpAbort))
	mux.HandleFunc("POST /resumeAgents", c.handleMissionCommand(OpResume))
	mux.HandleFunc("POST /resumeAgent", c.handleResumeAgent)
	mux.HandleFunc("GET /getAgentStatistics/{missionId}", c.handleGetAgentStatistics)
	mux.HandleFunc("GET /mission/{missionId}/roster", c.handleRoster)
	mux.HandleFunc("GET /getAgentLocation/{agentId}", c.handleGetAgentLocation)
	mux.HandleFunc("POST /updateAgentLocation", c.handleUpdateAgentLocation)
	mux.HandleFunc("POST /agentStatisticsUpdate", c.handleAgentStatisticsUpdate)
	mux.HandleFunc("POST /checkBlockedAgents", c.handleCheckBlockedAgents)
	mux.HandleFunc("GET /dependentAgents/{agentId}", c.handleDependentAgents)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeError(w, apierrors.New(apierrors.Internal, "controller.handler", fmt.Sprint(rec)))
			}
		}()
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders the {error:{kind,message}} body spec §7 requires
// for non-2xx responses.
func writeError(w http.ResponseWriter, err error) {
	kind := apierrors.KindOf(err)
	writeJSON(w, apierrors.HTTPStatus(kind), map[string]any{
		"error": map[string]string{
			"kind":    string(kind),
			"message": err.Error(),
		},
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func (c *Controller) handleMessage(w http.ResponseWriter, r *http.Request) {
	var envelope struct {
		Type     string `json:"type"`
		Sender   string `json:"sender"`
		ForAgent string `json:"forAgent,omitempty"`
		Content  any    `json:"content"`
	}
	if err := decodeJSON(r, &envelope); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, "handleMessage", err))
		return
	}
	if err := c.Forward(r.Context(), envelope.ForAgent, envelope); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (c *Controller) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, "handleCreateAgent", err))
		return
	}
	result, err := c.CreateAgent(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) handleMissionCommand(op MissionCommandOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MissionID string `json:"missionId"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, apierrors.Wrap(apierrors.Validation, "handleMissionCommand", err))
			return
		}
		result, err := c.MissionCommand(r.Context(), op, body.MissionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (c *Controller) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, "handleResumeAgent", err))
		return
	}
	if err := c.ResumeAgent(r.Context(), body.AgentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": true})
}

func (c *Controller) handleGetAgentStatistics(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("missionId")
	result, err := c.Statistics(r.Context(), missionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) handleRoster(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("missionId")
	result, err := c.Roster(r.Context(), missionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) handleGetAgentLocation(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	workerID, ok := c.Placement.Locate(agentID)
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "handleGetAgentLocation", "agent has no placement"))
		return
	}
	worker, ok := c.Registry.Get(workerID)
	if !ok {
		writeError(w, apierrors.New(apierrors.NotFound, "handleGetAgentLocation", "worker not known"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agentId": agentID, "workerUrl": worker.URL})
}

// handleUpdateAgentLocation lets a worker (or a reassignment path)
// record where an agent now lives: it finds the registered worker whose
// URL matches and moves the agent's placement there with
// Placement.Relocate — used when a worker reports it has picked up an
// agent through an out-of-band channel.
func (c *Controller) handleUpdateAgentLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID   string `json:"agentId"`
		WorkerURL string `json:"workerUrl"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, "handleUpdateAgentLocation", err))
		return
	}
	var matchedWorkerID string
	for _, worker := range c.Registry.ListWorkers() {
		if worker.URL == body.WorkerURL {
			matchedWorkerID = worker.ID
			break
		}
	}
	if matchedWorkerID == "" {
		writeError(w, apierrors.New(apierrors.NotFound, "handleUpdateAgentLocation", "no worker with that url"))
		return
	}
	if err := c.Placement.Relocate(body.AgentID, matchedWorkerID); err != nil {
		writeError(w, err)
		return
	}
	c.Records.SetWorker(body.AgentID, matchedWorkerID)
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (c *Controller) handleAgentStatisticsUpdate(w http.ResponseWriter, r *http.Request) {
	var update StatusUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, "handleAgentStatisticsUpdate", err))
		return
	}
	if err := c.StatusUpdate(r.Context(), update); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (c *Controller) handleCheckBlockedAgents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompletedAgentID string `json:"completedAgentId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apierrors.Wrap(apierrors.Validation, "handleCheckBlockedAgents", err))
		return
	}
	for _, dep := range c.Depgraph.OnCompleted(body.CompletedAgentID) {
		c.advancePending(r.Context(), dep)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"checked": true})
}

func (c *Controller) handleDependentAgents(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	writeJSON(w, http.StatusOK, c.Depgraph.DependentsOf(agentID))
}
