// Package collaborators holds thin HTTP clients for the three external
// collaborators the Traffic Controller talks to outbound: the service
// registry (worker discovery), mission-control (statistics collection),
// and security (bearer-token verification). All are out of scope per
// spec §1; only their contracts are implemented here.
package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/registry"
)

// ServiceRegistryClient fetches the deployed agent-set worker fleet from
// the external service registry (spec §6: "GET
// /requestComponent?type=AgentSet returns {components:[{id,type,url}]}").
// It satisfies registry.InventoryFetcher.
type ServiceRegistryClient struct {
	baseURL string
	http    *http.Client
}

// NewServiceRegistryClient creates a client bound to baseURL (the
// POSTOFFICE_URL env var, which hosts the service-registry collaborator).
func NewServiceRegistryClient(baseURL string, httpClient *http.Client) *ServiceRegistryClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ServiceRegistryClient{baseURL: baseURL, http: httpClient}
}

type componentsResponse struct {
	Components []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"components"`
}

// FetchWorkers implements registry.InventoryFetcher.
func (c *ServiceRegistryClient) FetchWorkers(ctx context.Context) ([]registry.Inventory, error) {
	const op = "collaborators.fetchWorkers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/requestComponent?type=AgentSet", nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Unreachable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.New(apierrors.Unreachable, op, fmt.Sprintf("service registry returned %d", resp.StatusCode))
	}

	var parsed componentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, op, err)
	}

	out := make([]registry.Inventory, 0, len(parsed.Components))
	for _, comp := range parsed.Components {
		out = append(out, registry.Inventory{ID: comp.ID, URL: comp.URL})
	}
	return out, nil
}

// SecurityClient verifies bearer tokens against the external security
// collaborator (SECURITY_URL). Spec §6 requires the controller to
// verify, but never issue, tokens; it does not fix the verification
// contract, so this assumes a GET /verifyToken?token=... returning
// {valid:bool} — the simplest shape consistent with "verifies but does
// not issue" (documented in the design ledger).
type SecurityClient struct {
	baseURL string
	http    *http.Client
}

// NewSecurityClient creates a client bound to baseURL (SECURITY_URL).
func NewSecurityClient(baseURL string, httpClient *http.Client) *SecurityClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SecurityClient{baseURL: baseURL, http: httpClient}
}

// Verify implements auth.Verifier.
func (c *SecurityClient) Verify(ctx context.Context, token string) bool {
	if c.baseURL == "" || token == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/verifyToken?token="+token, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var parsed struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false
	}
	return parsed.Valid
}

// MissionControlClient forwards agent statistics updates to the
// external mission-control collector, fire-and-forget: transport errors
// are logged, never surfaced to the caller that triggered them (spec
// §4.4 StatusUpdate).
type MissionControlClient struct {
	baseURL string
	http    *http.Client
}

// NewMissionControlClient creates a client bound to baseURL
// (MISSIONCONTROL_URL).
func NewMissionControlClient(baseURL string, httpClient *http.Client) *MissionControlClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MissionControlClient{baseURL: baseURL, http: httpClient}
}

// StatisticsUpdate is the body spec §6 defines for POST
// /agentStatisticsUpdate, shared between the inbound worker-facing
// variant and this outbound forward.
type StatisticsUpdate struct {
	AgentID    string `json:"agentId"`
	MissionID  string `json:"missionId"`
	Status     string `json:"status"`
	Statistics any    `json:"statistics"`
}

// Forward posts update to mission-control. Failures are logged and
// swallowed: this call must never cause a worker-originated status
// update to fail.
func (c *MissionControlClient) Forward(ctx context.Context, update StatisticsUpdate) {
	if c.baseURL == "" {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		slog.Warn("mission-control forward: failed to marshal update", "agent_id", update.AgentID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agentStatisticsUpdate", bytes.NewReader(payload))
	if err != nil {
		slog.Warn("mission-control forward: failed to build request", "agent_id", update.AgentID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("mission-control forward: transport error", "agent_id", update.AgentID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("mission-control forward: non-2xx response", "agent_id", update.AgentID, "status", resp.StatusCode)
	}
}
