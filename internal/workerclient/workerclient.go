// Package workerclient is the single constructed HTTP client used to
// talk to agent-set workers (spec §9: "a single constructed HTTP client
// value, injected into each component"). It implements the narrow retry
// rule of spec §7: one retry on the NetworkTimeout class, and only for
// CreateAgent's addAgent call and idempotent GETs.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/cenkalti/backoff/v5"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/id"
	"github.com/agenttraffic/core/internal/metrics"
)

// Client issues control calls to a worker's HTTP surface (spec §6's
// worker collaborator contract).
type Client struct {
	http *http.Client
}

// New creates a Client. httpClient may be nil to use http.DefaultClient.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// AddAgent posts an addAgent instruction to the worker, retrying exactly
// once if the failure is a network timeout (spec §4.4 CreateAgent path).
func (c *Client) AddAgent(ctx context.Context, workerURL string, body any) error {
	return c.postWithRetry(ctx, workerURL, "/addAgent", "/addAgent", body, true)
}

// PauseAgents, AbortAgents, and ResumeAgents are the mission-wide fan-out
// commands. No retry is applied (spec §7: "No retry is applied to
// mission-wide pause/abort/resume").
func (c *Client) PauseAgents(ctx context.Context, workerURL, missionID string) error {
	return c.postWithRetry(ctx, workerURL, "/pauseAgents", "/pauseAgents", map[string]string{"missionId": missionID}, false)
}

func (c *Client) AbortAgents(ctx context.Context, workerURL, missionID string) error {
	return c.postWithRetry(ctx, workerURL, "/abortAgents", "/abortAgents", map[string]string{"missionId": missionID}, false)
}

func (c *Client) ResumeAgents(ctx context.Context, workerURL, missionID string) error {
	return c.postWithRetry(ctx, workerURL, "/resumeAgents", "/resumeAgents", map[string]string{"missionId": missionID}, false)
}

// ResumeAgent targets a single agent.
func (c *Client) ResumeAgent(ctx context.Context, workerURL, agentID string) error {
	return c.postWithRetry(ctx, workerURL, "/resumeAgent", "/resumeAgent", map[string]string{"agentId": agentID}, false)
}

// Message forwards an envelope to the worker's base message endpoint.
func (c *Client) Message(ctx context.Context, workerURL string, envelope any) error {
	return c.postWithRetry(ctx, workerURL, "/message", "/message", envelope, false)
}

// MessageAgent forwards an envelope to a specific agent.
func (c *Client) MessageAgent(ctx context.Context, workerURL, agentID string, envelope any) error {
	return c.postWithRetry(ctx, workerURL, fmt.Sprintf("/agent/%s/message", agentID), "/agent/:agentId/message", envelope, false)
}

// AgentOutput fetches an agent's output (idempotent GET; retried).
func (c *Client) AgentOutput(ctx context.Context, workerURL, agentID string, out any) error {
	return c.getWithRetry(ctx, workerURL, fmt.Sprintf("/agent/%s/output", agentID), "/agent/:agentId/output", out)
}

// MissionAgents fetches the roster for a mission from one worker
// (idempotent GET; retried).
func (c *Client) MissionAgents(ctx context.Context, workerURL, missionID string, out any) error {
	return c.getWithRetry(ctx, workerURL, fmt.Sprintf("/mission/%s/agents", missionID), "/mission/:missionId/agents", out)
}

// Statistics fetches per-mission statistics from one worker (idempotent
// GET; retried).
func (c *Client) Statistics(ctx context.Context, workerURL, missionID string, out any) error {
	return c.getWithRetry(ctx, workerURL, "/statistics?missionId="+missionID, "/statistics", out)
}

// postWithRetry and getWithRetry take both the literal request path
// (which may embed an agent/mission id or query string) and a route, a
// templated label with no caller-supplied values, used for metrics so
// the Prometheus endpoint label stays low-cardinality.
func (c *Client) postWithRetry(ctx context.Context, workerURL, path, route string, body any, retryNetworkTimeout bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "workerclient.post", err)
	}

	do := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+workerURL+path, bytes.NewReader(payload))
		if err != nil {
			return apierrors.Wrap(apierrors.Internal, "workerclient.post", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, route, nil)
	}

	return c.runWithRetry(ctx, route, do, retryNetworkTimeout)
}

func (c *Client) getWithRetry(ctx context.Context, workerURL, path, route string, out any) error {
	do := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+workerURL+path, nil)
		if err != nil {
			return apierrors.Wrap(apierrors.Internal, "workerclient.get", err)
		}
		return c.do(req, route, out)
	}

	// GETs are idempotent, so they always get the one-retry treatment
	// on the NetworkTimeout class (spec §7).
	return c.runWithRetry(ctx, route, do, true)
}

func (c *Client) runWithRetry(ctx context.Context, route string, do func() error, retryNetworkTimeout bool) error {
	if !retryNetworkTimeout {
		err := do()
		recordOutcome(route, err)
		return err
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := do()
		if err == nil {
			return struct{}{}, nil
		}
		if attempt == 1 && isNetworkTimeout(err) {
			metrics.WorkerCallRetriesTotal.Inc()
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewConstantBackOff(0)),
	)
	recordOutcome(route, err)
	return err
}

func recordOutcome(route string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.WorkerCallsTotal.WithLabelValues(route, outcome).Inc()
}

func (c *Client) do(req *http.Request, route string, out any) error {
	req.Header.Set("X-Request-Id", id.Generate())
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return apierrors.Wrap(apierrors.Unreachable, "workerclient."+route, fmt.Errorf("%w: network timeout", err))
		}
		return apierrors.Wrap(apierrors.Unreachable, "workerclient."+route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apierrors.New(apierrors.Unreachable, "workerclient."+route, fmt.Sprintf("worker returned %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return apierrors.New(apierrors.NotFound, "workerclient."+route, "worker reported not found")
	}
	if resp.StatusCode >= 400 {
		return apierrors.New(apierrors.Validation, "workerclient."+route, fmt.Sprintf("worker rejected request: %d", resp.StatusCode))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierrors.Wrap(apierrors.Internal, "workerclient."+route, err)
	}
	return nil
}

// isNetworkTimeout classifies an error as belonging to the
// NetworkTimeout class the retry policy names: connection-level
// timeouts and deadline exceeded, not application-level (4xx/5xx)
// failures.
func isNetworkTimeout(err error) bool {
	return isTimeoutErr(unwrapAPIErr(err))
}

func unwrapAPIErr(err error) error {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) && apiErr.Cause != nil {
		return apiErr.Cause
	}
	return err
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
