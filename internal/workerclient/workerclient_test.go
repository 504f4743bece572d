package workerclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/workerclient"
)

func hostPort(t *testing.T, server *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(server.URL, "http://")
}

func TestAddAgent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/addAgent", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := workerclient.New(nil)
	err := c.AddAgent(t.Context(), hostPort(t, server), map[string]string{"actionVerb": "do-thing"})
	require.NoError(t, err)
}

func TestAddAgent_ServerErrorMapsToUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := workerclient.New(nil)
	err := c.AddAgent(t.Context(), hostPort(t, server), map[string]string{})
	require.Error(t, err)
	assert.Equal(t, apierrors.Unreachable, apierrors.KindOf(err))
}

func TestPauseAgents_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := workerclient.New(nil)
	err := c.PauseAgents(t.Context(), hostPort(t, server), "mission-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "mission-wide commands must never be retried")
}

func TestStatistics_DecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statistics", r.URL.Path)
		assert.Equal(t, "mission-1", r.URL.Query().Get("missionId"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"agentCount": 3})
	}))
	defer server.Close()

	c := workerclient.New(nil)
	var out struct {
		AgentCount int `json:"agentCount"`
	}
	err := c.Statistics(t.Context(), hostPort(t, server), "mission-1", &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.AgentCount)
}

func TestResumeAgent_NotFoundMapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := workerclient.New(nil)
	err := c.ResumeAgent(t.Context(), hostPort(t, server), "agent-1")
	require.Error(t, err)
	assert.Equal(t, apierrors.NotFound, apierrors.KindOf(err))
}
