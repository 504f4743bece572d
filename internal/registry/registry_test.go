package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/registry"
)

func TestRegister_NewWorker(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))

	workers := r.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "w1", workers[0].ID)
	assert.Equal(t, registry.Known, workers[0].State)
	assert.Equal(t, 0, workers[0].Occupancy)
}

func TestRegister_IdempotentSameArgs(t *testing.T) {
	// R1: register(W,u,c); register(W,u,c) has the same effect as a single call.
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))
	require.NoError(t, r.AdjustOccupancy("w1", 1))
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))

	workers := r.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, 1, workers[0].Occupancy, "re-registering must not reset occupancy")
}

func TestRegister_UpdatesURLWithoutResettingOccupancy(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))
	require.NoError(t, r.AdjustOccupancy("w1", 1))
	require.NoError(t, r.Register("w1", "worker-1-new:9090", 2))

	workers := r.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "worker-1-new:9090", workers[0].URL)
	assert.Equal(t, 1, workers[0].Occupancy)
}

func TestRegister_RejectsBadURL(t *testing.T) {
	r := registry.New()
	err := r.Register("w1", "http://worker-1:8080/", 2)
	require.Error(t, err)
	assert.Equal(t, apierrors.Validation, apierrors.KindOf(err))
}

func TestRegister_RejectsZeroCapacity(t *testing.T) {
	// Open Question #2: capacity 0 is a misconfiguration, not a valid primary placeholder.
	r := registry.New()
	err := r.Register("w1", "worker-1:8080", 0)
	require.Error(t, err)
	assert.Equal(t, apierrors.Validation, apierrors.KindOf(err))
}

func TestAdjustOccupancy_FailsAtCapacity(t *testing.T) {
	// B3: adjustOccupancy(W, +1) when W is at capacity fails; occupancy is unchanged.
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 1))
	require.NoError(t, r.AdjustOccupancy("w1", 1))

	err := r.AdjustOccupancy("w1", 1)
	require.Error(t, err)
	assert.Equal(t, apierrors.NoCapacity, apierrors.KindOf(err))

	w, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, 1, w.Occupancy)
}

func TestAdjustOccupancy_RejectsNegativeResult(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))

	err := r.AdjustOccupancy("w1", -1)
	require.Error(t, err)
	assert.Equal(t, apierrors.Internal, apierrors.KindOf(err))
}

func TestUnregister_MarksRemoved(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))
	require.NoError(t, r.Unregister("w1"))

	workers := r.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, registry.Removed, workers[0].State)
}

func TestUnregister_UnknownWorker(t *testing.T) {
	r := registry.New()
	err := r.Unregister("ghost")
	require.Error(t, err)
	assert.Equal(t, apierrors.NotFound, apierrors.KindOf(err))
}

type stubFetcher struct {
	inventory []registry.Inventory
	err       error
}

func (s stubFetcher) FetchWorkers(context.Context) ([]registry.Inventory, error) {
	return s.inventory, s.err
}

func TestRefresh_AddsUnknownWorkers(t *testing.T) {
	r := registry.New()
	fetcher := stubFetcher{inventory: []registry.Inventory{{ID: "w1", URL: "worker-1:8080"}}}

	require.NoError(t, r.Refresh(t.Context(), fetcher, 250))

	workers := r.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, 250, workers[0].Capacity)
}

func TestRefresh_MissingWorkerBecomesUnreachableThenRemoved(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))
	empty := stubFetcher{inventory: nil}

	for i := 0; i < registry.UnreachableThreshold-1; i++ {
		require.NoError(t, r.Refresh(t.Context(), empty, 250))
		w, ok := r.Get("w1")
		require.True(t, ok)
		assert.Equal(t, registry.Unreachable, w.State)
	}

	require.NoError(t, r.Refresh(t.Context(), empty, 250))
	w, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, registry.Removed, w.State)
}

func TestRefresh_FailedFetchNeverEmptiesRegistry(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))
	failing := stubFetcher{err: errors.New("boom")}

	err := r.Refresh(t.Context(), failing, 250)
	require.Error(t, err)

	workers := r.ListWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "w1", workers[0].ID)
}

func TestRefresh_ReappearingWorkerReturnsToKnown(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("w1", "worker-1:8080", 2))
	empty := stubFetcher{inventory: nil}
	require.NoError(t, r.Refresh(t.Context(), empty, 250))

	present := stubFetcher{inventory: []registry.Inventory{{ID: "w1", URL: "worker-1:8080"}}}
	require.NoError(t, r.Refresh(t.Context(), present, 250))

	w, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, registry.Known, w.State)
}
