package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scilex/scilex/internal/domain"
	"github.com/scilex/scilex/internal/observability"
	"github.com/scilex/scilex/internal/resilience"
)

func newTestServer(t *testing.T, tracker *Tracker, breakers *resilience.Registry) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg)
	srv := NewServer(ServerConfig{Address: "127.0.0.1:0"}, tracker, breakers, reg, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantStatus int, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func TestTrackerSnapshot(t *testing.T) {
	tracker := NewTracker("run-1")
	base := time.Unix(1700000000, 0)
	tracker.now = func() time.Time { return base }

	tracker.Observe("arxiv", 0, domain.QueryProgress{State: domain.QueryInProgress, LastPage: 2, CollArt: 200})
	tracker.Observe("arxiv", 1, domain.QueryProgress{State: domain.QueryComplete, LastPage: 3, CollArt: 260})
	tracker.Observe("openalex", 0, domain.QueryProgress{State: domain.QueryPending})

	snap := tracker.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	require.Len(t, snap.Queries, 3)
	assert.Equal(t, "arxiv", snap.Queries[0].Source)
	assert.Equal(t, 0, snap.Queries[0].QueryID)
	assert.Equal(t, "openalex", snap.Queries[2].Source)

	require.Len(t, snap.Sources, 2)
	arxiv := snap.Sources[0]
	assert.Equal(t, "arxiv", arxiv.Source)
	assert.Equal(t, 1, arxiv.InProgress)
	assert.Equal(t, 1, arxiv.Complete)
	assert.Equal(t, 460, arxiv.Collected)
	assert.Equal(t, 1, snap.Sources[1].Pending)
}

func TestTrackerObserveReplacesSnapshot(t *testing.T) {
	tracker := NewTracker("run-1")

	tracker.Observe("arxiv", 0, domain.QueryProgress{State: domain.QueryInProgress, LastPage: 1, CollArt: 100})
	tracker.Observe("arxiv", 0, domain.QueryProgress{State: domain.QueryComplete, LastPage: 2, CollArt: 180})

	snap, ok := tracker.Query("arxiv", 0)
	require.True(t, ok)
	assert.Equal(t, domain.QueryComplete, snap.Progress.State)
	assert.Equal(t, 180, snap.Progress.CollArt)
}

func TestProgressEndpoints(t *testing.T) {
	tracker := NewTracker("run-2")
	tracker.Observe("arxiv", 3, domain.QueryProgress{State: domain.QueryInProgress, LastPage: 1, CollArt: 42})
	breakers := resilience.NewRegistry(nil)

	ts := newTestServer(t, tracker, breakers)

	t.Run("health", func(t *testing.T) {
		var body map[string]string
		getJSON(t, ts.URL+"/healthz", http.StatusOK, &body)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("run snapshot", func(t *testing.T) {
		var snap RunSnapshot
		getJSON(t, ts.URL+"/api/v1/progress", http.StatusOK, &snap)
		assert.Equal(t, "run-2", snap.RunID)
		require.Len(t, snap.Queries, 1)
		assert.Equal(t, 42, snap.Queries[0].Progress.CollArt)
	})

	t.Run("single query", func(t *testing.T) {
		var snap QuerySnapshot
		getJSON(t, ts.URL+"/api/v1/progress/arxiv/3", http.StatusOK, &snap)
		assert.Equal(t, 3, snap.QueryID)
	})

	t.Run("unknown query is 404", func(t *testing.T) {
		getJSON(t, ts.URL+"/api/v1/progress/arxiv/99", http.StatusNotFound, nil)
	})

	t.Run("bad query id is 400", func(t *testing.T) {
		getJSON(t, ts.URL+"/api/v1/progress/arxiv/x", http.StatusBadRequest, nil)
	})
}

func TestBreakersEndpoint(t *testing.T) {
	tracker := NewTracker("run-3")
	breakers := resilience.NewRegistry(nil)
	b := breakers.Get("arxiv")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	ts := newTestServer(t, tracker, breakers)

	var body map[string]struct {
		State    string `json:"state"`
		Failures int    `json:"failures"`
	}
	getJSON(t, ts.URL+"/api/v1/breakers", http.StatusOK, &body)
	require.Contains(t, body, "arxiv")
	assert.Equal(t, "open", body["arxiv"].State)
	assert.Equal(t, 5, body["arxiv"].Failures)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, NewTracker("run-4"), resilience.NewRegistry(nil))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
