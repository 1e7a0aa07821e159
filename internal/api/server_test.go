package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/engine"
	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/store"
	"github.com/kestrelsec/kestrel/internal/validate"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v, err := validate.New(logger)
	require.NoError(t, err)

	mem := store.NewMemory()
	eng := engine.New(engine.Options{
		Config:    config.NewManager(config.Defaults(), logger),
		Validator: v,
		Store:     mem,
		Logger:    logger,
	})
	t.Cleanup(eng.Close)

	return New(eng, nil, logger), mem
}

func postEvent(t *testing.T, srv *Server, ev *model.ActivityEvent) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEventEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postEvent(t, srv, &model.ActivityEvent{
		ActorID:   "alice",
		Kind:      model.KindLogin,
		Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Outcome:   model.OutcomeSuccess,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Accepted bool   `json:"accepted"`
		ID       string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.NotEmpty(t, resp.ID)
}

func TestSubmitEventEndpoint_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)

	// Missing actor id fails validation.
	rec := postEvent(t, srv, &model.ActivityEvent{
		Kind:      model.KindLogin,
		Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Outcome:   model.OutcomeSuccess,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Accepted bool   `json:"accepted"`
		Reason   string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
	assert.NotEmpty(t, resp.Reason)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte("{nope")))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActorSummaryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postEvent(t, srv, &model.ActivityEvent{
		ActorID:   "alice",
		Kind:      model.KindFileAccess,
		Timestamp: time.Now().UTC(),
		Outcome:   model.OutcomeSuccess,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/actors/alice/summary", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary engine.ActorSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "alice", summary.Profile.ActorID)
	assert.Equal(t, 1, summary.RecentEventCount)

	req = httptest.NewRequest(http.MethodGet, "/actors/nobody/summary", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatisticsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := postEvent(t, srv, &model.ActivityEvent{
			ActorID:   fmt.Sprintf("actor-%d", i),
			Kind:      model.KindLogin,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
			Outcome:   model.OutcomeSuccess,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/statistics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats engine.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, 3, stats.TotalProfiles)
	assert.Equal(t, 3, stats.ActorsByRiskLevel[string(model.RiskLow)])
}

func TestAlertsEndpoint_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{
		"/alerts?min_severity=0",
		"/alerts?min_severity=eleven",
		"/alerts?limit=-5",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/alerts?actor_id=alice&min_severity=5&limit=10", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMineEndpoint(t *testing.T) {
	srv, mem := newTestServer(t)

	now := time.Now().UTC()
	for i := 0; i < 120; i++ {
		ev := &model.ActivityEvent{
			ID:        fmt.Sprintf("ev-%03d", i),
			ActorID:   "u1",
			Kind:      model.KindLogin,
			Timestamp: now.Add(-20 * time.Minute).Add(time.Duration(i) * time.Second),
			Outcome:   model.OutcomeSuccess,
		}
		require.NoError(t, mem.PutEvent(context.Background(), ev))
	}

	request := httptest.NewRequest(http.MethodPost, "/mine?actor_id=u1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, request)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Patterns []*model.BehaviorPattern `json:"patterns"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, model.PatternFlood, resp.Patterns[0].Category)
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		request := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, request)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	request := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, request)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
