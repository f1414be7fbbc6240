package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"beatwatch/api/services"
	"beatwatch/db"
	"beatwatch/pkg/shared"
)

const testToken = "handlers-test-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("API_BEARER_TOKEN", testToken)

	store, err := db.New(&db.Config{
		DBPath:         ":memory:",
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		AutoInitialize: true,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handlers := NewHandlers(store, nil, services.NewBeatLocks(), zap.NewNop())

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, nil)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, server *httptest.Server, method, path string, body interface{}) (*http.Response, shared.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "test-supervisor")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope shared.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func createBeatViaAPI(t *testing.T, server *httptest.Server, personnel ...string) string {
	t.Helper()

	resp, envelope := doJSON(t, server, http.MethodPost, "/api/v1/beats", map[string]interface{}{
		"province":      "Oriental Mindoro",
		"unit":          "Calapan City PS",
		"center":        map[string]float64{"latitude": 13.4119, "longitude": 121.1805},
		"radius_m":      500,
		"duty_start":    "06:00",
		"duty_end":      "14:00",
		"personnel_ids": personnel,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	beatID, ok := data["beat_id"].(string)
	require.True(t, ok)
	return beatID
}

func TestRoutesRequireAuth(t *testing.T) {
	server := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/v1/beats", nil)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBeatLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	beatID := createBeatViaAPI(t, server, "p-500")

	resp, envelope := doJSON(t, server, http.MethodGet, "/api/v1/beats?beat_id="+beatID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, shared.BeatStatusPending, data["status"])

	// The accept from the only assigned member starts the duty.
	resp, envelope = doJSON(t, server, http.MethodPost, "/api/v1/beats/respond", map[string]string{
		"beat_id":      beatID,
		"personnel_id": "p-500",
		"decision":     "accept",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, envelope.Success)

	resp, envelope = doJSON(t, server, http.MethodGet, "/api/v1/beats?beat_id="+beatID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = envelope.Data.(map[string]interface{})
	assert.Equal(t, shared.BeatStatusInProgress, data["status"])

	resp, _ = doJSON(t, server, http.MethodPost, "/api/v1/beats/complete", map[string]string{
		"beat_id": beatID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	server := newTestServer(t)

	t.Run("unknown beat is 404", func(t *testing.T) {
		resp, envelope := doJSON(t, server, http.MethodGet, "/api/v1/beats?beat_id=nope", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
	})

	t.Run("decline without reason is 400", func(t *testing.T) {
		beatID := createBeatViaAPI(t, server, "p-510")

		resp, envelope := doJSON(t, server, http.MethodPost, "/api/v1/beats/respond", map[string]string{
			"beat_id":      beatID,
			"personnel_id": "p-510",
			"decision":     "decline",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
	})

	t.Run("completing a pending beat is 409", func(t *testing.T) {
		beatID := createBeatViaAPI(t, server, "p-511")

		resp, envelope := doJSON(t, server, http.MethodPost, "/api/v1/beats/complete", map[string]string{
			"beat_id": beatID,
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, "INVALID_STATE", envelope.Error.Code)
	})

	t.Run("wrong method is 405", func(t *testing.T) {
		resp, _ := doJSON(t, server, http.MethodDelete, "/api/v1/fixes", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestFixIngestOverHTTP(t *testing.T) {
	server := newTestServer(t)

	beatID := createBeatViaAPI(t, server, "p-520")
	resp, _ := doJSON(t, server, http.MethodPost, "/api/v1/beats/respond", map[string]string{
		"beat_id":      beatID,
		"personnel_id": "p-520",
		"decision":     "accept",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("fix inside the radius returns no violation", func(t *testing.T) {
		resp, envelope := doJSON(t, server, http.MethodPost, "/api/v1/fixes", map[string]interface{}{
			"beat_id":      beatID,
			"personnel_id": "p-520",
			"latitude":     13.41639,
			"longitude":    121.1805,
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := envelope.Data.(map[string]interface{})
		assert.Nil(t, data["violation"])
	})

	t.Run("fix outside the radius creates a violation", func(t *testing.T) {
		resp, envelope := doJSON(t, server, http.MethodPost, "/api/v1/fixes", map[string]interface{}{
			"beat_id":      beatID,
			"personnel_id": "p-520",
			"latitude":     13.41642,
			"longitude":    121.1805,
		})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		data := envelope.Data.(map[string]interface{})
		assert.Equal(t, shared.ViolationStatusPending, data["status"])
		assert.Equal(t, shared.ViolationKindExit, data["kind"])
	})
}
