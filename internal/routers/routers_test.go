package routers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ml-server/internal/executors"
	"ml-server/internal/middleware"
	"ml-server/internal/models"
	"ml-server/internal/state"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAdminKey = "admin-key-0123456789"

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	log := zap.NewNop().Sugar()
	st := state.New(log, func() float64 { return 0.5 })
	t.Cleanup(st.Shutdown)

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	RegisterRoutes(base, st, RouterConfig{AdminAPIKey: testAdminKey})
	return e
}

func do(e *echo.Echo, method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestListModels(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodGet, "/api/models", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["trajectory_prediction","anomaly_detection","object_detection","sensor_fusion"]`, rec.Body.String())
}

func TestInferenceTrajectory(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodPost, "/api/inference/trajectory",
		`{"history":[{"x":0,"y":0,"timestamp":0},{"x":1,"y":2,"timestamp":1}],"prediction_horizon":2}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ModelType  string                     `json:"model_type"`
		Prediction executors.TrajectoryOutput `json:"prediction"`
		LatencyMS  *float64                   `json:"latency_ms"`
		Timestamp  string                     `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trajectory_prediction", resp.ModelType)
	assert.Equal(t, []executors.TrajectoryPoint{{X: 2, Y: 4, Timestamp: 2}, {X: 3, Y: 6, Timestamp: 3}}, resp.Prediction.Predictions)
	require.NotNil(t, resp.LatencyMS)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestInferenceEveryKindByTag(t *testing.T) {
	e := newTestServer(t)
	bodies := map[string]string{
		"trajectory_prediction": `{"history":[],"prediction_horizon":0}`,
		"anomaly_detection":     `{"sensor_readings":[{"sensor_type":"imu","values":[1,1.5,2],"timestamp":5}]}`,
		"object_detection":      `{"frame_id":"f-1","timestamp":5,"simulate_complex":false}`,
		"sensor_fusion":         `{"sensor_data":{"lidar":true,"camera":true,"radar":false},"timestamp":5}`,
	}
	for tag, body := range bodies {
		rec := do(e, http.MethodPost, "/api/inference/"+tag, body, "")
		assert.Equal(t, http.StatusOK, rec.Code, tag+": "+rec.Body.String())
		var resp models.InferenceResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, models.ModelKind(tag), resp.ModelType)
	}
}

func TestInferenceClientErrors(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/inference/Trajectory", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "unknown_model", errResp.Code)
	assert.Contains(t, errResp.Error, "Trajectory")

	rec = do(e, http.MethodPost, "/api/inference/fusion", `{"sensor_data": 3}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_input", errResp.Code)
	assert.Contains(t, errResp.Error, "sensor_fusion")

	rec = do(e, http.MethodPost, "/api/inference/objects", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/models/anomaly", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(e, http.MethodPatch, "/api/models/anomaly", `{"threshold":0.1}`, "wrong-key-0123456789")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownAPIPathIsNotFound(t *testing.T) {
	e := newTestServer(t)
	for _, path := range []string{"/api/nope", "/api/models/anomaly/extra", "/api"} {
		rec := do(e, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestAdminUpdateFlow(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPatch, "/api/models/anomaly", `{"params":{"threshold":0.1}}`, testAdminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack models.ModelUpdateAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, models.AnomalyDetection, ack.ModelType)
	assert.Equal(t, uint64(2), ack.Version)

	// bare params work too
	rec = do(e, http.MethodPatch, "/api/models/anomaly_detection", `{"threshold":0.2}`, testAdminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/models/anomaly", "", testAdminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, uint64(3), info.Version)
	assert.JSONEq(t, `{"threshold":0.2}`, string(info.Params))

	rec = do(e, http.MethodPost, "/api/inference/anomaly",
		`{"sensor_readings":[{"sensor_type":"imu","values":[1,1.5,2],"timestamp":5}]}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Prediction executors.AnomalyOutput `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.2, resp.Prediction.Threshold)
}

func TestAdminUpdateRejections(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPatch, "/api/models/objects", `{"threshold":0.1}`, testAdminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPatch, "/api/models/anomaly", `{"threshold":-3}`, testAdminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPatch, "/api/models/warp", `{"threshold":1}`, testAdminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPatch, "/api/models/anomaly", `[`, testAdminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
