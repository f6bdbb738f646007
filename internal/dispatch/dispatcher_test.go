package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"ml-server/internal/executors"
	"ml-server/internal/models"
	"ml-server/internal/registry"
	"ml-server/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSource struct {
	calls atomic.Int64
}

func (c *countingSource) source() executors.Source {
	return func() float64 {
		c.calls.Add(1)
		return 0.5
	}
}

func newTestDispatcher(t *testing.T, src executors.Source, opts ...Option) *Dispatcher {
	t.Helper()
	return New(registry.NewDefault(src), zap.NewNop().Sugar(), opts...)
}

func TestDispatchTrajectoryExample(t *testing.T) {
	d := newTestDispatcher(t, func() float64 { return 0.5 })
	res, err := d.Dispatch("trajectory", json.RawMessage(`{
		"history": [{"x":0,"y":0,"timestamp":0},{"x":1,"y":2,"timestamp":1}],
		"prediction_horizon": 2
	}`))
	require.NoError(t, err)
	assert.Equal(t, models.TrajectoryPrediction, res.Kind)
	assert.False(t, res.ProducedAt.IsZero())
	assert.GreaterOrEqual(t, res.Latency.Nanoseconds(), int64(0))

	var out executors.TrajectoryOutput
	require.NoError(t, json.Unmarshal(res.Prediction, &out))
	assert.Equal(t, []executors.TrajectoryPoint{
		{X: 2, Y: 4, Timestamp: 2},
		{X: 3, Y: 6, Timestamp: 3},
	}, out.Predictions)
}

func TestDispatchOutputsDecodeIntoKindSchema(t *testing.T) {
	d := newTestDispatcher(t, executors.DefaultSource)
	cases := []struct {
		tag     string
		payload string
		decode  func([]byte) error
	}{
		{"trajectory_prediction", `{"history":[],"prediction_horizon":1}`, func(b []byte) error {
			var out executors.TrajectoryOutput
			return strictDecode(b, &out)
		}},
		{"anomaly_detection", `{"sensor_readings":[{"sensor_type":"t","values":[1,2],"timestamp":1}]}`, func(b []byte) error {
			var out executors.AnomalyOutput
			return strictDecode(b, &out)
		}},
		{"object_detection", `{"frame_id":"f1","timestamp":1,"simulate_complex":true}`, func(b []byte) error {
			var out executors.ObjectOutput
			return strictDecode(b, &out)
		}},
		{"sensor_fusion", `{"sensor_data":{"lidar":true,"radar":false},"timestamp":1}`, func(b []byte) error {
			var out executors.FusionOutput
			return strictDecode(b, &out)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			res, err := d.Dispatch(tc.tag, json.RawMessage(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, models.ModelKind(tc.tag), res.Kind)
			assert.NoError(t, tc.decode(res.Prediction))

			resp := res.Response()
			assert.Equal(t, res.Kind, resp.ModelType)
			assert.Equal(t, float64(res.Latency.Nanoseconds())/1e6, resp.LatencyMS)
		})
	}
}

func strictDecode(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func TestDispatchUnknownModelNeverComputes(t *testing.T) {
	counter := &countingSource{}
	d := newTestDispatcher(t, counter.source())

	for _, tag := range []string{"", "Trajectory", "lidar", "trajectory_predictions"} {
		res, err := d.Dispatch(tag, json.RawMessage(`{"sensor_readings":[{"sensor_type":"a","values":[1],"timestamp":1}]}`))
		assert.Nil(t, res)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrUnknownModel)
		assert.Equal(t, http.StatusBadRequest, shared.StatusCode(err))
	}
	assert.Zero(t, counter.calls.Load())

	_, err := d.Dispatch("anomaly", json.RawMessage(`{"sensor_readings":[{"sensor_type":"a","values":[1],"timestamp":1}]}`))
	require.NoError(t, err)
	assert.NotZero(t, counter.calls.Load())
}

func TestDispatchInvalidInput(t *testing.T) {
	counter := &countingSource{}
	d := newTestDispatcher(t, counter.source())
	cases := map[string]string{
		"trajectory": `{"history": "nope"}`,
		"anomaly":    `{"sensor_readings":[{"sensor_type":"a","values":[],"timestamp":1}]}`,
		"objects":    `{"timestamp": 1}`,
		"fusion":     `{"sensor_data": [true]}`,
	}
	for tag, payload := range cases {
		_, err := d.Dispatch(tag, json.RawMessage(payload))
		require.Error(t, err, tag)
		assert.ErrorIs(t, err, shared.ErrInvalidInput, tag)
		assert.Equal(t, http.StatusBadRequest, shared.StatusCode(err), tag)
		assert.Equal(t, "invalid_input", shared.ErrorCode(err), tag)
		assert.NotEqual(t, shared.ErrInternalServerError.Message(), shared.PublicMessage(err), "client errors keep the reason")
	}

	for _, payload := range []string{``, `null`, `{not json`} {
		_, err := d.Dispatch("fusion", json.RawMessage(payload))
		assert.ErrorIs(t, err, shared.ErrInvalidInput, payload)
	}
	assert.Zero(t, counter.calls.Load())
}

func TestDispatchExecutorPanicIsInternal(t *testing.T) {
	d := newTestDispatcher(t, func() float64 { panic("boom") })
	_, err := d.Dispatch("fusion", json.RawMessage(`{"sensor_data":{"lidar":true},"timestamp":1}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInternal)
	assert.Equal(t, http.StatusInternalServerError, shared.StatusCode(err))
	assert.Equal(t, shared.ErrInternalServerError.Message(), shared.PublicMessage(err))

	// the read guard was released by the panic
	_, err = d.Update(context.Background(), "fusion", json.RawMessage(`{"default_weight": 0.5}`))
	assert.NoError(t, err)
}

type recordingPublisher struct {
	kinds []models.ModelKind
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, kind models.ModelKind, _ json.RawMessage) error {
	p.kinds = append(p.kinds, kind)
	return p.err
}

func TestUpdateAnomalyThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, func() float64 { return 0.5 }, WithPublisher(pub))
	payload := json.RawMessage(`{"sensor_readings":[{"sensor_type":"a","values":[0,2],"timestamp":1}]}`)

	res, err := d.Dispatch("anomaly", payload)
	require.NoError(t, err)
	var before executors.AnomalyOutput
	require.NoError(t, json.Unmarshal(res.Prediction, &before))
	assert.True(t, before.IsAnomaly)

	ack, err := d.Update(context.Background(), "anomaly_detection", json.RawMessage(`{"threshold": 5}`))
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyDetection, ack.ModelType)
	assert.Equal(t, uint64(2), ack.Version)
	assert.Equal(t, []models.ModelKind{models.AnomalyDetection}, pub.kinds)

	res, err = d.Dispatch("anomaly", payload)
	require.NoError(t, err)
	var after executors.AnomalyOutput
	require.NoError(t, json.Unmarshal(res.Prediction, &after))
	assert.False(t, after.IsAnomaly)
	assert.Equal(t, 5.0, after.Threshold)

	info, err := d.Info("anomaly")
	require.NoError(t, err)
	assert.JSONEq(t, `{"threshold": 5}`, string(info.Params))
}

func TestUpdateRejections(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, executors.DefaultSource, WithPublisher(pub))

	_, err := d.Update(context.Background(), "nope", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, shared.ErrUnknownModel)

	_, err = d.Update(context.Background(), "trajectory", json.RawMessage(`{"x": 1}`))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.ErrorIs(t, err, executors.ErrNotTunable)

	_, err = d.Update(context.Background(), "anomaly", json.RawMessage(`{"threshold": -2}`))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, shared.StatusCode(err))

	assert.Empty(t, pub.kinds, "rejected updates are not published")
}

func TestUpdatePublishFailureKeepsLocalUpdate(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	d := newTestDispatcher(t, executors.DefaultSource, WithPublisher(pub))

	ack, err := d.Update(context.Background(), "fusion", json.RawMessage(`{"weights": {"sonar": 0.1}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ack.Version)
}

type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, _ models.ModelKind, _ json.RawMessage) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestUpdateStalledPublisherTimesOut(t *testing.T) {
	d := newTestDispatcher(t, executors.DefaultSource,
		WithPublisher(stalledPublisher{}), WithPublishTimeout(20*time.Millisecond))

	start := time.Now()
	ack, err := d.Update(context.Background(), "anomaly", json.RawMessage(`{"threshold": 1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ack.Version)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUpdateFusionWeightsStayBounded(t *testing.T) {
	d := newTestDispatcher(t, func() float64 { return 1 })

	_, err := d.Update(context.Background(), "fusion", json.RawMessage(`{"weights":{"lidar":1e308,"camera":1e308}}`))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	info, err := d.Info("fusion")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)

	_, err = d.Update(context.Background(), "fusion", json.RawMessage(`{"weights":{"lidar":1,"camera":1,"radar":1},"default_weight":1}`))
	require.NoError(t, err)
	res, err := d.Dispatch("fusion", json.RawMessage(`{"sensor_data":{"lidar":true,"camera":true,"radar":true,"sonar":true},"timestamp":1}`))
	require.NoError(t, err)
	var out executors.FusionOutput
	require.NoError(t, json.Unmarshal(res.Prediction, &out))
	assert.InDelta(t, 1.0, out.OverallConfidence, 1e-9)
}

func TestApplyReplicatedDoesNotPublish(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, executors.DefaultSource, WithPublisher(pub))

	ack, err := d.ApplyReplicated("anomaly_detection", json.RawMessage(`{"threshold": 1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ack.Version)
	assert.Empty(t, pub.kinds)
}

func TestModelsListsCanonicalTags(t *testing.T) {
	d := newTestDispatcher(t, executors.DefaultSource)
	listed := d.Models()
	assert.Equal(t, models.Kinds, listed)
	listed[0] = "mutated"
	assert.Equal(t, models.TrajectoryPrediction, models.Kinds[0])
}
