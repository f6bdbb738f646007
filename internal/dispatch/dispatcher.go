// Package dispatch is the single business logic path behind both transports.
// It resolves the model kind, decodes the kind specific input, runs the
// executor under its registry read guard and encodes the result.
package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ml-server/internal/executors"
	"ml-server/internal/metrics"
	"ml-server/internal/models"
	"ml-server/internal/registry"
	"ml-server/internal/shared"

	"go.uber.org/zap"
)

// Result lives for one call and is never cached
type Result struct {
	Kind       models.ModelKind
	Prediction json.RawMessage
	// Latency covers compute only, decode and encode are excluded
	Latency    time.Duration
	ProducedAt time.Time
}

func (r *Result) Response() models.InferenceResponse {
	return models.NewResponse(r.Kind, r.Prediction, r.Latency, r.ProducedAt)
}

type Dispatcher struct {
	reg       *registry.Registry
	routes    map[models.ModelKind]route
	log       *zap.SugaredLogger
	publisher Publisher

	// publishTimeout bounds how long Update waits on the publisher
	publishTimeout time.Duration
}

type Option func(*Dispatcher)

// WithPublisher forwards every locally applied update, see Update
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) {
		d.publisher = p
	}
}

// WithPublishTimeout overrides shared.PublishTimeout
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.publishTimeout = timeout
	}
}

func New(reg *registry.Registry, log *zap.SugaredLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:            reg,
		log:            log,
		publishTimeout: shared.PublishTimeout,
		routes: map[models.ModelKind]route{
			models.TrajectoryPrediction: handle((*executors.Trajectory).Predict),
			models.AnomalyDetection:     handle((*executors.Anomaly).Detect),
			models.ObjectDetection:      handle((*executors.Objects).Detect),
			models.SensorFusion:         handle((*executors.Fusion).Fuse),
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve maps a wire tag or alias onto a kind
func Resolve(tag string) (models.ModelKind, error) {
	kind, ok := models.ParseModelKind(tag)
	if !ok {
		return "", &shared.RequestError{
			StatusCode: http.StatusBadRequest,
			Err:        fmt.Errorf("%w: %s", shared.ErrUnknownModel, tag),
		}
	}
	return kind, nil
}

// Dispatch runs one inference. It is safe for concurrent use.
func (d *Dispatcher) Dispatch(tag string, payload json.RawMessage) (res *Result, err error) {
	kind, err := Resolve(tag)
	if err != nil {
		metrics.DispatchCount.WithLabelValues("unknown", shared.ErrorCode(err)).Inc()
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			d.log.Errorw("Executor panic", "model_type", kind, "panic", fmt.Sprintf("%v", p))
			res, err = nil, internal(kind, fmt.Errorf("executor panic: %v", p))
		}
		status := "ok"
		if err != nil {
			status = shared.ErrorCode(err)
		}
		metrics.DispatchCount.WithLabelValues(kind.String(), status).Inc()
	}()

	fn, ok := d.routes[kind]
	if !ok {
		panic(fmt.Sprintf("dispatch: no route for %s", kind))
	}

	out, latency, err := fn(d.reg, kind, payload)
	if err != nil {
		return nil, err
	}
	metrics.ComputeDuration.WithLabelValues(kind.String()).Observe(latency.Seconds())

	encoded, err := json.Marshal(out)
	if err != nil {
		d.log.Errorw("Failed encoding executor output", "model_type", kind, "error", err)
		return nil, internal(kind, err)
	}

	return &Result{
		Kind:       kind,
		Prediction: encoded,
		Latency:    latency,
		ProducedAt: time.Now().UTC(),
	}, nil
}

// Models lists the canonical tags
func (d *Dispatcher) Models() []models.ModelKind {
	out := make([]models.ModelKind, len(models.Kinds))
	copy(out, models.Kinds)
	return out
}

// Info reports version and params for one kind
func (d *Dispatcher) Info(tag string) (*models.ModelInfo, error) {
	kind, err := Resolve(tag)
	if err != nil {
		return nil, err
	}
	info, err := d.reg.Info(kind)
	if err != nil {
		return nil, internal(kind, err)
	}
	return &info, nil
}

type validator[T any] interface {
	*T
	Validate() error
}

type route func(reg *registry.Registry, kind models.ModelKind, payload json.RawMessage) (any, time.Duration, error)

// handle binds a typed compute method to the untyped payload. The payload is
// only decoded here, after the kind picked the route.
func handle[In any, P validator[In], E executors.Executor, Out any](compute func(E, In) Out) route {
	return func(reg *registry.Registry, kind models.ModelKind, payload json.RawMessage) (any, time.Duration, error) {
		var in In
		if err := decode(payload, &in); err != nil {
			return nil, 0, invalidInput(kind, err)
		}
		if err := P(&in).Validate(); err != nil {
			return nil, 0, invalidInput(kind, err)
		}

		var out Out
		var elapsed time.Duration
		registry.Read(reg, kind, func(e E) {
			start := time.Now()
			out = compute(e, in)
			elapsed = time.Since(start)
		})
		return out, elapsed, nil
	}
}

func decode(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errors.New("missing payload")
	}
	return json.Unmarshal(trimmed, v)
}

func invalidInput(kind models.ModelKind, err error) error {
	return &shared.RequestError{
		StatusCode: http.StatusBadRequest,
		Err:        fmt.Errorf("%w for %s: %w", shared.ErrInvalidInput, kind, err),
	}
}

func internal(kind models.ModelKind, err error) error {
	return &shared.RequestError{
		StatusCode: http.StatusInternalServerError,
		Err:        fmt.Errorf("%w in %s: %w", shared.ErrInternal, kind, err),
	}
}
