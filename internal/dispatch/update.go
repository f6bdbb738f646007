package dispatch

import (
	"context"
	"encoding/json"

	"ml-server/internal/executors"
	"ml-server/internal/metrics"
	"ml-server/internal/models"
	"ml-server/internal/registry"
)

// Publisher receives every update applied through Update so other replicas
// can follow. Publish failures are logged and never undo the local update.
// Publish must honor ctx, Update cancels it after the publish timeout.
type Publisher interface {
	Publish(ctx context.Context, kind models.ModelKind, params json.RawMessage) error
}

// Update is the only administrative entry point. It holds the write guard for
// kind alone, so other kinds keep serving while it runs.
func (d *Dispatcher) Update(ctx context.Context, tag string, params json.RawMessage) (*models.ModelUpdateAck, error) {
	ack, err := d.apply(tag, params, "local")
	if err != nil {
		return nil, err
	}
	if d.publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
		defer cancel()
		if err := d.publisher.Publish(pctx, ack.ModelType, params); err != nil {
			d.log.Warnw("Failed publishing model update", "model_type", ack.ModelType, "error", err)
		}
	}
	return ack, nil
}

// ApplyReplicated applies an update received from another replica without
// publishing it again.
func (d *Dispatcher) ApplyReplicated(tag string, params json.RawMessage) (*models.ModelUpdateAck, error) {
	return d.apply(tag, params, "replica")
}

func (d *Dispatcher) apply(tag string, params json.RawMessage, source string) (*models.ModelUpdateAck, error) {
	kind, err := Resolve(tag)
	if err != nil {
		return nil, err
	}

	ack, err := registry.Write(d.reg, kind, func(e executors.Executor) error {
		t, ok := e.(executors.Tunable)
		if !ok {
			return executors.ErrNotTunable
		}
		return t.Reconfigure(params)
	})
	if err != nil {
		metrics.ModelUpdates.WithLabelValues(kind.String(), source, "rejected").Inc()
		return nil, invalidInput(kind, err)
	}

	metrics.ModelUpdates.WithLabelValues(kind.String(), source, "applied").Inc()
	d.log.Infow("Model updated", "model_type", kind, "version", ack.Version, "source", source)
	return &ack, nil
}
