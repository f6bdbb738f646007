// Package executors holds the compute backends behind each model kind. Every
// executor is a plain value with an optional set of tunable parameters; all
// synchronization lives in the registry.
package executors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"ml-server/internal/models"
)

// ErrNotTunable is returned by Reconfigure on executors without parameters
var ErrNotTunable = errors.New("no tunable parameters")

type Executor interface {
	Kind() models.ModelKind
	// Params returns a JSON encodable snapshot of the tunable parameters
	Params() any
}

// Tunable executors accept administrative updates. Reconfigure must leave the
// executor untouched when it returns an error.
type Tunable interface {
	Executor
	Reconfigure(raw json.RawMessage) error
}

// Source yields values in [0, 1). Implementations must be safe for
// concurrent use since readers share one executor.
type Source func() float64

// DefaultSource is backed by the goroutine safe top level math/rand/v2 functions
var DefaultSource Source = rand.Float64

func (s Source) between(lo, hi float64) float64 {
	return lo + s()*(hi-lo)
}

func (s Source) intn(lo, hi int) int {
	n := lo + int(s()*float64(hi-lo))
	if n >= hi {
		return hi - 1
	}
	return n
}

// NewAll builds one executor of each kind sharing the given noise source
func NewAll(src Source) []Executor {
	return []Executor{
		NewTrajectory(src),
		NewAnomaly(src),
		NewObjects(src),
		NewFusion(src),
	}
}

// decodeParams rejects unknown fields so a typo in an admin update fails
// instead of silently keeping the old value.
func decodeParams(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("missing params")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func missingField(name string) error {
	return fmt.Errorf("missing field `%s`", name)
}
