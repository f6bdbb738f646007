// Package registry owns one executor per model kind. Each kind sits behind
// its own RWMutex so a reconfiguration of one kind never contends with any
// other kind, and executors are only reachable inside Read and Write.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ml-server/internal/executors"
	"ml-server/internal/models"
)

type slot struct {
	mu        sync.RWMutex
	exec      executors.Executor
	version   uint64
	updatedAt time.Time
}

type Registry struct {
	// slots is written only in New, so lookups need no lock
	slots map[models.ModelKind]*slot
}

// New registers the given executors. Every canonical kind must be covered
// exactly once.
func New(execs ...executors.Executor) (*Registry, error) {
	now := time.Now().UTC()
	r := &Registry{slots: make(map[models.ModelKind]*slot, len(execs))}
	for _, e := range execs {
		kind := e.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("executor reports unknown kind %q", kind)
		}
		if _, dup := r.slots[kind]; dup {
			return nil, fmt.Errorf("duplicate executor for %s", kind)
		}
		r.slots[kind] = &slot{exec: e, version: 1, updatedAt: now}
	}
	for _, kind := range models.Kinds {
		if _, ok := r.slots[kind]; !ok {
			return nil, fmt.Errorf("missing executor for %s", kind)
		}
	}
	return r, nil
}

// NewDefault builds a registry with the stock executors
func NewDefault(src executors.Source) *Registry {
	r, err := New(executors.NewAll(src)...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) slot(kind models.ModelKind) *slot {
	s, ok := r.slots[kind]
	if !ok {
		panic(fmt.Sprintf("registry: no executor registered for %q", kind))
	}
	return s
}

func typed[E executors.Executor](kind models.ModelKind, exec executors.Executor) E {
	e, ok := exec.(E)
	if !ok {
		panic(fmt.Sprintf("registry: executor for %s is %T", kind, exec))
	}
	return e
}

// Read runs fn with shared access to the executor for kind. Any number of
// readers of the same kind run concurrently.
func Read[E executors.Executor](r *Registry, kind models.ModelKind, fn func(E)) {
	s := r.slot(kind)
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(typed[E](kind, s.exec))
}

// Write runs fn with exclusive access to the executor for kind. A nil error
// from fn bumps the version.
func Write[E executors.Executor](r *Registry, kind models.ModelKind, fn func(E) error) (models.ModelUpdateAck, error) {
	s := r.slot(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(typed[E](kind, s.exec)); err != nil {
		return models.ModelUpdateAck{}, err
	}
	s.version++
	s.updatedAt = time.Now().UTC()
	return models.ModelUpdateAck{ModelType: kind, Version: s.version, UpdatedAt: s.updatedAt}, nil
}

// Info snapshots version and params under the read guard
func (r *Registry) Info(kind models.ModelKind) (models.ModelInfo, error) {
	s := r.slot(kind)
	s.mu.RLock()
	defer s.mu.RUnlock()
	params, err := json.Marshal(s.exec.Params())
	if err != nil {
		return models.ModelInfo{}, err
	}
	return models.ModelInfo{
		ModelType: kind,
		Version:   s.version,
		UpdatedAt: s.updatedAt,
		Params:    params,
	}, nil
}
