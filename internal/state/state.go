// Package state holds the process wide session state shared by every request.
package state

import (
	"ml-server/internal/dispatch"
	"ml-server/internal/executors"
	"ml-server/internal/registry"
	"ml-server/internal/stream"

	"go.uber.org/zap"
)

type State struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Hub        *stream.Hub
}

// New is called once at startup
func New(log *zap.SugaredLogger, src executors.Source, opts ...dispatch.Option) *State {
	reg := registry.NewDefault(src)
	return &State{
		Registry:   reg,
		Dispatcher: dispatch.New(reg, log, opts...),
		Hub:        stream.NewHub(log),
	}
}

func (s *State) Shutdown() {
	s.Hub.Shutdown()
}
