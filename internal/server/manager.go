// Package server runs the long-lived components of the agent.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/podstate/pkg/log"
)

// Runnable is a component that runs until its context is cancelled.
type Runnable interface {
	Start(ctx context.Context) error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager runs a set of Runnables and stops them all when one fails.
type Manager struct {
	runnables []Runnable
}

// NewManager returns a Manager for rs. Nil entries are skipped.
func NewManager(rs ...Runnable) *Manager {
	m := &Manager{}
	for _, r := range rs {
		m.Add(r)
	}
	return m
}

// Add registers another Runnable. It must be called before Start.
func (m *Manager) Add(r Runnable) {
	if r != nil {
		m.runnables = append(m.runnables, r)
	}
}

// Start launches all runnables in parallel and waits for termination.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, r := range m.runnables {
		g.Go(func() error {
			return r.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.runnables))
	return g.Wait()
}
