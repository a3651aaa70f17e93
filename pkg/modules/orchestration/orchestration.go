// Package orchestration is the typed surface of the native orchestration
// module, which runs and supervises qudag nodes. Only an accelerated build
// exists.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

// DefaultListen is the address a node binds when Spec.Listen is empty.
const DefaultListen = "0.0.0.0:8000"

// ErrInvalidSpec is returned for a node spec that cannot be started.
var ErrInvalidSpec = errors.New("invalid node spec")

// Phase is the lifecycle phase of a node.
type Phase string

const (
	PhaseStarting Phase = "Starting"
	PhaseRunning  Phase = "Running"
	PhaseStopped  Phase = "Stopped"
	PhaseFailed   Phase = "Failed"
)

// Spec describes a node to start.
type Spec struct {
	// Name identifies the node
	Name string `json:"name"`

	// Listen is the peer listen address
	Listen string `json:"listen,omitempty"`

	// Peers are bootstrap peer addresses
	Peers []string `json:"peers,omitempty"`

	// Replicas is the number of node processes (deploy only)
	Replicas int `json:"replicas,omitempty"`

	// Dev enables development mode: ephemeral keys and verbose logging
	Dev bool `json:"dev,omitempty"`
}

// Status is a point-in-time view of a node.
type Status struct {
	Name      string    `json:"name"`
	Phase     Phase     `json:"phase"`
	Peers     int       `json:"peers"`
	StartedAt time.Time `json:"startedAt"`
	Message   string    `json:"message,omitempty"`
}

// Node is a running node.
type Node interface {
	Status(ctx context.Context) (Status, error)
	Stop(ctx context.Context) error
}

// Runtime is the entry surface exported by the orchestration plugin.
type Runtime interface {
	Start(ctx context.Context, spec Spec) (Node, error)
}

// Client starts nodes through a loaded orchestration runtime.
type Client struct {
	runtime Runtime
	handle  *binding.Handle
}

// NewClient wraps rt.
func NewClient(rt Runtime) *Client {
	return &Client{runtime: rt}
}

// Open loads the orchestration module on the active tier.
func Open(ctx context.Context, p binding.Prober) (*Client, error) {
	rt, h, err := binding.Open[Runtime](ctx, p, binding.Orchestration)
	if err != nil {
		return nil, err
	}
	return &Client{runtime: rt, handle: h}, nil
}

// Tier returns the tier the runtime was loaded from.
func (c *Client) Tier() platform.Tier {
	if c.handle == nil {
		return ""
	}
	return c.handle.Tier()
}

// Close releases the loaded runtime. Nodes should be stopped first.
func (c *Client) Close(ctx context.Context) error {
	if c.handle == nil {
		return nil
	}
	return c.handle.Close(ctx)
}

// Start validates spec, fills defaults and starts a node.
func (c *Client) Start(ctx context.Context, spec Spec) (Node, error) {
	spec, err := Normalize(spec)
	if err != nil {
		return nil, err
	}
	node, err := c.runtime.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to start node %s: %w", spec.Name, err)
	}
	return node, nil
}

// Normalize validates spec and applies defaults.
func Normalize(spec Spec) (Spec, error) {
	if spec.Name == "" {
		return spec, fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if spec.Replicas < 0 {
		return spec, fmt.Errorf("%w: replicas must not be negative, got %d", ErrInvalidSpec, spec.Replicas)
	}
	if spec.Replicas == 0 {
		spec.Replicas = 1
	}
	if spec.Listen == "" {
		spec.Listen = DefaultListen
	}
	for i, p := range spec.Peers {
		if p == "" {
			return spec, fmt.Errorf("%w: peer %d is empty", ErrInvalidSpec, i)
		}
	}
	return spec, nil
}
