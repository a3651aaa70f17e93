// Package training is the typed surface of the native distributed training
// module. Only an accelerated build exists.
package training

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

// ErrInvalidConfig is returned for a session configuration that cannot run.
var ErrInvalidConfig = errors.New("invalid training config")

// SessionConfig configures a training session.
type SessionConfig struct {
	// Model names the model to train
	Model string `json:"model"`

	// Rounds is the number of aggregation rounds
	Rounds int `json:"rounds"`

	// Participants is the minimum number of peers per round
	Participants int `json:"participants"`

	// LearningRate is passed through to the optimizer
	LearningRate float64 `json:"learningRate"`
}

// RoundResult summarizes one aggregation round.
type RoundResult struct {
	Round        int     `json:"round"`
	Loss         float64 `json:"loss"`
	Participants int     `json:"participants"`
}

// Session is a running training session.
type Session interface {
	Round(ctx context.Context) (RoundResult, error)
	Close(ctx context.Context) error
}

// Runtime is the entry surface exported by the training plugin.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Client runs sessions through a loaded training runtime.
type Client struct {
	runtime Runtime
	handle  *binding.Handle
}

// NewClient wraps rt.
func NewClient(rt Runtime) *Client {
	return &Client{runtime: rt}
}

// Open loads the training module on the active tier.
func Open(ctx context.Context, p binding.Prober) (*Client, error) {
	rt, h, err := binding.Open[Runtime](ctx, p, binding.Training)
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

// Close releases the loaded runtime.
func (c *Client) Close(ctx context.Context) error {
	if c.handle == nil {
		return nil
	}
	return c.handle.Close(ctx)
}

// Train runs cfg.Rounds rounds and reports each to observe, which may be
// nil. The session is closed before Train returns.
func (c *Client) Train(ctx context.Context, cfg SessionConfig, observe func(RoundResult)) (err error) {
	if err := validate(cfg); err != nil {
		return err
	}

	session, err := c.runtime.NewSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create session for %s: %w", cfg.Model, err)
	}
	defer func() {
		if cerr := session.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close session: %w", cerr)
		}
	}()

	for i := 0; i < cfg.Rounds; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := session.Round(ctx)
		if err != nil {
			return fmt.Errorf("round %d failed: %w", i+1, err)
		}
		if observe != nil {
			observe(res)
		}
	}
	return nil
}

func validate(cfg SessionConfig) error {
	switch {
	case cfg.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	case cfg.Rounds < 1:
		return fmt.Errorf("%w: rounds must be at least 1, got %d", ErrInvalidConfig, cfg.Rounds)
	case cfg.Participants < 1:
		return fmt.Errorf("%w: participants must be at least 1, got %d", ErrInvalidConfig, cfg.Participants)
	case cfg.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive", ErrInvalidConfig)
	}
	return nil
}
