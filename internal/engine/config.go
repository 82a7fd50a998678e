package engine

import (
	"fmt"
	"time"
)

const (
	// DefaultRetryCap bounds how many times the judge may send a run back to
	// planning.
	DefaultRetryCap = 2
	// DefaultMaxActTurns bounds the acting loop within one plan.
	DefaultMaxActTurns    = 8
	DefaultStageTimeout   = 60 * time.Second
	DefaultMaxOutputToken = 4096
)

// ControllerConfig holds configuration for a controller instance.
type ControllerConfig struct {
	Model           string
	RetryCap        int
	MaxActTurns     int
	StageTimeout    time.Duration
	Temperature     float32
	MaxOutputTokens int
	// Dialect names the relational backend in the acting prompt
	// ("SQLite" or "PostgreSQL").
	Dialect string
}

// DefaultControllerConfig returns a default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Model:           "gpt-4o-mini",
		RetryCap:        DefaultRetryCap,
		MaxActTurns:     DefaultMaxActTurns,
		StageTimeout:    DefaultStageTimeout,
		MaxOutputTokens: DefaultMaxOutputToken,
		Dialect:         "SQLite",
	}
}

// Validate rejects configurations the controller cannot run with.
func (c ControllerConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.RetryCap < 0 {
		return fmt.Errorf("retry cap must be >= 0, got %d", c.RetryCap)
	}
	if c.MaxActTurns < 1 {
		return fmt.Errorf("max act turns must be >= 1, got %d", c.MaxActTurns)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive, got %s", c.StageTimeout)
	}
	return nil
}

func (c ControllerConfig) chatOptions() ChatOptions {
	return ChatOptions{
		Temperature:     c.Temperature,
		MaxOutputTokens: c.MaxOutputTokens,
	}
}

// DefaultRetryPolicy returns the transport retry policy for LLM calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}
