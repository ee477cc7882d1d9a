// Package feedback maintains the linking thresholds and adjusts them from
// aggregate human review outcomes. It is a proportional-control heuristic,
// not a learned model: high average approved confidence nudges both
// thresholds down, low average nudges them up, and every update preserves
// the review < auto-link invariant inside (0, 1].
package feedback

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidThresholds indicates a rejected threshold configuration.
var ErrInvalidThresholds = errors.New("invalid threshold configuration")

// ThresholdConfig is the process-wide decision configuration. It is
// replaced atomically, never mutated in place: in-flight decisions keep the
// config they read.
type ThresholdConfig struct {
	// AutoLink is the score at or above which a candidate merges into its
	// best match without human action.
	AutoLink float64 `json:"auto_link_threshold"`

	// Review is the score at or above which (but below AutoLink) a
	// candidate queues for human review.
	Review float64 `json:"review_threshold"`
}

// DefaultThresholds returns the standard configuration.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{AutoLink: 0.9, Review: 0.75}
}

// Validate enforces 0 < review < auto_link <= 1.
func (c ThresholdConfig) Validate() error {
	if c.Review <= 0 || c.AutoLink > 1 || c.Review >= c.AutoLink {
		return fmt.Errorf("%w: review=%.3f auto_link=%.3f (need 0 < review < auto_link <= 1)",
			ErrInvalidThresholds, c.Review, c.AutoLink)
	}
	return nil
}

// Outcome is one resolved review decision, the feedback loop's input.
type Outcome struct {
	Score    float64
	Approved bool
}

// Controller holds the live ThresholdConfig and applies recalibrations.
type Controller struct {
	current atomic.Pointer[ThresholdConfig]

	// step is the adjustment applied per recalibration.
	step float64
}

// NewController creates a Controller seeded with cfg. An invalid seed falls
// back to the defaults.
func NewController(cfg ThresholdConfig, step float64) *Controller {
	if cfg.Validate() != nil {
		cfg = DefaultThresholds()
	}
	if step <= 0 {
		step = 0.02
	}
	c := &Controller{step: step}
	c.current.Store(&cfg)
	return c
}

// Current returns the live configuration.
func (c *Controller) Current() ThresholdConfig {
	return *c.current.Load()
}

// Update replaces the configuration after validating it. Invalid updates
// are rejected and the last valid configuration stays live.
func (c *Controller) Update(cfg ThresholdConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.current.Store(&cfg)
	return nil
}

const (
	aggressiveAbove   = 0.8
	conservativeBelow = 0.6
)

// Recalibrate adjusts thresholds from recent review outcomes and returns
// the configuration now live. With no approved outcomes, or when the
// adjusted configuration would leave the valid range, the current
// configuration is kept.
func (c *Controller) Recalibrate(outcomes []Outcome) ThresholdConfig {
	approvedSum, approved := 0.0, 0
	for _, o := range outcomes {
		if o.Approved {
			approvedSum += o.Score
			approved++
		}
	}
	if approved == 0 {
		return c.Current()
	}

	mean := approvedSum / float64(approved)
	cur := c.Current()

	var next ThresholdConfig
	switch {
	case mean > aggressiveAbove:
		// Reviewers keep approving strong matches: link more eagerly.
		next = ThresholdConfig{AutoLink: cur.AutoLink - c.step, Review: cur.Review - c.step}
	case mean < conservativeBelow:
		// Approvals are scraping the floor: demand more before linking.
		next = ThresholdConfig{AutoLink: cur.AutoLink + c.step, Review: cur.Review + c.step}
	default:
		return cur
	}

	if next.AutoLink > 1 {
		next.AutoLink = 1
	}
	if next.Validate() != nil {
		return cur
	}
	c.current.Store(&next)
	return next
}
