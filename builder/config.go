package builder

import (
	"log/slog"
	"time"
)

// Config tunes the create-verify-reconcile protocol. The zero value is not
// usable; call applyDefaults or construct through New.
type Config struct {
	// CreateAttempts is the number of full create cycles per field.
	CreateAttempts int `yaml:"create_attempts"`
	// DragAttempts is the number of drop attempts inside one create cycle.
	DragAttempts int `yaml:"drag_attempts"`
	// MoveAttempts is the number of reposition attempts per placement repair.
	MoveAttempts int `yaml:"move_attempts"`

	// DragModeWait bounds how long a held press may take to enter drag mode.
	DragModeWait time.Duration `yaml:"drag_mode_wait"`
	// GrowthWait bounds the post-release poll for DOM growth.
	GrowthWait time.Duration `yaml:"growth_wait"`
	// PollInterval is the spacing of all bounded polls.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ConfirmFast is the confirmation deadline when the DOM already grew.
	ConfirmFast time.Duration `yaml:"confirm_fast"`
	// ConfirmSlow is the confirmation deadline when it did not.
	ConfirmSlow time.Duration `yaml:"confirm_slow"`
	// StabilizeWait bounds the last-element ID stabilization poll.
	StabilizeWait time.Duration `yaml:"stabilize_wait"`
	// AlignWait bounds canvas alignment checks between attempts.
	AlignWait time.Duration `yaml:"align_wait"`
	// MoveConfirmWait bounds the order re-read after a reposition.
	MoveConfirmWait time.Duration `yaml:"move_confirm_wait"`

	// ResyncBudget caps hard resyncs per build.
	ResyncBudget int `yaml:"resync_budget"`
	// FatalOnResyncExhausted aborts the build when the budget is spent
	// instead of skipping the field.
	FatalOnResyncExhausted bool `yaml:"fatal_on_resync_exhausted"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.CreateAttempts <= 0 {
		c.CreateAttempts = 3
	}
	if c.DragAttempts <= 0 {
		c.DragAttempts = 2
	}
	if c.MoveAttempts <= 0 {
		c.MoveAttempts = 2
	}
	if c.DragModeWait <= 0 {
		c.DragModeWait = 2500 * time.Millisecond
	}
	if c.GrowthWait <= 0 {
		c.GrowthWait = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 80 * time.Millisecond
	}
	if c.ConfirmFast <= 0 {
		c.ConfirmFast = 6 * time.Second
	}
	if c.ConfirmSlow <= 0 {
		c.ConfirmSlow = 10 * time.Second
	}
	if c.StabilizeWait <= 0 {
		c.StabilizeWait = 2 * time.Second
	}
	if c.AlignWait <= 0 {
		c.AlignWait = 3 * time.Second
	}
	if c.MoveConfirmWait <= 0 {
		c.MoveConfirmWait = 2 * time.Second
	}
	if c.ResyncBudget <= 0 {
		c.ResyncBudget = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
