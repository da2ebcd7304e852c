package smartcharging

import "fmt"

// Config defines the smart charging settings. Durations are in seconds.
type Config struct {
	// Mode is "proportional", "price" or "lp".
	Mode string `json:"mode"`
	// Interval triggers a periodic reallocation. Zero disables it.
	Interval float64 `json:"interval"`
	// Accuracy is the relative deviation under which previous grants are
	// kept.
	Accuracy float64 `json:"accuracy"`
	// MaxRounds bounds the proportional sharing rounds.
	MaxRounds int `json:"max_rounds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = string(ModeProportional)
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 10
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if _, err := ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Interval < 0 {
		return fmt.Errorf("smart charging interval must be >= 0, got %.1f", c.Interval)
	}
	if c.Accuracy < 0 || c.Accuracy >= 1 {
		return fmt.Errorf("smart charging accuracy must be in [0,1), got %.3f", c.Accuracy)
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("smart charging max_rounds must be >= 0")
	}
	return nil
}

// NewAllocator builds the allocator selected by cfg.Mode.
func NewAllocator(cfg Config) (Allocator, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeLP {
		a := NewLPAllocator()
		if cfg.MaxRounds > 0 {
			a.Fallback.MaxRounds = cfg.MaxRounds
		}
		return a, nil
	}
	g := NewGreedyAllocator(mode)
	if cfg.MaxRounds > 0 {
		g.MaxRounds = cfg.MaxRounds
	}
	return g, nil
}
