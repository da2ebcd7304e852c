package config

import "fmt"

// SentryConfig defines settings for Sentry error monitoring. An empty DSN
// disables reporting.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
	// FlushSeconds bounds the wait for pending events on shutdown.
	FlushSeconds int `json:"flush_seconds"`
}

func (c *SentryConfig) SetDefaults() {
	if c.FlushSeconds == 0 {
		c.FlushSeconds = 2
	}
	if c.Environment == "" {
		c.Environment = "simulation"
	}
}

func (c SentryConfig) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("sentry traces_sample_rate must be within [0,1]")
	}
	if c.FlushSeconds < 0 {
		return fmt.Errorf("sentry flush_seconds must be positive")
	}
	return nil
}
