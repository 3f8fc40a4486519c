// Package config defines retry and DLQ configuration.
package config

import (
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// GetRetryConfig builds the preprocess task retry policy from configuration,
// keeping the default error classification lists.
func (c Config) GetRetryConfig() domain.RetryConfig {
	rc := domain.DefaultRetryConfig()
	if c.RetryMaxRetries > 0 {
		rc.MaxRetries = c.RetryMaxRetries
	}
	if c.RetryInitialDelay > 0 {
		rc.InitialDelay = c.RetryInitialDelay
	}
	if c.RetryMaxDelay > 0 {
		rc.MaxDelay = c.RetryMaxDelay
	}
	if c.RetryMultiplier > 0 {
		rc.Multiplier = c.RetryMultiplier
	}
	rc.Jitter = c.RetryJitter
	return rc
}
