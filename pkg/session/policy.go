package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"wabridge/pkg/config"
)

// ReconnectPolicy bounds the reconnect loop with exponential backoff.
// MaxAttempts 0 retries forever.
type ReconnectPolicy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxAttempts         int
}

// DefaultReconnectPolicy starts at 500ms and caps at one minute.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         time.Minute,
		Multiplier:          2,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

// PolicyFromConfig overlays configured values on the default policy.
func PolicyFromConfig(cfg config.ReconnectConfig) ReconnectPolicy {
	p := DefaultReconnectPolicy()
	if cfg.InitialIntervalMillis > 0 {
		p.InitialInterval = time.Duration(cfg.InitialIntervalMillis) * time.Millisecond
	}
	if cfg.MaxIntervalSeconds > 0 {
		p.MaxInterval = time.Duration(cfg.MaxIntervalSeconds) * time.Second
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	return p
}

// newBackOff returns a fresh schedule. It never stops on elapsed time; with
// MaxAttempts set, NextBackOff returns backoff.Stop once they are used up.
func (p ReconnectPolicy) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.RandomizationFactor
	exp.MaxElapsedTime = 0
	exp.Reset()

	if p.MaxAttempts > 0 {
		return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts))
	}
	return exp
}
