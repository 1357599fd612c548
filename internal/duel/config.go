package duel

import (
	"time"

	"github.com/park285/cheese-duel-bot/internal/combat"
)

// Config tunes lifecycle timing, rewards and retry behaviour.
type Config struct {
	Rules            combat.Rules
	AcceptTimeout    time.Duration
	RoundDuration    time.Duration
	RoundStep        time.Duration
	RoundFloor       time.Duration
	ReputationReward int64
	MaxAttempts      int
	SweepInterval    time.Duration
	SweepBatch       int
	Retention        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Rules:            combat.DefaultRules(),
		AcceptTimeout:    2 * time.Minute,
		RoundDuration:    60 * time.Second,
		RoundStep:        10 * time.Second,
		RoundFloor:       20 * time.Second,
		ReputationReward: 10,
		MaxAttempts:      5,
		SweepInterval:    5 * time.Second,
		SweepBatch:       100,
		Retention:        24 * time.Hour,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Rules.MaxHP <= 0 {
		c.Rules = d.Rules
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = d.AcceptTimeout
	}
	if c.RoundFloor <= 0 {
		c.RoundFloor = d.RoundFloor
	}
	if c.RoundDuration < c.RoundFloor {
		c.RoundDuration = c.RoundFloor
	}
	if c.RoundStep < 0 {
		c.RoundStep = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = d.SweepBatch
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	return c
}

// nextRoundSeconds shrinks the round duration by one step, never below the floor.
func (c Config) nextRoundSeconds(cur int) int {
	floor := int(c.RoundFloor / time.Second)
	next := cur - int(c.RoundStep/time.Second)
	if next < floor {
		next = floor
	}
	if next > cur {
		next = cur
	}
	return next
}
