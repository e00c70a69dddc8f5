// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package breaker implements the circuit breaker guarding each external
// dependency (cache, pub/sub bus, persistent queue). One Breaker per
// dependency; counters are mutated under the breaker's own lock.
package breaker

import (
	"sync"
	"time"

	"leselix/internal/lixerr"
	"github.com/rs/zerolog"
)

// State is the breaker's position in the Closed/Open/Half-Open machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker guards calls to one external dependency.
//
// Trip conditions from Closed: MaxFailures consecutive failures, or a
// failure ratio above FailureThreshold once at least 10 requests have been
// observed. While Open, calls fail fast with lixerr.ErrCircuitOpen; after
// ResetTimeout the next call is admitted as a Half-Open trial.
type Breaker struct {
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	failureThreshold float64 // ratio in (0,1]
	log              zerolog.Logger

	mu            sync.Mutex
	state         State
	failures      int   // consecutive
	failureTotal  int64 // across the window, for the ratio
	requests      int64
	successes     int64
	lastFailure   time.Time
	trialInFlight bool
}

// New constructs a breaker with the given trip policy. Zero values select
// the defaults: 5 consecutive failures, 60s reset, 50% failure ratio.
func New(name string, maxFailures int, resetTimeout time.Duration, failureThreshold float64, log zerolog.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	if failureThreshold <= 0 || failureThreshold > 1 {
		failureThreshold = 0.5
	}
	return &Breaker{
		name:             name,
		maxFailures:      maxFailures,
		resetTimeout:     resetTimeout,
		failureThreshold: failureThreshold,
		log:              log.With().Str("breaker", name).Logger(),
	}
}

// Do runs fn under the breaker. While Open it fails fast without invoking
// fn. A Half-Open trial admits exactly one call; its outcome decides the
// next state.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.failure()
		return err
	}
	b.success()
	return nil
}

// admit decides whether a call may proceed, handling the Open->HalfOpen
// transition once the reset timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if time.Since(b.lastFailure) < b.resetTimeout {
			return lixerr.ErrCircuitOpen
		}
		b.state = HalfOpen
		b.trialInFlight = true
		b.log.Info().Msg("circuit half-open, admitting trial")
		return nil
	case HalfOpen:
		if b.trialInFlight {
			return lixerr.ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	default:
		b.requests++
		return nil
	}
}

// success records a successful call. In Half-Open it closes the circuit and
// resets all counters.
func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.state = Closed
		b.failures = 0
		b.failureTotal = 0
		b.requests = 0
		b.successes = 0
		b.trialInFlight = false
		b.log.Info().Msg("circuit closed after successful trial")
		return
	}
	b.failures = 0
	b.successes++
}

// failure records a failed call and checks the trip conditions.
func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	if b.state == HalfOpen {
		b.state = Open
		b.trialInFlight = false
		b.log.Warn().Msg("circuit reopened after trial failure")
		return
	}
	b.failures++
	b.failureTotal++
	if b.failures >= b.maxFailures {
		b.state = Open
		b.log.Warn().Int("failures", b.failures).Msg("circuit opened on consecutive failures")
		return
	}
	if b.requests > 10 {
		ratio := float64(b.failureTotal) / float64(b.requests)
		if ratio > b.failureThreshold {
			b.state = Open
			b.log.Warn().Float64("failure_ratio", ratio).Msg("circuit opened on failure ratio")
		}
	}
}

// State reports the current state, applying the Open->HalfOpen timeout so
// health checks see "half-open" once a trial would be admitted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.lastFailure) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Snapshot reports the counters for metrics and health output.
func (b *Breaker) Snapshot() (state State, consecutiveFailures int, requests, successes int64, lastFailure time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures, b.requests, b.successes, b.lastFailure
}

// Reset forces the breaker back to Closed. Intended for tests and operator
// intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.failureTotal = 0
	b.requests = 0
	b.successes = 0
	b.trialInFlight = false
}
