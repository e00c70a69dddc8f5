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

package breaker

import (
	"errors"
	"testing"
	"time"

	"leselix/internal/lixerr"
	"github.com/rs/zerolog"
)

var errBoom = errors.New("boom")

func newTestBreaker(resetTimeout time.Duration) *Breaker {
	return New("test", 5, resetTimeout, 0.5, zerolog.Nop())
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(time.Minute)
	for i := 0; i < 5; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want %v", i, err, errBoom)
		}
	}
	if got := b.State(); got != Open {
		t.Fatalf("state after 5 failures = %v, want Open", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, lixerr.ErrCircuitOpen) {
		t.Fatalf("open breaker returned %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	b := newTestBreaker(time.Minute)
	for i := 0; i < 4; i++ {
		b.Do(func() error { return errBoom })
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("success call failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		b.Do(func() error { return errBoom })
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state = %v, want Closed (consecutive count should reset on success)", got)
	}
}

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := newTestBreaker(time.Minute)
	// Interleave so the consecutive counter never reaches 5, but the
	// overall failure ratio climbs past 50% after 10+ requests.
	for i := 0; i < 4; i++ {
		b.Do(func() error { return nil })
	}
	for i := 0; i < 20 && b.State() == Closed; i++ {
		b.Do(func() error { return errBoom })
		if b.State() != Closed {
			break
		}
		b.Do(func() error { return nil })
		b.Do(func() error { return errBoom })
	}
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want Open on failure ratio", got)
	}
}

func TestBreakerStaysClosedBelowFailureRatio(t *testing.T) {
	b := newTestBreaker(time.Minute)
	// 40% failure rate and at most 2 consecutive failures: neither trip
	// condition is met, so the breaker must stay Closed throughout.
	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < 3; i++ {
			if err := b.Do(func() error { return nil }); err != nil {
				t.Fatalf("cycle %d success call failed: %v", cycle, err)
			}
		}
		for i := 0; i < 2; i++ {
			if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
				t.Fatalf("cycle %d failure call: got %v, want %v", cycle, err, errBoom)
			}
		}
		if got := b.State(); got != Closed {
			t.Fatalf("state after cycle %d = %v, want Closed at 40%% failure rate", cycle, got)
		}
	}
}

func TestBreakerHalfOpenTrialCloses(t *testing.T) {
	b := newTestBreaker(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		b.Do(func() error { return errBoom })
	}
	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != HalfOpen {
		t.Fatalf("state after reset timeout = %v, want HalfOpen", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state after successful trial = %v, want Closed", got)
	}
}

func TestBreakerHalfOpenTrialReopens(t *testing.T) {
	b := newTestBreaker(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		b.Do(func() error { return errBoom })
	}
	time.Sleep(20 * time.Millisecond)
	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("trial call: got %v, want %v", err, errBoom)
	}
	if got := b.State(); got != Open {
		t.Fatalf("state after failed trial = %v, want Open", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, lixerr.ErrCircuitOpen) {
		t.Fatalf("reopened breaker returned %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b := newTestBreaker(time.Minute)
	for i := 0; i < 5; i++ {
		b.Do(func() error { return errBoom })
	}
	b.Reset()
	if got := b.State(); got != Closed {
		t.Fatalf("state after Reset = %v, want Closed", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("call after Reset failed: %v", err)
	}
}
