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

// Package lixerr defines the error kinds shared across the service and the
// helpers that classify them. Every error that crosses a component boundary
// wraps exactly one of these sentinels so callers can branch on errors.Is
// without string matching.
package lixerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. The HTTP layer maps InvalidInput and NotFound to
// 4xx responses; everything else is a 5xx or a degraded-mode fallback.
var (
	// ErrInvalidInput covers empty text, oversized batches, and malformed
	// message envelopes. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown task or batch job id.
	ErrNotFound = errors.New("not found")

	// ErrDependencyUnavailable marks an unreachable cache, pub/sub bus, or
	// persistent queue after local retries are exhausted.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrCircuitOpen is the fast-fail returned while a circuit breaker is
	// open. Distinct from ErrDependencyUnavailable so callers can tell a
	// deliberate fast-fail apart from an exhausted retry.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrProcessing marks an analyzer failure while computing a result.
	ErrProcessing = errors.New("processing error")

	// ErrTransient marks a reconnectable condition worth a bounded retry.
	ErrTransient = errors.New("transient error")
)

// Invalidf wraps ErrInvalidInput with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Unavailable wraps an underlying transport error as ErrDependencyUnavailable
// while preserving the cause for logging.
func Unavailable(dep string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, dep, cause)
}

// Processingf wraps ErrProcessing with a formatted message.
func Processingf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProcessing}, args...)...)
}

// Kind returns the wire label for an error so responses can carry a stable
// machine-readable kind alongside the human-readable message.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrDependencyUnavailable):
		return "dependency_unavailable"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrProcessing):
		return "processing_error"
	default:
		return "internal_error"
	}
}
