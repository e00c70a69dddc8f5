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

// Package stream implements the two streaming delivery paths: the adaptive
// debounced typing session used by the real-time connection, and the
// paragraph chunker used by the incremental stream endpoint. Both are
// transport-agnostic; the delivery layer supplies an emit callback.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"leselix/internal/cache"
	"leselix/internal/lixerr"
	"leselix/internal/readability"
)

// Debounce bounds and triggers for the typing path.
const (
	MinDebounce = 100 * time.Millisecond
	MaxDebounce = 800 * time.Millisecond

	// significantChangeRatio lets large edits bypass the debounce window.
	significantChangeRatio = 0.15

	// connCacheCap bounds the per-session cache; the whole cache is
	// cleared on overflow.
	connCacheCap = 20

	// partialThreshold and the 500ms recency test select the two-phase
	// reply: a metrics-only partial first, detail later.
	partialThreshold = 1000

	// deferThreshold pushes the detailed pass off the session entirely.
	deferThreshold = 10000

	// Recommendations are built only for texts past this word count and
	// after a typing pause.
	recommendWordMin   = 15
	recommendPauseMin  = 700 * time.Millisecond
	longTextThreshold  = 5000
	longTextMultiplier = 1.2
)

// Message is one inbound typing update.
type Message struct {
	Text                    string            `json:"text"`
	IncludeWordAnalysis     bool              `json:"include_word_analysis"`
	IncludeSentenceAnalysis bool              `json:"include_sentence_analysis"`
	UserContext             map[string]string `json:"user_context,omitempty"`
}

// LoadFunc reports blended system load in [0, 1].
type LoadFunc func() float64

// EmitFunc delivers one outbound record to the client. Errors abort only
// the current reply; the session keeps serving.
type EmitFunc func(*readability.Record) error

// Session holds the per-connection state of the typing path. It is owned
// by a single connection goroutine; only the deferred-detail machinery
// uses atomics.
type Session struct {
	svc    *readability.Service
	shared *cache.Cache
	load   LoadFunc
	emit   EmitFunc
	log    zerolog.Logger
	now    func() time.Time

	lastText      string
	lastTextLen   int
	lastWordCount int
	lastProcess   time.Time
	debounce      time.Duration

	connCache map[string]*readability.Record

	// seq numbers inbound messages; a deferred detail pass publishes only
	// if no newer message has been processed since it was scheduled.
	seq atomic.Uint64
}

// NewSession constructs the per-connection state. load may be nil, in which
// case the debounce window stays at its minimum.
func NewSession(svc *readability.Service, shared *cache.Cache, load LoadFunc, emit EmitFunc, log zerolog.Logger) *Session {
	if load == nil {
		load = func() float64 { return 0 }
	}
	return &Session{
		svc:       svc,
		shared:    shared,
		load:      load,
		emit:      emit,
		log:       log.With().Str("component", "typing_session").Logger(),
		now:       time.Now,
		debounce:  200 * time.Millisecond,
		connCache: make(map[string]*readability.Record, connCacheCap),
	}
}

// Handle processes one inbound message. It may emit zero, one, or two
// replies (a partial followed by detail), and may schedule a deferred
// detail pass for very large texts.
func (s *Session) Handle(ctx context.Context, msg Message) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return lixerr.Invalidf("no text provided")
	}
	if text == s.lastText {
		return nil
	}

	now := s.now()
	sinceLast := now.Sub(s.lastProcess)
	textLen := len(text)

	changeRatio := math.Abs(float64(textLen-s.lastTextLen)) / math.Max(1, float64(s.lastTextLen))
	significant := changeRatio > significantChangeRatio
	if sinceLast < s.debounce && !significant {
		return nil
	}

	s.adjustDebounce(textLen)

	opts := readability.Options{
		IncludeWordAnalysis:     msg.IncludeWordAnalysis,
		IncludeSentenceAnalysis: msg.IncludeSentenceAnalysis,
		UserContext:             msg.UserContext,
		Simplified:              true,
	}

	// Per-connection cache first, shared cache second.
	connKey := connCacheKey(text, opts)
	if rec, ok := s.connCache[connKey]; ok {
		s.touch(now, text, textLen)
		return s.emit(rec)
	}
	sharedKey := cache.AnalysisKey(readability.CacheKey(text, opts))
	if raw, ok := s.shared.Get(ctx, sharedKey); ok {
		var rec readability.Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			rec.Cached = true
			s.storeConn(connKey, &rec)
			s.touch(now, text, textLen)
			return s.emit(&rec)
		}
	}

	mySeq := s.seq.Add(1)

	// Two-phase reply for large or rapidly changing text: metrics first.
	if textLen > partialThreshold || sinceLast < 500*time.Millisecond {
		partial := s.svc.AnalyzeMetricsOnly(text)
		if err := s.emit(partial); err != nil {
			return err
		}
		if textLen > deferThreshold {
			// Very long text: detail is computed off the session so the
			// client can keep typing. An obsolete result is dropped.
			go s.deferredDetail(text, opts, sharedKey, mySeq)
			s.touch(now, text, textLen)
			return nil
		}
	}

	rec := s.svc.Analyze(text, opts)
	if !(rec.Statistics.WordCount > recommendWordMin && sinceLast > recommendPauseMin) {
		rec.Recommendations = []readability.Recommendation{}
	}

	if payload, err := json.Marshal(rec); err == nil {
		s.shared.Set(ctx, sharedKey, string(payload), s.shared.TTLFor(textLen))
	}
	s.storeConn(connKey, rec)
	s.lastWordCount = rec.Statistics.WordCount
	s.touch(now, text, textLen)
	return s.emit(rec)
}

// Debounce exposes the current window, mainly for tests and diagnostics.
func (s *Session) Debounce() time.Duration { return s.debounce }

// adjustDebounce recomputes the window from blended system load, then
// widens it for long texts.
func (s *Session) adjustDebounce(textLen int) {
	sigma := s.load()
	switch {
	case sigma > 0.8:
		s.debounce = MaxDebounce
	case sigma > 0.5:
		span := float64(MaxDebounce - MinDebounce)
		s.debounce = MinDebounce + time.Duration(span*(sigma-0.5)/0.3)
	default:
		s.debounce = MinDebounce
	}
	if textLen > longTextThreshold {
		s.debounce = time.Duration(float64(s.debounce) * longTextMultiplier)
	}
}

// deferredDetail computes the full analysis for a very long text off the
// session goroutine, caches it, and emits it unless a newer message has
// already been processed.
func (s *Session) deferredDetail(text string, opts readability.Options, sharedKey string, seq uint64) {
	rec := s.svc.Analyze(text, opts)
	if payload, err := json.Marshal(rec); err == nil {
		s.shared.Set(context.Background(), sharedKey, string(payload), s.shared.TTLFor(len(text)))
	}
	if s.seq.Load() != seq {
		s.log.Debug().Msg("dropping obsolete detailed result")
		return
	}
	if err := s.emit(rec); err != nil {
		s.log.Debug().Err(err).Msg("deferred detail emit failed")
	}
}

func (s *Session) storeConn(key string, rec *readability.Record) {
	if len(s.connCache) >= connCacheCap {
		s.connCache = make(map[string]*readability.Record, connCacheCap)
	}
	s.connCache[key] = rec
}

func (s *Session) touch(now time.Time, text string, textLen int) {
	s.lastProcess = now
	s.lastText = text
	s.lastTextLen = textLen
}

func connCacheKey(text string, opts readability.Options) string {
	head := text
	if len(head) > 50 {
		head = head[:50]
	}
	return fmt.Sprintf("%s_%d_%t_%t", head, len(text), opts.IncludeWordAnalysis, opts.IncludeSentenceAnalysis)
}
