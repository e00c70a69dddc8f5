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

// Package api implements the public-facing HTTP server for the readability
// service: synchronous and background analysis, batch jobs, chunked SSE
// streaming, the real-time typing websocket, and the health endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"leselix/internal/breaker"
	"leselix/internal/cache"
	"leselix/internal/config"
	"leselix/internal/jobs"
	"leselix/internal/lixerr"
	"leselix/internal/readability"
	"leselix/internal/stream"
	"leselix/internal/sysload"
	"leselix/internal/telemetry"
)

// Bus is the slice of the pub/sub router the HTTP layer needs: mirroring
// scores to downstream services and answering health probes.
type Bus interface {
	PublishScores(ctx context.Context, text string, rec *readability.Record)
	Healthy(ctx context.Context) bool
	Running() bool
}

// QueueStatus is the durable queue's health view. Healthy means a live
// broker connection; Connected distinguishes "never dialed" from "down".
type QueueStatus interface {
	Healthy() bool
	Connected() bool
}

// Server handles the HTTP surface. Bus and queue may be nil when the
// corresponding transport is disabled; health then reports them unknown.
type Server struct {
	cfg      config.Config
	svc      *readability.Service
	cache    *cache.Cache
	jobs     *jobs.Manager
	bus      Bus
	queue    QueueStatus
	sampler  *sysload.Sampler
	breakers map[string]*breaker.Breaker
	log      zerolog.Logger
}

// NewServer wires the delivery surface onto the already-constructed
// components.
func NewServer(cfg config.Config, svc *readability.Service, c *cache.Cache, jm *jobs.Manager, b Bus, q QueueStatus, breakers map[string]*breaker.Breaker, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		svc:      svc,
		cache:    c,
		jobs:     jm,
		bus:      b,
		queue:    q,
		sampler:  sysload.NewSampler(),
		breakers: breakers,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /analyze", s.auth(s.handleAnalyze))
	mux.HandleFunc("POST /analyze/batch", s.auth(s.handleBatchSubmit))
	mux.HandleFunc("GET /analyze/batch/{job_id}", s.auth(s.handleBatchStatus))
	mux.HandleFunc("GET /task/{task_id}", s.auth(s.handleTaskStatus))
	mux.HandleFunc("POST /analyze/stream", s.auth(s.handleStream))
	mux.HandleFunc("GET /ws/analyze", s.auth(s.handleTyping))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.MetricsOn {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// Handler builds the complete route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// auth enforces the optional shared key on non-bus requests. Health and
// metrics stay open for probes and scrapers.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.SharedKey == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.cfg.SharedKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "invalid or missing API key",
				"kind":  "unauthorized",
			})
			return
		}
		next(w, r)
	}
}

type analyzeRequest struct {
	Text                    string            `json:"text"`
	IncludeWordAnalysis     *bool             `json:"include_word_analysis"`
	IncludeSentenceAnalysis *bool             `json:"include_sentence_analysis"`
	UserContext             map[string]string `json:"user_context"`
}

func (a analyzeRequest) options() readability.Options {
	opts := readability.DefaultOptions()
	if a.IncludeWordAnalysis != nil {
		opts.IncludeWordAnalysis = *a.IncludeWordAnalysis
	}
	if a.IncludeSentenceAnalysis != nil {
		opts.IncludeSentenceAnalysis = *a.IncludeSentenceAnalysis
	}
	opts.UserContext = a.UserContext
	return opts
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	telemetry.RequestsTotal.WithLabelValues("/analyze", r.Method).Inc()

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "/analyze", lixerr.Invalidf("malformed request body: %v", err))
		return
	}
	if req.Text == "" {
		s.writeError(w, "/analyze", lixerr.Invalidf("text field is required"))
		return
	}
	opts := req.options()

	// Large texts get a ticket and run in the background.
	if len(req.Text) > s.cfg.Thresholds.Background {
		ticket := s.jobs.SubmitTask(r.Context(), req.Text, opts)
		writeJSON(w, http.StatusAccepted, ticket)
		return
	}

	key := cache.AnalysisKey(readability.CacheKey(req.Text, opts))
	if raw, ok := s.cache.Get(r.Context(), key); ok {
		var rec readability.Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			rec.Cached = true
			writeJSON(w, http.StatusOK, &rec)
			telemetry.ProcessingSeconds.WithLabelValues("/analyze").Observe(time.Since(start).Seconds())
			return
		}
		// A corrupt cache entry falls through to recomputation.
		s.cache.Delete(r.Context(), key)
	}

	rec := s.svc.Analyze(req.Text, opts)
	if raw, err := json.Marshal(rec); err == nil {
		s.cache.Set(r.Context(), key, string(raw), s.cache.TTLFor(len(req.Text)))
	}
	if s.bus != nil {
		s.bus.PublishScores(r.Context(), req.Text, rec)
	}
	writeJSON(w, http.StatusOK, rec)
	telemetry.ProcessingSeconds.WithLabelValues("/analyze").Observe(time.Since(start).Seconds())
}

type batchRequest struct {
	Texts    []jobs.BatchItem `json:"texts"`
	Priority int              `json:"priority"`
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	telemetry.RequestsTotal.WithLabelValues("/analyze/batch", r.Method).Inc()

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "/analyze/batch", lixerr.Invalidf("malformed request body: %v", err))
		return
	}
	if req.Priority == 0 {
		req.Priority = 5
	}
	ticket, err := s.jobs.SubmitBatch(r.Context(), req.Texts, req.Priority)
	if err != nil {
		s.writeError(w, "/analyze/batch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.RequestsTotal.WithLabelValues("/analyze/batch/{job_id}", r.Method).Inc()

	state, err := s.jobs.BatchStatus(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeError(w, "/analyze/batch/{job_id}", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.RequestsTotal.WithLabelValues("/task/{task_id}", r.Method).Inc()

	state, err := s.jobs.TaskStatus(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.writeError(w, "/task/{task_id}", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleStream answers with server-sent events: one event per analyzed
// chunk, then a terminal completion event. The stream stops as soon as the
// client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	telemetry.RequestsTotal.WithLabelValues("/analyze/stream", r.Method).Inc()

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "/analyze/stream", lixerr.Invalidf("malformed request body: %v", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, "/analyze/stream", lixerr.Processingf("streaming unsupported by connection"))
		return
	}

	msg := stream.Message{
		Text:        req.Text,
		UserContext: req.UserContext,
	}
	if req.IncludeWordAnalysis != nil {
		msg.IncludeWordAnalysis = *req.IncludeWordAnalysis
	}
	if req.IncludeSentenceAnalysis != nil {
		msg.IncludeSentenceAnalysis = *req.IncludeSentenceAnalysis
	}

	// Validate before committing to the event-stream content type so an
	// empty text still gets a proper 4xx.
	if req.Text == "" {
		s.writeError(w, "/analyze/stream", lixerr.Invalidf("text field is required"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(ev stream.ChunkEvent) error {
		return writeSSE(w, flusher, ev)
	}
	terminal := func(tm stream.Terminal) error {
		return writeSSE(w, flusher, tm)
	}
	if err := stream.StreamChunks(r.Context(), s.svc, msg, emit, terminal); err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		s.log.Error().Err(err).Msg("chunk stream aborted")
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

type healthServices struct {
	Cache           string `json:"cache"`
	Messaging       string `json:"messaging"`
	PersistentQueue string `json:"persistent_queue"`
	PubSub          string `json:"pubsub"`
}

type healthSystem struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

type healthMetrics struct {
	EnableMetrics bool    `json:"enable_metrics"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp float64           `json:"timestamp"`
	Services  healthServices    `json:"services"`
	System    healthSystem      `json:"system"`
	Metrics   healthMetrics     `json:"metrics"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

// handleHealth reports per-dependency status. A single degraded dependency
// degrades the whole service. A transport that was never dialed reports
// "unknown" rather than "down".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Services: healthServices{
			Cache:           "unknown",
			Messaging:       "unknown",
			PersistentQueue: "unknown",
			PubSub:          "unknown",
		},
		System: healthSystem{
			CPUPercent:    s.sampler.CPUPercent(),
			MemoryPercent: s.sampler.MemoryPercent(),
			DiskPercent:   s.sampler.DiskPercent(),
		},
		Metrics: healthMetrics{
			EnableMetrics: s.cfg.MetricsOn,
			CacheHitRatio: telemetry.CacheHitRatio(),
		},
	}

	degraded := false
	if s.cache.Healthy(ctx) {
		resp.Services.Cache = "up"
	} else {
		resp.Services.Cache = "down"
		degraded = true
	}
	if s.bus != nil {
		if s.bus.Running() {
			resp.Services.Messaging = "up"
		} else {
			resp.Services.Messaging = "down"
			degraded = true
		}
		if s.bus.Healthy(ctx) {
			resp.Services.PubSub = "up"
		} else {
			resp.Services.PubSub = "down"
			degraded = true
		}
	}
	if s.queue != nil && s.queue.Connected() {
		if s.queue.Healthy() {
			resp.Services.PersistentQueue = "up"
		} else {
			resp.Services.PersistentQueue = "down"
			degraded = true
		}
	}
	if degraded {
		resp.Status = "degraded"
	}

	if len(s.breakers) > 0 {
		resp.Breakers = make(map[string]string, len(s.breakers))
		for name, br := range s.breakers {
			resp.Breakers[name] = br.State().String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeError maps error kinds onto HTTP status codes and emits the standard
// {error, kind} body.
func (s *Server) writeError(w http.ResponseWriter, endpoint string, err error) {
	kind := lixerr.Kind(err)
	telemetry.ErrorsTotal.WithLabelValues(endpoint, kind).Inc()

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lixerr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, lixerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lixerr.ErrCircuitOpen), errors.Is(err, lixerr.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
