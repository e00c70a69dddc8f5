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

// Package main provides the entry point for the leselix readability service.
//
// This binary wires the full delivery surface together:
// 1. Configuration from the environment, with flag overrides for local runs.
// 2. The readability service with its parser and metric kernels.
// 3. The Redis-backed cache and pub/sub bus, plus the durable AMQP queue.
// 4. The background job manager for oversized texts and batch jobs.
// 5. The HTTP server (REST, SSE streaming, websocket typing, health, metrics).
// 6. Graceful shutdown: offline status on the control channel, drained
//    workers, and a bounded HTTP shutdown window.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"leselix/internal/api"
	"leselix/internal/breaker"
	"leselix/internal/bus"
	"leselix/internal/cache"
	"leselix/internal/config"
	"leselix/internal/jobs"
	"leselix/internal/readability"
)

func main() {
	// 1. Configuration. Environment first, flags win for local runs.
	cfg := config.Load()
	httpAddr := flag.String("http_addr", cfg.HTTPAddr, "HTTP listen address (e.g., :8012)")
	logLevel := flag.String("log_level", cfg.LogLevel, "Log level: trace, debug, info, warn, error")
	flag.Parse()
	cfg.HTTPAddr = *httpAddr
	cfg.LogLevel = *logLevel

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "leselix").Logger()

	// 2. Core analysis service.
	svc := readability.NewService(log)

	// 3. External adapters, each behind its own circuit breaker.
	breakers := map[string]*breaker.Breaker{
		"cache":  breaker.New("cache", 5, cfg.BreakerWindow, 0.5, log),
		"pubsub": breaker.New("pubsub", 5, cfg.BreakerWindow, 0.5, log),
		"queue":  breaker.New("queue", 5, cfg.BreakerWindow, 0.5, log),
	}

	store := cache.NewRedisStore(cfg.Redis)
	defer store.Close()
	sharedCache := cache.New(store, cfg.Redis, cfg.Thresholds, cfg.CacheRetries, cfg.CacheTimeout, breakers["cache"], log)

	queue := bus.NewQueue(cfg.Rabbit, breakers["queue"], log)
	transport := bus.NewRedisTransport(cfg.Redis)
	defer transport.Close()
	router := bus.NewRouter(transport, svc, queue, breakers["pubsub"], log)

	// 4. Background jobs for oversized texts and priority batches.
	manager := jobs.NewManager(svc, sharedCache, log)
	manager.Start()

	// The bus is best-effort at startup: an unreachable broker degrades the
	// health report but must not prevent HTTP from serving.
	busCtx, busCancel := context.WithTimeout(context.Background(), 10*time.Second)
	var busUp *bus.Router
	if err := router.Start(busCtx); err != nil {
		log.Warn().Err(err).Msg("pub/sub bus unavailable at startup, continuing degraded")
	} else {
		busUp = router
	}
	busCancel()

	// 5. HTTP server.
	var apiBus api.Bus
	if busUp != nil {
		apiBus = busUp
	}
	server := api.NewServer(cfg, svc, sharedCache, manager, apiBus, queue, breakers, log)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("leselix listening")
		errCh <- httpServer.ListenAndServe()
	}()

	// 6. Wait for a signal or a fatal server error.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			// Inability to bind the port is fatal.
			log.Error().Err(err).Msg("http server failed")
			os.Exit(1)
		}
	}

	// 7. Shutdown order: announce offline first so the gateway stops routing
	// to us, then drain jobs, then close the durable queue, then HTTP.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if busUp != nil {
		busUp.Stop(shutdownCtx)
	}
	manager.Stop()
	queue.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("leselix stopped")
}
