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

// Package config loads service configuration from the environment with
// sensible defaults. Every knob is an environment variable so deployments
// stay twelve-factor; cmd/leselix-server additionally exposes flag overrides
// for local runs.
package config

import (
	"os"
	"strconv"
	"time"
)

// Redis holds connection and cache-TTL settings for the Redis store that
// backs both the analysis cache and the pub/sub bus.
type Redis struct {
	Host     string
	Port     int
	DB       int
	Password string

	// TTLDefault applies to medium texts, TTLSmall to texts under the small
	// threshold, TTLLarge to texts over the large threshold.
	TTLDefault time.Duration
	TTLSmall   time.Duration
	TTLLarge   time.Duration
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string { return r.Host + ":" + strconv.Itoa(r.Port) }

// Rabbit holds the persistent-queue (RabbitMQ) settings.
type Rabbit struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	QueueName     string
	Exchange      string
	RoutingKey    string
	PrefetchCount int
}

// URL builds the amqp connection URI.
func (r Rabbit) URL() string {
	return "amqp://" + r.User + ":" + r.Password + "@" + r.Host + ":" +
		strconv.Itoa(r.Port) + r.VHost
}

// Thresholds are the character-length boundaries that select size class,
// adaptive TTL, and the background processing path.
type Thresholds struct {
	Small      int // below this a text is "small"
	Large      int // above this a text is "large"
	Background int // above this a synchronous request becomes a job
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr      string
	Redis         Redis
	Rabbit        Rabbit
	Thresholds    Thresholds
	MetricsOn     bool
	LogLevel      string
	SharedKey     string // optional; empty disables request authentication
	CacheRetries  int
	CacheTimeout  time.Duration
	BreakerWindow time.Duration // reset timeout for circuit breakers
}

// Load reads configuration from the environment, applying defaults that
// match the documented deployment contract.
func Load() Config {
	return Config{
		HTTPAddr: envStr("HTTP_ADDR", ":8012"),
		Redis: Redis{
			Host:       envStr("REDIS_HOST", "localhost"),
			Port:       envInt("REDIS_PORT", 6379),
			DB:         envInt("REDIS_DB", 0),
			Password:   envStr("REDIS_PASSWORD", ""),
			TTLDefault: envSeconds("REDIS_CACHE_TTL", 3600),
			TTLSmall:   envSeconds("REDIS_CACHE_TTL_SMALL", 7200),
			TTLLarge:   envSeconds("REDIS_CACHE_TTL_LARGE", 1800),
		},
		Rabbit: Rabbit{
			Host:          envStr("RABBITMQ_HOST", "localhost"),
			Port:          envInt("RABBITMQ_PORT", 5672),
			User:          envStr("RABBITMQ_USER", "guest"),
			Password:      envStr("RABBITMQ_PASSWORD", "guest"),
			VHost:         envStr("RABBITMQ_VHOST", "/"),
			QueueName:     envStr("RABBITMQ_QUEUE_NAME", "lix_persistent_queue"),
			Exchange:      envStr("RABBITMQ_EXCHANGE", "readability.persistent"),
			RoutingKey:    envStr("RABBITMQ_ROUTING_KEY", "lix.critical"),
			PrefetchCount: envInt("RABBITMQ_PREFETCH_COUNT", 10),
		},
		Thresholds: Thresholds{
			Small:      envInt("SMALL_TEXT_THRESHOLD", 1000),
			Large:      envInt("LARGE_TEXT_THRESHOLD", 10000),
			Background: envInt("BACKGROUND_PROCESSING_THRESHOLD", 20000),
		},
		MetricsOn:     envBool("ENABLE_METRICS", true),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		SharedKey:     envStr("SHARED_KEY", ""),
		CacheRetries:  envInt("CACHE_RETRIES", 2),
		CacheTimeout:  envSeconds("CACHE_TIMEOUT", 2),
		BreakerWindow: envSeconds("BREAKER_RESET_TIMEOUT", 60),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
