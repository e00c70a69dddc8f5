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

// Package bus carries analysis requests and replies over two transports: a
// Redis pub/sub fan-out for regular traffic and a durable AMQP queue for
// critical requests that must survive a crash. The router normalizes the
// two accepted envelope shapes, answers heartbeats, and announces service
// status on the control channel.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leselix/internal/breaker"
	"leselix/internal/config"
	"leselix/internal/lixerr"
	"leselix/internal/readability"
	"leselix/internal/telemetry"
)

// Fixed channel set shared by every service on the bus.
const (
	ChannelSpellcheck = "readability:spellcheck"
	ChannelGrammar    = "readability:grammar"
	ChannelLIX        = "readability:lix"
	ChannelNLP        = "readability:nlp"
	ChannelControl    = "readability:control"
	ChannelHeartbeat  = "readability:heartbeat"
)

const (
	serviceName     = "lix"
	defaultPriority = 5
	timesKept       = 100
)

// Incoming is one message received from a subscribed channel.
type Incoming struct {
	Channel string
	Payload []byte
}

// Transport abstracts the pub/sub wire so the router can be driven by an
// in-memory fake in tests.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Incoming, func() error, error)
	Ping(ctx context.Context) error
}

// Persister is the durable path for critical requests. *Queue satisfies it.
type Persister interface {
	Publish(ctx context.Context, body []byte, priority int) error
	RegisterHandler(h Handler)
	StartConsuming() error
}

// RedisTransport implements Transport on a go-redis client.
type RedisTransport struct{ c *redis.Client }

// NewRedisTransport dials nothing; go-redis connects lazily on first use.
func NewRedisTransport(cfg config.Redis) *RedisTransport {
	return &RedisTransport{c: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.c.Publish(ctx, channel, payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channels ...string) (<-chan Incoming, func() error, error) {
	ps := t.c.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, err
	}
	src := ps.Channel()
	out := make(chan Incoming)
	go func() {
		defer close(out)
		for m := range src {
			out <- Incoming{Channel: m.Channel, Payload: []byte(m.Payload)}
		}
	}()
	return out, ps.Close, nil
}

func (t *RedisTransport) Ping(ctx context.Context) error { return t.c.Ping(ctx).Err() }

// Close releases the underlying client.
func (t *RedisTransport) Close() error { return t.c.Close() }

// Request is a normalized analysis request taken off the bus.
type Request struct {
	ClientID  string
	RequestID string
	Text      string
	Options   readability.Options
	Critical  bool
	Priority  int
}

// envelope accepts both wire shapes: text and option flags at the top level,
// or an old-style nested content object carrying text plus options.
type envelope struct {
	ClientID                string          `json:"clientId"`
	RequestID               string          `json:"requestId"`
	Text                    *string         `json:"text"`
	Content                 json.RawMessage `json:"content"`
	IncludeWordAnalysis     *bool           `json:"include_word_analysis"`
	IncludeSentenceAnalysis *bool           `json:"include_sentence_analysis"`
	IsCritical              bool            `json:"is_critical"`
	Priority                *int            `json:"priority"`
	Status                  string          `json:"status"`
	Metrics                 json.RawMessage `json:"metrics"`
}

type contentBody struct {
	Text                    *string        `json:"text"`
	IncludeWordAnalysis     *bool          `json:"include_word_analysis"`
	IncludeSentenceAnalysis *bool          `json:"include_sentence_analysis"`
	UserContext             map[string]any `json:"user_context"`
	IsCritical              bool           `json:"is_critical"`
	Priority                *int           `json:"priority"`
	Error                   *string        `json:"error"`
}

// ParseEnvelope normalizes a raw bus payload into a Request. A missing
// requestId is replaced with a fresh one so replies always correlate.
func ParseEnvelope(payload []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Request{}, lixerr.Invalidf("malformed envelope: %v", err)
	}

	req := Request{
		ClientID:  env.ClientID,
		RequestID: env.RequestID,
		Options:   readability.DefaultOptions(),
		Critical:  env.IsCritical,
		Priority:  defaultPriority,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if env.Priority != nil {
		req.Priority = *env.Priority
	}

	switch {
	case env.Text != nil && *env.Text != "":
		req.Text = *env.Text
		if env.IncludeWordAnalysis != nil {
			req.Options.IncludeWordAnalysis = *env.IncludeWordAnalysis
		}
		if env.IncludeSentenceAnalysis != nil {
			req.Options.IncludeSentenceAnalysis = *env.IncludeSentenceAnalysis
		}
	case len(env.Content) > 0:
		var body contentBody
		if err := json.Unmarshal(env.Content, &body); err != nil {
			return Request{}, lixerr.Invalidf("malformed content object: %v", err)
		}
		if body.Text == nil || *body.Text == "" {
			return Request{}, lixerr.Invalidf("missing or empty text field")
		}
		req.Text = *body.Text
		if body.IncludeWordAnalysis != nil {
			req.Options.IncludeWordAnalysis = *body.IncludeWordAnalysis
		}
		if body.IncludeSentenceAnalysis != nil {
			req.Options.IncludeSentenceAnalysis = *body.IncludeSentenceAnalysis
		}
		if body.UserContext != nil {
			req.Options.UserContext = map[string]string{}
			for k, v := range body.UserContext {
				if s, ok := v.(string); ok {
					req.Options.UserContext[k] = s
				}
			}
		}
		if body.IsCritical {
			req.Critical = true
		}
		if body.Priority != nil {
			req.Priority = *body.Priority
		}
	default:
		return Request{}, lixerr.Invalidf("missing or empty text field")
	}

	return req, nil
}

// isReply reports whether a payload on the domain channel is one of our own
// outbound messages (a result, a persisted ack, or a metrics fan-out). The
// bus delivers published messages back to every subscriber, ourselves
// included, and answering our own replies with errors would loop forever.
func isReply(env envelope) bool {
	if env.Status != "" || len(env.Metrics) > 0 {
		return true
	}
	if len(env.Content) > 0 {
		var body contentBody
		if json.Unmarshal(env.Content, &body) == nil && body.Text == nil {
			return true
		}
	}
	return false
}

// RouterMetrics is the counters block attached to heartbeat pongs.
type RouterMetrics struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	AvgProcessingTime  float64 `json:"avg_processing_time"`
	MetricsPublished   int64   `json:"metrics_published"`
}

// Router subscribes to the domain and heartbeat channels, dispatches
// inbound requests to the readability service, and publishes replies. A
// request flagged is_critical is handed to the Persister first and only
// acknowledged; its result is produced later by the persisted-message
// handler.
type Router struct {
	tr    Transport
	svc   *readability.Service
	queue Persister // nil when the durable path is disabled
	br    *breaker.Breaker
	log   zerolog.Logger

	mu       sync.Mutex
	handlers map[string]func(context.Context, []byte)
	times    []float64
	metrics  RouterMetrics
	unsub    func() error
	running  bool

	wg sync.WaitGroup
}

// NewRouter wires the router. queue may be nil; critical requests then fail
// with a surfaced error instead of being silently downgraded.
func NewRouter(tr Transport, svc *readability.Service, queue Persister, br *breaker.Breaker, log zerolog.Logger) *Router {
	r := &Router{
		tr:    tr,
		svc:   svc,
		queue: queue,
		br:    br,
		log:   log.With().Str("component", "bus").Logger(),
	}
	r.handlers = map[string]func(context.Context, []byte){
		ChannelLIX:       r.handleAnalyze,
		ChannelHeartbeat: r.handleHeartbeat,
	}
	return r
}

// Start announces the service online, subscribes to the domain and
// heartbeat channels, and begins consuming the durable queue.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	channels := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	r.publishStatus(ctx, "online")

	in, unsub, err := r.tr.Subscribe(ctx, channels...)
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return lixerr.Unavailable("pubsub", err)
	}
	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()

	if r.queue != nil {
		r.queue.RegisterHandler(r.handlePersisted)
		if err := r.queue.StartConsuming(); err != nil {
			r.log.Error().Err(err).Msg("durable queue consume unavailable, critical replay degraded")
		}
	}

	r.wg.Add(1)
	go r.loop(in)
	r.log.Info().Strs("channels", channels).Msg("bus router started")
	return nil
}

func (r *Router) loop(in <-chan Incoming) {
	defer r.wg.Done()
	for msg := range in {
		telemetry.BusMessagesTotal.WithLabelValues(msg.Channel, "in").Inc()
		r.mu.Lock()
		h := r.handlers[msg.Channel]
		r.mu.Unlock()
		if h == nil {
			continue
		}
		h(context.Background(), msg.Payload)
	}
}

// Stop announces the service offline, unsubscribes, and drains the loop.
func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()

	r.publishStatus(ctx, "offline")
	if unsub != nil {
		if err := unsub(); err != nil {
			r.log.Error().Err(err).Msg("unsubscribe failed")
		}
	}
	r.wg.Wait()
	r.log.Info().Msg("bus router stopped")
}

// Healthy reports transport reachability for the health endpoint.
func (r *Router) Healthy(ctx context.Context) bool {
	return r.tr.Ping(ctx) == nil
}

// Running reports whether the router is subscribed and dispatching.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// PublishScores exposes the metrics fan-out to the HTTP layer so synchronous
// analyses reach downstream services the same way bus-originated ones do.
func (r *Router) PublishScores(ctx context.Context, text string, rec *readability.Record) {
	r.publishMetrics(ctx, text, rec)
}

// Metrics returns the heartbeat counters snapshot.
func (r *Router) Metrics() RouterMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

func (r *Router) handleAnalyze(ctx context.Context, payload []byte) {
	start := time.Now()

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Error().Err(err).Msg("malformed bus payload")
		return
	}
	if isReply(env) {
		return
	}

	req, err := ParseEnvelope(payload)
	if err != nil {
		r.fail(ctx, env.ClientID, env.RequestID, err)
		return
	}

	r.mu.Lock()
	r.metrics.TotalRequests++
	r.mu.Unlock()

	log := r.log.With().Str("client_id", req.ClientID).Str("request_id", req.RequestID).Logger()

	if req.Critical {
		if r.queue == nil {
			r.fail(ctx, req.ClientID, req.RequestID, lixerr.Unavailable("persistent queue", lixerr.ErrDependencyUnavailable))
			return
		}
		body, _ := json.Marshal(map[string]any{
			"clientId":  req.ClientID,
			"requestId": req.RequestID,
			"text":      req.Text,
			"options": map[string]any{
				"include_word_analysis":     req.Options.IncludeWordAnalysis,
				"include_sentence_analysis": req.Options.IncludeSentenceAnalysis,
			},
		})
		if err := r.queue.Publish(ctx, body, req.Priority); err != nil {
			// A critical request that cannot be persisted is a failure, not
			// a silent downgrade to best-effort processing.
			log.Error().Err(err).Msg("critical request could not be persisted")
			r.fail(ctx, req.ClientID, req.RequestID, err)
			return
		}
		r.publish(ctx, ChannelLIX, reply{
			ClientID:  req.ClientID,
			RequestID: req.RequestID,
			Status:    "persisted",
			Message:   "Request persisted for guaranteed processing",
			Timestamp: isoNow(),
		})
		log.Info().Msg("critical request persisted")
		return
	}

	rec := r.svc.Analyze(req.Text, req.Options)
	r.publish(ctx, ChannelLIX, reply{
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Content:   rec,
		Timestamp: isoNow(),
	})
	r.observeSuccess(time.Since(start).Seconds())
	r.publishMetrics(ctx, req.Text, rec)
}

// handlePersisted replays a critical request delivered from the durable
// queue. Returning an error requeues the message.
func (r *Router) handlePersisted(ctx context.Context, body []byte) error {
	req, err := ParseEnvelope(body)
	if err != nil {
		// A malformed persisted message would redeliver forever; drop it
		// with a log line instead.
		r.log.Error().Err(err).Msg("dropping malformed persisted message")
		return nil
	}

	start := time.Now()
	rec := r.svc.Analyze(req.Text, req.Options)
	out := reply{
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		Content:   rec,
		Persisted: true,
		Timestamp: isoNow(),
	}
	if err := r.publishErr(ctx, ChannelLIX, out); err != nil {
		return err
	}
	r.observeSuccess(time.Since(start).Seconds())
	r.publishMetrics(ctx, req.Text, rec)
	return nil
}

func (r *Router) handleHeartbeat(ctx context.Context, payload []byte) {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Action != "ping" {
		return
	}
	r.publish(ctx, ChannelHeartbeat, map[string]any{
		"action":    "pong",
		"service":   serviceName,
		"status":    "healthy",
		"metrics":   r.Metrics(),
		"timestamp": isoNow(),
	})
}

// publishMetrics fans the scores out on the domain channel so downstream
// services can reuse them without re-analyzing the same text.
func (r *Router) publishMetrics(ctx context.Context, text string, rec *readability.Record) {
	msg := map[string]any{
		"text": text,
		"metrics": map[string]any{
			"lix":             rec.LIX,
			"text_statistics": rec.Statistics,
		},
		"timestamp": isoNow(),
	}
	if err := r.publishErr(ctx, ChannelLIX, msg); err != nil {
		return
	}
	r.mu.Lock()
	r.metrics.MetricsPublished++
	r.mu.Unlock()
}

func (r *Router) publishStatus(ctx context.Context, status string) {
	r.publish(ctx, ChannelControl, map[string]any{
		"action":       "status",
		"service":      serviceName,
		"status":       status,
		"capabilities": []string{"readability_score", "sentence_analysis", "text_complexity"},
		"timestamp":    isoNow(),
	})
}

// fail sends an error reply when the client is known; anonymous failures
// are only logged.
func (r *Router) fail(ctx context.Context, clientID, requestID string, cause error) {
	r.mu.Lock()
	r.metrics.FailedRequests++
	r.mu.Unlock()

	if clientID == "" {
		r.log.Error().Err(cause).Msg("bus request failed without client id")
		return
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	r.publish(ctx, ChannelLIX, reply{
		ClientID:  clientID,
		RequestID: requestID,
		Content: map[string]any{
			"error":   cause.Error(),
			"kind":    lixerr.Kind(cause),
			"success": false,
		},
		Timestamp: isoNow(),
	})
}

func (r *Router) publish(ctx context.Context, channel string, v any) {
	if err := r.publishErr(ctx, channel, v); err != nil {
		r.log.Error().Err(err).Str("channel", channel).Msg("bus publish failed")
	}
}

func (r *Router) publishErr(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = r.br.Do(func() error { return r.tr.Publish(ctx, channel, payload) })
	if err != nil {
		return lixerr.Unavailable("pubsub", err)
	}
	telemetry.BusMessagesTotal.WithLabelValues(channel, "out").Inc()
	return nil
}

func (r *Router) observeSuccess(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.SuccessfulRequests++
	r.times = append(r.times, seconds)
	if len(r.times) > timesKept {
		r.times = r.times[len(r.times)-timesKept:]
	}
	var sum float64
	for _, t := range r.times {
		sum += t
	}
	r.metrics.AvgProcessingTime = sum / float64(len(r.times))
}

type reply struct {
	ClientID  string `json:"clientId"`
	RequestID string `json:"requestId"`
	Content   any    `json:"content,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Persisted bool   `json:"persisted,omitempty"`
	Timestamp string `json:"timestamp"`
}

func isoNow() string { return time.Now().Format(time.RFC3339Nano) }
