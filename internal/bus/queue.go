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

package bus

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"leselix/internal/breaker"
	"leselix/internal/config"
	"leselix/internal/lixerr"
	"leselix/internal/telemetry"
)

const (
	maxQueuePriority = 9

	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 30 * time.Second
)

// Handler consumes one persisted message body. Returning an error requeues
// the message for redelivery.
type Handler func(ctx context.Context, body []byte) error

// QueueError records the most recent queue failure for the metrics snapshot.
type QueueError struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// QueueMetrics is a point-in-time snapshot of adapter counters and state.
type QueueMetrics struct {
	Published int64       `json:"published"`
	Consumed  int64       `json:"consumed"`
	Errors    int64       `json:"errors"`
	LastError *QueueError `json:"last_error,omitempty"`
	Connected bool        `json:"connected"`
	Consuming bool        `json:"consuming"`
}

// Queue is the durable, priority-aware delivery path for critical analysis
// requests. It declares a durable direct exchange and queue bound by the
// configured routing key, publishes with persistent delivery mode, and
// consumes with manual acknowledgment so failed handlers cause redelivery.
//
// The connection is lazy: nothing is dialed until the first publish or
// consume, and a closed channel is reopened on the next operation.
type Queue struct {
	cfg config.Rabbit
	br  *breaker.Breaker
	log zerolog.Logger

	// dial is swappable so tests can run without a broker.
	dial func(url string) (*amqp.Connection, error)

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	handlers  []Handler
	consuming bool
	published int64
	consumed  int64
	errCount  int64
	lastErr   *QueueError

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueue builds a lazy queue adapter. No connection is attempted here so
// the service can start while the broker is down.
func NewQueue(cfg config.Rabbit, br *breaker.Breaker, log zerolog.Logger) *Queue {
	return &Queue{
		cfg:    cfg,
		br:     br,
		log:    log.With().Str("component", "queue").Logger(),
		dial:   amqp.Dial,
		stopCh: make(chan struct{}),
	}
}

// ensureChannel dials and declares the topology if needed. Callers hold no
// locks; the exclusive initialization lock lives here.
func (q *Queue) ensureChannel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}

	if q.conn == nil || q.conn.IsClosed() {
		conn, err := q.dial(q.cfg.URL())
		if err != nil {
			return nil, err
		}
		q.conn = conn
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(q.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(q.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(q.cfg.QueueName, true, false, false, false, amqp.Table{
		"x-max-priority": int64(maxQueuePriority),
	}); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.cfg.QueueName, q.cfg.RoutingKey, q.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	q.ch = ch
	q.log.Info().
		Str("exchange", q.cfg.Exchange).
		Str("queue", q.cfg.QueueName).
		Str("routing_key", q.cfg.RoutingKey).
		Msg("queue topology declared")
	return ch, nil
}

// Publish sends a JSON body to the durable exchange with persistent delivery
// mode. Priority is clamped to [0, 9]. Failures are recorded and returned as
// DependencyUnavailable so callers can fall back to direct processing.
func (q *Queue) Publish(ctx context.Context, body []byte, priority int) error {
	err := q.br.Do(func() error {
		ch, err := q.ensureChannel()
		if err != nil {
			return err
		}
		return ch.PublishWithContext(ctx, q.cfg.Exchange, q.cfg.RoutingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Priority:     uint8(clampQueuePriority(priority)),
			Timestamp:    time.Now(),
			Body:         body,
		})
	})
	if err != nil {
		q.recordError("publish", err)
		return lixerr.Unavailable("persistent queue", err)
	}

	q.mu.Lock()
	q.published++
	q.mu.Unlock()
	telemetry.QueueMessagesTotal.WithLabelValues("published").Inc()
	return nil
}

// RegisterHandler appends a consumer handler. All registered handlers see
// every message in registration order. The list is rebuilt, not mutated, so
// an in-flight dispatch keeps its snapshot.
func (q *Queue) RegisterHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := make([]Handler, 0, len(q.handlers)+1)
	next = append(next, q.handlers...)
	next = append(next, h)
	q.handlers = next
}

// StartConsuming launches the background consume loop. The loop survives
// broker restarts by reconnecting with exponential backoff.
func (q *Queue) StartConsuming() error {
	q.mu.Lock()
	if q.consuming {
		q.mu.Unlock()
		return nil
	}
	q.consuming = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.consumeLoop()
	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	backoff := reconnectBase
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		deliveries, err := q.openConsume()
		if err != nil {
			q.recordError("consume", err)
			select {
			case <-q.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase
		q.log.Info().Str("queue", q.cfg.QueueName).Msg("consuming persisted messages")

		for d := range deliveries {
			if err := q.dispatch(context.Background(), d.Body); err != nil {
				q.recordError("handler", err)
				if nackErr := d.Nack(false, true); nackErr != nil {
					q.log.Error().Err(nackErr).Msg("nack failed")
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				q.log.Error().Err(ackErr).Msg("ack failed")
				continue
			}
			q.mu.Lock()
			q.consumed++
			q.mu.Unlock()
			telemetry.QueueMessagesTotal.WithLabelValues("consumed").Inc()
		}
		// Delivery channel closed: broker or channel went away. Loop and
		// reconnect unless we are shutting down.
	}
}

func (q *Queue) openConsume() (<-chan amqp.Delivery, error) {
	ch, err := q.ensureChannel()
	if err != nil {
		return nil, err
	}
	return ch.Consume(q.cfg.QueueName, "", false, false, false, false, nil)
}

// dispatch runs the registered handlers in order. The first handler error
// stops the chain; the message is then requeued and every handler sees it
// again on redelivery.
func (q *Queue) dispatch(ctx context.Context, body []byte) error {
	q.mu.Lock()
	handlers := q.handlers
	q.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

// Healthy reports whether a live broker connection is currently held. A
// lazy adapter that has never connected reports false, which the health
// endpoint maps to "unknown" rather than "down".
func (q *Queue) Healthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.conn != nil && !q.conn.IsClosed()
}

// Connected reports whether a connection attempt has ever been made.
func (q *Queue) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.conn != nil
}

// Metrics returns a snapshot of the adapter counters.
func (q *Queue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := QueueMetrics{
		Published: q.published,
		Consumed:  q.consumed,
		Errors:    q.errCount,
		Connected: q.conn != nil && !q.conn.IsClosed(),
		Consuming: q.consuming,
	}
	if q.lastErr != nil {
		e := *q.lastErr
		m.LastError = &e
	}
	return m
}

// Close stops the consume loop and tears down the connection.
func (q *Queue) Close() error {
	q.mu.Lock()
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
	conn := q.conn
	q.conn = nil
	q.ch = nil
	q.consuming = false
	q.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	q.wg.Wait()
	return nil
}

func (q *Queue) recordError(kind string, err error) {
	q.mu.Lock()
	q.errCount++
	q.lastErr = &QueueError{Timestamp: time.Now(), Type: kind, Message: err.Error()}
	q.mu.Unlock()
	telemetry.QueueMessagesTotal.WithLabelValues("errors").Inc()
	q.log.Error().Err(err).Str("kind", kind).Msg("queue operation failed")
}

func clampQueuePriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > maxQueuePriority {
		return maxQueuePriority
	}
	return p
}
