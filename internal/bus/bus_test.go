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
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"leselix/internal/breaker"
	"leselix/internal/config"
	"leselix/internal/lixerr"
	"leselix/internal/readability"
)

type fakeTransport struct {
	in      chan Incoming
	out     chan Incoming
	pubErr  error
	pingErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:  make(chan Incoming, 16),
		out: make(chan Incoming, 64),
	}
}

func (t *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if t.pubErr != nil {
		return t.pubErr
	}
	t.out <- Incoming{Channel: channel, Payload: payload}
	return nil
}

func (t *fakeTransport) Subscribe(ctx context.Context, channels ...string) (<-chan Incoming, func() error, error) {
	return t.in, func() error { close(t.in); return nil }, nil
}

func (t *fakeTransport) Ping(ctx context.Context) error { return t.pingErr }

type fakePersister struct {
	mu        sync.Mutex
	published [][]byte
	priority  []int
	pubErr    error
	handlers  []Handler
}

func (p *fakePersister) Publish(ctx context.Context, body []byte, priority int) error {
	if p.pubErr != nil {
		return p.pubErr
	}
	p.mu.Lock()
	p.published = append(p.published, body)
	p.priority = append(p.priority, priority)
	p.mu.Unlock()
	return nil
}

func (p *fakePersister) RegisterHandler(h Handler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

func (p *fakePersister) StartConsuming() error { return nil }

func newTestRouter(t *testing.T, tr Transport, q Persister) *Router {
	t.Helper()
	svc := readability.NewService(zerolog.Nop())
	br := breaker.New("bus", 5, time.Minute, 0.5, zerolog.Nop())
	return NewRouter(tr, svc, q, br, zerolog.Nop())
}

func next(t *testing.T, out <-chan Incoming) Incoming {
	t.Helper()
	select {
	case m := <-out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for published message")
		return Incoming{}
	}
}

func decode(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("decode published payload: %v", err)
	}
	return m
}

func TestParseEnvelopeTopLevel(t *testing.T) {
	payload := []byte(`{"clientId":"c1","requestId":"r1","text":"Dette er en test.","include_word_analysis":true}`)
	req, err := ParseEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if req.ClientID != "c1" || req.RequestID != "r1" {
		t.Fatalf("ids not preserved: %+v", req)
	}
	if req.Text != "Dette er en test." {
		t.Fatalf("text = %q", req.Text)
	}
	if !req.Options.IncludeWordAnalysis {
		t.Fatalf("include_word_analysis not applied")
	}
	if !req.Options.IncludeSentenceAnalysis {
		t.Fatalf("sentence analysis default should stay on")
	}
	if req.Critical {
		t.Fatalf("critical should default false")
	}
}

func TestParseEnvelopeContentFormat(t *testing.T) {
	payload := []byte(`{"clientId":"c2","requestId":"r2","content":{"text":"Hei.","include_sentence_analysis":false,"is_critical":true,"priority":8}}`)
	req, err := ParseEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if req.Text != "Hei." {
		t.Fatalf("text = %q", req.Text)
	}
	if req.Options.IncludeSentenceAnalysis {
		t.Fatalf("include_sentence_analysis=false not applied")
	}
	if !req.Critical {
		t.Fatalf("is_critical in content not applied")
	}
	if req.Priority != 8 {
		t.Fatalf("priority = %d, want 8", req.Priority)
	}
}

func TestParseEnvelopeMissingText(t *testing.T) {
	for _, payload := range []string{
		`{"clientId":"c"}`,
		`{"clientId":"c","text":""}`,
		`{"clientId":"c","content":{}}`,
	} {
		if _, err := ParseEnvelope([]byte(payload)); !errors.Is(err, lixerr.ErrInvalidInput) {
			t.Fatalf("payload %s: err = %v, want ErrInvalidInput", payload, err)
		}
	}
}

func TestParseEnvelopeGeneratesRequestID(t *testing.T) {
	req, err := ParseEnvelope([]byte(`{"clientId":"c","text":"Hei."}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if req.RequestID == "" {
		t.Fatalf("requestId should be generated when absent")
	}
}

func TestRouterRepliesOnDomainChannel(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRouter(t, tr, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())

	online := next(t, tr.out)
	if online.Channel != ChannelControl {
		t.Fatalf("first publish on %s, want control", online.Channel)
	}
	if m := decode(t, online.Payload); m["status"] != "online" {
		t.Fatalf("status = %v, want online", m["status"])
	}

	tr.in <- Incoming{Channel: ChannelLIX, Payload: []byte(`{"clientId":"c1","requestId":"r1","text":"Dette er en kort og grei tekst."}`)}

	rep := next(t, tr.out)
	if rep.Channel != ChannelLIX {
		t.Fatalf("reply channel = %s", rep.Channel)
	}
	m := decode(t, rep.Payload)
	if m["clientId"] != "c1" || m["requestId"] != "r1" {
		t.Fatalf("correlation ids not echoed: %v", m)
	}
	content, ok := m["content"].(map[string]any)
	if !ok {
		t.Fatalf("reply missing content: %v", m)
	}
	if _, ok := content["lix"]; !ok {
		t.Fatalf("content missing lix block: %v", content)
	}

	// The scores fan-out for downstream services follows the reply.
	fan := next(t, tr.out)
	fm := decode(t, fan.Payload)
	if _, ok := fm["metrics"]; !ok {
		t.Fatalf("expected metrics fan-out, got %v", fm)
	}

	got := r.Metrics()
	if got.TotalRequests != 1 || got.SuccessfulRequests != 1 {
		t.Fatalf("metrics = %+v", got)
	}
}

func TestRouterCriticalPersistsThenAcks(t *testing.T) {
	tr := newFakeTransport()
	q := &fakePersister{}
	r := newTestRouter(t, tr, q)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())
	next(t, tr.out) // online status

	tr.in <- Incoming{Channel: ChannelLIX, Payload: []byte(`{"clientId":"c1","requestId":"r1","text":"Viktig tekst.","is_critical":true,"priority":8}`)}

	ack := next(t, tr.out)
	m := decode(t, ack.Payload)
	if m["status"] != "persisted" {
		t.Fatalf("expected persisted ack, got %v", m)
	}
	if m["clientId"] != "c1" || m["requestId"] != "r1" {
		t.Fatalf("ack correlation ids: %v", m)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.published) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(q.published))
	}
	if q.priority[0] != 8 {
		t.Fatalf("persisted priority = %d, want 8", q.priority[0])
	}
	persisted := decode(t, q.published[0])
	if persisted["text"] != "Viktig tekst." {
		t.Fatalf("persisted body: %v", persisted)
	}
}

func TestRouterCriticalFailsWhenQueueDown(t *testing.T) {
	tr := newFakeTransport()
	q := &fakePersister{pubErr: errors.New("broker down")}
	r := newTestRouter(t, tr, q)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())
	next(t, tr.out) // online status

	tr.in <- Incoming{Channel: ChannelLIX, Payload: []byte(`{"clientId":"c1","requestId":"r1","text":"Viktig.","is_critical":true}`)}

	rep := next(t, tr.out)
	m := decode(t, rep.Payload)
	content, ok := m["content"].(map[string]any)
	if !ok {
		t.Fatalf("expected error reply, got %v", m)
	}
	if content["error"] == nil || content["success"] != false {
		t.Fatalf("error reply shape: %v", content)
	}
	if r.Metrics().FailedRequests != 1 {
		t.Fatalf("failed count = %d, want 1", r.Metrics().FailedRequests)
	}
}

func TestRouterHeartbeatPong(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRouter(t, tr, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())
	next(t, tr.out) // online status

	tr.in <- Incoming{Channel: ChannelHeartbeat, Payload: []byte(`{"action":"ping"}`)}

	pong := next(t, tr.out)
	if pong.Channel != ChannelHeartbeat {
		t.Fatalf("pong channel = %s", pong.Channel)
	}
	m := decode(t, pong.Payload)
	if m["action"] != "pong" || m["service"] != "lix" {
		t.Fatalf("pong shape: %v", m)
	}
	if _, ok := m["metrics"]; !ok {
		t.Fatalf("pong missing metrics: %v", m)
	}
}

func TestRouterIgnoresOwnReplies(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRouter(t, tr, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(context.Background())
	next(t, tr.out) // online status

	// A result reply, a persisted ack, and a metrics fan-out must all be
	// dropped without producing error replies.
	for _, echoed := range []string{
		`{"clientId":"c1","requestId":"r1","content":{"lix":{"score":12}},"timestamp":"x"}`,
		`{"clientId":"c1","requestId":"r1","status":"persisted","timestamp":"x"}`,
		`{"text":"abc","metrics":{"lix":{}},"timestamp":"x"}`,
	} {
		tr.in <- Incoming{Channel: ChannelLIX, Payload: []byte(echoed)}
	}
	tr.in <- Incoming{Channel: ChannelHeartbeat, Payload: []byte(`{"action":"ping"}`)}

	// The next published message must be the pong, proving the echoed
	// replies produced no output.
	m := decode(t, next(t, tr.out).Payload)
	if m["action"] != "pong" {
		t.Fatalf("expected pong, got %v", m)
	}
}

func TestRouterStatusOnStartStop(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRouter(t, tr, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	online := decode(t, next(t, tr.out).Payload)
	if online["status"] != "online" || online["service"] != "lix" {
		t.Fatalf("online status: %v", online)
	}
	caps, ok := online["capabilities"].([]any)
	if !ok || len(caps) == 0 {
		t.Fatalf("status missing capabilities: %v", online)
	}

	r.Stop(context.Background())
	offline := decode(t, next(t, tr.out).Payload)
	if offline["status"] != "offline" {
		t.Fatalf("offline status: %v", offline)
	}
}

func testRabbitConfig() config.Rabbit {
	return config.Rabbit{
		Host:          "localhost",
		Port:          5672,
		User:          "guest",
		Password:      "guest",
		VHost:         "/",
		QueueName:     "lix_persistent_queue",
		Exchange:      "readability.persistent",
		RoutingKey:    "lix.critical",
		PrefetchCount: 10,
	}
}

func TestQueuePublishUnreachable(t *testing.T) {
	br := breaker.New("queue", 5, time.Minute, 0.5, zerolog.Nop())
	q := NewQueue(testRabbitConfig(), br, zerolog.Nop())
	q.dial = func(url string) (*amqp.Connection, error) { return nil, errors.New("dial refused") }

	err := q.Publish(context.Background(), []byte(`{}`), 5)
	if !errors.Is(err, lixerr.ErrDependencyUnavailable) {
		t.Fatalf("err = %v, want ErrDependencyUnavailable", err)
	}

	m := q.Metrics()
	if m.Errors != 1 {
		t.Fatalf("errors = %d, want 1", m.Errors)
	}
	if m.LastError == nil || m.LastError.Type != "publish" {
		t.Fatalf("last error = %+v", m.LastError)
	}
	if m.Connected {
		t.Fatalf("should not report connected after dial failure")
	}
}

func TestQueueDispatchOrder(t *testing.T) {
	br := breaker.New("queue", 5, time.Minute, 0.5, zerolog.Nop())
	q := NewQueue(testRabbitConfig(), br, zerolog.Nop())

	var order []int
	boom := errors.New("boom")
	q.RegisterHandler(func(ctx context.Context, body []byte) error {
		order = append(order, 1)
		return nil
	})
	q.RegisterHandler(func(ctx context.Context, body []byte) error {
		order = append(order, 2)
		return boom
	})
	q.RegisterHandler(func(ctx context.Context, body []byte) error {
		order = append(order, 3)
		return nil
	})

	err := q.dispatch(context.Background(), []byte(`{}`))
	if !errors.Is(err, boom) {
		t.Fatalf("dispatch err = %v, want boom", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("handler order = %v, want [1 2]", order)
	}
}

func TestClampQueuePriority(t *testing.T) {
	cases := []struct{ in, want int }{
		{-1, 0}, {0, 0}, {5, 5}, {9, 9}, {12, 9},
	}
	for _, c := range cases {
		if got := clampQueuePriority(c.in); got != c.want {
			t.Fatalf("clampQueuePriority(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
