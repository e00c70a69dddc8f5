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

// Package jobs runs deferred analysis work: background tasks for texts too
// large to analyze synchronously, and priority-ordered batch jobs. Job and
// task state lives in the cache store under its own namespaces so any
// instance can answer polls.
package jobs

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"leselix/internal/cache"
	"leselix/internal/lixerr"
	"leselix/internal/readability"
)

// Job and task statuses. Transitions are strictly forward:
// queued -> processing -> completed | failed.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	// MaxBatchSize bounds one batch submission.
	MaxBatchSize = 100

	// progressEvery controls how often batch progress is flushed to the
	// status record.
	progressEvery = 5

	taskTTL  = time.Hour
	batchTTL = 24 * time.Hour
)

// BatchItem is one entry of a batch submission.
type BatchItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// TaskTicket is the immediate reply for a backgrounded analysis.
type TaskTicket struct {
	TaskID                     string `json:"task_id"`
	Status                     string `json:"status"`
	Message                    string `json:"message"`
	PollingEndpoint            string `json:"polling_endpoint"`
	EstimatedCompletionSeconds int    `json:"estimated_completion_seconds"`
}

// TaskState is the pollable record of one background task.
type TaskState struct {
	TaskID      string              `json:"task_id"`
	Status      string              `json:"status"`
	CreatedAt   float64             `json:"created_at"`
	CompletedAt float64             `json:"completed_at,omitempty"`
	Error       string              `json:"error,omitempty"`
	Result      *readability.Record `json:"result,omitempty"`
}

// BatchTicket is the immediate reply for a batch submission.
type BatchTicket struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	TextsCount    int     `json:"texts_count"`
	EstimatedTime float64 `json:"estimated_time"`
}

// BatchState is the pollable record of one batch job. Results live under a
// separate cache key and are folded in only once the job completes.
type BatchState struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	Priority       int     `json:"priority"`
	CreatedAt      float64 `json:"created_at"`
	StartedAt      float64 `json:"started_at,omitempty"`
	CompletedAt    float64 `json:"completed_at,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`

	Results map[string]json.RawMessage `json:"results,omitempty"`
}

// BatchError is stored in the results map for items that failed.
type BatchError struct {
	Error string `json:"error"`
}

// queuedBatch is one admitted batch awaiting the worker.
type queuedBatch struct {
	jobID    string
	items    []BatchItem
	priority int
	seq      uint64 // FIFO tie-break within a priority
}

// batchHeap orders queued batches by priority descending, then submission
// order.
type batchHeap []*queuedBatch

func (h batchHeap) Len() int { return len(h) }
func (h batchHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h batchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *batchHeap) Push(x interface{}) { *h = append(*h, x.(*queuedBatch)) }
func (h *batchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Manager owns the background task pool and the batch worker.
type Manager struct {
	svc   *readability.Service
	cache *cache.Cache
	log   zerolog.Logger

	mu    sync.Mutex
	queue batchHeap
	seq   uint64

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	// sem bounds concurrent CPU-heavy analyses to the machine's core
	// count.
	sem chan struct{}
}

// NewManager wires the manager; call Start before submitting work.
func NewManager(svc *readability.Service, c *cache.Cache, log zerolog.Logger) *Manager {
	return &Manager{
		svc:    svc,
		cache:  c,
		log:    log.With().Str("component", "jobs").Logger(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		sem:    make(chan struct{}, runtime.GOMAXPROCS(0)),
	}
}

// Start launches the batch worker loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.batchLoop()
	m.log.Info().Int("workers", cap(m.sem)).Msg("job manager started")
}

// Stop signals the worker loops and waits for in-flight work to finish.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Msg("job manager stopped")
}

// TaskID derives the task identity from the content fingerprint and the
// submission time.
func TaskID(text string) string {
	return fmt.Sprintf("task-%s-%d", readability.Fingerprint(text)[:10], time.Now().Unix())
}

// SubmitTask schedules a background analysis of a large text and returns
// the pollable ticket immediately. The finished record is written both
// under the original analysis cache key and into the task status record.
func (m *Manager) SubmitTask(ctx context.Context, text string, opts readability.Options) TaskTicket {
	id := TaskID(text)
	now := unixNow()

	m.writeTask(ctx, &TaskState{TaskID: id, Status: StatusQueued, CreatedAt: now})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sem <- struct{}{}
		defer func() { <-m.sem }()

		bg := context.Background()
		m.writeTask(bg, &TaskState{TaskID: id, Status: StatusProcessing, CreatedAt: now})

		rec := m.svc.Analyze(text, opts)
		key := cache.AnalysisKey(readability.CacheKey(text, opts))
		if payload, err := json.Marshal(rec); err == nil {
			m.cache.Set(bg, key, string(payload), m.cache.TTLFor(len(text)))
		}
		m.writeTask(bg, &TaskState{
			TaskID:      id,
			Status:      StatusCompleted,
			CreatedAt:   now,
			CompletedAt: unixNow(),
			Result:      rec,
		})
		m.log.Info().Str("task_id", id).Int("text_len", len(text)).Msg("background task completed")
	}()

	return TaskTicket{
		TaskID:                     id,
		Status:                     StatusProcessing,
		Message:                    "Text is being processed in the background",
		PollingEndpoint:            "/task/" + id,
		EstimatedCompletionSeconds: estimateTaskSeconds(len(text)),
	}
}

// TaskStatus loads the pollable record for one task.
func (m *Manager) TaskStatus(ctx context.Context, taskID string) (*TaskState, error) {
	raw, ok := m.cache.Get(ctx, cache.TaskStatusPrefix+taskID)
	if !ok {
		return nil, lixerr.NotFoundf("task %s not found or expired", taskID)
	}
	var state TaskState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode task state: %w", err)
	}
	return &state, nil
}

// SubmitBatch validates and admits a batch into the priority queue.
// Batches of 0 or more than MaxBatchSize items are rejected; priority is
// clamped to [1, 10].
func (m *Manager) SubmitBatch(ctx context.Context, items []BatchItem, priority int) (BatchTicket, error) {
	if len(items) == 0 {
		return BatchTicket{}, lixerr.Invalidf("batch cannot be empty")
	}
	if len(items) > MaxBatchSize {
		return BatchTicket{}, lixerr.Invalidf("batch size cannot exceed %d texts", MaxBatchSize)
	}
	priority = clampPriority(priority)

	jobID := uuid.NewString()
	state := &BatchState{
		JobID:     jobID,
		Status:    StatusQueued,
		Total:     len(items),
		Priority:  priority,
		CreatedAt: unixNow(),
	}
	m.writeBatch(ctx, state)

	m.mu.Lock()
	m.seq++
	heap.Push(&m.queue, &queuedBatch{jobID: jobID, items: items, priority: priority, seq: m.seq})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}

	m.log.Info().Str("job_id", jobID).Int("texts", len(items)).Int("priority", priority).Msg("batch queued")
	return BatchTicket{
		JobID:         jobID,
		Status:        StatusQueued,
		TextsCount:    len(items),
		EstimatedTime: estimateBatchSeconds(len(items)),
	}, nil
}

// BatchStatus loads the pollable record for one batch job, folding in the
// per-item results once the job has completed.
func (m *Manager) BatchStatus(ctx context.Context, jobID string) (*BatchState, error) {
	raw, ok := m.cache.Get(ctx, cache.BatchJobPrefix+jobID)
	if !ok {
		return nil, lixerr.NotFoundf("batch job %s not found or expired", jobID)
	}
	var state BatchState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode batch state: %w", err)
	}
	if state.Status == StatusCompleted {
		if res, ok := m.cache.Get(ctx, cache.BatchJobPrefix+jobID+":results"); ok {
			var results map[string]json.RawMessage
			if err := json.Unmarshal([]byte(res), &results); err == nil {
				state.Results = results
			}
		}
	}
	return &state, nil
}

// batchLoop drains the priority queue until Stop.
func (m *Manager) batchLoop() {
	defer m.wg.Done()
	for {
		batch := m.popBatch()
		if batch == nil {
			select {
			case <-m.wake:
				continue
			case <-m.stopCh:
				return
			}
		}
		m.processBatch(batch)
	}
}

func (m *Manager) popBatch() *queuedBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&m.queue).(*queuedBatch)
}

// processBatch runs all items of one batch, flushing progress counters
// every progressEvery completions. Progress counters only ever grow.
func (m *Manager) processBatch(batch *queuedBatch) {
	ctx := context.Background()
	state, err := m.BatchStatus(ctx, batch.jobID)
	if err != nil {
		// Status record lost; rebuild a minimal one so progress is
		// still observable.
		state = &BatchState{
			JobID:     batch.jobID,
			Total:     len(batch.items),
			Priority:  batch.priority,
			CreatedAt: unixNow(),
		}
	}
	state.Status = StatusProcessing
	state.StartedAt = unixNow()
	state.Results = nil
	m.writeBatch(ctx, state)

	results := make(map[string]json.RawMessage, len(batch.items))
	for _, item := range batch.items {
		if item.Content == "" {
			state.Failed++
			results[item.ID] = mustJSON(BatchError{Error: "Empty content"})
			continue
		}
		rec := m.svc.Analyze(item.Content, readability.DefaultOptions())
		results[item.ID] = mustJSON(rec)
		state.Completed++

		if state.Completed%progressEvery == 0 {
			m.writeBatch(ctx, state)
		}
	}

	state.Status = StatusCompleted
	state.CompletedAt = unixNow()
	state.ProcessingTime = state.CompletedAt - state.StartedAt
	m.cache.Set(ctx, cache.BatchJobPrefix+batch.jobID+":results", string(mustJSON(results)), batchTTL)
	state.Results = nil
	m.writeBatch(ctx, state)
	m.log.Info().
		Str("job_id", batch.jobID).
		Int("completed", state.Completed).
		Int("failed", state.Failed).
		Msg("batch completed")
}

func (m *Manager) writeTask(ctx context.Context, state *TaskState) {
	m.cache.Set(ctx, cache.TaskStatusPrefix+state.TaskID, string(mustJSON(state)), taskTTL)
}

func (m *Manager) writeBatch(ctx context.Context, state *BatchState) {
	m.cache.Set(ctx, cache.BatchJobPrefix+state.JobID, string(mustJSON(state)), batchTTL)
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// estimateBatchSeconds models batch duration as setup time plus a per-text
// cost.
func estimateBatchSeconds(textCount int) float64 {
	return 2.0 + 0.5*float64(textCount)
}

// estimateTaskSeconds scales with input size, floored at five seconds.
func estimateTaskSeconds(textLen int) int {
	if est := textLen / 10000; est > 5 {
		return est
	}
	return 5
}

func unixNow() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) }

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All stored types are plain data; marshal cannot fail.
		panic(err)
	}
	return b
}
