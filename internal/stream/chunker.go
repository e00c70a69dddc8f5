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

package stream

import (
	"context"
	"strings"
	"time"

	"leselix/internal/lixerr"
	"leselix/internal/readability"
)

// maxChunkParagraphs caps the adaptive chunk size.
const maxChunkParagraphs = 5

// ChunkEvent is one incremental result of the chunked stream. Readability
// carries metrics over the text accumulated so far; Statistics and
// Recommendations are attached only on detailed and milestone chunks.
type ChunkEvent struct {
	Chunk           int                          `json:"chunk"`
	TotalChunks     int                          `json:"total_chunks"`
	Progress        int                          `json:"progress"`
	Readability     *readability.Record          `json:"readability"`
	TextAnalysis    *readability.Statistics      `json:"text_analysis,omitempty"`
	Recommendations []readability.Recommendation `json:"recommendations,omitempty"`
	IsFinal         bool                         `json:"is_final"`
	Timestamp       float64                      `json:"timestamp"`
}

// Terminal is the closing event of a chunked stream.
type Terminal struct {
	ProcessingCompleted   bool    `json:"processing_completed"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// ChunkSize derives the adaptive chunk size from the paragraph count:
// roughly a tenth of the text, at least one paragraph, at most five.
func ChunkSize(paragraphCount int) int {
	size := paragraphCount / 10
	if size < 1 {
		size = 1
	}
	if size > maxChunkParagraphs {
		size = maxChunkParagraphs
	}
	return size
}

// StreamChunks processes the text paragraph by paragraph and emits one
// event per chunk over the accumulated text, then the terminal event.
// Progress is non-decreasing and the final chunk always reports 100%.
// Every third chunk and the final chunk carry statistics; milestone chunks
// (final, or progress divisible by 50) also carry recommendations. The
// context is checked between chunks so a disconnected client stops the
// work.
func StreamChunks(ctx context.Context, svc *readability.Service, msg Message, emit func(ChunkEvent) error, emitTerminal func(Terminal) error) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return lixerr.Invalidf("no text provided")
	}
	start := time.Now()

	paragraphs := readability.SplitParagraphs(text)
	if len(paragraphs) == 0 {
		paragraphs = []string{text}
	}

	chunkSize := ChunkSize(len(paragraphs))
	totalChunks := (len(paragraphs) + chunkSize - 1) / chunkSize

	var accumulated strings.Builder
	for i := 0; i < len(paragraphs); i += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := i + chunkSize
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		if accumulated.Len() > 0 {
			accumulated.WriteString(" ")
		}
		accumulated.WriteString(strings.Join(paragraphs[i:end], " "))
		total := accumulated.String()

		progress := (i + chunkSize) * 100 / len(paragraphs)
		if progress > 100 {
			progress = 100
		}
		isFinal := end >= len(paragraphs)

		event := ChunkEvent{
			Chunk:       i/chunkSize + 1,
			TotalChunks: totalChunks,
			Progress:    progress,
			Readability: svc.AnalyzeMetricsOnly(total),
			IsFinal:     isFinal,
			Timestamp:   float64(time.Now().UnixNano()) / float64(time.Second),
		}

		detailed := isFinal || event.Chunk%3 == 0
		if detailed {
			full := svc.Analyze(total, readability.Options{
				IncludeSentenceAnalysis: msg.IncludeSentenceAnalysis,
				IncludeWordAnalysis:     msg.IncludeWordAnalysis,
				Simplified:              true,
			})
			stats := full.Statistics
			event.TextAnalysis = &stats

			if isFinal || progress%50 == 0 {
				event.Recommendations = readability.Recommend(readability.RecommendInput{
					LIXScore:            full.LIX.Score,
					RIXScore:            full.RIX.Score,
					AvgSentenceLength:   stats.AvgSentenceLength,
					LongWordsPercentage: stats.LongWordsPercentage,
					UserContext:         msg.UserContext,
				}, true)
			}
		}

		if err := emit(event); err != nil {
			return err
		}
	}

	return emitTerminal(Terminal{
		ProcessingCompleted:   true,
		ProcessingTimeSeconds: float64(time.Since(start).Milliseconds()) / 1000,
	})
}
