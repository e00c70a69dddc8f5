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

package readability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects which analysis sections an Analyze call produces.
type Options struct {
	IncludeWordAnalysis     bool              `json:"include_word_analysis"`
	IncludeSentenceAnalysis bool              `json:"include_sentence_analysis"`
	Simplified              bool              `json:"-"`
	UserContext             map[string]string `json:"user_context,omitempty"`
}

// DefaultOptions returns the defaults: sentence analysis on, word analysis
// off.
func DefaultOptions() Options {
	return Options{IncludeSentenceAnalysis: true}
}

// CacheKey derives the shared-cache fingerprint for a (text, options) pair.
// The same content with the same boolean flags always maps to the same key.
func CacheKey(text string, opts Options) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(text)))
	fmt.Fprintf(h, "|w=%t|s=%t", opts.IncludeWordAnalysis, opts.IncludeSentenceAnalysis)
	return hex.EncodeToString(h.Sum(nil))
}

// MetricResult pairs a metric score with its classification band.
type MetricResult struct {
	Score float64 `json:"score"`
	Classification
}

// Statistics is the aggregate block of an analysis record.
type Statistics struct {
	WordCount               int     `json:"word_count"`
	SentenceCount           int     `json:"sentence_count"`
	ParagraphCount          int     `json:"paragraph_count"`
	AvgWordLength           float64 `json:"avg_word_length"`
	AvgSentenceLength       float64 `json:"avg_sentence_length"`
	LongWordsCount          int     `json:"long_words_count"`
	LongWordsPercentage     float64 `json:"long_words_percentage"`
	VeryLongWordsPercentage float64 `json:"very_long_words_percentage"`
	UniqueWordsCount        int     `json:"unique_words_count"`
	UniqueWordsPercentage   float64 `json:"unique_words_percentage"`
	ReadabilityScore        float64 `json:"readability_score"`
}

// Record is the composite analysis output. Records are never mutated after
// creation; the cache and delivery layers treat them as values.
type Record struct {
	LIX                 MetricResult     `json:"lix"`
	RIX                 MetricResult     `json:"rix"`
	Metrics             Scores           `json:"metrics"`
	Interpretation      Interpretation   `json:"interpretation"`
	CombinedDescription string           `json:"combined_description"`
	Statistics          Statistics       `json:"statistics"`
	SentenceAnalysis    []SentenceResult `json:"sentence_analysis,omitempty"`
	WordAnalysis        []WordResult     `json:"word_analysis,omitempty"`
	Recommendations     []Recommendation `json:"recommendations"`
	ProcessingTimeMS    float64          `json:"processing_time_ms"`
	Cached              bool             `json:"cached"`
	Partial             bool             `json:"partial,omitempty"`
}

// Service orchestrates the analysis pipeline: parse, score, classify,
// analyze per unit, recommend.
type Service struct {
	parser *Parser
	log    zerolog.Logger
}

// NewService constructs the service with a fresh parser memoization table.
func NewService(log zerolog.Logger) *Service {
	return &Service{
		parser: NewParser(),
		log:    log.With().Str("component", "readability").Logger(),
	}
}

// Parser exposes the memoizing parser for callers that need raw token
// access, such as the chunked streaming path.
func (s *Service) Parser() *Parser { return s.parser }

// Analyze runs the full pipeline over one text. Analysis of empty or
// whitespace-only text yields zero scores with the unavailable band and a
// single positive feedback stub.
func (s *Service) Analyze(text string, opts Options) *Record {
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		return emptyRecord(start)
	}

	parsed := s.parser.Parse(text)
	stats := GatherStats(parsed, len([]rune(strings.TrimSpace(text))))
	scores := ComputeScores(stats)

	rec := &Record{
		LIX:            MetricResult{Score: scores.LIX, Classification: ClassifyLIX(scores.LIX)},
		RIX:            MetricResult{Score: scores.RIX, Classification: ClassifyRIX(scores.RIX)},
		Metrics:        scores,
		Interpretation: Interpret(scores),
	}
	rec.CombinedDescription = combinedDescription(scores.LIX, scores.RIX, rec.LIX.Category, rec.RIX.Category)
	rec.Statistics = buildStatistics(parsed, stats)

	if opts.IncludeSentenceAnalysis {
		rec.SentenceAnalysis = make([]SentenceResult, 0, len(parsed.Sentences))
		for i, sentence := range parsed.Sentences {
			rec.SentenceAnalysis = append(rec.SentenceAnalysis, AnalyzeSentence(sentence, i))
		}
	}

	if opts.IncludeWordAnalysis {
		rec.WordAnalysis = s.analyzeWords(parsed)
	}

	rec.Recommendations = Recommend(RecommendInput{
		LIXScore:            scores.LIX,
		RIXScore:            scores.RIX,
		AvgSentenceLength:   stats.AvgSentenceLength,
		LongWordsPercentage: rec.Statistics.LongWordsPercentage,
		UserContext:         opts.UserContext,
	}, opts.Simplified)

	rec.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000
	s.log.Debug().
		Int("words", stats.WordCount).
		Float64("lix", scores.LIX).
		Str("category", rec.LIX.Category).
		Msg("analysis complete")
	return rec
}

// AnalyzeMetricsOnly computes the score bundle and statistics without the
// per-unit sections or recommendations. Used for partial replies on the
// typing path and incremental chunk metrics.
func (s *Service) AnalyzeMetricsOnly(text string) *Record {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		rec := emptyRecord(start)
		rec.Partial = true
		return rec
	}
	parsed := s.parser.Parse(text)
	stats := GatherStats(parsed, len([]rune(strings.TrimSpace(text))))
	scores := ComputeScores(stats)
	rec := &Record{
		LIX:             MetricResult{Score: scores.LIX, Classification: ClassifyLIX(scores.LIX)},
		RIX:             MetricResult{Score: scores.RIX, Classification: ClassifyRIX(scores.RIX)},
		Metrics:         scores,
		Interpretation:  Interpret(scores),
		Statistics:      buildStatistics(parsed, stats),
		Recommendations: []Recommendation{},
		Partial:         true,
	}
	rec.CombinedDescription = combinedDescription(scores.LIX, scores.RIX, rec.LIX.Category, rec.RIX.Category)
	rec.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000
	return rec
}

// analyzeWords walks the sentences so each word record carries its sentence
// index and position. Output is capped for wire size.
func (s *Service) analyzeWords(parsed *ParsedText) []WordResult {
	analyzer := NewWordAnalyzer(parsed.Words)
	results := make([]WordResult, 0, min(parsed.WordCount(), WordAnalysisCap))
	global := 0
	for si, sentence := range parsed.Sentences {
		words := SplitWords(sentence)
		for pi, w := range words {
			if len(results) >= WordAnalysisCap {
				return results
			}
			results = append(results, analyzer.Analyze(w, global, si, pi, len(words)))
			global++
		}
	}
	return results
}

func buildStatistics(parsed *ParsedText, stats Stats) Statistics {
	st := Statistics{
		WordCount:         stats.WordCount,
		SentenceCount:     stats.SentenceCount,
		ParagraphCount:    len(parsed.Paragraphs),
		AvgWordLength:     round2(stats.AvgWordLength),
		AvgSentenceLength: round2(stats.AvgSentenceLength),
		LongWordsCount:    parsed.LongWords,
	}
	if stats.WordCount > 0 {
		st.LongWordsPercentage = round2(float64(parsed.LongWords) / float64(stats.WordCount) * 100)
		st.VeryLongWordsPercentage = round2(float64(parsed.VeryLongWords) / float64(stats.WordCount) * 100)
		unique := NewWordAnalyzer(parsed.Words).UniqueCount()
		st.UniqueWordsCount = unique
		st.UniqueWordsPercentage = round2(float64(unique) / float64(stats.WordCount) * 100)
	}
	st.ReadabilityScore = ComputeScores(stats).LIX
	return st
}

func emptyRecord(start time.Time) *Record {
	unavailable := Classification{
		Category:    CategoryUnavailable,
		Description: "Teksten er tom eller inneholder ikke setninger.",
	}
	return &Record{
		LIX:                 MetricResult{Classification: unavailable},
		RIX:                 MetricResult{Classification: unavailable},
		CombinedDescription: "Teksten er for kort for analyse.",
		Recommendations: []Recommendation{{
			Type:       "positive_feedback",
			Title:      "Ingen tekst",
			Suggestion: "Skriv inn tekst for å få en lesbarhetsanalyse.",
			Impact:     "low",
			Examples:   []string{},
		}},
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}
}

// combinedDescription compares the LIX and RIX bands and renders one prose
// summary: identical bands use canned text per band, a one-level gap reads
// as balanced, and a wider gap picks one of three contrasts keyed on which
// score dominates.
func combinedDescription(lixScore, rixScore float64, lixCategory, rixCategory string) string {
	if lixCategory == rixCategory {
		switch lixCategory {
		case CategoryVeryEasy:
			return "Teksten er konsistent svært lettlest og tilgjengelig for alle lesere."
		case CategoryEasy:
			return "Teksten er konsistent lettlest med god balanse mellom korte og lange ord."
		case CategoryMedium:
			return "Teksten har middels vanskelighetsgrad, med en del lange ord og setninger."
		case CategoryDifficult:
			return "Teksten er konsistent krevende med mange lange ord og komplekse setninger."
		default:
			return "Teksten er konsistent svært krevende med høy andel lange ord og komplekse setninger."
		}
	}

	lixLevel := CategoryIndex(lixCategory)
	rixLevel := CategoryIndex(rixCategory)
	if lixLevel < 0 || rixLevel < 0 {
		return fmt.Sprintf("Teksten har varierende lesbarhet: LIX-nivå %s, RIX-nivå %s.", lixCategory, rixCategory)
	}

	diff := lixLevel - rixLevel
	if diff < 0 {
		diff = -diff
	}
	if diff <= 1 {
		return fmt.Sprintf("Teksten er i hovedsak %s til %s, med en balansert vanskelighetsgrad.", lixCategory, rixCategory)
	}
	switch {
	case lixScore > 40 && rixScore < 2.5:
		return "Teksten har mange korte setninger, men med en del lange ord. Setningsoppbyggingen er enkel, men ordvalget kan gjøre teksten utfordrende."
	case lixScore < 30 && rixScore > 3.5:
		return "Teksten har relativt korte ord, men setningene er lange. Vurder å dele opp setninger for bedre lesbarhet."
	default:
		return fmt.Sprintf("Teksten har blandede resultater: LIX-analysen viser %s, mens RIX-analysen viser %s.", lixCategory, rixCategory)
	}
}
