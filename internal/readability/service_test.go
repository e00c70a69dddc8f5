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
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestService() *Service {
	return NewService(zerolog.Nop())
}

func TestAnalyzeDeterminism(t *testing.T) {
	svc := newTestService()
	text := "Dette er en vanlig norsk tekst. Den har to setninger med noen lengre ord."
	first := svc.Analyze(text, DefaultOptions())
	second := svc.Analyze(text, DefaultOptions())

	// Processing time varies between runs; blank it before comparing.
	first.ProcessingTimeMS = 0
	second.ProcessingTimeMS = 0
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("analysis is not deterministic:\n%s\n%s", a, b)
	}
}

func TestAnalyzeEmptyText(t *testing.T) {
	svc := newTestService()
	for _, text := range []string{"", "   ", "\n\t"} {
		rec := svc.Analyze(text, DefaultOptions())
		if rec.LIX.Score != 0 || rec.RIX.Score != 0 {
			t.Fatalf("empty text scores: lix=%v rix=%v, want 0", rec.LIX.Score, rec.RIX.Score)
		}
		if rec.LIX.Category != CategoryUnavailable || rec.RIX.Category != CategoryUnavailable {
			t.Fatalf("empty text bands: %q/%q, want %q", rec.LIX.Category, rec.RIX.Category, CategoryUnavailable)
		}
		if len(rec.Recommendations) != 1 {
			t.Fatalf("empty text recommendations = %d, want exactly 1 stub", len(rec.Recommendations))
		}
		if rec.CombinedDescription != "Teksten er for kort for analyse." {
			t.Fatalf("unexpected combined description: %q", rec.CombinedDescription)
		}
	}
}

func TestAnalyzeJargonEmitsWordComplexity(t *testing.T) {
	svc := newTestService()
	rec := svc.Analyze("Implementeringen av funksjonaliteten krever omfattende dokumentasjon.", DefaultOptions())
	if rec.LIX.Category != CategoryVeryDifficult {
		t.Fatalf("category = %q, want %q", rec.LIX.Category, CategoryVeryDifficult)
	}
	found := false
	for _, r := range rec.Recommendations {
		if r.Type == "word_complexity" {
			found = true
			if r.Impact != "high" {
				t.Fatalf("word_complexity impact = %q, want high", r.Impact)
			}
		}
	}
	if !found {
		t.Fatalf("expected a word_complexity recommendation, got %+v", rec.Recommendations)
	}
}

func TestAnalyzeOptionsControlSections(t *testing.T) {
	svc := newTestService()
	text := "Første setning her. Andre setning her også."

	rec := svc.Analyze(text, DefaultOptions())
	if len(rec.SentenceAnalysis) != 2 {
		t.Fatalf("sentence analysis = %d entries, want 2", len(rec.SentenceAnalysis))
	}
	if rec.WordAnalysis != nil {
		t.Fatalf("word analysis should be off by default")
	}

	opts := Options{IncludeWordAnalysis: true, IncludeSentenceAnalysis: false}
	rec = svc.Analyze(text, opts)
	if rec.SentenceAnalysis != nil {
		t.Fatalf("sentence analysis should be suppressed")
	}
	if len(rec.WordAnalysis) == 0 {
		t.Fatalf("word analysis missing")
	}
}

func TestAnalyzeWordAnalysisCap(t *testing.T) {
	svc := newTestService()
	words := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		words = append(words, "ord")
	}
	text := strings.Join(words, " ") + "."
	rec := svc.Analyze(text, Options{IncludeWordAnalysis: true})
	if len(rec.WordAnalysis) != WordAnalysisCap {
		t.Fatalf("word analysis = %d entries, want cap %d", len(rec.WordAnalysis), WordAnalysisCap)
	}
}

func TestAnalyzeMetricsOnlyIsPartial(t *testing.T) {
	svc := newTestService()
	rec := svc.AnalyzeMetricsOnly("Dette er en kort tekst for rask analyse.")
	if !rec.Partial {
		t.Fatalf("metrics-only record should be marked partial")
	}
	if rec.SentenceAnalysis != nil || rec.WordAnalysis != nil {
		t.Fatalf("partial record carries detailed sections")
	}
	if rec.LIX.Score == 0 {
		t.Fatalf("partial record still needs scores")
	}
}

func TestCacheKeyStability(t *testing.T) {
	opts := DefaultOptions()
	if CacheKey("  hei verden  ", opts) != CacheKey("hei verden", opts) {
		t.Fatalf("cache key should trim surrounding whitespace")
	}
	withWords := opts
	withWords.IncludeWordAnalysis = true
	if CacheKey("hei verden", opts) == CacheKey("hei verden", withWords) {
		t.Fatalf("option flags must be part of the key")
	}
}

func TestCombinedDescriptionContrasts(t *testing.T) {
	// Same band on both scales uses the canned per-band text.
	got := combinedDescription(10, 1.0, CategoryVeryEasy, CategoryVeryEasy)
	if !strings.Contains(got, "svært lettlest") {
		t.Fatalf("same-band description: %q", got)
	}
	// One level apart reads as balanced.
	got = combinedDescription(25, 1.0, CategoryEasy, CategoryVeryEasy)
	if !strings.Contains(got, "balansert") {
		t.Fatalf("adjacent-band description: %q", got)
	}
	// Wide gap with high LIX and low RIX picks the short-sentence contrast.
	got = combinedDescription(45, 1.0, CategoryDifficult, CategoryVeryEasy)
	if !strings.Contains(got, "korte setninger") {
		t.Fatalf("contrast description: %q", got)
	}
}

func TestSentenceAnalyzerFlagsLongSentence(t *testing.T) {
	long := strings.Repeat("ord ", 35)
	res := AnalyzeSentence(long, 0)
	if res.WordCount != 35 {
		t.Fatalf("word count = %d, want 35", res.WordCount)
	}
	foundHigh := false
	for _, issue := range res.Issues {
		if issue.Type == "long_sentence" && issue.Severity == "high" {
			foundHigh = true
		}
	}
	if !foundHigh {
		t.Fatalf("expected a high-severity long_sentence issue, got %+v", res.Issues)
	}
}

func TestSentenceAnalyzerNamesVeryLongWords(t *testing.T) {
	res := AnalyzeSentence("Implementeringen dokumentasjonen funksjonaliteten spesifikasjonen", 0)
	named := false
	for _, tip := range res.ImprovementTips {
		if strings.Contains(tip, "Vurder å erstatte:") {
			named = true
		}
	}
	if !named {
		t.Fatalf("expected concrete replacement tip, got %v", res.ImprovementTips)
	}
}

func TestWordAnalyzerSignificance(t *testing.T) {
	words := SplitWords("katten katten katten implementeringen")
	a := NewWordAnalyzer(words)

	frequent := a.Analyze("katten", 0, 0, 0, 4)
	rare := a.Analyze("implementeringen", 3, 0, 3, 4)
	if rare.SignificanceScore <= frequent.SignificanceScore {
		t.Fatalf("rare long word should outrank frequent short one: %v <= %v",
			rare.SignificanceScore, frequent.SignificanceScore)
	}
	if !rare.IsLong || !rare.IsVeryLong {
		t.Fatalf("implementeringen should be long and very long: %+v", rare)
	}
	if frequent.Frequency != 3 {
		t.Fatalf("frequency = %d, want 3", frequent.Frequency)
	}
}

func TestRecommendPositiveFeedbackWhenClean(t *testing.T) {
	recs := Recommend(RecommendInput{LIXScore: 20, RIXScore: 1, AvgSentenceLength: 8, LongWordsPercentage: 10}, false)
	if len(recs) != 1 || recs[0].Type != "positive_feedback" {
		t.Fatalf("clean text should get one positive_feedback, got %+v", recs)
	}
}

func TestRecommendSimplifiedSuppressesExamples(t *testing.T) {
	in := RecommendInput{LIXScore: 55, RIXScore: 5, AvgSentenceLength: 28, LongWordsPercentage: 40}
	full := Recommend(in, false)
	simple := Recommend(in, true)
	if len(full) != len(simple) {
		t.Fatalf("simplified mode changed rule firing: %d vs %d", len(full), len(simple))
	}
	for _, r := range simple {
		if r.Type != "word_complexity" && len(r.Examples) != 0 {
			t.Fatalf("simplified %s still has examples", r.Type)
		}
	}
}

func TestRecommendUserContext(t *testing.T) {
	in := RecommendInput{
		LIXScore:    38,
		UserContext: map[string]string{"purpose": "education"},
	}
	recs := Recommend(in, true)
	found := false
	for _, r := range recs {
		if r.Type == "educational_content" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected educational_content for education purpose at LIX 38, got %+v", recs)
	}
}
