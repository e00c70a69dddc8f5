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
	"fmt"
	"strings"
)

// Sentence complexity thresholds. Word counts above "medium" flag the
// sentence; long-word ratios above the percentage bounds do the same.
const (
	sentenceWordsMedium = 20
	sentenceWordsLong   = 30

	longWordPctMedium = 35.0
	longWordPctHigh   = 50.0

	sentenceLIXSimple  = 30.0
	sentenceLIXMedium  = 45.0
	sentenceLIXComplex = 55.0
)

// SentenceIssue flags one readability problem in a sentence.
type SentenceIssue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// SentenceResult is the per-sentence analysis record.
type SentenceResult struct {
	SentenceIndex      int             `json:"sentence_index"`
	Sentence           string          `json:"sentence"`
	WordCount          int             `json:"word_count"`
	LongWordsCount     int             `json:"long_words_count"`
	VeryLongWordsCount int             `json:"very_long_words_count"`
	AvgWordLength      float64         `json:"avg_word_length"`
	LIXScore           float64         `json:"lix_score"`
	ComplexityLevel    string          `json:"complexity_level"`
	Issues             []SentenceIssue `json:"issues"`
	ImprovementTips    []string        `json:"improvement_tips"`
}

// AnalyzeSentence scores one sentence for complexity and flags issues with
// targeted improvement tips. The single-sentence LIX variant is the word
// count plus the long-word percentage.
func AnalyzeSentence(sentence string, index int) SentenceResult {
	words := SplitWords(sentence)
	wordCount := len(words)
	if wordCount == 0 {
		return SentenceResult{
			SentenceIndex:   index,
			Sentence:        sentence,
			ComplexityLevel: "N/A",
			Issues:          []SentenceIssue{},
			ImprovementTips: []string{},
		}
	}

	longCount := 0
	veryLongCount := 0
	totalLen := 0
	var veryLongWords []string
	for _, w := range words {
		n := len([]rune(w))
		totalLen += n
		if n > LongWordLen {
			longCount++
		}
		if n > VeryLongWordLen {
			veryLongCount++
			veryLongWords = append(veryLongWords, w)
		}
	}
	longPct := float64(longCount) / float64(wordCount) * 100
	lix := round2(float64(wordCount) + longPct)

	level := "enkel"
	switch {
	case lix > sentenceLIXComplex:
		level = "svært kompleks"
	case lix > sentenceLIXMedium:
		level = "kompleks"
	case lix > sentenceLIXSimple:
		level = "moderat"
	}

	issues := []SentenceIssue{}
	if wordCount > sentenceWordsLong {
		issues = append(issues, SentenceIssue{
			Type:        "long_sentence",
			Description: fmt.Sprintf("Setningen er svært lang (%d ord)", wordCount),
			Severity:    "high",
		})
	} else if wordCount > sentenceWordsMedium {
		issues = append(issues, SentenceIssue{
			Type:        "medium_sentence",
			Description: fmt.Sprintf("Setningen er lang (%d ord)", wordCount),
			Severity:    "medium",
		})
	}
	if longPct > longWordPctHigh {
		issues = append(issues, SentenceIssue{
			Type:        "long_words",
			Description: fmt.Sprintf("Setningen har svært mange lange ord (%.0f%%)", longPct),
			Severity:    "high",
		})
	} else if longPct > longWordPctMedium {
		issues = append(issues, SentenceIssue{
			Type:        "long_words",
			Description: fmt.Sprintf("Setningen har mange lange ord (%.0f%%)", longPct),
			Severity:    "medium",
		})
	}

	tips := []string{}
	if wordCount > sentenceWordsMedium {
		tips = append(tips, "Del setningen i to eller flere kortere setninger")
	}
	if longPct > longWordPctMedium {
		tips = append(tips, "Erstatt lange ord med kortere synonymer")
		if len(veryLongWords) > 0 {
			sample := veryLongWords
			if len(sample) > 3 {
				sample = sample[:3]
			}
			tips = append(tips, "Vurder å erstatte: "+strings.Join(sample, ", "))
		}
	}

	return SentenceResult{
		SentenceIndex:      index,
		Sentence:           sentence,
		WordCount:          wordCount,
		LongWordsCount:     longCount,
		VeryLongWordsCount: veryLongCount,
		AvgWordLength:      round2(float64(totalLen) / float64(wordCount)),
		LIXScore:           lix,
		ComplexityLevel:    level,
		Issues:             issues,
		ImprovementTips:    tips,
	}
}
