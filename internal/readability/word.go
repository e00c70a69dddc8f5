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
	"math"
	"sort"
)

// WordAnalysisCap bounds the per-word analysis output per request; texts
// longer than this only have their first tokens analyzed in detail.
const WordAnalysisCap = 200

// commonNorwegianWords holds very frequent Norwegian function words that
// never count as complex regardless of frequency in one text.
var commonNorwegianWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"og", "i", "jeg", "det", "at", "en", "et", "den", "til", "er", "som", "på",
		"de", "med", "han", "av", "ikke", "ikkje", "der", "så", "var", "meg", "seg",
		"men", "ett", "har", "om", "vi", "min", "mitt", "ha", "hadde", "hun", "nå",
		"over", "da", "ved", "fra", "du", "ut", "sin", "dem", "oss", "opp", "man",
		"kan", "hans", "hvor", "eller", "hva", "skal", "selv", "sjøl", "her", "alle",
		"vil", "bli", "ble", "blei", "blitt", "kunne", "inn", "når", "være", "kom",
	} {
		commonNorwegianWords[w] = struct{}{}
	}
}

// wordAlternatives maps frequent complex Norwegian words to simpler
// replacements, used when building improvement examples.
var wordAlternatives = map[string][]string{
	"implementere":   {"bruke", "innføre"},
	"demonstrere":    {"vise", "bevise"},
	"kommunisere":    {"snakke", "si fra"},
	"identifisere":   {"finne", "kjenne igjen"},
	"modifisere":     {"endre", "tilpasse"},
	"evaluere":       {"vurdere", "bedømme"},
	"analysere":      {"undersøke", "studere"},
	"optimalisere":   {"forbedre", "gjøre bedre"},
	"dokumentere":    {"skrive ned", "beskrive"},
	"administrere":   {"styre", "lede"},
	"konkludere":     {"avslutte", "slutte"},
	"illustrere":     {"vise", "tegne"},
	"informasjon":    {"opplysning", "data"},
	"funksjonalitet": {"virkning", "bruk"},
	"spesifikasjon":  {"krav", "beskrivelse"},
	"konfigurasjon":  {"oppsett", "innstilling"},
	"definisjon":     {"forklaring", "betydning"},
	"konsekvent":     {"fast", "stabil"},
	"tilstrekkelig":  {"nok", "god nok"},
	"signifikant":    {"viktig", "betydelig"},
}

// Alternatives returns simpler replacement words for a complex word, or nil
// when none are known.
func Alternatives(word string) []string {
	return wordAlternatives[word]
}

// WordPosition locates a word within the text and its sentence.
type WordPosition struct {
	GlobalIndex        int     `json:"global_index"`
	SentenceIndex      int     `json:"sentence_index"`
	PositionInSentence int     `json:"position_in_sentence"`
	RelativePosition   float64 `json:"relative_position"`
}

// WordResult is the per-word analysis record.
type WordResult struct {
	Word              string       `json:"word"`
	Length            int          `json:"length"`
	IsLong            bool         `json:"is_long"`
	IsVeryLong        bool         `json:"is_very_long"`
	Frequency         int          `json:"frequency"`
	RelativeFrequency float64      `json:"relative_frequency"`
	FrequencyRank     int          `json:"frequency_rank"`
	SignificanceScore float64      `json:"significance_score"`
	Position          WordPosition `json:"position"`
	Style             string       `json:"style"`
	Complexity        string       `json:"complexity"`
}

// WordAnalyzer computes per-word complexity, frequency, and position
// records over one parsed text. A fresh analyzer is built per analysis so
// frequency ranks reflect that text only.
type WordAnalyzer struct {
	frequency map[string]int
	rank      map[string]int
	unique    int
	total     int
}

// NewWordAnalyzer indexes word frequencies and ranks for the given tokens.
func NewWordAnalyzer(words []string) *WordAnalyzer {
	freq := make(map[string]int, len(words))
	for _, w := range words {
		freq[w]++
	}

	type wc struct {
		word  string
		count int
	}
	ordered := make([]wc, 0, len(freq))
	for w, c := range freq {
		ordered = append(ordered, wc{w, c})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].word < ordered[j].word
	})
	rank := make(map[string]int, len(ordered))
	for i, e := range ordered {
		rank[e.word] = i + 1
	}

	return &WordAnalyzer{
		frequency: freq,
		rank:      rank,
		unique:    len(freq),
		total:     len(words),
	}
}

// Frequency returns how many times a token occurs in the indexed text.
func (a *WordAnalyzer) Frequency(word string) int { return a.frequency[word] }

// UniqueCount returns the number of distinct tokens.
func (a *WordAnalyzer) UniqueCount() int { return a.unique }

// Analyze produces the full record for one word occurrence. sentenceLen is
// the word count of the containing sentence.
func (a *WordAnalyzer) Analyze(word string, globalIndex, sentenceIndex, posInSentence, sentenceLen int) WordResult {
	if word == "" {
		return WordResult{Position: WordPosition{
			GlobalIndex:   globalIndex,
			SentenceIndex: sentenceIndex,
		}}
	}

	length := len([]rune(word))
	isLong := length > LongWordLen
	isVeryLong := length > VeryLongWordLen

	freq := a.frequency[word]
	relFreq := 0.0
	if a.total > 0 {
		relFreq = float64(freq) / float64(a.total)
	}
	rank := a.rank[word]
	if rank == 0 {
		rank = a.unique
	}

	relPos := 0.0
	if sentenceLen > 0 {
		relPos = float64(posInSentence) / float64(sentenceLen)
	}

	// Significance blends rarity, length (capped at 12 runes), and the
	// long-word flag.
	longFactor := 0.5
	if isLong {
		longFactor = 1
	}
	significance := 0.4*(1-float64(rank)/math.Max(1, float64(a.unique))) +
		0.3*math.Min(float64(length), 12)/12 +
		0.3*longFactor

	style := "vanlig"
	switch {
	case length <= 3:
		style = "kort"
	case isVeryLong:
		style = "svært lang"
	case isLong:
		style = "lang"
	}

	complexity := "enkel"
	if _, common := commonNorwegianWords[word]; !common {
		if isVeryLong && freq <= 1 {
			complexity = "kompleks"
		} else if isLong && freq <= 2 {
			complexity = "moderat"
		}
	}

	return WordResult{
		Word:              word,
		Length:            length,
		IsLong:            isLong,
		IsVeryLong:        isVeryLong,
		Frequency:         freq,
		RelativeFrequency: math.Round(relFreq*10000) / 10000,
		FrequencyRank:     rank,
		SignificanceScore: round2(significance),
		Position: WordPosition{
			GlobalIndex:        globalIndex,
			SentenceIndex:      sentenceIndex,
			PositionInSentence: posInSentence,
			RelativePosition:   round2(relPos),
		},
		Style:      style,
		Complexity: complexity,
	}
}
