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
	"math"
	"strings"
	"sync"
)

// Readability bands, ordered from easiest to hardest. CategoryUnavailable
// is the sentinel for metrics that cannot be computed (empty text).
const (
	CategoryVeryEasy      = "svært lett"
	CategoryEasy          = "lett"
	CategoryMedium        = "middels"
	CategoryDifficult     = "vanskelig"
	CategoryVeryDifficult = "svært vanskelig"
	CategoryUnavailable   = "ikke tilgjengelig"
)

// Categories lists the bands in ascending difficulty order.
var Categories = []string{
	CategoryVeryEasy, CategoryEasy, CategoryMedium, CategoryDifficult, CategoryVeryDifficult,
}

// CategoryIndex returns the position of a band in Categories, or -1 for the
// unavailable sentinel and unknown labels.
func CategoryIndex(category string) int {
	for i, c := range Categories {
		if c == category {
			return i
		}
	}
	return -1
}

// norwegianVowels is the vowel set used for syllable approximation.
const norwegianVowels = "aeiouyæøå"

// Stats carries the aggregate counts every metric kernel consumes.
type Stats struct {
	CharCount           int     `json:"char_count"`
	WordCount           int     `json:"word_count"`
	SentenceCount       int     `json:"sentence_count"`
	LongWordCount       int     `json:"long_word_count"`
	AvgWordLength       float64 `json:"avg_word_length"`
	AvgSentenceLength   float64 `json:"avg_sentence_length"`
	SyllableCount       int     `json:"syllable_count"`
	AvgSyllablesPerWord float64 `json:"avg_syllables_per_word"`
	ComplexWordCount    int     `json:"complex_word_count"`
}

// GatherStats computes the aggregate counts for a parsed text. charCount is
// the rune count of the raw input.
func GatherStats(parsed *ParsedText, charCount int) Stats {
	s := Stats{
		CharCount:     charCount,
		WordCount:     parsed.WordCount(),
		SentenceCount: parsed.SentenceCount(),
		LongWordCount: parsed.LongWords,
	}
	if s.WordCount == 0 {
		return s
	}
	totalLen := 0
	for _, w := range parsed.Words {
		totalLen += len([]rune(w))
		n := CountSyllables(w)
		s.SyllableCount += n
		if n >= 3 {
			s.ComplexWordCount++
		}
	}
	s.AvgWordLength = float64(totalLen) / float64(s.WordCount)
	s.AvgSentenceLength = float64(s.WordCount) / math.Max(1, float64(s.SentenceCount))
	s.AvgSyllablesPerWord = float64(s.SyllableCount) / float64(s.WordCount)
	return s
}

// CountSyllables approximates the syllable count of one word by counting
// maximal vowel groups over the Norwegian vowel set. Every word carries at
// least one syllable.
func CountSyllables(word string) int {
	count := 0
	prevVowel := false
	for _, r := range strings.ToLower(word) {
		isVowel := strings.ContainsRune(norwegianVowels, r)
		if isVowel && !prevVowel {
			count++
		}
		prevVowel = isVowel
	}
	if count < 1 {
		count = 1
	}
	return count
}

// Scores is the full metric bundle for one parsed text. Scores on empty
// text are all zero.
type Scores struct {
	LIX           float64 `json:"lix"`
	RIX           float64 `json:"rix"`
	SMOG          float64 `json:"smog"`
	ColemanLiau   float64 `json:"coleman_liau"`
	Flesch        float64 `json:"flesch"`
	FleschKincaid float64 `json:"flesch_kincaid"`
	Fog           float64 `json:"fog"`
	ARI           float64 `json:"ari"`
}

// ComputeScores evaluates every kernel against the gathered stats. Any
// kernel whose denominator is zero yields 0.
func ComputeScores(s Stats) Scores {
	var out Scores
	if s.WordCount == 0 || s.SentenceCount == 0 {
		return out
	}
	w := float64(s.WordCount)
	sc := float64(s.SentenceCount)

	out.LIX = round1(s.AvgSentenceLength + float64(s.LongWordCount)*100/w)
	out.RIX = round2(float64(s.LongWordCount) / sc)
	out.SMOG = round2(1.043*math.Sqrt(float64(s.ComplexWordCount)*30/sc) + 3.1291)
	out.ColemanLiau = round2(0.0588*(s.AvgWordLength*100) - 0.296*(sc/w*100) - 15.8)
	out.Flesch = round2(206.835 - 1.015*s.AvgSentenceLength - 84.6*s.AvgSyllablesPerWord)
	out.FleschKincaid = round2(0.39*s.AvgSentenceLength + 11.8*s.AvgSyllablesPerWord - 15.59)
	out.Fog = round2(0.4 * (s.AvgSentenceLength + 100*float64(s.ComplexWordCount)/w))
	out.ARI = round2(4.71*(float64(s.CharCount)/w) + 0.5*s.AvgSentenceLength - 21.43)
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Classification describes one band for presentation: category label,
// prose description, target audience, the band thresholds, and improvement
// tips appropriate to the band.
type Classification struct {
	Category        string             `json:"category"`
	Description     string             `json:"description"`
	Audience        string             `json:"audience"`
	Thresholds      map[string]float64 `json:"thresholds"`
	ImprovementTips []string           `json:"improvement_tips"`
}

// LIX band thresholds: scores below each bound fall in the matching band.
var lixThresholds = map[string]float64{
	CategoryVeryEasy:      20,
	CategoryEasy:          30,
	CategoryMedium:        40,
	CategoryDifficult:     50,
	CategoryVeryDifficult: 60,
}

// RIX band thresholds, in the analogous positions.
var rixThresholds = map[string]float64{
	CategoryVeryEasy:      1.5,
	CategoryEasy:          3.0,
	CategoryMedium:        4.5,
	CategoryDifficult:     6.0,
	CategoryVeryDifficult: 7.5,
}

// Classifications are cached on the rounded score; common scores repeat
// constantly in the typing path.
var (
	lixClassCacheMu sync.Mutex
	lixClassCache   = map[float64]Classification{}
	rixClassCacheMu sync.Mutex
	rixClassCache   = map[float64]Classification{}
)

// ClassifyLIX maps a LIX score to its band and presentation text.
func ClassifyLIX(score float64) Classification {
	key := round1(score)
	lixClassCacheMu.Lock()
	if c, ok := lixClassCache[key]; ok {
		lixClassCacheMu.Unlock()
		return c
	}
	lixClassCacheMu.Unlock()

	var c Classification
	c.Thresholds = lixThresholds
	switch {
	case score < lixThresholds[CategoryVeryEasy]:
		c.Category = CategoryVeryEasy
		c.Description = "Teksten er svært lettlest og egnet for alle lesere."
		c.Audience = "Alle lesere, inkludert barn og nybegynnere."
		c.ImprovementTips = []string{"Teksten er allerede svært lettlest."}
	case score < lixThresholds[CategoryEasy]:
		c.Category = CategoryEasy
		c.Description = "Teksten er lettlest og tilgjengelig for de fleste."
		c.Audience = "Generelt publikum, inkludert ungdomsskoleelever."
		c.ImprovementTips = []string{
			"Teksten er allerede lettlest.",
			"Vurder om korte setninger gir god flyt.",
		}
	case score < lixThresholds[CategoryMedium]:
		c.Category = CategoryMedium
		c.Description = "Teksten har middels vanskelighetsgrad."
		c.Audience = "Voksne lesere og videregående skoleelever."
		c.ImprovementTips = []string{
			"Vurder å forenkle noen lange ord.",
			"Se etter setninger som kan deles opp.",
		}
	case score < lixThresholds[CategoryDifficult]:
		c.Category = CategoryDifficult
		c.Description = "Teksten er relativt krevende å lese."
		c.Audience = "Lesere med god lesekompetanse, høyere utdanning."
		c.ImprovementTips = []string{
			"Bruk kortere setninger (under 15-20 ord).",
			"Erstatt noen lange ord med kortere alternativer.",
			"Del opp komplekse avsnitt.",
		}
	default:
		c.Category = CategoryVeryDifficult
		c.Description = "Teksten er svært krevende og kompleks."
		c.Audience = "Spesialister, akademikere, avanserte lesere."
		c.ImprovementTips = []string{
			"Del lange setninger i kortere enheter.",
			"Bruk enklere og kortere ord der mulig.",
			"Vurder om fagterminologi kan forklares.",
			"Legg til mellomtitler for å bryte opp teksten.",
		}
	}

	lixClassCacheMu.Lock()
	lixClassCache[key] = c
	lixClassCacheMu.Unlock()
	return c
}

// ClassifyRIX maps a RIX score to its band and presentation text.
func ClassifyRIX(score float64) Classification {
	key := round2(score)
	rixClassCacheMu.Lock()
	if c, ok := rixClassCache[key]; ok {
		rixClassCacheMu.Unlock()
		return c
	}
	rixClassCacheMu.Unlock()

	var c Classification
	c.Thresholds = rixThresholds
	switch {
	case score < rixThresholds[CategoryVeryEasy]:
		c.Category = CategoryVeryEasy
		c.Description = "Teksten har få lange ord per setning, noe som gjør den svært lettlest."
		c.Audience = "Alle lesere, inkludert barn og nybegynnere."
		c.ImprovementTips = []string{"Teksten er allerede svært lettlest."}
	case score < rixThresholds[CategoryEasy]:
		c.Category = CategoryEasy
		c.Description = "Teksten har en god balanse av korte og lange ord."
		c.Audience = "Generelt publikum, inkludert ungdomsskoleelever."
		c.ImprovementTips = []string{"Teksten er allerede lettlest."}
	case score < rixThresholds[CategoryMedium]:
		c.Category = CategoryMedium
		c.Description = "Teksten har en del lange ord, men er fortsatt lesbar for de fleste."
		c.Audience = "Voksne lesere og videregående skoleelever."
		c.ImprovementTips = []string{"Vurder å erstatte noen lange ord med kortere alternativer."}
	case score < rixThresholds[CategoryDifficult]:
		c.Category = CategoryDifficult
		c.Description = "Teksten har mange lange ord, noe som gjør den krevende å lese."
		c.Audience = "Lesere med god lesekompetanse, høyere utdanning."
		c.ImprovementTips = []string{
			"Erstatt noen lange ord med kortere alternativer.",
			"Sørg for at vanskelige begreper forklares.",
			"Varier mellom korte og lange ord for bedre flyt.",
		}
	default:
		c.Category = CategoryVeryDifficult
		c.Description = "Teksten har svært mange lange ord per setning, noe som gjør den kompleks."
		c.Audience = "Spesialister, akademikere, avanserte lesere."
		c.ImprovementTips = []string{
			"Bruk flere korte ord for å balansere teksten.",
			"Del setninger med mange lange ord.",
			"Forklar eller definer vanskelige begreper.",
		}
	}

	rixClassCacheMu.Lock()
	rixClassCache[key] = c
	rixClassCacheMu.Unlock()
	return c
}

// Interpretation summarizes the extended metrics: difficulty levels per
// scale, the implied education level and age group, and a blended 0-10
// complexity score.
type Interpretation struct {
	LIXLevel       string  `json:"lix_level"`
	FleschLevel    string  `json:"flesch_level"`
	EducationLevel string  `json:"education_level"`
	AgeGroup       string  `json:"age_group"`
	Complexity     float64 `json:"complexity"`
}

// Interpret derives the blended difficulty interpretation from a score
// bundle.
func Interpret(scores Scores) Interpretation {
	var in Interpretation

	switch {
	case scores.LIX < 25:
		in.LIXLevel = "very_easy"
	case scores.LIX < 35:
		in.LIXLevel = "easy"
	case scores.LIX < 45:
		in.LIXLevel = "medium"
	case scores.LIX < 55:
		in.LIXLevel = "difficult"
	default:
		in.LIXLevel = "very_difficult"
	}

	switch {
	case scores.Flesch > 90:
		in.FleschLevel = "very_easy"
	case scores.Flesch > 80:
		in.FleschLevel = "easy"
	case scores.Flesch > 70:
		in.FleschLevel = "fairly_easy"
	case scores.Flesch > 60:
		in.FleschLevel = "medium"
	case scores.Flesch > 50:
		in.FleschLevel = "fairly_difficult"
	case scores.Flesch > 30:
		in.FleschLevel = "difficult"
	default:
		in.FleschLevel = "very_difficult"
	}

	switch {
	case scores.FleschKincaid < 6:
		in.EducationLevel = "elementary"
		in.AgeGroup = "6-11"
	case scores.FleschKincaid < 10:
		in.EducationLevel = "middle_school"
		in.AgeGroup = "11-14"
	case scores.FleschKincaid < 13:
		in.EducationLevel = "high_school"
		in.AgeGroup = "14-18"
	case scores.FleschKincaid < 16:
		in.EducationLevel = "college"
		in.AgeGroup = "18-22"
	default:
		in.EducationLevel = "graduate"
		in.AgeGroup = "22+"
	}

	normLIX := math.Min(100, math.Max(0, scores.LIX)) / 10
	normFlesch := (100 - math.Min(100, math.Max(0, scores.Flesch))) / 10
	normFK := math.Min(20, math.Max(0, scores.FleschKincaid)) / 2
	in.Complexity = round2(0.4*normLIX + 0.3*normFlesch + 0.3*normFK)

	return in
}

// FormatScore renders a score at LIX precision for log and description use.
func FormatScore(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
