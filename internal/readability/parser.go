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

// Package readability computes readability metrics and linguistic analysis
// for Norwegian and other Scandinavian text. The package is organized around
// a small pipeline: Parser breaks text into paragraphs, sentences, and word
// tokens; the metric kernels score the parsed text (LIX, RIX, SMOG,
// Coleman-Liau, Flesch, Flesch-Kincaid, Fog, ARI); the word and sentence
// analyzers produce per-unit detail; the Recommender derives improvement
// suggestions; and Service ties it all together behind a single Analyze call.
package readability

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
)

const (
	// LongWordLen is the exclusive length threshold for long words:
	// a word is long when it has more than 6 characters.
	LongWordLen = 6

	// VeryLongWordLen is the exclusive threshold for very long words
	// (10+ characters).
	VeryLongWordLen = 9

	// parserCacheMax bounds the parser memoization table. When full, the
	// oldest quarter of entries is evicted.
	parserCacheMax = 256
)

var (
	// Sentences end on a run of terminal punctuation, optionally followed
	// by a closing quote, or on a blank line.
	sentenceSplitRe = regexp.MustCompile(`[.!?]+["»]?|\n\s*\n`)

	// Words are maximal runs of alphanumerics including the Norwegian
	// vowels æ, ø, å.
	wordRe = regexp.MustCompile(`[0-9A-Za-zÆØÅæøå]+`)

	paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)
)

// ParsedText is the memoized breakdown of one input text.
type ParsedText struct {
	Paragraphs []string
	Sentences  []string
	Words      []string

	// LongWords counts words longer than LongWordLen characters;
	// VeryLongWords counts words longer than VeryLongWordLen. Both are
	// computed in the same pass over Words.
	LongWords     int
	VeryLongWords int
}

// WordCount returns the number of word tokens.
func (p *ParsedText) WordCount() int { return len(p.Words) }

// SentenceCount returns the number of sentences.
func (p *ParsedText) SentenceCount() int { return len(p.Sentences) }

// Parser tokenizes text into paragraphs, sentences, and words, and memoizes
// the result keyed on the text fingerprint. Parsing is total: empty input
// yields an empty ParsedText and never an error.
type Parser struct {
	mu    sync.Mutex
	cache map[string]*ParsedText
	order []string // insertion order, for eviction
}

// NewParser constructs a parser with an empty memoization table.
func NewParser() *Parser {
	return &Parser{cache: make(map[string]*ParsedText, parserCacheMax)}
}

// Fingerprint returns the stable content hash used as the memoization key
// and, combined with option flags, as the shared cache key. Whitespace is
// trimmed before hashing so that padding does not defeat the cache.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// Parse breaks the text down in a single operation, consulting the
// memoization table first.
func (p *Parser) Parse(text string) *ParsedText {
	if strings.TrimSpace(text) == "" {
		return &ParsedText{}
	}

	key := Fingerprint(text)
	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	parsed := &ParsedText{
		Paragraphs: SplitParagraphs(text),
		Sentences:  SplitSentences(text),
		Words:      SplitWords(text),
	}
	for _, w := range parsed.Words {
		n := len([]rune(w))
		if n > LongWordLen {
			parsed.LongWords++
		}
		if n > VeryLongWordLen {
			parsed.VeryLongWords++
		}
	}

	p.mu.Lock()
	if len(p.cache) >= parserCacheMax {
		evict := parserCacheMax / 4
		for _, k := range p.order[:evict] {
			delete(p.cache, k)
		}
		p.order = append([]string(nil), p.order[evict:]...)
	}
	p.cache[key] = parsed
	p.order = append(p.order, key)
	p.mu.Unlock()

	return parsed
}

// SplitSentences splits text on runs of sentence-ending punctuation
// (optionally trailed by a closing quote) or blank lines, discarding empty
// fragments. Any non-blank text yields at least one sentence.
func SplitSentences(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := sentenceSplitRe.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return sentences
}

// SplitWords extracts word tokens as maximal alphanumeric runs including
// æ, ø, and å. Tokens are lowercased so that frequency counting is
// case-insensitive.
func SplitWords(text string) []string {
	if text == "" {
		return nil
	}
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// SplitParagraphs splits text on blank-line runs, discarding empty
// fragments.
func SplitParagraphs(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	parts := paragraphSplitRe.Split(trimmed, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// CountLongWords counts words strictly longer than minLen characters.
func CountLongWords(words []string, minLen int) int {
	n := 0
	for _, w := range words {
		if len([]rune(w)) > minLen {
			n++
		}
	}
	return n
}
