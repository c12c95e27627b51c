// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pii

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/services/pii/enforcement"
	"gopkg.in/yaml.v3"
)

// Recognizer finds entities of one or more kinds in text.
//
// Implementations must be deterministic for a given text and safe for
// concurrent use. An error means the recognizer could not run, not that it
// found nothing.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// =============================================================================
// Pattern Recognizer
// =============================================================================

type recognizerFile struct {
	Recognizers []patternDefinition `yaml:"recognizers"`
}

type patternDefinition struct {
	Name        string     `yaml:"name"`
	Entity      EntityKind `yaml:"entity"`
	Description string     `yaml:"description"`
	Patterns    []Pattern  `yaml:"patterns"`
}

// Pattern is one regex of a recognizer definition.
type Pattern struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Group       int             `yaml:"group"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
	Validator   string          `yaml:"validator"`

	compiled *regexp.Regexp
	validate func(string) bool
}

// PatternRecognizer applies a compiled regex table.
type PatternRecognizer struct {
	name     string
	kind     EntityKind
	patterns []Pattern
}

// LoadPatternRecognizers parses a recognizer definition file. A nil data
// slice loads the definitions embedded in the binary.
func LoadPatternRecognizers(data []byte) ([]*PatternRecognizer, error) {
	if data == nil {
		data = enforcement.RecognizerPatterns
	}
	var file recognizerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the recognizer file: %w", err)
	}

	out := make([]*PatternRecognizer, 0, len(file.Recognizers))
	for _, def := range file.Recognizers {
		if !def.Entity.Valid() {
			return nil, fmt.Errorf("recognizer %s: unknown entity kind %q", def.Name, def.Entity)
		}
		r := &PatternRecognizer{name: "pattern:" + def.Name, kind: def.Entity}
		for _, p := range def.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile the regex %s: %w", p.Id, err)
			}
			if p.Group < 0 || p.Group > re.NumSubexp() {
				return nil, fmt.Errorf("pattern %s: group %d out of range", p.Id, p.Group)
			}
			p.compiled = re
			switch p.Validator {
			case "":
			case "luhn":
				p.validate = luhnValid
			default:
				return nil, fmt.Errorf("pattern %s: unknown validator %q", p.Id, p.Validator)
			}
			r.patterns = append(r.patterns, p)
		}
		out = append(out, r)
	}
	return out, nil
}

func (r *PatternRecognizer) Name() string { return r.name }

// Kind returns the entity kind this recognizer emits.
func (r *PatternRecognizer) Kind() EntityKind { return r.kind }

func (r *PatternRecognizer) Recognize(_ context.Context, text string) ([]Entity, error) {
	var out []Entity
	for _, p := range r.patterns {
		for _, m := range p.compiled.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.Group], m[2*p.Group+1]
			if start < 0 || start == end {
				continue
			}
			if p.validate != nil && !p.validate(text[start:end]) {
				continue
			}
			out = append(out, Entity{
				Kind:       r.kind,
				Start:      start,
				End:        end,
				Text:       text[start:end],
				Score:      p.Confidence.Score(),
				Recognizer: r.name,
			})
		}
	}
	return out, nil
}

// luhnValid checks the card checksum over the digits of s.
func luhnValid(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 12 && sum%10 == 0
}

// =============================================================================
// Deny List Recognizer
// =============================================================================

// DenyListRecognizer flags exact, word-bounded, case-sensitive terms.
type DenyListRecognizer struct {
	patterns map[EntityKind]*regexp.Regexp
	kinds    []EntityKind
}

// NewDenyListRecognizer builds a recognizer from terms per kind. Empty
// terms are ignored. Longer terms win when one term contains another.
func NewDenyListRecognizer(terms map[EntityKind][]string) (*DenyListRecognizer, error) {
	r := &DenyListRecognizer{patterns: make(map[EntityKind]*regexp.Regexp)}
	for kind, list := range terms {
		if !kind.Valid() {
			return nil, fmt.Errorf("deny list: unknown entity kind %q", kind)
		}
		quoted := make([]string, 0, len(list))
		for _, term := range list {
			if term = strings.TrimSpace(term); term != "" {
				quoted = append(quoted, regexp.QuoteMeta(term))
			}
		}
		if len(quoted) == 0 {
			continue
		}
		slices.SortFunc(quoted, func(a, b string) int { return len(b) - len(a) })
		re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("deny list for %s: %w", kind, err)
		}
		r.patterns[kind] = re
		r.kinds = append(r.kinds, kind)
	}
	slices.Sort(r.kinds)
	return r, nil
}

func (r *DenyListRecognizer) Name() string { return "deny_list" }

func (r *DenyListRecognizer) Recognize(_ context.Context, text string) ([]Entity, error) {
	var out []Entity
	for _, kind := range r.kinds {
		for _, m := range r.patterns[kind].FindAllStringIndex(text, -1) {
			out = append(out, Entity{
				Kind:       kind,
				Start:      m[0],
				End:        m[1],
				Text:       text[m[0]:m[1]],
				Score:      1.0,
				Recognizer: r.Name(),
			})
		}
	}
	return out, nil
}

// =============================================================================
// Name Recognizer
// =============================================================================

var (
	capitalizedRun  = regexp.MustCompile(`\b[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)*\b`)
	capitalizedWord = regexp.MustCompile(`[A-Z][a-z]+`)
)

// nameStopwords are capitalized words that start sentences or questions
// and are never part of a name.
var nameStopwords = map[string]bool{
	"A": true, "An": true, "The": true, "This": true, "That": true, "These": true, "Those": true,
	"What": true, "Who": true, "Whom": true, "Whose": true, "When": true, "Where": true, "Why": true, "How": true, "Which": true,
	"Is": true, "Are": true, "Was": true, "Were": true, "Does": true, "Do": true, "Did": true, "Can": true, "Could": true,
	"Will": true, "Would": true, "Should": true, "Has": true, "Have": true, "Had": true,
	"Please": true, "Call": true, "Ask": true, "Tell": true, "Email": true, "Contact": true, "Find": true, "Show": true, "Give": true,
	"Hello": true, "Hi": true, "Hey": true, "Dear": true, "Thanks": true, "Thank": true,
	"My": true, "Our": true, "Your": true, "His": true, "Her": true, "Their": true, "Its": true,
	"In": true, "On": true, "At": true, "From": true, "To": true, "For": true, "With": true, "About": true, "And": true, "Or": true, "But": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true, "Sunday": true,
	"January": true, "February": true, "March": true, "April": true, "June": true, "July": true,
	"August": true, "September": true, "October": true, "November": true, "December": true,
}

// NameRecognizer is a low-confidence PERSON heuristic for the builtin
// engine. A run of two to four capitalized words is a name once leading
// stopwords are dropped and the run is cut at the first inner stopword.
// A single capitalized word is a name only when it does not open a
// sentence, so "Call John or John again" yields both Johns while
// "Paris is lovely" yields nothing here.
type NameRecognizer struct{}

func (NameRecognizer) Name() string { return "name_heuristic" }

func (NameRecognizer) Recognize(_ context.Context, text string) ([]Entity, error) {
	var out []Entity
	for _, m := range capitalizedRun.FindAllStringIndex(text, -1) {
		words := capitalizedWord.FindAllStringIndex(text[m[0]:m[1]], -1)
		isStop := func(w []int) bool { return nameStopwords[text[m[0]+w[0]:m[0]+w[1]]] }

		for len(words) > 0 && isStop(words[0]) {
			words = words[1:]
		}
		if i := slices.IndexFunc(words, isStop); i >= 0 {
			words = words[:i]
		}
		if len(words) > 4 {
			words = words[:4]
		}
		if len(words) == 0 {
			continue
		}
		start, end := m[0]+words[0][0], m[0]+words[len(words)-1][1]
		if len(words) == 1 && opensSentence(text, start) {
			continue
		}
		out = append(out, Entity{
			Kind:       Person,
			Start:      start,
			End:        end,
			Text:       text[start:end],
			Score:      Low.Score(),
			Recognizer: "name_heuristic",
		})
	}
	return out, nil
}

// opensSentence reports whether the word at byte offset i is the first
// word of a sentence, line or quoted span.
func opensSentence(text string, i int) bool {
	for i > 0 {
		switch text[i-1] {
		case ' ', '\t', '"', '\'', '(', '[':
			i--
		case '.', '!', '?', ':', ';', '\n', '\r':
			return true
		default:
			return false
		}
	}
	return true
}

var (
	_ Recognizer = (*PatternRecognizer)(nil)
	_ Recognizer = (*DenyListRecognizer)(nil)
	_ Recognizer = NameRecognizer{}
)
