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
	"errors"
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Entity Kinds
// =============================================================================

// EntityKind is a PII category. Names follow Presidio's entity types so
// that analyzer results map across without translation.
type EntityKind string

const (
	Person       EntityKind = "PERSON"
	EmailAddress EntityKind = "EMAIL_ADDRESS"
	PhoneNumber  EntityKind = "PHONE_NUMBER"
	Location     EntityKind = "LOCATION"
	CreditCard   EntityKind = "CREDIT_CARD"
	USSSN        EntityKind = "US_SSN"
	IPAddress    EntityKind = "IP_ADDRESS"
)

// AllKinds lists every supported kind.
var AllKinds = []EntityKind{Person, EmailAddress, PhoneNumber, Location, CreditCard, USSSN, IPAddress}

// Valid reports whether k is a supported kind.
func (k EntityKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Action is what the analyzer does with a detected kind.
type Action string

const (
	ActionRedact Action = "redact"
	ActionKeep   Action = "keep"
)

// Entity is a detected span of PII.
//
// Start and End are byte offsets into the analyzed text, half-open.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Text       string     `json:"-"`
	Score      float64    `json:"score"`
	Recognizer string     `json:"recognizer"`
}

// Len returns the span length in bytes.
func (e Entity) Len() int { return e.End - e.Start }

// Overlaps reports whether two spans share at least one byte.
func (e Entity) Overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// =============================================================================
// Confidence
// =============================================================================

// ConfidenceLevel is the coarse confidence attached to a pattern in the
// recognizer definition file.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

// Score maps the level onto the analyzer's 0..1 score scale.
func (c ConfidenceLevel) Score() float64 {
	switch c {
	case High:
		return 0.9
	case Medium:
		return 0.6
	default:
		return 0.4
	}
}

// =============================================================================
// Modes and Maps
// =============================================================================

// Mode is the direction of an anonymization call.
type Mode int

const (
	// ModeInput anonymizes user text. Its map is kept for the turn so the
	// answer can be reversed when policy allows.
	ModeInput Mode = iota
	// ModeOutput anonymizes model output. Its map is never used to reveal
	// anything and is only returned for inspection.
	ModeOutput
)

func (m Mode) String() string {
	if m == ModeOutput {
		return "OUTPUT"
	}
	return "INPUT"
}

// ReversalMap maps a placeholder to the original text it replaced. A map
// belongs to exactly one anonymization call; placeholders are unique
// within it but not across maps.
type ReversalMap map[string]string

// Clone returns an independent copy.
func (m ReversalMap) Clone() ReversalMap {
	if m == nil {
		return ReversalMap{}
	}
	return maps.Clone(m)
}

// =============================================================================
// Errors
// =============================================================================

// EngineUnavailableError means a recognizer could not analyze the text.
// Anonymization fails closed: nothing is returned and the caller must not
// forward the raw text.
type EngineUnavailableError struct {
	Engine string
	Err    error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("PII engine %s unavailable: %v", e.Engine, e.Err)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Err }

// IsEngineUnavailable reports whether err wraps an EngineUnavailableError.
func IsEngineUnavailable(err error) bool {
	var target *EngineUnavailableError
	return errors.As(err, &target)
}
