// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "fmt"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Turn is one entry of a session's conversation history.
//
// Text is always the anonymized form. Original PII never appears in a Turn.
type Turn struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Message is a single chat message sent to a language model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToMessage converts a history turn into a model message.
func (t Turn) ToMessage() Message {
	switch t.Role {
	case RoleAssistant:
		return Message{Role: "assistant", Content: t.Text}
	default:
		return Message{Role: "user", Content: t.Text}
	}
}

// =============================================================================
// Turn State Machine
// =============================================================================

// TurnState is a stage of answering one question.
//
//	RECEIVED -> ANONYMIZED -> RETRIEVED -> GENERATED -> ANONYMIZED_OUTPUT -> DELIVERED
//
// Any stage may move to FAILED. DELIVERED and FAILED are terminal.
type TurnState int

const (
	TurnReceived TurnState = iota
	TurnAnonymized
	TurnRetrieved
	TurnGenerated
	TurnAnonymizedOutput
	TurnDelivered
	TurnFailed
)

var turnStateNames = [...]string{
	"RECEIVED",
	"ANONYMIZED",
	"RETRIEVED",
	"GENERATED",
	"ANONYMIZED_OUTPUT",
	"DELIVERED",
	"FAILED",
}

func (s TurnState) String() string {
	if s < 0 || int(s) >= len(turnStateNames) {
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
	return turnStateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s TurnState) Terminal() bool {
	return s == TurnDelivered || s == TurnFailed
}

// Next returns the state that follows s on the success path. Terminal
// states return themselves.
func (s TurnState) Next() TurnState {
	if s.Terminal() {
		return s
	}
	return s + 1
}

// MarshalText renders the state name in JSON bodies and SSE events.
func (s TurnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *TurnState) UnmarshalText(text []byte) error {
	for i, name := range turnStateNames {
		if name == string(text) {
			*s = TurnState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown turn state %q", string(text))
}
