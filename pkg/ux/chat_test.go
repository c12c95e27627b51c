// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// terminalChatUI Tests
// =============================================================================

func TestChatUI_Header_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, PersonalityMachine)

	ui.Header(HeaderConfig{SessionID: "sess-123", SourceID: "notes.txt", Chunks: 3, PIIEnabled: true, ModelName: "gpt-4o-mini"})

	want := "CHAT_START: session=sess-123 source=notes.txt chunks=3 pii=true model=gpt-4o-mini\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestChatUI_Header_MinimalMode(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, PersonalityMinimal)

	ui.Header(HeaderConfig{SourceID: "notes.txt", Chunks: 3})

	output := buf.String()
	if !strings.Contains(output, "Document: notes.txt (3 chunks)") {
		t.Errorf("expected document line, got %q", output)
	}
	if !strings.Contains(output, "Type 'exit' to end.") {
		t.Errorf("expected exit hint, got %q", output)
	}
}

func TestChatUI_Header_FullMode(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, PersonalityFull)

	ui.Header(HeaderConfig{SessionID: "sess-1", SourceID: "notes.txt", Chunks: 2})

	output := buf.String()
	for _, want := range []string{"Document Q&A", "notes.txt", "disabled", "sess-1"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in header, got %q", want, output)
		}
	}
}

func TestChatUI_Prompt(t *testing.T) {
	tests := []struct {
		level PersonalityLevel
	}{
		{PersonalityMachine},
		{PersonalityMinimal},
		{PersonalityFull},
	}
	for _, tt := range tests {
		ui := NewChatUI(&bytes.Buffer{}, tt.level)
		if !strings.Contains(ui.Prompt(), ">") {
			t.Errorf("%s: prompt %q has no marker", tt.level, ui.Prompt())
		}
	}
}

func TestChatUI_State(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMachine).State("RETRIEVED")
	if buf.String() != "STATE: RETRIEVED\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	NewChatUI(&buf, PersonalityMinimal).State("RETRIEVED")
	if buf.Len() != 0 {
		t.Errorf("minimal mode should not print states, got %q", buf.String())
	}
}

func TestChatUI_Response_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMachine).Response("<PERSON_1> signed it.")
	if buf.String() != "RESPONSE: <PERSON_1> signed it.\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestChatUI_Response_FullModeKeepsPlaceholderText(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityFull).Response("<PERSON_1> signed it.")
	if !strings.Contains(buf.String(), "<PERSON_1>") {
		t.Errorf("placeholder lost in styled output: %q", buf.String())
	}
}

func TestChatUI_Revealed(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, PersonalityMachine)

	ui.Revealed("")
	if buf.Len() != 0 {
		t.Errorf("empty reveal should print nothing, got %q", buf.String())
	}
	ui.Revealed("Jane Doe signed it.")
	if buf.String() != "REVEALED: Jane Doe signed it.\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestChatUI_Sources_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMachine).Sources([]SourceInfo{
		{Name: "notes.txt#0", Score: 0.9},
		{Name: "notes.txt#2", Score: 0.5},
	})
	want := "SOURCE: notes.txt#0 score=0.9000\nSOURCE: notes.txt#2 score=0.5000\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestChatUI_Sources_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMachine).Sources(nil)
	if buf.String() != "SOURCES: none\n" {
		t.Errorf("got %q", buf.String())
	}

	for _, level := range []PersonalityLevel{PersonalityMinimal, PersonalityFull} {
		buf.Reset()
		NewChatUI(&buf, level).Sources(nil)
		if buf.Len() != 0 {
			t.Errorf("%s: empty sources should leave the message to the footer, got %q", level, buf.String())
		}
	}
}

func TestChatUI_Sources_MinimalMode(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMinimal).Sources([]SourceInfo{{Name: "a.txt#0"}, {Name: "a.txt#1"}})
	if !strings.Contains(buf.String(), "  source_0  a.txt#0\n  source_1  a.txt#1\n") {
		t.Errorf("got %q", buf.String())
	}
}

func TestChatUI_Footer(t *testing.T) {
	tests := []struct {
		level PersonalityLevel
		line  string
		want  string
	}{
		{PersonalityMachine, "Sources: source_0, source_1", "FOOTER: Sources: source_0, source_1\n"},
		{PersonalityMinimal, "No sources found", "No sources found\n"},
		{PersonalityMachine, "", ""},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		NewChatUI(&buf, tt.level).Footer(tt.line)
		if buf.String() != tt.want {
			t.Errorf("%s %q: got %q, want %q", tt.level, tt.line, buf.String(), tt.want)
		}
	}

	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityFull).Footer("No sources found")
	if !strings.Contains(buf.String(), "No sources found") {
		t.Errorf("footer lost in styled output: %q", buf.String())
	}
}

func TestChatUI_Progress_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, PersonalityMachine)
	ui.Progress(1)
	ui.Progress(2)
	if buf.String() != "PROGRESS: fragments=1\nPROGRESS: fragments=2\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestChatUI_Progress_MinimalModeIsSilent(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMinimal).Progress(3)
	if buf.Len() != 0 {
		t.Errorf("minimal mode should not print progress, got %q", buf.String())
	}
}

func TestChatUI_Progress_FullModeRedrawsOneLine(t *testing.T) {
	var buf bytes.Buffer
	ui := NewChatUI(&buf, PersonalityFull)
	ui.Progress(1)
	ui.Progress(2)

	out := buf.String()
	if strings.Contains(out, "\n") {
		t.Errorf("progress should redraw in place, got %q", out)
	}
	if strings.Count(out, "\r") != 2 || !strings.Contains(out, "2 fragments") {
		t.Errorf("got %q", out)
	}

	ui.State("GENERATED")
	if !strings.HasPrefix(buf.String()[len(out):], "\n") {
		t.Errorf("the next state should start on a fresh line, got %q", buf.String())
	}
}

func TestChatUI_Error(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMachine).Error(errors.New("pii engine unavailable"))
	if buf.String() != "CHAT_ERROR: pii engine unavailable\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	NewChatUI(&buf, PersonalityMinimal).Error(errors.New("boom"))
	if !strings.Contains(buf.String(), "Chat error: boom") {
		t.Errorf("got %q", buf.String())
	}
}

func TestChatUI_SessionEnd(t *testing.T) {
	var buf bytes.Buffer
	NewChatUI(&buf, PersonalityMachine).SessionEnd("sess-9", 4)
	if buf.String() != "CHAT_END: session=sess-9 turns=4\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	NewChatUI(&buf, PersonalityMinimal).SessionEnd("", 0)
	if buf.String() != "Goodbye!\n" {
		t.Errorf("got %q", buf.String())
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"  first\nsecond", 10, "first"},
		{"abcdefghij", 5, "abcd…"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in, tt.max); got != tt.want {
			t.Errorf("firstLine(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestPlaceholderPattern(t *testing.T) {
	got := placeholderPattern.FindAllString("<PERSON_1> and <PHONE_NUMBER_12> but not <person_1>", -1)
	if len(got) != 2 || got[0] != "<PERSON_1>" || got[1] != "<PHONE_NUMBER_12>" {
		t.Errorf("unexpected matches %v", got)
	}
}
