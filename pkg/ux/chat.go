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
	"fmt"
	"io"
	"regexp"
	"strings"
)

// placeholderPattern matches anonymization placeholders like <PERSON_1>.
var placeholderPattern = regexp.MustCompile(`<[A-Z_]+_\d+>`)

// HeaderConfig describes the document a chat is grounded on.
type HeaderConfig struct {
	SessionID  string
	SourceID   string
	Chunks     int
	PIIEnabled bool
	ModelName  string
}

// SourceInfo is one retrieved chunk shown next to an answer.
type SourceInfo struct {
	Name    string
	Score   float64
	Excerpt string
}

// ChatUI renders an interactive document chat.
type ChatUI interface {
	// Header displays the chat session header.
	Header(config HeaderConfig)

	// Prompt returns the input prompt string.
	Prompt() string

	// State displays a turn progress state.
	State(state string)

	// Response displays the anonymized answer.
	Response(answer string)

	// Revealed displays the answer with the asker's own values restored.
	Revealed(answer string)

	// Progress displays how many answer fragments have streamed so far.
	// Fragment text is never shown.
	Progress(fragments int)

	// Sources displays the chunks the answer was grounded on.
	Sources(sources []SourceInfo)

	// Footer displays the source attribution line under an answer.
	Footer(line string)

	// Error displays a chat error message.
	Error(err error)

	// SessionEnd displays session end information.
	SessionEnd(sessionID string, turnCount int)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
	progressing bool
}

// NewChatUI creates a ChatUI writing to w.
func NewChatUI(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{writer: w, personality: personality}
}

// write ignores errors: there is no recovery for terminal output.
func (u *terminalChatUI) write(format string, args ...any) {
	_, _ = fmt.Fprintf(u.writer, format, args...)
}

func (u *terminalChatUI) writeln(args ...any) {
	_, _ = fmt.Fprintln(u.writer, args...)
}

func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.personality {
	case PersonalityMachine:
		u.write("CHAT_START: session=%s source=%s chunks=%d pii=%t model=%s\n",
			config.SessionID, config.SourceID, config.Chunks, config.PIIEnabled, config.ModelName)
		return
	case PersonalityMinimal:
		u.write("Document: %s (%d chunks)\n", config.SourceID, config.Chunks)
		u.writeln("Type 'exit' to end.")
		return
	}

	var content strings.Builder
	content.WriteString(Styles.Title.Render("Document Q&A"))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("Document: %s %s",
		Styles.Success.Render(config.SourceID),
		Styles.Muted.Render(fmt.Sprintf("(%d chunks)", config.Chunks))))
	content.WriteString("\n")
	if config.PIIEnabled {
		content.WriteString(fmt.Sprintf("PII: %s", Styles.Success.Render("anonymized before the model")))
	} else {
		content.WriteString(fmt.Sprintf("PII: %s", Styles.Warning.Render("disabled")))
	}
	if config.ModelName != "" {
		content.WriteString(fmt.Sprintf("\nModel: %s", Styles.Muted.Render(config.ModelName)))
	}
	if config.SessionID != "" {
		content.WriteString(fmt.Sprintf("\nSession: %s", Styles.Muted.Render(config.SessionID)))
	}

	u.writeln(Styles.Box.Width(60).Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end."))
	u.writeln()
}

func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityFull {
		return Styles.Highlight.Render("> ")
	}
	return "> "
}

func (u *terminalChatUI) State(state string) {
	u.endProgress()
	switch u.personality {
	case PersonalityMachine:
		u.write("STATE: %s\n", state)
	case PersonalityFull:
		u.write("%s %s\n", Styles.Muted.Render(string(IconArrow)), Styles.Muted.Render(state))
	}
}

func (u *terminalChatUI) Progress(fragments int) {
	switch u.personality {
	case PersonalityMachine:
		u.write("PROGRESS: fragments=%d\n", fragments)
	case PersonalityFull:
		u.write("\r%s %s", Styles.Muted.Render(string(IconArrow)),
			Styles.Muted.Render(fmt.Sprintf("receiving answer (%d fragments)", fragments)))
		u.progressing = true
	}
}

// endProgress finishes an in-place progress line.
func (u *terminalChatUI) endProgress() {
	if u.progressing {
		u.writeln()
		u.progressing = false
	}
}

func (u *terminalChatUI) Response(answer string) {
	u.endProgress()
	if u.personality == PersonalityMachine {
		u.write("RESPONSE: %s\n", answer)
		return
	}
	u.writeln()
	if u.personality == PersonalityFull {
		answer = highlightPlaceholders(answer)
	}
	u.writeln(answer)
}

func (u *terminalChatUI) Revealed(answer string) {
	if answer == "" {
		return
	}
	switch u.personality {
	case PersonalityMachine:
		u.write("REVEALED: %s\n", answer)
	case PersonalityMinimal:
		u.write("Revealed: %s\n", answer)
	default:
		u.write("%s %s\n", Styles.Subtitle.Render("Revealed:"), answer)
	}
}

func (u *terminalChatUI) Sources(sources []SourceInfo) {
	// Without sources the footer carries the message.
	if len(sources) == 0 {
		if u.personality == PersonalityMachine {
			u.writeln("SOURCES: none")
		}
		return
	}

	if u.personality == PersonalityMachine {
		for _, src := range sources {
			u.write("SOURCE: %s score=%.4f\n", src.Name, src.Score)
		}
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.writeln("Sources:")
		for i, src := range sources {
			u.write("  source_%d  %s\n", i, src.Name)
		}
		return
	}

	var content strings.Builder
	for i, src := range sources {
		content.WriteString(fmt.Sprintf("source_%d  %s%s", i, src.Name,
			Styles.Muted.Render(fmt.Sprintf(" (%.2f)", src.Score))))
		if excerpt := firstLine(src.Excerpt, 56); excerpt != "" {
			content.WriteString("\n   " + Styles.Muted.Render(highlightPlaceholders(excerpt)))
		}
		if i < len(sources)-1 {
			content.WriteString("\n")
		}
	}
	u.writeln(Styles.InfoBox.Width(60).Render(Styles.Subtitle.Render("Sources") + "\n" + content.String()))
}

func (u *terminalChatUI) Footer(line string) {
	if line == "" {
		return
	}
	switch u.personality {
	case PersonalityMachine:
		u.write("FOOTER: %s\n", line)
	case PersonalityMinimal:
		u.writeln(line)
	default:
		u.writeln(Styles.Muted.Render(line))
	}
}

func (u *terminalChatUI) Error(err error) {
	u.endProgress()
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

func (u *terminalChatUI) SessionEnd(sessionID string, turnCount int) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_END: session=%s turns=%d\n", sessionID, turnCount)
		return
	}
	if sessionID != "" {
		u.writeln(Styles.Muted.Render(fmt.Sprintf("Session: %s (%d turns)", sessionID, turnCount)))
	}
	u.writeln("Goodbye!")
}

func highlightPlaceholders(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(p string) string {
		return Styles.Placeholder.Render(p)
	})
}

// firstLine returns the first line of s, cut to max runes.
func firstLine(s string, max int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
