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
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the verbosity and richness of CLI output
type PersonalityLevel string

const (
	// PersonalityFull uses colors and boxes.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal prints plain labelled lines.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs KEY: value lines suitable for scripting.
	PersonalityMachine PersonalityLevel = "machine"
)

// PersonalityEnv overrides the detected level.
const PersonalityEnv = "DOCQA_PERSONALITY"

// ParsePersonalityLevel converts a string to PersonalityLevel. Unknown
// values are full.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// DetectPersonality picks the level for w: an explicit flag value wins,
// then PersonalityEnv, then full on a terminal and machine otherwise.
func DetectPersonality(flag string, w io.Writer) PersonalityLevel {
	if flag != "" {
		return ParsePersonalityLevel(flag)
	}
	if env := os.Getenv(PersonalityEnv); env != "" {
		return ParsePersonalityLevel(env)
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return PersonalityFull
	}
	return PersonalityMachine
}
