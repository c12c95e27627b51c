// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"crypto/sha256"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedRecognizerIntegrity(t *testing.T) {
	if len(RecognizerPatterns) == 0 {
		t.Fatal("Embedded recognizer data is empty. Did the build fail to include 'recognizers.yaml'?")
	}

	var dump struct {
		Recognizers []map[string]interface{} `yaml:"recognizers"`
	}
	if err := yaml.Unmarshal(RecognizerPatterns, &dump); err != nil {
		t.Fatalf("Embedded data is not valid YAML: %v", err)
	}
	if len(dump.Recognizers) == 0 {
		t.Fatal("there are no recognizers in the embedded file")
	}

	hash := sha256.Sum256(RecognizerPatterns)
	t.Logf("Current recognizer hash: %x (%d recognizers)", hash, len(dump.Recognizers))
}
