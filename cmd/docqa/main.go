// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command docqa answers questions about an uploaded document while keeping
// personal data away from the language model.
//
// # Usage
//
//	# Write a starter config
//	docqa config init docqa.yaml
//
//	# Serve the HTTP API
//	OPENAI_API_KEY=... docqa serve --config docqa.yaml
//
//	# Chat with one file in the terminal
//	docqa ask contract.txt
//
//	# Inspect what the anonymizer would send
//	echo "Call Jane Doe at 555-123-4567" | docqa anonymize
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
