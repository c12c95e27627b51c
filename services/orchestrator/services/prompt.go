// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// DefaultSystemPrompt instructs the model how to use retrieved context.
const DefaultSystemPrompt = `You answer questions about a document the user uploaded.
Use only the numbered context blocks below and cite them as [Source N].
Tokens such as <PERSON_1> or <PHONE_NUMBER_2> stand for redacted values. Repeat them exactly as written and never guess what they hide.
If the context does not contain the answer, say that the document does not cover it.`

// noSourcesNote replaces the context blocks when retrieval found nothing.
const noSourcesNote = "No sources are available for this question. Tell the user the document does not appear to cover it."

// contextBlock is one retrieved chunk as shown to the model.
type contextBlock struct {
	source string
	text   string
}

// buildMessages assembles the model input.
//
// Layout: one system message carrying the instructions and the numbered
// context blocks, then prior turns in order, then the question. Every text
// that reaches this function is already anonymized where policy requires.
func buildMessages(system string, blocks []contextBlock, prior []datatypes.Turn, question string) []datatypes.Message {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n")
	if len(blocks) == 0 {
		sb.WriteString(noSourcesNote)
	} else {
		sb.WriteString("Context:\n")
		for i, b := range blocks {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[Source %d: %s]\n%s", i+1, b.source, b.text)
		}
	}

	msgs := make([]datatypes.Message, 0, len(prior)+2)
	msgs = append(msgs, datatypes.Message{Role: "system", Content: sb.String()})
	for _, t := range prior {
		msgs = append(msgs, t.ToMessage())
	}
	msgs = append(msgs, datatypes.Message{Role: "user", Content: question})
	return msgs
}
