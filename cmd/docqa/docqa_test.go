// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/pkg/config"
	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

const (
	testName  = "Jane Doe"
	testPhone = "555-123-4567"
)

const testConfigYAML = `pii:
  name_heuristic: false
  deny_list:
    PERSON: ["Jane Doe"]
`

// MockEmbedder hashes words into a small bag-of-words vector.
type MockEmbedder struct{}

func (MockEmbedder) ModelName() string { return "mock" }

func (MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 16)
		v[0] = 1
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[1+h.Sum32()%15]++
		}
		out[i] = v
	}
	return out, nil
}

// MockLLMClient streams Fragments as the answer.
type MockLLMClient struct {
	Fragments []string
}

func (m *MockLLMClient) ModelName() string { return "mock-model" }

func (m *MockLLMClient) Chat(ctx context.Context, msgs []datatypes.Message, p llm.GenerationParams) (string, error) {
	return llm.Collect(ctx, m, msgs, p, nil)
}

func (m *MockLLMClient) ChatStream(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	for _, frag := range m.Fragments {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: frag}); err != nil {
			return err
		}
	}
	return cb(llm.StreamEvent{Type: llm.StreamEventDone})
}

// fakeService records how serve drove it.
type fakeService struct {
	port   int
	ran    bool
	closed bool
}

func (f *fakeService) Run(context.Context) error                 { f.ran = true; return nil }
func (f *fakeService) Serve(context.Context, net.Listener) error { return nil }
func (f *fakeService) Router() *gin.Engine                       { return nil }
func (f *fakeService) Sessions() *session.Manager                { return nil }
func (f *fakeService) DocQA() *services.DocQAService             { return nil }
func (f *fakeService) Close(context.Context) error               { f.closed = true; return nil }

// useMocks points newService at mock model backends for the test.
func useMocks(t *testing.T, fragments ...string) {
	t.Helper()
	orig := newService
	newService = func(cfg *config.DocQAConfig) (orchestrator.Service, error) {
		return orchestrator.New(cfg, &orchestrator.Options{
			Embedder:  MockEmbedder{},
			LLMClient: &MockLLMClient{Fragments: fragments},
		})
	}
	t.Cleanup(func() { newService = orig })
}

// writeFile writes content under the test's temp dir and returns the path.
func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(configEnv, "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func testDocument() string {
	return "contact " + testName + " at " + testPhone + " " + strings.Repeat("abcdefghi ", 246) + "abcdef "
}

// =============================================================================
// config
// =============================================================================

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "docqa.yaml")

	out, err := runCLI(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Chunking, cfg.Chunking)

	_, err = runCLI(t, "", "config", "init", path)
	assert.Error(t, err, "init must not overwrite")
}

func TestConfigShow_RedactsToken(t *testing.T) {
	t.Setenv("DOCQA_API_TOKEN", "s3cret")

	out, err := runCLI(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "s3cret")
}

func TestConfig_InvalidFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", []byte("chunking:\n  chunk_size: 10\n  overlap: 10\n"))
	_, err := runCLI(t, "", "--config", path, "config", "show")
	assert.Error(t, err)
}

// =============================================================================
// anonymize
// =============================================================================

func TestAnonymize(t *testing.T) {
	path := writeFile(t, "docqa.yaml", []byte(testConfigYAML))

	out, err := runCLI(t, "Call "+testName+" at "+testPhone+" or "+testName+" again.",
		"--config", path, "anonymize")
	require.NoError(t, err)

	var got anonymizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "INPUT", got.Mode)
	assert.Equal(t, "Call <PERSON_1> at <PHONE_NUMBER_1> or <PERSON_1> again.", got.Text)
	assert.Len(t, got.Entities, 3)
	assert.Nil(t, got.Map)
	assert.NotContains(t, out, testName)
	assert.NotContains(t, out, testPhone)
}

func TestAnonymize_ShowMap(t *testing.T) {
	path := writeFile(t, "docqa.yaml", []byte(testConfigYAML))

	out, err := runCLI(t, testName+" signed.", "--config", path, "anonymize", "--show-map", "--mode", "output")
	require.NoError(t, err)

	var got anonymizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "OUTPUT", got.Mode)
	assert.Equal(t, testName, got.Map["<PERSON_1>"])
}

func TestAnonymize_UnknownMode(t *testing.T) {
	_, err := runCLI(t, "text", "anonymize", "--mode", "sideways")
	assert.Error(t, err)
}

// =============================================================================
// ask
// =============================================================================

func TestAsk_MachineOutput(t *testing.T) {
	useMocks(t, "The number is ", "<PHONE_NUMBER_1>", ".")
	cfgPath := writeFile(t, "docqa.yaml", []byte(testConfigYAML))
	docPath := writeFile(t, "contacts.txt", []byte(testDocument()))

	out, err := runCLI(t, "What is the phone number of "+testName+"?\nexit\n",
		"--config", cfgPath, "ask", docPath, "--personality", "machine")
	require.NoError(t, err)

	assert.Contains(t, out, "CHAT_START:")
	assert.Contains(t, out, "source=contacts.txt chunks=3 pii=true")
	assert.Contains(t, out, "STATE: RECEIVED\n")
	assert.Contains(t, out, "STATE: DELIVERED\n")
	assert.Contains(t, out, "RESPONSE: The number is <PHONE_NUMBER_1>.\n")
	assert.Contains(t, out, "SOURCE: contacts.txt#")
	assert.Contains(t, out, "FOOTER: Sources: source_0")
	assert.Contains(t, out, "PROGRESS: fragments=3\n")
	assert.NotContains(t, out, "PROGRESS: fragments=4")
	assert.Contains(t, out, "turns=2")
	assert.NotContains(t, out, testPhone)
	assert.NotContains(t, out, "REVEALED:")
}

func TestAsk_Reveal(t *testing.T) {
	useMocks(t, "<PERSON_1>", " is listed.")
	cfgPath := writeFile(t, "docqa.yaml", []byte(testConfigYAML))
	docPath := writeFile(t, "contacts.txt", []byte(testDocument()))

	out, err := runCLI(t, "Is "+testName+" listed?\n",
		"--config", cfgPath, "ask", docPath, "--personality", "machine", "--reveal")
	require.NoError(t, err)

	assert.Contains(t, out, "RESPONSE: <PERSON_1> is listed.\n")
	assert.Contains(t, out, "REVEALED: "+testName+" is listed.\n")
}

func TestAsk_TurnErrorsDoNotEndTheLoop(t *testing.T) {
	useMocks(t) // empty answer
	docPath := writeFile(t, "notes.txt", []byte("some plain notes about the project"))

	out, err := runCLI(t, "first?\nsecond?\n", "ask", docPath, "--personality", "machine")
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "CHAT_ERROR:"))
	assert.Contains(t, out, "CHAT_END:")
}

func TestAsk_RejectsBadFiles(t *testing.T) {
	useMocks(t, "unused")
	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(t.TempDir(), "nope.txt")},
		{"directory", t.TempDir()},
		{"not utf8", writeFile(t, "bin.txt", []byte{0xff, 0xfe, 0x00})},
		{"empty", writeFile(t, "empty.txt", []byte("   \n"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, "", "ask", tt.path)
			assert.Error(t, err)
		})
	}
}

func TestReadDocument_SizeLimit(t *testing.T) {
	path := writeFile(t, "big.txt", bytes.Repeat([]byte("a"), 64))

	_, err := readDocument(path, 32)
	assert.Error(t, err)

	doc, err := readDocument(path, 64)
	require.NoError(t, err)
	assert.Equal(t, "big.txt", doc.SourceID)
	assert.Len(t, doc.Text, 64)
}

// =============================================================================
// serve
// =============================================================================

func TestServe_PortOverride(t *testing.T) {
	fake := &fakeService{}
	orig := newService
	newService = func(cfg *config.DocQAConfig) (orchestrator.Service, error) {
		fake.port = cfg.Server.Port
		return fake, nil
	}
	t.Cleanup(func() { newService = orig })

	_, err := runCLI(t, "", "serve", "--port", "18080")
	require.NoError(t, err)
	assert.True(t, fake.ran)
	assert.Equal(t, 18080, fake.port)
}

// =============================================================================
// Input
// =============================================================================

func TestLineReader(t *testing.T) {
	r := newLineReader(strings.NewReader("a\n  b  \n\nc"))
	var got []string
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b", "", "c"}, got)
}

func TestIsExitCommand(t *testing.T) {
	assert.True(t, isExitCommand("exit"))
	assert.True(t, isExitCommand("quit"))
	assert.False(t, isExitCommand("Exit please"))
}
