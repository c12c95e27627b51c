// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) postMultipart(t *testing.T, id, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartUpload(t, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/documents", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestUploadDocument_JSON(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	resp := s.upload(t, id)
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, "contacts.txt", resp.SourceID)
	assert.Equal(t, 3, resp.ChunkCount)
	assert.Equal(t, 3, resp.IndexSize)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.DocumentsTotal.WithLabelValues("indexed")))
	assert.Equal(t, float64(3), testutil.ToFloat64(s.metrics.ChunksIngestedTotal))
}

func TestUploadDocument_Multipart(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	w := s.postMultipart(t, id, "../../notes.txt", "text/plain; charset=utf-8", []byte(testDocument()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp datatypes.UploadDocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "notes.txt", resp.SourceID)
	assert.Equal(t, 3, resp.ChunkCount)

	// A second document adds to the same index.
	w = s.postMultipart(t, id, "more.txt", "", []byte("a short second document about invoices"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ChunkCount)
	assert.Equal(t, 4, resp.IndexSize)
}

func TestUploadDocument_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		send     func(s *testServer, id string) *httptest.ResponseRecorder
		wantCode int
		wantKind string
	}{
		{
			name: "empty text",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				return s.do(t, http.MethodPost, "/v1/sessions/"+id+"/documents",
					datatypes.UploadDocumentRequest{SourceID: "a.txt", Text: "   \n\t"})
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidRequest,
		},
		{
			name: "missing source id",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				return s.do(t, http.MethodPost, "/v1/sessions/"+id+"/documents",
					datatypes.UploadDocumentRequest{Text: "hello"})
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidRequest,
		},
		{
			name: "empty file",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				return s.postMultipart(t, id, "empty.txt", "text/plain", []byte("  "))
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidRequest,
		},
		{
			name: "pdf file",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				return s.postMultipart(t, id, "report.pdf", "application/pdf", []byte("%PDF-1.4"))
			},
			wantCode: http.StatusUnsupportedMediaType,
			wantKind: KindUnsupportedType,
		},
		{
			name: "binary without declared type",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				return s.postMultipart(t, id, "blob.txt", "", []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})
			},
			wantCode: http.StatusUnsupportedMediaType,
			wantKind: KindUnsupportedType,
		},
		{
			name: "invalid utf-8",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				return s.postMultipart(t, id, "latin1.txt", "text/plain", []byte("caf\xe9 au lait"))
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidRequest,
		},
		{
			name: "malformed json",
			send: func(s *testServer, id string) *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/documents", strings.NewReader("{"))
				req.Header.Set("Content-Type", "application/json")
				w := httptest.NewRecorder()
				s.router.ServeHTTP(w, req)
				return w
			},
			wantCode: http.StatusBadRequest,
			wantKind: KindInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			id := s.createSession(t)

			w := tt.send(s, id)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantKind, decodeError(t, w).Kind)

			sess, err := s.manager.Get(id)
			require.NoError(t, err)
			assert.False(t, sess.HasDocument())
		})
	}
}

func TestUploadDocument_TooLarge(t *testing.T) {
	s := newTestServer(t, withMaxBytes(1024))
	id := s.createSession(t)

	w := s.do(t, http.MethodPost, "/v1/sessions/"+id+"/documents",
		datatypes.UploadDocumentRequest{SourceID: "big.txt", Text: strings.Repeat("x", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, KindTooLarge, decodeError(t, w).Kind)
}

func TestUploadDocument_EmbeddingFailure(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	s.embedder.SetFailing(true)

	w := s.do(t, http.MethodPost, "/v1/sessions/"+id+"/documents",
		datatypes.UploadDocumentRequest{SourceID: "a.txt", Text: testDocument()})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "embedding_provider", body.Kind)
	assert.NotContains(t, body.Error, "unreachable")

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.DocumentsTotal.WithLabelValues("error")))
}

func TestUploadDocument_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/v1/sessions/nope/documents",
		datatypes.UploadDocumentRequest{SourceID: "a.txt", Text: "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
