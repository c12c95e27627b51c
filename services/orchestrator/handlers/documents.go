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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
)

// uploadFormField is the multipart field carrying the file.
const uploadFormField = "file"

// errUnsupportedType rejects uploads that are not plain text.
var errUnsupportedType = errors.New("only text/plain documents are supported")

// UploadDocument ingests a document into the session index.
//
// # Description
//
// Accepts either a JSON body (datatypes.UploadDocumentRequest) or a
// multipart form with the text file in the "file" field. The body is
// capped at maxBytes. Multipart files must be text/plain and all text must
// be valid UTF-8.
//
// # Outputs
//
//   - 201 with datatypes.UploadDocumentResponse.
//   - 400 for empty or invalid text, 413 over the cap, 415 for other
//     media types, 502 when the embedding provider fails.
func UploadDocument(manager *session.Manager, service *services.DocQAService, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := lookupSession(c, manager)
		if !ok {
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		req, err := readUpload(c)
		if err != nil {
			rejectUpload(c, err, maxBytes)
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, "upload_document", fmt.Errorf("%w: %w", services.ErrInvalidRequest, err))
			return
		}

		info, err := service.Ingest(c.Request.Context(), sess, datatypes.Document{
			SourceID: req.SourceID,
			Text:     req.Text,
		})
		if err != nil {
			respondError(c, "upload_document", err)
			return
		}
		c.JSON(http.StatusCreated, datatypes.UploadDocumentResponse{
			SessionID:  sess.ID(),
			SourceID:   info.SourceID,
			ChunkCount: info.Chunks,
			IndexSize:  info.IndexSize,
		})
	}
}

func readUpload(c *gin.Context) (*datatypes.UploadDocumentRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		return readMultipartUpload(c)
	}

	var req datatypes.UploadDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}
	if !utf8.ValidString(req.Text) {
		return nil, fmt.Errorf("%w: document is not valid UTF-8", services.ErrInvalidRequest)
	}
	return &req, nil
}

func readMultipartUpload(c *gin.Context) (*datatypes.UploadDocumentRequest, error) {
	fh, err := c.FormFile(uploadFormField)
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if !isPlainText(fh.Header.Get("Content-Type"), data) {
		return nil, errUnsupportedType
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: document is not valid UTF-8", services.ErrInvalidRequest)
	}
	return &datatypes.UploadDocumentRequest{
		SourceID: filepath.Base(fh.Filename),
		Text:     string(data),
	}, nil
}

// isPlainText accepts a declared text/plain part, or an undeclared one
// whose content sniffs as text/plain.
func isPlainText(declared string, data []byte) bool {
	if declared != "" && declared != "application/octet-stream" {
		mediaType, _, err := mime.ParseMediaType(declared)
		return err == nil && mediaType == "text/plain"
	}
	return strings.HasPrefix(http.DetectContentType(data), "text/plain")
}

func rejectUpload(c *gin.Context, err error, maxBytes int64) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		slog.Warn("document upload too large", "limit_bytes", maxBytes)
		c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{
			Error: fmt.Sprintf("document exceeds the %d MB limit", maxBytes>>20),
			Kind:  KindTooLarge,
		})
	case errors.Is(err, errUnsupportedType):
		c.JSON(http.StatusUnsupportedMediaType, datatypes.ErrorResponse{
			Error: err.Error(),
			Kind:  KindUnsupportedType,
		})
	case errors.Is(err, services.ErrInvalidRequest):
		respondError(c, "upload_document", err)
	default:
		respondError(c, "upload_document", fmt.Errorf("%w: %w", services.ErrInvalidRequest, err))
	}
}
