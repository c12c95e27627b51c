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
	"fmt"
	"net/http"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
)

// bindChatRequest decodes the JSON question body.
func bindChatRequest(c *gin.Context) (*datatypes.ChatRequest, error) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}
	return &req, nil
}

// AskQuestion answers one question and returns the full response as JSON.
//
// Failures carry the turn state reached in ErrorResponse.State. History is
// only extended when the answer was delivered.
func AskQuestion(manager *session.Manager, service *services.DocQAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := lookupSession(c, manager)
		if !ok {
			return
		}
		req, err := bindChatRequest(c)
		if err != nil {
			respondError(c, "ask", err)
			return
		}
		resp, err := service.Answer(c.Request.Context(), sess, req)
		if err != nil {
			respondError(c, "ask", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
