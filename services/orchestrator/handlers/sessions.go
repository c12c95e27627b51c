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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
)

// sessionParam is the route parameter holding the session id.
const sessionParam = "sessionId"

// lookupSession resolves the route's session, resuming it from stored
// history when it is not live.
func lookupSession(c *gin.Context, manager *session.Manager) (*session.Context, bool) {
	sess, err := manager.Resume(c.Request.Context(), c.Param(sessionParam))
	if err != nil {
		respondError(c, "lookup_session", err)
		return nil, false
	}
	return sess, true
}

func CreateSession(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := manager.Create(c.Request.Context())
		if err != nil {
			respondError(c, "create_session", err)
			return
		}
		c.JSON(http.StatusCreated, datatypes.CreateSessionResponse{
			SessionID: sess.ID(),
			CreatedAt: sess.LastActive().UnixMilli(),
		})
	}
}

func GetSession(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := lookupSession(c, manager)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, sessionInfo(sess))
	}
}

func sessionInfo(sess *session.Context) datatypes.SessionInfo {
	info := datatypes.SessionInfo{
		SessionID:  sess.ID(),
		Documents:  []string{},
		TurnCount:  sess.TurnCount(),
		Busy:       sess.Busy(),
		LastActive: sess.LastActive().UnixMilli(),
	}
	for _, doc := range sess.Documents() {
		info.Documents = append(info.Documents, doc.SourceID)
		info.Chunks += doc.Chunks
	}
	if idx := sess.Index(); idx != nil {
		info.IndexSize = idx.Len()
	}
	return info
}

// GetSessionHistory returns the anonymized turns of a session.
func GetSessionHistory(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := lookupSession(c, manager)
		if !ok {
			return
		}
		turns := sess.History()
		if turns == nil {
			turns = []datatypes.Turn{}
		}
		c.JSON(http.StatusOK, datatypes.HistoryResponse{SessionID: sess.ID(), Turns: turns})
	}
}

// DeleteSession closes a session. With ?purge=true its stored history is
// deleted as well.
func DeleteSession(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(sessionParam)
		purge, err := strconv.ParseBool(c.DefaultQuery("purge", "false"))
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "purge must be true or false",
				Kind:  KindInvalidRequest,
			})
			return
		}
		if err := manager.Close(c.Request.Context(), id, purge); err != nil {
			respondError(c, "delete_session", err)
			return
		}
		slog.Info("session deleted", "session_id", id, "purge", purge)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id, "purged": purge})
	}
}
