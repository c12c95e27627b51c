// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators the routes are wired to.
//
// # Fields
//
//   - Manager, Service: Required.
//   - Metrics: May be nil.
//   - Gatherer: Source for /metrics. Defaults to prometheus.DefaultGatherer.
//   - Authenticator: Guards /v1. Defaults to middleware.NopAuthenticator.
//   - MaxUploadBytes: Document size cap.
//   - Streaming: Extra options for the SSE handler.
type Dependencies struct {
	Manager        *session.Manager
	Service        *services.DocQAService
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	Authenticator  middleware.Authenticator
	MaxUploadBytes int64
	Streaming      []handlers.StreamingOption
}

// SetupRoutes registers the DocQA API on router. It panics when a required
// dependency is missing.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	if deps.Manager == nil {
		panic("routes: session manager is required")
	}
	if deps.Service == nil {
		panic("routes: DocQA service is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Authenticator == nil {
		deps.Authenticator = middleware.NopAuthenticator{}
	}

	router.GET("/health", handlers.HealthCheck(deps.Manager, deps.Service))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	streaming := handlers.NewStreamingChatHandler(deps.Manager, deps.Service, deps.Metrics, deps.Streaming...)

	// API version 1 group
	v1 := router.Group("/v1", middleware.AuthMiddleware(deps.Authenticator))
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(deps.Manager))
			sessions.GET("/:sessionId", handlers.GetSession(deps.Manager))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.Manager))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(deps.Manager))
			sessions.POST("/:sessionId/documents", handlers.UploadDocument(deps.Manager, deps.Service, deps.MaxUploadBytes))
			sessions.POST("/:sessionId/ask", handlers.AskQuestion(deps.Manager, deps.Service))
			sessions.POST("/:sessionId/ask/stream", streaming.HandleAskStream)
		}
	}
}
