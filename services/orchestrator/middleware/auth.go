// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the DocQA API.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► authenticator.Authenticate(ctx, token)
//	   │
//	   └─► Store Principal in context
//	           │
//	           ▼
//	       Handler (retrieves via GetPrincipal)
//
// Without a configured token every request is served as "local-user",
// which keeps the local single-user setup working with no credentials.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrUnauthorized is returned by an Authenticator that rejects a token.
var ErrUnauthorized = errors.New("unauthorized")

// principalKey is the gin context key holding the Principal.
const principalKey = "aleutian_docqa_principal"

// Principal identifies the caller of a request.
type Principal struct {
	UserID string
}

// Authenticator validates a bearer token.
type Authenticator interface {
	// Authenticate returns the caller for token. An empty token means the
	// header was missing or malformed.
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// NopAuthenticator accepts every request as the local user.
type NopAuthenticator struct{}

func (NopAuthenticator) Authenticate(context.Context, string) (*Principal, error) {
	return &Principal{UserID: "local-user"}, nil
}

// StaticTokenAuthenticator accepts exactly one shared token.
type StaticTokenAuthenticator struct {
	token []byte
}

func NewStaticTokenAuthenticator(token string) *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{token: []byte(token)}
}

func (a *StaticTokenAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" || subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
		return nil, ErrUnauthorized
	}
	return &Principal{UserID: "api-token"}, nil
}

// FromToken returns a StaticTokenAuthenticator for a non-empty token and a
// NopAuthenticator otherwise.
func FromToken(token string) Authenticator {
	if token == "" {
		return NopAuthenticator{}
	}
	return NewStaticTokenAuthenticator(token)
}

// SetPrincipal stores the caller in the gin context.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal returns the caller stored by AuthMiddleware, or nil.
func GetPrincipal(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

// AuthMiddleware rejects requests the authenticator does not accept with
// 401 and stores the Principal for the handlers otherwise.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := authenticator.Authenticate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				slog.Error("authentication failed", "error", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		SetPrincipal(c, principal)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The scheme is
// case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
