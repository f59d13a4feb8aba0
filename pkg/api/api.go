// Package api exposes the HTTP surface of the chat service: REST session
// endpoints, the WebSocket upgrade, attachment upload and serving, and the
// admin/dev helpers. Handlers translate transport concerns into coordinator
// commands and map domain errors onto HTTP statuses.
package api

import (
	"net/http"
	"strconv"
	"time"

	"chatwire/pkg/auth"
	"chatwire/pkg/config"
	"chatwire/pkg/gateway"
	"chatwire/pkg/logger"
	"chatwire/pkg/models"
	"chatwire/pkg/session"
	"chatwire/pkg/utils"

	"github.com/gorilla/mux"
)

// Deps carries the live components the handlers need. Register keeps them
// package-wide, the same way the store and logger are reached.
type Deps struct {
	Coord          *session.Coordinator
	Hub            *gateway.Hub
	Chat           config.ChatConfig
	AllowedOrigins []string
	// TokenTTL bounds dev-minted bearer tokens
	TokenTTL time.Duration
}

var deps Deps

// Register mounts every chat API route onto r. The caller wraps the router
// with the authentication middleware, so handlers can assume a verified
// identity in the request context.
func Register(r *mux.Router, d Deps) {
	deps = d

	// Session collection and single-resource routes
	r.HandleFunc("/v1/sessions", createSession).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions", listSessions).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}", getSession).Methods(http.MethodGet)

	// Session-scoped message history and uploads
	r.HandleFunc("/v1/sessions/{id}/messages", listSessionMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{id}/attachments", uploadAttachments).Methods(http.MethodPost)
	r.HandleFunc("/v1/files/{id}/{name}", serveFile).Methods(http.MethodGet)

	// The persistent event connection
	r.HandleFunc("/v1/ws", serveWS).Methods(http.MethodGet)

	// Dev token mint and admin counters
	r.HandleFunc("/v1/auth/token", devToken).Methods(http.MethodPost)
	r.Handle("/v1/admin/stats", auth.RequireAction(auth.ActionAdmin, http.HandlerFunc(adminStats))).Methods(http.MethodGet)

	logger.Info("api_routes_registered")
}

// identity pulls the verified caller from the request context and writes a
// 401 when the middleware did not run.
func identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "authentication required")
	}
	return id, ok
}

// queryLimit parses the limit query parameter, falling back to def and
// clamping to max.
func queryLimit(r *http.Request, def, max int) int {
	if def <= 0 {
		def = 50
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
