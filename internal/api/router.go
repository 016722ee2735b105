// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the HTTP server: REST endpoints, the WebSocket
// upgrade path, middleware, and TLS.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tailscale/tscert"

	"github.com/tiagoefreitas/agentboard/internal/api/handlers"
	"github.com/tiagoefreitas/agentboard/internal/api/middleware"
	"github.com/tiagoefreitas/agentboard/internal/hub"
)

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Host         string
	Port         int
	TLSCert      string // path to TLS certificate file
	TLSKey       string // path to TLS private key file
	TLSTailscale bool   // fetch certificates from the local tailscaled
}

// Dependencies holds collaborators for the REST handlers and the hub.
type Dependencies struct {
	Registry    handlers.Snapshotter
	Store       handlers.SessionLookup
	Settings    handlers.SettingsStore
	Tmux        handlers.OptionSetter
	Hub         *hub.Hub
	BaseSession string

	// OnMaxAgeChange propagates the inactive-age setting to the registry.
	OnMaxAgeChange func(hours int)
}

// NewRouter creates the API router.
func NewRouter(cfg ServerConfig, deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	tlsEnabled := cfg.TLSTailscale || (cfg.TLSCert != "" && cfg.TLSKey != "")
	systemHandler := handlers.NewSystemHandler(cfg.Port, tlsEnabled)
	sessionsHandler := handlers.NewSessionsHandler(deps.Registry, deps.Store)
	directoriesHandler := handlers.NewDirectoriesHandler()
	settingsHandler := handlers.NewSettingsHandler(deps.Settings, deps.Tmux, deps.BaseSession)
	settingsHandler.OnMaxAgeChange = deps.OnMaxAgeChange

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", systemHandler.Health).Methods("GET")
	api.HandleFunc("/server-info", systemHandler.ServerInfo).Methods("GET")
	api.HandleFunc("/sessions", sessionsHandler.List).Methods("GET")
	api.HandleFunc("/session-preview/{sessionId}", sessionsHandler.Preview).Methods("GET")
	api.HandleFunc("/directories", directoriesHandler.List).Methods("GET")
	api.HandleFunc("/settings/tmux-mouse-mode", settingsHandler.GetMouseMode).Methods("GET")
	api.HandleFunc("/settings/tmux-mouse-mode", settingsHandler.PutMouseMode).Methods("PUT")
	api.HandleFunc("/settings/inactive-max-age-hours", settingsHandler.GetInactiveMaxAge).Methods("GET")
	api.HandleFunc("/settings/inactive-max-age-hours", settingsHandler.PutInactiveMaxAge).Methods("PUT")

	if deps.Hub != nil {
		r.HandleFunc("/ws", deps.Hub.ServeWS).Methods("GET")
	}

	return r
}

// Server is the HTTP server plus the hub it must drain on shutdown.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	hub    *hub.Hub
	server *http.Server
}

// NewServer creates the API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(cfg, deps),
		cfg:    cfg,
		hub:    deps.Hub,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. TLS comes from cert/key files or from
// the local Tailscale daemon when tls_tailscale is set.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	if s.cfg.TLSTailscale {
		s.server.TLSConfig = &tls.Config{
			GetCertificate: tscert.GetCertificate,
		}
		log.Printf("API server listening on https://%s (Tailscale TLS)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}
	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown drains WebSocket connections, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Shutdown(ctx)
	}

	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
