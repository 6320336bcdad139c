package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"whatsrelay/internal/metrics"
	"whatsrelay/internal/middleware"
	"whatsrelay/internal/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router  *mux.Router
	cfg     *models.Config
	app     *app
	logger  *logrus.Logger
	verbose bool
	server  *http.Server
}

func NewServer(cfg *models.Config, a *app, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		cfg:     cfg,
		app:     a,
		logger:  logger,
		verbose: verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	trustProxy := s.cfg.Server.TrustProxy

	s.router.Use(middleware.Observability(s.logger, trustProxy))
	if s.verbose {
		detailed := middleware.DefaultDetailedLoggingConfig()
		detailed.TrustProxy = trustProxy
		s.router.Use(middleware.DetailedLogging(s.logger, detailed))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	webhook := s.router.NewRoute().Subrouter()
	webhook.Use(s.app.webhookLimiter.Middleware(trustProxy))
	webhook.HandleFunc("/webhook", s.handleVerifyWebhook()).Methods(http.MethodGet)
	webhook.HandleFunc("/webhook", s.handleWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.app.limiter.Middleware(trustProxy))
	api.HandleFunc("/chats", s.handleListChats()).Methods(http.MethodGet)
	api.HandleFunc("/chats/{wa_id}", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/respond", s.handleRespond()).Methods(http.MethodPost)
	api.HandleFunc("/send-image", s.handleSendImage()).Methods(http.MethodPost)
	api.HandleFunc("/mark-read", s.handleMarkRead()).Methods(http.MethodPost)

	prefix := strings.TrimRight(s.app.media.URLPrefix(), "/") + "/"
	s.router.PathPrefix(prefix).
		Handler(http.StripPrefix(prefix, noDirectoryListing(http.FileServer(http.Dir(s.app.media.Dir()))))).
		Methods(http.MethodGet, http.MethodHead)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
