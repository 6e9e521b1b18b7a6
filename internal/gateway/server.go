package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/admission"
	"github.com/quipgate/quipgate/internal/config"
	"github.com/quipgate/quipgate/internal/events"
	"github.com/quipgate/quipgate/internal/logger"
	"github.com/quipgate/quipgate/internal/monitor"
	"github.com/quipgate/quipgate/internal/store"
	"github.com/quipgate/quipgate/internal/web"
)

// Server is the HTTP front of the gateway: it runs every request through the
// admission controller and only then lets it reach the database.
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	store      *store.Store
	controller *admission.Controller
	monitor    *monitor.Monitor
	hub        *events.Hub
	router     *mux.Router
	server     *http.Server
}

// New wires the server and its routes.
func New(cfg *config.Config, log *logger.Logger, st *store.Store, controller *admission.Controller, mon *monitor.Monitor, hub *events.Hub) *Server {
	s := &Server{
		config:     cfg,
		logger:     log.WithComponent("gateway"),
		store:      st,
		controller: controller,
		monitor:    mon,
		hub:        hub,
		router:     mux.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.Events.Enabled {
		s.router.HandleFunc(s.config.Events.Path, s.hub.HandleWebSocket).Methods("GET")
		s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
		s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")
	}

	queryRouter := s.router.PathPrefix("/query").Subrouter()
	queryRouter.Use(s.loggingMiddleware)
	queryRouter.HandleFunc("", s.handleQuery).Methods("POST")

	adminRouter := s.router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(s.loggingMiddleware)
	adminRouter.HandleFunc("/protection", s.handleProtectionStats).Methods("GET")
	adminRouter.HandleFunc("/profiles", s.handleRiskProfiles).Methods("GET")
	adminRouter.HandleFunc("/load", s.handleLoadHistory).Methods("GET")
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting gateway server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("events_enabled", s.config.Events.Enabled))
	return s.server.ListenAndServe()
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}
