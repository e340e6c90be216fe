package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/infrastructure/stream"
	"github.com/vitos/listing-sniper/internal/usecase"
)

// Server exposes the operational API: pipeline status, alert management,
// risk assessment control and the emergency endpoints.
type Server struct {
	router    *mux.Router
	server    *http.Server
	sniper    *usecase.SniperService
	safety    *usecase.SafetyCoordinator
	emergency *usecase.EmergencyService
	stream    *stream.Manager
	logger    *zap.Logger
}

func NewServer(
	port int,
	sniper *usecase.SniperService,
	safety *usecase.SafetyCoordinator,
	emergency *usecase.EmergencyService,
	streamMgr *stream.Manager,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		sniper:    sniper,
		safety:    safety,
		emergency: emergency,
		stream:    streamMgr,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.recoveryMiddleware, s.loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/sniper/arm", s.handleArm).Methods(http.MethodPost)
	api.HandleFunc("/sniper/disarm", s.handleDisarm).Methods(http.MethodPost)
	api.HandleFunc("/patterns/{symbol}/history", s.handlePatternHistory).Methods(http.MethodGet)

	api.HandleFunc("/monitoring/start", s.handleMonitoringStart).Methods(http.MethodPost)
	api.HandleFunc("/monitoring/stop", s.handleMonitoringStop).Methods(http.MethodPost)
	api.HandleFunc("/assessment", s.handleAssessment).Methods(http.MethodPost)

	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/ack", s.handleAckAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/clear-acked", s.handleClearAcked).Methods(http.MethodPost)

	api.HandleFunc("/emergency", s.handleOpenEmergency).Methods(http.MethodPost)
	api.HandleFunc("/emergency/resolve", s.handleResolveEmergency).Methods(http.MethodPost)
	api.HandleFunc("/emergency/escalate", s.handleEscalate).Methods(http.MethodPost)
	api.HandleFunc("/emergency/channels", s.handleTestChannels).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
