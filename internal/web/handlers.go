package web

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
	"github.com/vitos/listing-sniper/internal/infrastructure/stream"
	"github.com/vitos/listing-sniper/internal/usecase"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Success: false, Code: status, Message: message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusView struct {
		Pipeline usecase.PipelineStatus   `json:"pipeline"`
		Stream   stream.Health            `json:"stream"`
		Risk     domain.RiskMetrics       `json:"risk"`
		Session  *domain.EmergencySession `json:"emergency_session,omitempty"`
	}
	s.respond(w, http.StatusOK, statusView{
		Pipeline: s.sniper.Status(),
		Stream:   s.stream.Health(),
		Risk:     s.safety.GetRiskMetrics(),
		Session:  s.emergency.ActiveSession(),
	})
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	s.sniper.Arm()
	s.respond(w, http.StatusOK, map[string]bool{"armed": true})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	s.sniper.Disarm()
	s.respond(w, http.StatusOK, map[string]bool{"armed": false})
}

func (s *Server) handlePatternHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	s.respond(w, http.StatusOK, s.sniper.History(symbol))
}

func (s *Server) handleMonitoringStart(w http.ResponseWriter, r *http.Request) {
	if err := s.safety.Start(); err != nil {
		if errors.Is(err, usecase.ErrAlreadyRunning) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"monitoring": true})
}

func (s *Server) handleMonitoringStop(w http.ResponseWriter, r *http.Request) {
	if err := s.safety.Stop(); err != nil {
		if errors.Is(err, usecase.ErrNotRunning) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"monitoring": false})
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	if err := s.safety.PerformRiskAssessment(r.Context()); err != nil {
		if errors.Is(err, usecase.ErrAssessmentBusy) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, s.safety.GetRiskMetrics())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	minSeverity := domain.AlertSeverity(r.URL.Query().Get("severity"))
	if minSeverity == "" {
		minSeverity = domain.SeverityLow
	}
	s.respond(w, http.StatusOK, s.safety.Alerts(minSeverity))
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.By == "" {
		s.respondError(w, http.StatusBadRequest, "field 'by' is required")
		return
	}
	if err := s.safety.AcknowledgeAlert(id, body.By); err != nil {
		if errors.Is(err, usecase.ErrAlertNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"acknowledged": id})
}

func (s *Server) handleClearAcked(w http.ResponseWriter, r *http.Request) {
	cleared := s.safety.ClearAcknowledgedAlerts()
	s.respond(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleOpenEmergency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Protocol string `json:"protocol"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		s.respondError(w, http.StatusBadRequest, "field 'reason' is required")
		return
	}
	if body.Protocol == "" {
		body.Protocol = "manual"
	}
	session, opened := s.emergency.OpenSession(body.Protocol, body.Reason)
	status := http.StatusCreated
	if !opened {
		status = http.StatusOK
	}
	s.respond(w, status, session)
}

func (s *Server) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		s.respondError(w, http.StatusBadRequest, "field 'session_id' is required")
		return
	}
	if err := s.emergency.Resolve(body.SessionID, body.Reason); err != nil {
		switch {
		case errors.Is(err, usecase.ErrSessionNotFound):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, usecase.ErrSessionResolved):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"resolved": body.SessionID})
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Level     int    `json:"level"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" || body.Level <= 0 {
		s.respondError(w, http.StatusBadRequest, "fields 'session_id' and 'level' are required")
		return
	}
	if body.Reason == "" {
		body.Reason = "manual escalation"
	}
	if err := s.emergency.Escalate(r.Context(), body.SessionID, body.Level, body.Reason); err != nil {
		switch {
		case errors.Is(err, usecase.ErrSessionNotFound):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, usecase.ErrSessionResolved), errors.Is(err, usecase.ErrLevelNotIncrease):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respond(w, http.StatusOK, map[string]int{"level": body.Level})
}

func (s *Server) handleTestChannels(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.emergency.TestChannels())
}
