package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/Tutortoise/leafdx/classifier"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	State  string `json:"state"`
	Uptime string `json:"uptime"`
}

type monitor struct {
	svc     *classifier.Service
	logger  *log.Entry
	started time.Time
}

func newMonitorRouter(svc *classifier.Service, logger *log.Entry) *mux.Router {
	m := &monitor{svc: svc, logger: logger.WithField("component", "monitor"), started: time.Now()}
	r := mux.NewRouter()
	m.addMonitoringRoutes(r)
	return r
}

func (m *monitor) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", m.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", m.handleMetrics).Methods("GET")
}

func (m *monitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := m.svc.State()
	if state != classifier.Ready {
		m.sendErrorResponse(w, "not_ready", MsgNotReady, state.String(), http.StatusServiceUnavailable)
		return
	}
	m.sendJSON(w, http.StatusOK, HealthResponse{
		State:  state.String(),
		Uptime: time.Since(m.started).Round(time.Second).String(),
	})
}

func (m *monitor) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m.sendJSON(w, http.StatusOK, m.svc.Stats())
}

func (m *monitor) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.WithError(err).Error("Failed to encode response")
	}
}

func (m *monitor) sendErrorResponse(w http.ResponseWriter, code, message, details string, status int) {
	m.sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func startMonitor(addr string, handler http.Handler, logger *log.Entry) *http.Server {
	srv := &http.Server{
		Handler:      handler,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("Starting monitoring server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Monitoring server stopped")
		}
	}()
	return srv
}
