package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jsonfox/draft-league-bot/internal/analytics"
	"github.com/jsonfox/draft-league-bot/internal/gateway"
	"github.com/jsonfox/draft-league-bot/internal/overlay"
	"github.com/jsonfox/draft-league-bot/internal/version"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// gatewaySource returns the gateway as an analytics source, or nil.
func (s *Server) gatewaySource() analytics.GatewaySource {
	if s.deps.Gateway == nil {
		return nil
	}
	return s.deps.Gateway
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "App is running")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	public := s.deps.Analytics.Public(s.gatewaySource())
	writeJSON(w, http.StatusOK, struct {
		analytics.PublicStatus
		Version version.Info `json:"version"`
	}{public, version.Get()})
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Get())
}

func (s *Server) handlePostOverlay(w http.ResponseWriter, r *http.Request) {
	var next overlay.State
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&next); err != nil {
		http.Error(w, "Invalid overlay data", http.StatusBadRequest)
		return
	}
	if err := s.deps.Store.Update(next); err != nil {
		http.Error(w, "Invalid overlay data", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Analytics.Combined(s.gatewaySource()))
}

func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Gateway.Health())
}

// withGateway answers 503 when the service runs without a gateway.
func (s *Server) withGateway(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Gateway == nil {
			writeError(w, http.StatusServiceUnavailable, "gateway disabled")
			return
		}
		fn(w, r)
	})
}

func (s *Server) handleGatewayOpen(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.OpenTimeout)
	defer cancel()

	err := s.deps.Gateway.Open(ctx)
	switch {
	case errors.Is(err, gateway.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrClientShutdown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.deps.Gateway.Health())
	}
}

// closeRequest is the optional body of POST /gateway/close.
type closeRequest struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Recover string `json:"recover"` // none, resume or reconnect
}

func parseRecoverMode(s string) (gateway.RecoverMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return gateway.RecoverNone, nil
	case "resume":
		return gateway.RecoverResume, nil
	case "reconnect":
		return gateway.RecoverReconnect, nil
	default:
		return 0, fmt.Errorf("unknown recover mode %q", s)
	}
}

func (s *Server) handleGatewayClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid close request")
			return
		}
	}
	mode, err := parseRecoverMode(req.Recover)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case mode == gateway.RecoverResume:
		// A resumable close must keep the remote session alive.
		req.Code = 0
	case req.Code != 0 && !validCloseCode(req.Code):
		writeError(w, http.StatusBadRequest, "invalid close code")
		return
	}
	if req.Reason == "" {
		req.Reason = "closed by operator"
	}

	s.logger.Info("closing gateway", "recover", mode, "reason", req.Reason)
	s.deps.Gateway.Close(gateway.CloseOptions{Code: req.Code, Reason: req.Reason, Recover: mode})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGatewayRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Gateway.Restart(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGatewayPresence(w http.ResponseWriter, r *http.Request) {
	var p gateway.Presence
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid presence")
		return
	}
	if err := s.deps.Gateway.UpdatePresence(r.Context(), p); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// validCloseCode accepts a normal closure or an application code.
func validCloseCode(code int) bool {
	return code == gateway.CloseNormal || (code >= 4000 && code <= 4999)
}
