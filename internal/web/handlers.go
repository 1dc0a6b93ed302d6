// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/holomush/blackfortress/internal/account"
)

const (
	registeredMessage = "User registered successfully."
	loginMessage      = "Login successful."
)

type registerResponse struct {
	Message string          `json:"message"`
	User    account.Profile `json:"user"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	*account.LoginResult
}

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in account.RegisterInput
	if !s.decode(w, r, &in) {
		return
	}

	profile, err := s.cfg.Registrar.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, err, s.cfg.Now())
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Message: registeredMessage, User: *profile})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in loginRequest
	if !s.decode(w, r, &in) {
		return
	}

	result, err := s.cfg.Authenticator.Authenticate(r.Context(), in.Identifier, in.Password)
	if err != nil {
		writeServiceError(w, err, s.cfg.Now())
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Message: loginMessage, LoginResult: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	now := s.cfg.Now()
	resp := healthResponse{
		Status:    "OK",
		Version:   s.cfg.Version,
		Uptime:    now.Sub(s.startedAt).Seconds(),
		Timestamp: now.UTC(),
		Database:  "Connected",
	}
	status := http.StatusOK
	if s.cfg.Health != nil {
		if err := s.cfg.Health(r.Context()); err != nil {
			s.cfg.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			resp.Status = "Unavailable"
			resp.Database = "Disconnected"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst, writing the error response itself and
// returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorBody{Code: CodeBodyTooLarge, Message: tooLargeMessage})
			return false
		}
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: badRequestMessage})
		return false
	}
	return true
}
