package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/model"
	"schooldesk/auth-identity/internal/service"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	User         model.Account `json:"user"`
	Profile      model.Profile `json:"profile"`
	Token        string        `json:"token"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    int64         `json:"expiresIn"`
}

type anonymousSession struct {
	Authenticated bool           `json:"authenticated"`
	User          *model.Account `json:"user,omitempty"`
}

func newSessionResponse(session service.Session) sessionResponse {
	return sessionResponse{
		User:         session.Account,
		Profile:      session.Profile,
		Token:        session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
		ExpiresIn:    session.Tokens.ExpiresIn,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	session, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusCreated, "User registered successfully", newSessionResponse(session))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required.")
		return
	}
	session, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "Login successful", newSessionResponse(session))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required.")
		return
	}
	pair, err := s.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "Token refreshed successfully", map[string]interface{}{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.AccountIDFrom(r.Context())
	if err := s.accounts.Logout(r.Context(), id); err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "Logout successful", nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.AccountIDFrom(r.Context())
	view, err := s.accounts.Me(r.Context(), id)
	if err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "", view)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req service.ChangePasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	id, _ := auth.AccountIDFrom(r.Context())
	if err := s.accounts.ChangePassword(r.Context(), id, req); err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "Password changed successfully", nil)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFrom(r.Context())
	if !ok {
		writeData(w, http.StatusOK, "", anonymousSession{Authenticated: false})
		return
	}
	writeData(w, http.StatusOK, "", anonymousSession{Authenticated: true, User: account})
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	view, err := s.accounts.Provision(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusCreated, "Account created successfully", view)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	view, err := s.accounts.GetAccount(r.Context(), id)
	if err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "", view)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	actor, _ := auth.AccountIDFrom(r.Context())
	if err := s.accounts.Deactivate(r.Context(), actor, id); err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "Account deactivated successfully", nil)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	actor, _ := auth.AccountIDFrom(r.Context())
	if err := s.accounts.Activate(r.Context(), actor, id); err != nil {
		writeServiceError(w, s.log, err)
		return
	}
	writeData(w, http.StatusOK, "Account activated successfully", nil)
}

func accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid account id.")
		return 0, false
	}
	return id, true
}
