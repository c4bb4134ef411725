package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/service"
)

const (
	msgNoToken         = "Access denied. No token provided."
	msgTokenExpired    = "Token expired."
	msgTokenInvalid    = "Invalid token."
	msgAccountNotFound = "Invalid token. Account not found."
	msgAuthRequired    = "Authentication required."
	msgForbidden       = "Access denied. Insufficient permissions."
	msgBadCredentials  = "Invalid email or password."
	msgInternal        = "Internal server error."
	msgTooManyRequests = "Too many requests, please try again later."
	msgInvalidBody     = "Invalid request body."
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// writeServiceError maps an error from the auth flows onto a status and a
// client-safe message. Anything unclassified is logged and reported as 500.
func writeServiceError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, msgTokenExpired)
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, msgTokenInvalid)
	case errors.Is(err, service.ErrAccountNotFound):
		writeError(w, http.StatusUnauthorized, msgAccountNotFound)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
	case errors.Is(err, errors.Unauthorized):
		writeError(w, http.StatusUnauthorized, clientMessage(err, errors.Unauthorized))
	case errors.Is(err, errors.Forbidden):
		writeError(w, http.StatusForbidden, clientMessage(err, errors.Forbidden))
	case errors.Is(err, errors.AlreadyExists):
		writeError(w, http.StatusConflict, clientMessage(err, ""))
	case errors.Is(err, errors.BadRequest):
		writeError(w, http.StatusBadRequest, clientMessage(err, errors.BadRequest))
	case errors.Is(err, errors.NotValid):
		writeError(w, http.StatusBadRequest, clientMessage(err, ""))
	case errors.Is(err, errors.NotFound):
		writeError(w, http.StatusNotFound, clientMessage(err, ""))
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func clientMessage(err error, kind errors.ConstError) string {
	message := err.Error()
	if kind != "" {
		message = strings.TrimSuffix(message, " "+string(kind))
	}
	if message == "" {
		return msgInternal
	}
	return strings.ToUpper(message[:1]) + message[1:]
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
