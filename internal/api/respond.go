package api

import (
    "encoding/json"
    "net/http"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

type errorBody struct {
    Detail string `json:"detail"`
    Code   string `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    if err := json.NewEncoder(w).Encode(payload); err != nil {
        logger.WithError(err).Error("Failed to encode response")
    }
}

// writeError renders an AppError with the HTTP status its code implies.
// Unknown errors are reported as opaque 500s.
func (s *Server) writeError(w http.ResponseWriter, err error) {
    appErr, ok := err.(*errors.AppError)
    if !ok {
        logger.WithError(err).Error("Unhandled error")
        s.writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal server error"})
        return
    }

    s.writeJSON(w, statusForCode(appErr), errorBody{
        Detail: appErr.Message,
        Code:   string(appErr.Code),
    })
}

func statusForCode(appErr *errors.AppError) int {
    switch appErr.Code {
    case errors.ErrValidation:
        return http.StatusBadRequest
    case errors.ErrAuthFailed, errors.ErrTokenInvalid, errors.ErrTokenRevoked:
        return http.StatusUnauthorized
    case errors.ErrCallNotFound:
        return http.StatusNotFound
    case errors.ErrRateLimited, errors.ErrLockedOut:
        return http.StatusTooManyRequests
    default:
        if appErr.StatusCode != 0 {
            return appErr.StatusCode
        }
        return http.StatusInternalServerError
    }
}
