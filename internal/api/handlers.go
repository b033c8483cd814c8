package api

import (
    "encoding/json"
    "io"
    "net/http"
    "strings"

    "github.com/gorilla/mux"

    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
    s.writeJSON(w, http.StatusOK, map[string]interface{}{
        "service":   s.config.App.Name,
        "version":   s.config.App.Version,
        "health":    "/health",
        "readiness": "/readiness",
        "metrics":   "/metrics",
        "api":       "/api/v1",
    })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
    report := s.health.Health(r.Context())
    s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
    report := s.health.Ready(r.Context())
    status := http.StatusOK
    if report.Status != "ok" {
        status = http.StatusServiceUnavailable
    }
    s.writeJSON(w, status, report)
}

// handleInteraction originates a call to the number in the path, with an
// optional JSON body overriding the configured routing defaults.
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
    if s.pipeline == nil {
        s.writeError(w, errors.New(errors.ErrConfiguration, "database disabled").WithStatusCode(http.StatusServiceUnavailable))
        return
    }

    var req models.CallRequest
    if err := decodeOptionalJSON(r, &req); err != nil {
        s.writeError(w, err)
        return
    }

    phoneNumber := mux.Vars(r)["number"]
    s.originate(w, r, phoneNumber, req)
}

// handleCreateCall is the RESTful alias taking the number in the body.
func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
    if s.pipeline == nil {
        s.writeError(w, errors.New(errors.ErrConfiguration, "database disabled").WithStatusCode(http.StatusServiceUnavailable))
        return
    }

    var req models.CallCreate
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        s.writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
        return
    }
    if req.PhoneNumber == "" {
        s.writeError(w, errors.New(errors.ErrValidation, "phone_number is required"))
        return
    }

    s.originate(w, r, req.PhoneNumber, req.CallRequest)
}

func (s *Server) originate(w http.ResponseWriter, r *http.Request, phoneNumber string, req models.CallRequest) {
    response, err := s.pipeline.Originate(r.Context(), phoneNumber, req)
    if err != nil {
        s.writeError(w, err)
        return
    }
    s.writeJSON(w, http.StatusOK, response)
}

// handleCallStatus serves the status lookup and its aliases.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
    if s.calls == nil {
        s.writeError(w, errors.New(errors.ErrConfiguration, "database disabled").WithStatusCode(http.StatusServiceUnavailable))
        return
    }

    callID := mux.Vars(r)["call_id"]
    call, err := s.calls.GetByCallID(r.Context(), callID)
    if err != nil {
        s.writeError(w, err)
        return
    }

    s.writeJSON(w, http.StatusOK, models.CallStatusResponse{
        CallID:        call.CallID,
        PhoneNumber:   call.PhoneNumber,
        Status:        strings.ToLower(string(call.Status)),
        Channel:       call.Channel,
        Context:       call.Context,
        Extension:     call.Extension,
        CallerID:      call.CallerID,
        CreatedAt:     call.CreatedAt,
        DialedAt:      call.DialedAt,
        AnsweredAt:    call.AnsweredAt,
        EndedAt:       call.EndedAt,
        Duration:      call.Duration,
        FailureReason: call.FailureReason,
        AttemptNumber: call.AttemptNumber,
        IsActive:      call.IsActive(),
        IsCompleted:   call.IsCompleted(),
    })
}

// decodeOptionalJSON decodes a JSON body when present; an empty body is fine.
func decodeOptionalJSON(r *http.Request, dst interface{}) error {
    if r.Body == nil {
        return nil
    }
    err := json.NewDecoder(r.Body).Decode(dst)
    if err == io.EOF {
        return nil
    }
    if err != nil {
        return errors.New(errors.ErrValidation, "invalid request body")
    }
    return nil
}
