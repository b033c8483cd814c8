package api

import (
    "encoding/json"
    "net/http"
    "strconv"
    "time"

    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/internal/token"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

const failureCounterTTL = time.Hour

// handleToken exchanges form credentials for a token pair. Repeated failures
// from one address trip a lockout before any credential check runs.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
    if s.users == nil {
        s.writeError(w, errors.New(errors.ErrConfiguration, "database disabled").WithStatusCode(http.StatusServiceUnavailable))
        return
    }

    ip := clientIP(r)

    if retryAfter, locked := s.lockoutRemaining(r, ip); locked {
        w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
        s.metrics.IncrementCounter("auth_attempts", map[string]string{"result": "locked"})
        s.writeError(w, errors.New(errors.ErrLockedOut, "Too many failed login attempts").WithStatusCode(http.StatusTooManyRequests))
        return
    }

    if err := r.ParseForm(); err != nil {
        s.writeError(w, errors.New(errors.ErrValidation, "invalid form body"))
        return
    }
    username := r.PostFormValue("username")
    password := r.PostFormValue("password")
    if username == "" || password == "" {
        s.writeError(w, errors.New(errors.ErrValidation, "username and password are required"))
        return
    }

    user, err := s.users.GetActiveByUsername(r.Context(), username)
    if err != nil || !s.users.VerifyPassword(user, password) {
        s.trackAuthFailure(r, ip, username)
        s.metrics.IncrementCounter("auth_attempts", map[string]string{"result": "failure"})
        s.writeError(w, errors.New(errors.ErrAuthFailed, "Incorrect username or password").WithStatusCode(http.StatusUnauthorized))
        return
    }

    // Successful login clears the failure counter
    if err := s.kv.Delete(r.Context(), failureKey(username, ip)); err != nil {
        logger.WithError(err).Warn("Failed to reset login failure counter")
    }

    pair, err := s.tokens.IssuePair(user.Username)
    if err != nil {
        s.writeError(w, err)
        return
    }

    s.metrics.IncrementCounter("auth_attempts", map[string]string{"result": "success"})
    logger.WithField("username", user.Username).Info("Token issued")

    s.writeJSON(w, http.StatusOK, models.TokenResponse{
        AccessToken:  pair.AccessToken,
        RefreshToken: pair.RefreshToken,
        TokenType:    "bearer",
        ExpiresIn:    pair.ExpiresIn,
    })
}

// lockoutRemaining reports an active lockout and its remaining seconds.
// Fails open on KV errors, same as the rate limiter.
func (s *Server) lockoutRemaining(r *http.Request, ip string) (int, bool) {
    ttl, err := s.kv.TTL(r.Context(), "login:lockout:"+ip)
    if err != nil || ttl <= 0 {
        return 0, false
    }
    return int(ttl.Seconds()), true
}

// trackAuthFailure bumps the per-address failure counter and installs the
// lockout once the threshold is reached.
func (s *Server) trackAuthFailure(r *http.Request, ip, username string) {
    count, err := s.kv.IncrementWithTTL(r.Context(), failureKey(username, ip), failureCounterTTL)
    if err != nil {
        logger.WithError(err).Warn("Failed to track login failure")
        return
    }

    log := logger.WithField("username", username).WithField("ip", ip).WithField("failures", count)
    log.Warn("Failed login attempt")

    if count >= int64(s.config.Auth.MaxFailedLogins) {
        if err := s.kv.SetWithTTL(r.Context(), "login:lockout:"+ip, "1", s.config.Auth.LockoutDuration); err != nil {
            logger.WithError(err).Error("Failed to install login lockout")
            return
        }
        log.Warn("Login lockout installed")
    }
}

func failureKey(username, ip string) string {
    return "login:failures:" + username + ":" + ip
}

type refreshRequest struct {
    RefreshToken string `json:"refresh_token"`
}

// handleTokenRefresh rotates a refresh token into a new pair.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
    var req refreshRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
        s.writeError(w, errors.New(errors.ErrValidation, "refresh_token is required"))
        return
    }

    pair, err := s.tokens.Refresh(r.Context(), req.RefreshToken)
    if err != nil {
        s.writeError(w, err)
        return
    }

    s.writeJSON(w, http.StatusOK, models.TokenResponse{
        AccessToken:  pair.AccessToken,
        RefreshToken: pair.RefreshToken,
        TokenType:    "bearer",
        ExpiresIn:    pair.ExpiresIn,
    })
}

type revokeRequest struct {
    Token     string `json:"token"`
    TokenType string `json:"token_type"`
}

// handleTokenRevoke blacklists a token for its remaining lifetime.
func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
    var req revokeRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
        s.writeError(w, errors.New(errors.ErrValidation, "token is required"))
        return
    }
    if req.TokenType == "" {
        req.TokenType = token.TypeAccess
    }
    if req.TokenType != token.TypeAccess && req.TokenType != token.TypeRefresh {
        s.writeError(w, errors.New(errors.ErrValidation, "token_type must be access or refresh"))
        return
    }

    if err := s.tokens.Revoke(r.Context(), req.Token, req.TokenType); err != nil {
        s.writeError(w, err)
        return
    }

    s.writeJSON(w, http.StatusOK, map[string]string{"detail": "token revoked"})
}
