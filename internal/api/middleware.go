package api

import (
    "context"
    "crypto/sha256"
    "encoding/hex"
    "fmt"
    "net"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

type contextKey string

const (
    requestIDKey contextKey = "request_id"
    usernameKey  contextKey = "username"
)

const maxBodyBytes = 1 << 20 // 1 MB

// requestIDMiddleware attaches an X-Request-ID, passing through a caller
// supplied one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        requestID := r.Header.Get("X-Request-ID")
        if requestID == "" {
            requestID = uuid.NewString()
        }
        w.Header().Set("X-Request-ID", requestID)
        ctx := context.WithValue(r.Context(), requestIDKey, requestID)
        next.ServeHTTP(w, r.WithContext(ctx))
    })
}

// corsMiddleware applies the configured origin allowlist.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        origin := r.Header.Get("Origin")
        if origin != "" && s.originAllowed(origin) {
            w.Header().Set("Access-Control-Allow-Origin", origin)
            w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
            w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
        }
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

func (s *Server) originAllowed(origin string) bool {
    for _, allowed := range s.config.HTTP.AllowedOrigins {
        if allowed == "*" || strings.EqualFold(allowed, origin) {
            return true
        }
    }
    return false
}

// bodyLimitMiddleware caps request bodies.
func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
        }
        next.ServeHTTP(w, r)
    })
}

// authMiddleware validates the bearer access token and stores the subject in
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        authHeader := r.Header.Get("Authorization")
        if authHeader == "" {
            s.writeError(w, errors.New(errors.ErrAuthFailed, "authentication required").WithStatusCode(http.StatusUnauthorized))
            return
        }

        parts := strings.SplitN(authHeader, " ", 2)
        if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
            s.writeError(w, errors.New(errors.ErrAuthFailed, "invalid authorization header").WithStatusCode(http.StatusUnauthorized))
            return
        }

        claims, err := s.tokens.Verify(r.Context(), parts[1], "access")
        if err != nil {
            s.writeError(w, err)
            return
        }

        ctx := context.WithValue(r.Context(), usernameKey, claims.Subject)
        next.ServeHTTP(w, r.WithContext(ctx))
    })
}

// rateLimitMiddleware admits requests through the KV sliding window. The
// window fails open: if the KV store is down, requests pass.
func (s *Server) rateLimitMiddleware(endpoint string, limit int, window time.Duration, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        identity := clientIdentity(r)
        key := fmt.Sprintf("ratelimit:%s:%s", endpoint, identity)

        allowed, remaining := s.kv.SlidingWindowAdmit(r.Context(), key, limit, window)

        w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
        w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
        w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

        if !allowed {
            w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
            s.metrics.IncrementCounter("ratelimit_rejections", map[string]string{"endpoint": endpoint})
            logger.WithField("endpoint", endpoint).WithField("client", identity).Warn("Rate limit exceeded")
            s.writeError(w, errors.New(errors.ErrRateLimited, "Too many requests").WithStatusCode(http.StatusTooManyRequests))
            return
        }

        next.ServeHTTP(w, r)
    })
}

// clientIdentity derives the rate-limit key: first X-Forwarded-For entry (or
// the socket address) plus a short hash of the user agent.
func clientIdentity(r *http.Request) string {
    ip := clientIP(r)

    hash := sha256.Sum256([]byte(r.UserAgent()))
    return ip + ":" + hex.EncodeToString(hash[:])[:8]
}

// clientIP is the caller address used for brute-force lockout.
func clientIP(r *http.Request) string {
    if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
        if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
            return first
        }
    }
    host, _, err := net.SplitHostPort(r.RemoteAddr)
    if err != nil {
        return r.RemoteAddr
    }
    return host
}

func requestIDFromContext(ctx context.Context) string {
    id, _ := ctx.Value(requestIDKey).(string)
    return id
}

func usernameFromContext(ctx context.Context) string {
    username, _ := ctx.Value(usernameKey).(string)
    return username
}
