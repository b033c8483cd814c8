package api

import (
    "context"
    "fmt"
    "net/http"
    "time"

    "github.com/gorilla/mux"

    "github.com/hamzaKhattat/contact-center-api/internal/config"
    "github.com/hamzaKhattat/contact-center-api/internal/health"
    "github.com/hamzaKhattat/contact-center-api/internal/kv"
    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/internal/token"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

// PipelineInterface is the origination surface the API drives.
type PipelineInterface interface {
    Originate(ctx context.Context, phoneNumber string, req models.CallRequest) (*models.CallResponse, error)
}

// CallReader provides read access to call records.
type CallReader interface {
    GetByCallID(ctx context.Context, callID string) (*models.Call, error)
}

// UserStoreInterface authenticates operators.
type UserStoreInterface interface {
    GetActiveByUsername(ctx context.Context, username string) (*models.User, error)
    VerifyPassword(user *models.User, password string) bool
}

// MetricsInterface defines metrics operations
type MetricsInterface interface {
    IncrementCounter(name string, labels map[string]string)
    Handler() http.Handler
}

// Server is the HTTP surface: token issuing, origination, status lookups and
// probes, behind the middleware chain in middleware.go.
type Server struct {
    config   *config.Config
    pipeline PipelineInterface
    calls    CallReader
    users    UserStoreInterface
    tokens   *token.Service
    kv       *kv.Store
    health   *health.Service
    metrics  MetricsInterface

    httpServer *http.Server
}

func NewServer(cfg *config.Config, pipeline PipelineInterface, calls CallReader,
    users UserStoreInterface, tokens *token.Service, kvStore *kv.Store,
    healthService *health.Service, metrics MetricsInterface) *Server {
    s := &Server{
        config:   cfg,
        pipeline: pipeline,
        calls:    calls,
        users:    users,
        tokens:   tokens,
        kv:       kvStore,
        health:   healthService,
        metrics:  metrics,
    }

    s.httpServer = &http.Server{
        Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddress, cfg.HTTP.Port),
        Handler:      s.Router(),
        ReadTimeout:  15 * time.Second,
        WriteTimeout: 30 * time.Second,
        IdleTimeout:  60 * time.Second,
    }

    return s
}

// Router builds the full route table. Exported so tests can drive the mux
// without binding a socket.
func (s *Server) Router() *mux.Router {
    r := mux.NewRouter()

    r.Use(s.requestIDMiddleware)
    r.Use(s.corsMiddleware)
    r.Use(s.bodyLimitMiddleware)

    r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
    r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
    r.HandleFunc("/readiness", s.handleReadiness).Methods(http.MethodGet)
    r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

    v1 := r.PathPrefix("/api/v1").Subrouter()

    v1.Handle("/token",
        s.rateLimitMiddleware("token", 5, time.Minute,
            http.HandlerFunc(s.handleToken))).Methods(http.MethodPost)
    v1.HandleFunc("/token/refresh", s.handleTokenRefresh).Methods(http.MethodPost)
    v1.HandleFunc("/token/revoke", s.handleTokenRevoke).Methods(http.MethodPost)

    originate := s.rateLimitMiddleware("origination",
        s.config.RateLimit.Requests, s.config.RateLimit.Window,
        s.authMiddleware(http.HandlerFunc(s.handleInteraction)))
    v1.Handle("/interaction/{number}", originate).Methods(http.MethodPost)

    originateJSON := s.rateLimitMiddleware("origination",
        s.config.RateLimit.Requests, s.config.RateLimit.Window,
        s.authMiddleware(http.HandlerFunc(s.handleCreateCall)))
    v1.Handle("/calls", originateJSON).Methods(http.MethodPost)

    status := s.authMiddleware(http.HandlerFunc(s.handleCallStatus))
    v1.Handle("/calls/{call_id}", status).Methods(http.MethodGet)
    v1.Handle("/status/{call_id}", status).Methods(http.MethodGet)
    v1.Handle("/interaction/{call_id}/status", status).Methods(http.MethodGet)

    return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
    logger.WithField("addr", s.httpServer.Addr).Info("API server started")
    if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        return err
    }
    return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
    return s.httpServer.Shutdown(ctx)
}
