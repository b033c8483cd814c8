package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/hamzaKhattat/contact-center-api/internal/api"
    "github.com/hamzaKhattat/contact-center-api/internal/ari"
    "github.com/hamzaKhattat/contact-center-api/internal/breaker"
    "github.com/hamzaKhattat/contact-center-api/internal/config"
    "github.com/hamzaKhattat/contact-center-api/internal/db"
    "github.com/hamzaKhattat/contact-center-api/internal/health"
    "github.com/hamzaKhattat/contact-center-api/internal/kv"
    "github.com/hamzaKhattat/contact-center-api/internal/metrics"
    "github.com/hamzaKhattat/contact-center-api/internal/pipeline"
    "github.com/hamzaKhattat/contact-center-api/internal/reconciler"
    "github.com/hamzaKhattat/contact-center-api/internal/store"
    "github.com/hamzaKhattat/contact-center-api/internal/token"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

var verbose bool

func main() {
    rootCmd := &cobra.Command{
        Use:   "contact-center-api",
        Short: "Outbound call orchestration service",
        Long:  "Originates outbound calls through Asterisk ARI and tracks their lifecycle",
    }

    rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

    rootCmd.AddCommand(
        createServeCommand(),
        createMigrateCommand(),
        createUserCommands(),
        createCallsCommands(),
    )

    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintf(os.Stderr, "Error: %v\n", err)
        os.Exit(1)
    }
}

// setup loads config and initialises logging. Every command starts here.
func setup() (*config.Config, error) {
    cfg, err := config.Load()
    if err != nil {
        return nil, err
    }

    logConfig := logger.Config{
        Level:  cfg.Logging.Level,
        Format: cfg.Logging.Format,
        Output: "stdout",
    }
    if cfg.Logging.File != "" {
        logConfig.File = logger.FileConfig{
            Enabled:    true,
            Path:       cfg.Logging.File,
            MaxSize:    100,
            MaxBackups: 5,
            MaxAge:     30,
            Compress:   true,
        }
    }
    if verbose || cfg.App.Debug {
        logConfig.Level = "debug"
    }

    if err := logger.Init(logConfig); err != nil {
        return nil, err
    }

    return cfg, nil
}

func createServeCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "serve",
        Short: "Run the API server",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := setup()
            if err != nil {
                return err
            }
            return serve(cfg)
        },
    }
}

func serve(cfg *config.Config) error {
    ctx := context.Background()

    kvStore, err := kv.New(kv.Config{
        URL:          cfg.Redis.URL,
        PoolSize:     cfg.Redis.PoolSize,
        MinIdleConns: cfg.Redis.MinIdleConns,
        MaxRetries:   cfg.Redis.MaxRetries,
    }, "cc")
    if err != nil {
        return err
    }
    defer kvStore.Close()

    metricsSvc := metrics.NewPrometheusMetrics()
    healthSvc := health.NewService()
    healthSvc.RegisterReadinessCheck("redis", health.CheckFunc(kvStore.Ping))

    tokenSvc := token.NewService(token.Config{
        Secret:     cfg.Auth.SecretKey,
        AccessTTL:  cfg.Auth.AccessTokenExpire,
        RefreshTTL: cfg.Auth.RefreshTokenExpire,
        Issuer:     cfg.Auth.Issuer,
        Audience:   cfg.Auth.Audience,
    }, kvStore)

    ariClient := ari.NewClient(ari.Config{
        HTTPURL:        cfg.ARI.HTTPURL,
        Username:       cfg.ARI.Username,
        Password:       cfg.ARI.Password,
        App:            cfg.ARI.App,
        MaxKeepalive:   cfg.ARI.MaxKeepalive,
        MaxConnections: cfg.ARI.MaxConnections,
    })
    defer ariClient.Close()

    healthSvc.RegisterReadinessCheck("ari_rest", health.CheckFunc(func(ctx context.Context) error {
        if !ariClient.ConnectedOK() {
            return fmt.Errorf("ARI REST unreachable")
        }
        return nil
    }))
    healthSvc.RegisterCheck("ari_events", health.CheckFunc(func(ctx context.Context) error {
        if !ariClient.WSConnected() {
            return fmt.Errorf("event stream disconnected")
        }
        return nil
    }))

    // A nil breaker passes every call through
    var cb *breaker.Breaker
    if cfg.Breaker.Enabled {
        cb = breaker.New("originate", cfg.Breaker.FailThreshold, cfg.Breaker.Timeout)
        healthSvc.RegisterCheck("circuit_breaker", health.CheckFunc(func(ctx context.Context) error {
            state := cb.State()
            metricsSvc.SetGauge("circuit_breaker_state", breakerStateValue(state), map[string]string{"name": "originate"})
            if state == breaker.StateOpen {
                return fmt.Errorf("circuit open")
            }
            return nil
        }))
    } else {
        logger.Warn("Circuit breaker disabled")
    }

    var (
        callPipeline *pipeline.Pipeline
        callStore    *store.CallStore
        userStore    *store.UserStore
    )

    if cfg.Database.Disabled {
        logger.Warn("Database disabled, running stateless")
    } else {
        database, err := db.New(db.Config{
            Driver:          "mysql",
            DSN:             cfg.Database.URL,
            MaxOpenConns:    cfg.Database.MaxOpenConns,
            MaxIdleConns:    cfg.Database.MaxIdleConns,
            ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
            RetryAttempts:   cfg.Database.RetryAttempts,
            RetryDelay:      cfg.Database.RetryDelay,
        })
        if err != nil {
            return err
        }
        defer database.Close()

        healthSvc.RegisterReadinessCheck("database", health.CheckFunc(database.PingContext))

        callStore = store.NewCallStore(database.DB)
        userStore = store.NewUserStore(database.DB)

        rec := reconciler.New(callStore, kvStore, metricsSvc)
        rec.Register(ariClient)

        callPipeline = pipeline.New(callStore, kvStore, ariClient, cb, metricsSvc, pipeline.Defaults{
            Context:   cfg.Dialing.Context,
            Extension: cfg.Dialing.Extension,
            Priority:  cfg.Dialing.Priority,
            TimeoutMs: cfg.Dialing.TimeoutMs,
            CallerID:  cfg.Dialing.CallerID,
        })
    }

    ariClient.Connect(ctx)

    var (
        pipelineIface api.PipelineInterface
        callsIface    api.CallReader
        usersIface    api.UserStoreInterface
    )
    if callPipeline != nil {
        pipelineIface = callPipeline
        callsIface = callStore
        usersIface = userStore
    }

    server := api.NewServer(cfg, pipelineIface, callsIface, usersIface,
        tokenSvc, kvStore, healthSvc, metricsSvc)

    errChan := make(chan error, 1)
    go func() {
        errChan <- server.Start()
    }()

    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

    select {
    case err := <-errChan:
        return err
    case sig := <-sigChan:
        logger.WithField("signal", sig.String()).Info("Shutting down")
    }

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    return server.Shutdown(shutdownCtx)
}

func breakerStateValue(state string) float64 {
    switch state {
    case breaker.StateOpen:
        return 2
    case breaker.StateHalfOpen:
        return 1
    default:
        return 0
    }
}
