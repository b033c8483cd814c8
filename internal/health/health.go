package health

import (
    "context"
    "sync"
    "time"
)

// Checker probes one dependency.
type Checker interface {
    Check(ctx context.Context) error
}

type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error {
    return f(ctx)
}

// Report is the aggregate probe result.
type Report struct {
    Status    string                 `json:"status"`
    Timestamp time.Time              `json:"timestamp"`
    Checks    map[string]CheckResult `json:"checks,omitempty"`
    TotalTime string                 `json:"total_time,omitempty"`
}

type CheckResult struct {
    Status   string `json:"status"`
    Error    string `json:"error,omitempty"`
    Duration string `json:"duration"`
}

// Service aggregates component checks. Health checks cover everything;
// readiness checks only the dependencies requests cannot proceed without,
// so the self-healing event stream is registered for health only.
type Service struct {
    mu          sync.RWMutex
    checks      map[string]Checker
    readyChecks map[string]Checker
}

func NewService() *Service {
    return &Service{
        checks:      make(map[string]Checker),
        readyChecks: make(map[string]Checker),
    }
}

// RegisterCheck adds a component to the health report.
func (s *Service) RegisterCheck(name string, check Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.checks[name] = check
}

// RegisterReadinessCheck adds a component to both health and readiness.
func (s *Service) RegisterReadinessCheck(name string, check Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.checks[name] = check
    s.readyChecks[name] = check
}

// Health runs every registered check in parallel.
func (s *Service) Health(ctx context.Context) Report {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return run(ctx, s.checks)
}

// Ready runs the readiness subset.
func (s *Service) Ready(ctx context.Context) Report {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return run(ctx, s.readyChecks)
}

func run(ctx context.Context, checks map[string]Checker) Report {
    start := time.Now()

    report := Report{
        Status:    "ok",
        Timestamp: start,
        Checks:    make(map[string]CheckResult),
    }

    type namedResult struct {
        name   string
        result CheckResult
        failed bool
    }

    var wg sync.WaitGroup
    resultChan := make(chan namedResult, len(checks))

    for name, check := range checks {
        wg.Add(1)
        go func(n string, c Checker) {
            defer wg.Done()

            checkStart := time.Now()
            err := c.Check(ctx)
            duration := time.Since(checkStart)

            result := CheckResult{
                Status:   "ok",
                Duration: duration.String(),
            }
            failed := false
            if err != nil {
                result.Status = "failed"
                result.Error = err.Error()
                failed = true
            }

            resultChan <- namedResult{n, result, failed}
        }(name, check)
    }

    go func() {
        wg.Wait()
        close(resultChan)
    }()

    for res := range resultChan {
        report.Checks[res.name] = res.result
        if res.failed {
            report.Status = "failed"
        }
    }

    report.TotalTime = time.Since(start).String()
    return report
}
