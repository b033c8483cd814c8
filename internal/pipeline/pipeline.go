package pipeline

import (
    "context"
    goerrors "errors"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/hamzaKhattat/contact-center-api/internal/ari"
    "github.com/hamzaKhattat/contact-center-api/internal/breaker"
    "github.com/hamzaKhattat/contact-center-api/internal/kv"
    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/internal/store"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

// errOriginateDeclined marks an ok=false connector result inside the breaker
// call so declines count as failures without being transport errors.
var errOriginateDeclined = goerrors.New("origination declined")

// Defaults are the routing parameters applied when the request leaves them
// unset.
type Defaults struct {
    Context   string
    Extension string
    Priority  int
    TimeoutMs int
    CallerID  string
}

// CallStoreInterface defines the persistence operations the pipeline needs.
type CallStoreInterface interface {
    Insert(ctx context.Context, call *models.Call) error
    GetByCallID(ctx context.Context, callID string) (*models.Call, error)
    Update(ctx context.Context, call *models.Call, prevVersion int64) error
}

// OriginatorInterface is the ARI surface the pipeline drives.
type OriginatorInterface interface {
    Originate(ctx context.Context, req ari.OriginateRequest) (*ari.OriginateResult, error)
}

// MetricsInterface defines metrics operations
type MetricsInterface interface {
    IncrementCounter(name string, labels map[string]string)
    ObserveHistogram(name string, value float64, labels map[string]string)
}

// Pipeline runs one origination end to end: validate, record PENDING, call
// the PBX behind the circuit breaker, then settle the record to DIALING or
// FAILED. Every failure branch after the insert leaves the call FAILED, so
// no origination is ever lost in PENDING.
type Pipeline struct {
    calls    CallStoreInterface
    kv       *kv.Store
    ari      OriginatorInterface
    breaker  *breaker.Breaker
    metrics  MetricsInterface
    defaults Defaults
}

func New(calls CallStoreInterface, kvStore *kv.Store, originator OriginatorInterface,
    cb *breaker.Breaker, metrics MetricsInterface, defaults Defaults) *Pipeline {
    return &Pipeline{
        calls:    calls,
        kv:       kvStore,
        ari:      originator,
        breaker:  cb,
        metrics:  metrics,
        defaults: defaults,
    }
}

// Originate validates and launches one outbound call.
func (p *Pipeline) Originate(ctx context.Context, phoneNumber string, req models.CallRequest) (*models.CallResponse, error) {
    call, oreq, err := p.buildCall(phoneNumber, req)
    if err != nil {
        return nil, err
    }

    if err := p.calls.Insert(ctx, call); err != nil {
        return nil, err
    }

    log := logger.WithField("call_id", call.CallID).WithField("phone_number", call.PhoneNumber)

    var result *ari.OriginateResult
    start := time.Now()
    callErr := p.breaker.Call(func() error {
        var aerr error
        result, aerr = p.ari.Originate(ctx, *oreq)
        if aerr != nil {
            return aerr
        }
        // A structured decline (PBX 4xx) counts against the breaker too
        if !result.Success {
            return errOriginateDeclined
        }
        return nil
    })
    p.metrics.ObserveHistogram("origination_duration", time.Since(start).Seconds(), nil)

    if callErr == breaker.ErrOpen {
        log.Warn("Origination rejected, circuit breaker open")
        p.settleFailed(ctx, call, "Circuit breaker open")
        p.metrics.IncrementCounter("calls_originated", map[string]string{"outcome": "circuit_open"})
        return p.failureResponse(call, "Service temporarily unavailable. Please try again later."), nil
    }
    if callErr == errOriginateDeclined {
        log.WithField("error", result.Error).Warn("Origination declined by ARI")
        p.settleFailed(ctx, call, result.Error)
        p.metrics.IncrementCounter("calls_originated", map[string]string{"outcome": "rejected"})
        return p.failureResponse(call, result.Error), nil
    }
    if callErr != nil {
        log.WithError(callErr).Error("Origination failed")
        p.settleFailed(ctx, call, callErr.Error())
        p.metrics.IncrementCounter("calls_originated", map[string]string{"outcome": "error"})
        return p.failureResponse(call, "Failed to initiate call"), nil
    }

    p.settleDialing(ctx, call, result.ChannelID)
    p.metrics.IncrementCounter("calls_originated", map[string]string{"outcome": "success"})

    log.WithField("channel_id", result.ChannelID).Info("Call initiated")
    return &models.CallResponse{
        Success:     true,
        CallID:      call.CallID,
        PhoneNumber: call.PhoneNumber,
        Message:     "Call initiated successfully",
        Channel:     result.ChannelID,
        Status:      strings.ToLower(string(call.Status)),
        CreatedAt:   call.CreatedAt,
    }, nil
}

// buildCall validates the request against the configured defaults and shapes
// the PENDING call record plus the ARI request.
func (p *Pipeline) buildCall(phoneNumber string, req models.CallRequest) (*models.Call, *ari.OriginateRequest, error) {
    phone, err := models.ValidatePhoneNumber(phoneNumber)
    if err != nil {
        return nil, nil, err
    }

    callContext := req.Context
    if callContext == "" {
        callContext = p.defaults.Context
    }
    if callContext, err = models.ValidateContext(callContext); err != nil {
        return nil, nil, err
    }

    extension := req.Extension
    if extension == "" {
        extension = p.defaults.Extension
    }
    if extension, err = models.ValidateExtension(extension); err != nil {
        return nil, nil, err
    }

    priority := req.Priority
    if priority == 0 {
        priority = p.defaults.Priority
    }
    if priority, err = models.ValidatePriority(priority); err != nil {
        return nil, nil, err
    }

    timeoutMs := req.Timeout
    if timeoutMs == 0 {
        timeoutMs = p.defaults.TimeoutMs
    }
    if timeoutMs, err = models.ValidateTimeout(timeoutMs); err != nil {
        return nil, nil, err
    }

    callerID := models.SanitizeCallerID(req.CallerID)
    if req.CallerID == "" {
        callerID = models.SanitizeCallerID(p.defaults.CallerID)
    }

    metadata := make(models.JSON, len(req.Variables))
    for k, v := range req.Variables {
        metadata[k] = v
    }

    call := &models.Call{
        CallID:        uuid.NewString(),
        PhoneNumber:   phone,
        CallerID:      callerID,
        Status:        models.CallStatusPending,
        Context:       callContext,
        Extension:     extension,
        Priority:      priority,
        Timeout:       timeoutMs,
        AttemptNumber: 1,
        MaxAttempts:   3,
        Metadata:      metadata,
    }

    oreq := &ari.OriginateRequest{
        PhoneNumber: phone,
        Context:     callContext,
        Extension:   extension,
        Priority:    priority,
        TimeoutMs:   timeoutMs,
        CallerID:    callerID,
        Variables:   req.Variables,
    }

    return call, oreq, nil
}

// settleDialing records the accepted origination under the channel lease, the
// same lease the event reconciler takes, so a fast StasisStart cannot
// interleave. If the reconciler already advanced the call, only the channel
// id is backfilled.
func (p *Pipeline) settleDialing(ctx context.Context, call *models.Call, channelID string) {
    lease, err := p.kv.AcquireLease(ctx, "call:channel:"+channelID, 5*time.Second, 2*time.Second)
    if err == nil {
        defer lease.Release(ctx)
    } else {
        logger.WithError(err).WithField("call_id", call.CallID).Warn("Channel lease timeout on originate settle")
    }

    prevVersion := call.Version
    call.Channel = channelID
    call.Status = models.CallStatusDialing
    now := time.Now().UTC()
    call.DialedAt = &now

    if err := p.calls.Update(ctx, call, prevVersion); err != nil {
        if err != store.ErrVersionConflict {
            logger.WithError(err).WithField("call_id", call.CallID).Error("Failed to record DIALING")
            return
        }
        // Reconciler got there first; re-read and backfill the channel only
        fresh, rerr := p.calls.GetByCallID(ctx, call.CallID)
        if rerr != nil {
            logger.WithError(rerr).WithField("call_id", call.CallID).Error("Failed to reload call after conflict")
            return
        }
        fresh.Channel = channelID
        if err := p.calls.Update(ctx, fresh, fresh.Version); err != nil {
            logger.WithError(err).WithField("call_id", call.CallID).Error("Failed to backfill channel")
            return
        }
        *call = *fresh
    }
}

// settleFailed marks the call FAILED with the given reason. Best effort: a
// failed write is logged, not surfaced, the API response already reflects
// the failure.
func (p *Pipeline) settleFailed(ctx context.Context, call *models.Call, reason string) {
    prevVersion := call.Version
    call.Status = models.CallStatusFailed
    call.FailureReason = reason
    now := time.Now().UTC()
    call.EndedAt = &now

    if err := p.calls.Update(ctx, call, prevVersion); err != nil {
        logger.WithError(err).WithField("call_id", call.CallID).Error("Failed to record FAILED call")
    }
}

func (p *Pipeline) failureResponse(call *models.Call, message string) *models.CallResponse {
    return &models.CallResponse{
        Success:     false,
        CallID:      call.CallID,
        PhoneNumber: call.PhoneNumber,
        Message:     message,
        Status:      strings.ToLower(string(call.Status)),
        CreatedAt:   call.CreatedAt,
        Error:       message,
    }
}

// BreakerState exposes the breaker state for health reporting.
func (p *Pipeline) BreakerState() string {
    return p.breaker.State()
}

