package reconciler

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/hamzaKhattat/contact-center-api/internal/ari"
    "github.com/hamzaKhattat/contact-center-api/internal/kv"
    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/internal/statemachine"
    "github.com/hamzaKhattat/contact-center-api/internal/store"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

const (
    leaseTTL     = 5 * time.Second
    leaseBlock   = 2 * time.Second
    eventTimeout = 10 * time.Second
)

// CallStoreInterface defines the persistence operations the reconciler needs.
type CallStoreInterface interface {
    GetByChannel(ctx context.Context, channel string) (*models.Call, error)
    Update(ctx context.Context, call *models.Call, prevVersion int64) error
}

// MetricsInterface defines metrics operations
type MetricsInterface interface {
    IncrementCounter(name string, labels map[string]string)
    ObserveHistogram(name string, value float64, labels map[string]string)
}

// Reconciler folds ARI channel events into call state. All writes for one
// channel happen under the channel lease and use optimistic versioning, so
// concurrent events cannot interleave their read-modify-write cycles.
type Reconciler struct {
    calls   CallStoreInterface
    kv      *kv.Store
    metrics MetricsInterface
}

func New(calls CallStoreInterface, kvStore *kv.Store, metrics MetricsInterface) *Reconciler {
    return &Reconciler{
        calls:   calls,
        kv:      kvStore,
        metrics: metrics,
    }
}

// Register subscribes the reconciler to the channel lifecycle events.
func (r *Reconciler) Register(client *ari.Client) {
    for _, eventType := range []string{"StasisStart", "ChannelStateChange", "ChannelDestroyed"} {
        client.RegisterEventHandler(eventType, r.HandleEvent)
    }
}

// HandleEvent processes one ARI event end to end: lease, load, map, persist.
func (r *Reconciler) HandleEvent(event *ari.Event) {
    if event.Channel == nil || event.Channel.ID == "" {
        return
    }

    ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
    defer cancel()

    channelID := event.Channel.ID

    lease, err := r.kv.AcquireLease(ctx, "call:channel:"+channelID, leaseTTL, leaseBlock)
    if err != nil {
        logger.WithError(err).
            WithField("channel_id", channelID).
            WithField("event_type", event.Type).
            WithField("event", string(event.Raw)).
            Warn("Dropping ARI event, channel lease timeout")
        r.metrics.IncrementCounter("ari_events", map[string]string{
            "event_type": event.Type, "result": "dropped",
        })
        return
    }
    defer lease.Release(ctx)

    call, err := r.calls.GetByChannel(ctx, channelID)
    if err != nil {
        if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ErrCallNotFound {
            // Channel not tracked by us (e.g. a local leg), nothing to do
            logger.WithField("channel_id", channelID).Debug("ARI event for unknown channel")
            r.metrics.IncrementCounter("ari_events", map[string]string{
                "event_type": event.Type, "result": "unknown_channel",
            })
            return
        }
        logger.WithError(err).WithField("channel_id", channelID).Error("Failed to load call for event")
        return
    }

    if err := r.apply(ctx, call, event, true); err != nil {
        logger.WithError(err).
            WithField("call_id", call.CallID).
            WithField("event_type", event.Type).
            Error("Failed to apply ARI event")
        return
    }

    r.metrics.IncrementCounter("ari_events", map[string]string{
        "event_type": event.Type, "result": "applied",
    })
}

// apply maps the event onto the call and persists with a compare-and-set
// write. On a version conflict it re-reads once and retries.
func (r *Reconciler) apply(ctx context.Context, call *models.Call, event *ari.Event, retry bool) error {
    target, ok := targetStatus(call.Status, event)
    if !ok {
        return nil
    }

    if target == call.Status {
        // Duplicate event, nothing to change
        return nil
    }

    if allowed, reason := statemachine.CanTransition(call.Status, target, false); !allowed {
        logger.WithField("call_id", call.CallID).
            WithField("from", string(call.Status)).
            WithField("to", string(target)).
            Warn("Rejected call state transition: " + reason)
        r.metrics.IncrementCounter("call_transitions", map[string]string{
            "from": string(call.Status), "to": string(target), "result": "rejected",
        })
        return nil
    }

    from := call.Status
    prevVersion := call.Version
    r.stamp(call, target, event)

    if err := r.calls.Update(ctx, call, prevVersion); err != nil {
        if err == store.ErrVersionConflict && retry {
            fresh, rerr := r.calls.GetByChannel(ctx, call.Channel)
            if rerr != nil {
                return rerr
            }
            r.metrics.IncrementCounter("call_transitions", map[string]string{
                "from": string(from), "to": string(target), "result": "conflict",
            })
            return r.apply(ctx, fresh, event, false)
        }
        return err
    }

    r.metrics.IncrementCounter("call_transitions", map[string]string{
        "from": string(from), "to": string(target), "result": "accepted",
    })
    if target == models.CallStatusCompleted && call.Duration != nil {
        r.metrics.ObserveHistogram("call_duration", float64(*call.Duration), nil)
    }

    logger.WithField("call_id", call.CallID).
        WithField("from", string(from)).
        WithField("to", string(target)).
        Info("Call state transition")
    return nil
}

// targetStatus maps an ARI event to the desired call status. The bool is
// false when the event carries no state meaning for this call.
func targetStatus(current models.CallStatus, event *ari.Event) (models.CallStatus, bool) {
    switch event.Type {
    case "StasisStart":
        return models.CallStatusDialing, true

    case "ChannelStateChange":
        switch event.Channel.State {
        case "Ringing":
            return models.CallStatusRinging, true
        case "Up":
            return models.CallStatusAnswered, true
        }
        return "", false

    case "ChannelDestroyed":
        if current == models.CallStatusAnswered {
            return models.CallStatusCompleted, true
        }
        causeTxt := strings.ToUpper(event.Channel.CauseTxt)
        switch {
        case event.Channel.Cause == 17 || strings.Contains(causeTxt, "BUSY"):
            return models.CallStatusBusy, true
        case event.Channel.Cause == 19 || strings.Contains(causeTxt, "NO_ANSWER"):
            return models.CallStatusNoAnswer, true
        default:
            return models.CallStatusFailed, true
        }
    }
    return "", false
}

// stamp sets the status plus the timestamps and failure reason the
// transition implies.
func (r *Reconciler) stamp(call *models.Call, target models.CallStatus, event *ari.Event) {
    now := time.Now().UTC()
    call.Status = target

    switch target {
    case models.CallStatusDialing:
        if call.DialedAt == nil {
            call.DialedAt = &now
        }
    case models.CallStatusAnswered:
        if call.AnsweredAt == nil {
            call.AnsweredAt = &now
        }
    case models.CallStatusFailed:
        if call.FailureReason == "" {
            if event.Channel.CauseTxt != "" {
                call.FailureReason = event.Channel.CauseTxt
            } else {
                call.FailureReason = fmt.Sprintf("Cause %d", event.Channel.Cause)
            }
        }
    }

    if target.IsTerminal() {
        call.EndedAt = &now
        if call.AnsweredAt != nil {
            duration := int(now.Sub(*call.AnsweredAt).Seconds())
            call.Duration = &duration
        }
    }
}
