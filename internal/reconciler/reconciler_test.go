package reconciler

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/go-redis/redis/v8"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/hamzaKhattat/contact-center-api/internal/ari"
    "github.com/hamzaKhattat/contact-center-api/internal/kv"
    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/internal/store"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

// fakeCallStore implements CAS semantics in memory.
type fakeCallStore struct {
    mu      sync.Mutex
    byChan  map[string]*models.Call
    updates int
}

func newFakeCallStore(calls ...*models.Call) *fakeCallStore {
    s := &fakeCallStore{byChan: make(map[string]*models.Call)}
    for _, c := range calls {
        s.byChan[c.Channel] = c
    }
    return s
}

func (s *fakeCallStore) GetByChannel(ctx context.Context, channel string) (*models.Call, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    c, ok := s.byChan[channel]
    if !ok {
        return nil, errors.New(errors.ErrCallNotFound, "call not found").WithStatusCode(404)
    }
    copied := *c
    return &copied, nil
}

func (s *fakeCallStore) Update(ctx context.Context, call *models.Call, prevVersion int64) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    current := s.byChan[call.Channel]
    if current == nil || current.Version != prevVersion {
        return store.ErrVersionConflict
    }
    copied := *call
    copied.Version = prevVersion + 1
    s.byChan[call.Channel] = &copied
    call.Version = copied.Version
    s.updates++
    return nil
}

func (s *fakeCallStore) get(channel string) models.Call {
    s.mu.Lock()
    defer s.mu.Unlock()
    return *s.byChan[channel]
}

type fakeMetrics struct {
    mu       sync.Mutex
    counters map[string]int
}

func newFakeMetrics() *fakeMetrics {
    return &fakeMetrics{counters: make(map[string]int)}
}

func (m *fakeMetrics) IncrementCounter(name string, labels map[string]string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.counters[name+":"+labels["result"]]++
}

func (m *fakeMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {}

func (m *fakeMetrics) count(key string) int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.counters[key]
}

func newTestReconciler(t *testing.T, calls CallStoreInterface) (*Reconciler, *fakeMetrics, *kv.Store) {
    t.Helper()
    mr := miniredis.RunT(t)
    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    kvStore := kv.NewWithClient(client, "test")
    t.Cleanup(func() { kvStore.Close() })

    metrics := newFakeMetrics()
    return New(calls, kvStore, metrics), metrics, kvStore
}

func pendingCall(channel string) *models.Call {
    return &models.Call{
        ID:          1,
        CallID:      "call-1",
        PhoneNumber: "+14155552671",
        Status:      models.CallStatusPending,
        Channel:     channel,
        CreatedAt:   time.Now().UTC().Add(-time.Minute),
        Version:     0,
    }
}

func event(eventType, state string, cause int, causeTxt string) *ari.Event {
    return &ari.Event{
        Type: eventType,
        Channel: &ari.ChannelInfo{
            ID:       "ch-1",
            State:    state,
            Cause:    cause,
            CauseTxt: causeTxt,
        },
        Raw: []byte(`{}`),
    }
}

func TestStasisStartMovesPendingToDialing(t *testing.T) {
    calls := newFakeCallStore(pendingCall("ch-1"))
    rec, metrics, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("StasisStart", "", 0, ""))

    got := calls.get("ch-1")
    assert.Equal(t, models.CallStatusDialing, got.Status)
    assert.NotNil(t, got.DialedAt)
    assert.Equal(t, int64(1), got.Version)
    assert.Equal(t, 1, metrics.count("ari_events:applied"))
}

func TestFullLifecycle(t *testing.T) {
    calls := newFakeCallStore(pendingCall("ch-1"))
    rec, _, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("StasisStart", "", 0, ""))
    rec.HandleEvent(event("ChannelStateChange", "Ringing", 0, ""))
    rec.HandleEvent(event("ChannelStateChange", "Up", 0, ""))

    got := calls.get("ch-1")
    require.Equal(t, models.CallStatusAnswered, got.Status)
    require.NotNil(t, got.AnsweredAt)

    rec.HandleEvent(event("ChannelDestroyed", "", 16, "Normal Clearing"))

    got = calls.get("ch-1")
    assert.Equal(t, models.CallStatusCompleted, got.Status)
    assert.NotNil(t, got.EndedAt)
    require.NotNil(t, got.Duration)
    assert.GreaterOrEqual(t, *got.Duration, 0)
    assert.Equal(t, int64(4), got.Version)
}

func TestChannelDestroyedCauseMapping(t *testing.T) {
    tests := []struct {
        name     string
        cause    int
        causeTxt string
        want     models.CallStatus
    }{
        {"cause 17 is busy", 17, "User busy", models.CallStatusBusy},
        {"busy text without cause", 0, "Subscriber BUSY", models.CallStatusBusy},
        {"cause 19 is no answer", 19, "No answer", models.CallStatusNoAnswer},
        {"no_answer text without cause", 0, "NO_ANSWER", models.CallStatusNoAnswer},
        {"lowercase no_answer text", 0, "no_answer", models.CallStatusNoAnswer},
        {"normal clearing before answer fails", 16, "Normal Clearing", models.CallStatusFailed},
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            call := pendingCall("ch-1")
            call.Status = models.CallStatusDialing
            calls := newFakeCallStore(call)
            rec, _, _ := newTestReconciler(t, calls)

            rec.HandleEvent(event("ChannelDestroyed", "", tt.cause, tt.causeTxt))

            assert.Equal(t, tt.want, calls.get("ch-1").Status)
        })
    }
}

func TestChannelDestroyedFailureRecordsReason(t *testing.T) {
    tests := []struct {
        name     string
        cause    int
        causeTxt string
        want     string
    }{
        {"cause text wins", 21, "Call Rejected", "Call Rejected"},
        {"numeric fallback without text", 38, "", "Cause 38"},
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            call := pendingCall("ch-1")
            call.Status = models.CallStatusDialing
            calls := newFakeCallStore(call)
            rec, _, _ := newTestReconciler(t, calls)

            rec.HandleEvent(event("ChannelDestroyed", "", tt.cause, tt.causeTxt))

            got := calls.get("ch-1")
            require.Equal(t, models.CallStatusFailed, got.Status)
            assert.Equal(t, tt.want, got.FailureReason)
        })
    }
}

func TestStrayStasisStartOnAnsweredIsRejected(t *testing.T) {
    call := pendingCall("ch-1")
    call.Status = models.CallStatusAnswered
    call.Version = 3
    calls := newFakeCallStore(call)
    rec, metrics, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("StasisStart", "", 0, ""))

    got := calls.get("ch-1")
    assert.Equal(t, models.CallStatusAnswered, got.Status)
    assert.Equal(t, int64(3), got.Version, "rejected transition must not write")
    assert.Equal(t, 1, metrics.count("call_transitions:rejected"))
}

func TestTerminalStateRejectsFurtherEvents(t *testing.T) {
    call := pendingCall("ch-1")
    call.Status = models.CallStatusCompleted
    call.Version = 4
    calls := newFakeCallStore(call)
    rec, _, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("ChannelStateChange", "Up", 0, ""))

    got := calls.get("ch-1")
    assert.Equal(t, models.CallStatusCompleted, got.Status)
    assert.Equal(t, int64(4), got.Version)
}

func TestDuplicateEventIsIdempotent(t *testing.T) {
    call := pendingCall("ch-1")
    call.Status = models.CallStatusRinging
    call.Version = 2
    calls := newFakeCallStore(call)
    rec, _, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("ChannelStateChange", "Ringing", 0, ""))

    assert.Equal(t, int64(2), calls.get("ch-1").Version, "same-state event writes nothing")
}

func TestUnknownChannelIsIgnored(t *testing.T) {
    calls := newFakeCallStore()
    rec, metrics, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("StasisStart", "", 0, ""))

    assert.Equal(t, 1, metrics.count("ari_events:unknown_channel"))
}

func TestEventDroppedWhenLeaseHeld(t *testing.T) {
    calls := newFakeCallStore(pendingCall("ch-1"))
    rec, metrics, kvStore := newTestReconciler(t, calls)

    lease, err := kvStore.AcquireLease(context.Background(), "call:channel:ch-1", time.Minute, 50*time.Millisecond)
    require.NoError(t, err)
    defer lease.Release(context.Background())

    rec.HandleEvent(event("StasisStart", "", 0, ""))

    assert.Equal(t, models.CallStatusPending, calls.get("ch-1").Status)
    assert.Equal(t, 1, metrics.count("ari_events:dropped"))
}

// conflictingStore forces one version conflict to exercise the re-read retry.
type conflictingStore struct {
    *fakeCallStore
    mu        sync.Mutex
    conflicts int
}

func (s *conflictingStore) Update(ctx context.Context, call *models.Call, prevVersion int64) error {
    s.mu.Lock()
    first := s.conflicts == 0
    if first {
        s.conflicts++
    }
    s.mu.Unlock()

    if first {
        // Simulate a concurrent writer landing between read and write
        bumped := s.fakeCallStore.get(call.Channel)
        bumped.Version++
        s.fakeCallStore.mu.Lock()
        s.fakeCallStore.byChan[call.Channel] = &bumped
        s.fakeCallStore.mu.Unlock()
        return store.ErrVersionConflict
    }
    return s.fakeCallStore.Update(ctx, call, prevVersion)
}

func TestVersionConflictRetriesOnce(t *testing.T) {
    calls := &conflictingStore{fakeCallStore: newFakeCallStore(pendingCall("ch-1"))}
    rec, metrics, _ := newTestReconciler(t, calls)

    rec.HandleEvent(event("StasisStart", "", 0, ""))

    got := calls.get("ch-1")
    assert.Equal(t, models.CallStatusDialing, got.Status)
    assert.Equal(t, int64(2), got.Version)
    assert.Equal(t, 1, metrics.count("call_transitions:conflict"))
    assert.Equal(t, 1, metrics.count("call_transitions:accepted"))
}
