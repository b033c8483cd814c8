package ari

import (
    "context"
    "net/http"
    "net/http/httptest"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func testConfig(serverURL string) Config {
    return Config{
        HTTPURL:        serverURL,
        Username:       "asterisk",
        Password:       "asterisk",
        App:            "dialer",
        ConnectTimeout: time.Second,
        RequestTimeout: 2 * time.Second,
    }
}

func TestOriginateSuccess(t *testing.T) {
    var gotQuery sync.Map
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        user, pass, ok := r.BasicAuth()
        require.True(t, ok)
        assert.Equal(t, "asterisk", user)
        assert.Equal(t, "asterisk", pass)
        require.Equal(t, "/channels", r.URL.Path)
        for k, v := range r.URL.Query() {
            gotQuery.Store(k, v[0])
        }
        w.WriteHeader(http.StatusOK)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    result, err := client.Originate(context.Background(), OriginateRequest{
        PhoneNumber: "+14155552671",
        Context:     "outbound",
        Extension:   "s",
        Priority:    1,
        TimeoutMs:   30000,
        CallerID:    "Outbound Call",
    })
    require.NoError(t, err)

    assert.True(t, result.Success)
    assert.NotEmpty(t, result.ChannelID)

    endpoint, _ := gotQuery.Load("endpoint")
    assert.Equal(t, "Local/+14155552671@outbound", endpoint)
    channelID, _ := gotQuery.Load("channelId")
    assert.Equal(t, result.ChannelID, channelID, "channel id is chosen client side")
    timeout, _ := gotQuery.Load("timeout")
    assert.Equal(t, "30", timeout, "timeout converted to seconds")
}

func TestOriginateClientErrorIsFinal(t *testing.T) {
    var attempts int32
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&attempts, 1)
        w.WriteHeader(http.StatusBadRequest)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    result, err := client.Originate(context.Background(), OriginateRequest{
        PhoneNumber: "+14155552671", Context: "outbound", Extension: "s", Priority: 1,
    })
    require.NoError(t, err)

    assert.False(t, result.Success)
    assert.Contains(t, result.Error, "400")
    assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "4xx is not retried")
}

func TestOriginateRetriesServerErrors(t *testing.T) {
    var attempts int32
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if atomic.AddInt32(&attempts, 1) < 3 {
            w.WriteHeader(http.StatusInternalServerError)
            return
        }
        w.WriteHeader(http.StatusOK)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    result, err := client.Originate(context.Background(), OriginateRequest{
        PhoneNumber: "+14155552671", Context: "outbound", Extension: "s", Priority: 1,
    })
    require.NoError(t, err)

    assert.True(t, result.Success)
    assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestOriginateGivesUpAfterThreeAttempts(t *testing.T) {
    var attempts int32
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&attempts, 1)
        w.WriteHeader(http.StatusInternalServerError)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    _, err := client.Originate(context.Background(), OriginateRequest{
        PhoneNumber: "+14155552671", Context: "outbound", Extension: "s", Priority: 1,
    })
    require.Error(t, err)
    assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHangup(t *testing.T) {
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, http.MethodDelete, r.Method)
        assert.Equal(t, "/channels/ch-1", r.URL.Path)
        w.WriteHeader(http.StatusNoContent)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    assert.NoError(t, client.Hangup(context.Background(), "ch-1"))
}

func TestHangupRejected(t *testing.T) {
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusNotFound)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    assert.Error(t, client.Hangup(context.Background(), "ch-404"))
}

var upgrader = websocket.Upgrader{}

// eventTestServer wraps httptest.Server so that CloseClientConnections also
// drops hijacked websocket connections, which httptest stops tracking once
// the upgrade happens.
type eventTestServer struct {
    *httptest.Server
    mu    sync.Mutex
    conns []*websocket.Conn
}

func (s *eventTestServer) CloseClientConnections() {
    s.Server.CloseClientConnections()
    s.mu.Lock()
    defer s.mu.Unlock()
    for _, conn := range s.conns {
        conn.Close()
    }
    s.conns = nil
}

// eventServer serves the ARI surface: the probe endpoint plus the websocket
// event stream.
func eventServer(t *testing.T, frames [][]byte) *eventTestServer {
    t.Helper()
    srv := &eventTestServer{}
    mux := http.NewServeMux()
    mux.HandleFunc("/applications", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
    })
    mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "dialer", r.URL.Query().Get("app"))
        assert.Equal(t, "asterisk:asterisk", r.URL.Query().Get("api_key"))

        conn, err := upgrader.Upgrade(w, r, nil)
        if err != nil {
            return
        }
        srv.mu.Lock()
        srv.conns = append(srv.conns, conn)
        srv.mu.Unlock()
        for _, frame := range frames {
            if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
                break
            }
        }
        // Keep the stream open until the client disconnects
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    })
    srv.Server = httptest.NewServer(mux)
    return srv
}

func TestEventStreamDispatch(t *testing.T) {
    frames := [][]byte{
        []byte(`{"type":"StasisStart","channel":{"id":"ch-1","state":"Ring"}}`),
        []byte(`{"type":"ChannelDestroyed","channel":{"id":"ch-1","cause":17,"cause_txt":"User busy"}}`),
        []byte(`{"type":"ChannelVarset"}`),
    }
    server := eventServer(t, frames)
    defer server.Close()

    client := NewClient(testConfig(server.URL))

    var mu sync.Mutex
    var typed, wildcard []string
    done := make(chan struct{})

    client.RegisterEventHandler("ChannelDestroyed", func(event *Event) {
        mu.Lock()
        typed = append(typed, event.Channel.CauseTxt)
        mu.Unlock()
    })
    client.RegisterEventHandler("*", func(event *Event) {
        mu.Lock()
        wildcard = append(wildcard, event.Type)
        if len(wildcard) == len(frames) {
            close(done)
        }
        mu.Unlock()
    })

    require.True(t, client.Connect(context.Background()))
    defer client.Close()

    select {
    case <-done:
    case <-time.After(5 * time.Second):
        t.Fatal("timed out waiting for events")
    }

    mu.Lock()
    defer mu.Unlock()
    assert.Equal(t, []string{"User busy"}, typed)
    assert.Equal(t, []string{"StasisStart", "ChannelDestroyed", "ChannelVarset"}, wildcard)
    assert.True(t, client.WSConnected())
}

func TestEventHandlerPanicDoesNotKillStream(t *testing.T) {
    frames := [][]byte{
        []byte(`{"type":"StasisStart","channel":{"id":"ch-1"}}`),
        []byte(`{"type":"StasisStart","channel":{"id":"ch-2"}}`),
    }
    server := eventServer(t, frames)
    defer server.Close()

    client := NewClient(testConfig(server.URL))

    var seen int32
    done := make(chan struct{})
    client.RegisterEventHandler("StasisStart", func(event *Event) {
        if atomic.AddInt32(&seen, 1) == 2 {
            close(done)
        }
        if event.Channel.ID == "ch-1" {
            panic("handler bug")
        }
    })

    require.True(t, client.Connect(context.Background()))
    defer client.Close()

    select {
    case <-done:
    case <-time.After(5 * time.Second):
        t.Fatal("second event never arrived, panic killed the stream")
    }
}

func TestCloseStopsListener(t *testing.T) {
    server := eventServer(t, nil)
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    require.True(t, client.Connect(context.Background()))

    start := time.Now()
    client.Close()
    assert.Less(t, time.Since(start), 3*time.Second)
    assert.False(t, client.ConnectedOK())
}

func TestEventStreamDistinguishesDialFailureFromDrop(t *testing.T) {
    // Nothing listening: no connection, backoff keeps escalating
    client := NewClient(testConfig("http://127.0.0.1:1"))
    connected, err := client.runEventStream()
    assert.False(t, connected)
    assert.Error(t, err)

    // A stream the server drops after connecting restarts the backoff cycle
    server := eventServer(t, nil)
    client2 := NewClient(testConfig(server.URL))

    var gotConnected bool
    done := make(chan struct{})
    go func() {
        gotConnected, _ = client2.runEventStream()
        close(done)
    }()

    require.Eventually(t, client2.WSConnected, 3*time.Second, 10*time.Millisecond)
    server.CloseClientConnections()

    select {
    case <-done:
    case <-time.After(3 * time.Second):
        t.Fatal("stream did not return after the server dropped it")
    }
    assert.True(t, gotConnected)
    server.Close()
}

func TestConnectProbeFailureIsNonFatal(t *testing.T) {
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusUnauthorized)
    }))
    defer server.Close()

    client := NewClient(testConfig(server.URL))
    assert.False(t, client.Connect(context.Background()))
    assert.False(t, client.ConnectedOK())
    client.Close()
}
