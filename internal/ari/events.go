package ari

import (
    "encoding/json"
    "fmt"
    "net/url"
    "strings"
    "time"

    "github.com/gorilla/websocket"

    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

// Event is one ARI event envelope. Only the fields the reconciler consumes
// are decoded; Raw keeps the full payload for logging.
type Event struct {
    Type    string          `json:"type"`
    Channel *ChannelInfo    `json:"channel,omitempty"`
    Raw     json.RawMessage `json:"-"`
}

// ChannelInfo is the channel fragment of an ARI event.
type ChannelInfo struct {
    ID       string `json:"id"`
    State    string `json:"state"`
    Cause    int    `json:"cause"`
    CauseTxt string `json:"cause_txt"`
}

// EventHandler processes one decoded event. Handlers run on the listener
// goroutine; per-connection event order is preserved.
type EventHandler func(event *Event)

// reconnectSchedule is the fixed backoff between reconnect attempts. After the
// schedule is exhausted the listener pauses 60s and restarts the cycle.
var reconnectSchedule = []time.Duration{
    1 * time.Second,
    2 * time.Second,
    5 * time.Second,
    10 * time.Second,
    30 * time.Second,
    60 * time.Second,
}

// RegisterEventHandler registers a handler for an event type. The type "*"
// receives every event. Must be called before Connect.
func (c *Client) RegisterEventHandler(eventType string, handler EventHandler) {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// wsURL builds the event subscription URL from the REST base URL.
func (c *Client) wsURL() string {
    base := c.config.HTTPURL
    if strings.HasPrefix(base, "https://") {
        base = "wss://" + strings.TrimPrefix(base, "https://")
    } else {
        base = "ws://" + strings.TrimPrefix(base, "http://")
    }
    return fmt.Sprintf("%s/events?app=%s&api_key=%s",
        base,
        url.QueryEscape(c.config.App),
        url.QueryEscape(c.config.Username+":"+c.config.Password))
}

// listenEvents maintains the event subscription until shutdown, reconnecting
// on the fixed schedule.
func (c *Client) listenEvents() {
    defer c.wg.Done()

    attempt := 0
    for {
        select {
        case <-c.shutdown:
            return
        default:
        }

        if attempt >= len(reconnectSchedule) {
            logger.Warn("ARI event stream reconnect schedule exhausted, pausing")
            if !c.sleep(60 * time.Second) {
                return
            }
            attempt = 0
        }

        connected, err := c.runEventStream()
        if connected {
            // A healthy stream restarts the backoff cycle on the next drop
            attempt = 0
        }
        if err != nil {
            logger.WithError(err).WithField("attempt", attempt+1).Warn("ARI event stream disconnected")
        }

        select {
        case <-c.shutdown:
            return
        default:
        }

        if !c.sleep(reconnectSchedule[attempt]) {
            return
        }
        attempt++
    }
}

// runEventStream dials the websocket and reads until error or shutdown. The
// bool reports whether a connection was established at all.
func (c *Client) runEventStream() (bool, error) {
    dialer := websocket.Dialer{
        HandshakeTimeout: c.config.ConnectTimeout,
    }

    conn, _, err := dialer.Dial(c.wsURL(), nil)
    if err != nil {
        return false, err
    }
    defer conn.Close()

    c.setWSConnected(true)
    defer c.setWSConnected(false)

    logger.WithField("app", c.config.App).Info("ARI event stream connected")

    // Close the connection when shutdown is signalled so ReadMessage unblocks.
    done := make(chan struct{})
    defer close(done)
    go func() {
        select {
        case <-c.shutdown:
            conn.Close()
        case <-done:
        }
    }()

    for {
        _, message, err := conn.ReadMessage()
        if err != nil {
            select {
            case <-c.shutdown:
                return true, nil
            default:
                return true, err
            }
        }
        c.dispatchEvent(message)
    }
}

// dispatchEvent decodes one frame and runs the registered handlers.
func (c *Client) dispatchEvent(message []byte) {
    var event Event
    if err := json.Unmarshal(message, &event); err != nil {
        logger.WithError(err).Warn("Failed to decode ARI event")
        return
    }
    if event.Type == "" {
        return
    }
    event.Raw = message

    c.mu.RLock()
    handlers := append([]EventHandler{}, c.handlers[event.Type]...)
    handlers = append(handlers, c.handlers["*"]...)
    c.mu.RUnlock()

    for _, handler := range handlers {
        c.safeHandle(handler, &event)
    }
}

func (c *Client) safeHandle(handler EventHandler, event *Event) {
    defer func() {
        if r := recover(); r != nil {
            logger.WithField("panic", r).WithField("event_type", event.Type).Error("Panic in ARI event handler")
        }
    }()
    handler(event)
}

func (c *Client) setWSConnected(connected bool) {
    c.mu.Lock()
    c.wsConnected = connected
    c.mu.Unlock()
}

// sleep waits for d or shutdown; returns false on shutdown.
func (c *Client) sleep(d time.Duration) bool {
    select {
    case <-c.shutdown:
        return false
    case <-time.After(d):
        return true
    }
}
