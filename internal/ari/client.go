package ari

import (
    "context"
    "encoding/json"
    "fmt"
    "net"
    "net/http"
    "net/url"
    "strconv"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

// Config holds ARI connection configuration.
type Config struct {
    HTTPURL        string
    Username       string
    Password       string
    App            string
    MaxKeepalive   int
    MaxConnections int
    ConnectTimeout time.Duration
    RequestTimeout time.Duration
}

// Client talks to the PBX over ARI: a pooled REST client for originate and
// hangup, plus one persistent WebSocket event subscription (events.go).
type Client struct {
    config Config
    http   *http.Client

    mu          sync.RWMutex
    connectedOK bool
    wsConnected bool

    handlers map[string][]EventHandler

    shutdown chan struct{}
    wg       sync.WaitGroup

    closeOnce sync.Once
}

// OriginateRequest describes one outbound origination.
type OriginateRequest struct {
    PhoneNumber string
    Context     string
    Extension   string
    Priority    int
    TimeoutMs   int
    CallerID    string
    Variables   map[string]string
}

// OriginateResult is the structured outcome of an originate attempt.
// Success=false with Error set is a declined origination (counted as a
// breaker failure but not a transport error).
type OriginateResult struct {
    Success   bool
    ChannelID string
    Error     string
}

// NewClient creates an ARI client. Connect must be called before use.
func NewClient(config Config) *Client {
    if config.MaxKeepalive == 0 {
        config.MaxKeepalive = 20
    }
    if config.MaxConnections == 0 {
        config.MaxConnections = 50
    }
    if config.ConnectTimeout == 0 {
        config.ConnectTimeout = 5 * time.Second
    }
    if config.RequestTimeout == 0 {
        config.RequestTimeout = 15 * time.Second
    }

    transport := &http.Transport{
        DialContext: (&net.Dialer{
            Timeout:   config.ConnectTimeout,
            KeepAlive: 30 * time.Second,
        }).DialContext,
        MaxIdleConnsPerHost:   config.MaxKeepalive,
        MaxConnsPerHost:       config.MaxConnections,
        IdleConnTimeout:       90 * time.Second,
        ResponseHeaderTimeout: config.RequestTimeout,
    }

    return &Client{
        config: config,
        http: &http.Client{
            Transport: transport,
            Timeout:   config.RequestTimeout,
        },
        handlers: make(map[string][]EventHandler),
        shutdown: make(chan struct{}),
    }
}

// Connect probes the REST side and starts the event listener. A failed probe
// is non-fatal: the client stays usable and the listener keeps reconnecting.
func (c *Client) Connect(ctx context.Context) bool {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.HTTPURL+"/applications", nil)
    if err != nil {
        logger.WithError(err).Error("Failed to build ARI probe request")
        return false
    }
    req.SetBasicAuth(c.config.Username, c.config.Password)
    req.Header.Set("Accept", "application/json")

    resp, err := c.http.Do(req)
    ok := false
    if err != nil {
        logger.WithError(err).Error("ARI connectivity check failed")
    } else {
        resp.Body.Close()
        ok = resp.StatusCode == http.StatusOK
    }

    c.mu.Lock()
    c.connectedOK = ok
    c.mu.Unlock()

    // Event listener runs regardless; it reconnects until shutdown.
    c.wg.Add(1)
    go c.listenEvents()

    logger.WithField("ok", ok).Info("ARI connectivity check")
    return ok
}

// Close stops the event listener and waits for it within a grace period.
func (c *Client) Close() {
    c.closeOnce.Do(func() {
        close(c.shutdown)
    })

    done := make(chan struct{})
    go func() {
        c.wg.Wait()
        close(done)
    }()

    select {
    case <-done:
        logger.Info("ARI client closed gracefully")
    case <-time.After(5 * time.Second):
        logger.Warn("ARI client close timeout")
    }

    c.http.CloseIdleConnections()

    c.mu.Lock()
    c.connectedOK = false
    c.wsConnected = false
    c.mu.Unlock()
}

// ConnectedOK reports the last REST probe result.
func (c *Client) ConnectedOK() bool {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return c.connectedOK
}

// WSConnected reports whether the event stream is currently up.
func (c *Client) WSConnected() bool {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return c.wsConnected
}

// Originate posts a new channel. The channel id is generated client side so
// the reconciler can correlate events even if the response is lost; retries
// are idempotent for the same reason. Up to 3 attempts with 0.3*2^n backoff;
// only timeouts and 5xx are retried, any 4xx is final.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (*OriginateResult, error) {
    channelID := uuid.NewString()

    params := url.Values{}
    params.Set("endpoint", fmt.Sprintf("Local/%s@%s", req.PhoneNumber, req.Context))
    params.Set("app", c.config.App)
    params.Set("callerId", req.CallerID)
    params.Set("channelId", channelID)
    if req.TimeoutMs > 0 {
        params.Set("timeout", strconv.Itoa(req.TimeoutMs/1000))
    }
    if len(req.Variables) > 0 {
        vars, err := json.Marshal(req.Variables)
        if err != nil {
            return nil, errors.Wrap(err, errors.ErrInternal, "failed to encode channel variables")
        }
        params.Set("variables", string(vars))
    }

    originateURL := c.config.HTTPURL + "/channels?" + params.Encode()

    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        if attempt > 0 {
            backoff := 300 * time.Millisecond << uint(attempt-1)
            select {
            case <-ctx.Done():
                return nil, ctx.Err()
            case <-time.After(backoff):
            }
        }

        httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, originateURL, nil)
        if err != nil {
            return nil, errors.Wrap(err, errors.ErrInternal, "failed to build originate request")
        }
        httpReq.SetBasicAuth(c.config.Username, c.config.Password)

        resp, err := c.http.Do(httpReq)
        if err != nil {
            lastErr = err
            if !isTimeout(err) {
                return nil, errors.Wrap(err, errors.ErrARIUnavailable, "ARI originate failed")
            }
            logger.WithError(err).WithField("attempt", attempt+1).Warn("ARI originate timeout")
            continue
        }
        resp.Body.Close()

        switch {
        case resp.StatusCode >= 200 && resp.StatusCode < 300:
            logger.WithField("channel_id", channelID).Info("ARI originate accepted")
            return &OriginateResult{Success: true, ChannelID: channelID}, nil
        case resp.StatusCode < 500:
            // Client error, don't retry
            logger.WithField("status", resp.StatusCode).Error("ARI originate rejected")
            return &OriginateResult{
                Success: false,
                Error:   fmt.Sprintf("ARI error %d", resp.StatusCode),
            }, nil
        default:
            lastErr = fmt.Errorf("ARI error %d", resp.StatusCode)
            logger.WithField("status", resp.StatusCode).WithField("attempt", attempt+1).Warn("ARI originate server error")
        }
    }

    return nil, errors.Wrap(lastErr, errors.ErrARIUnavailable, "ARI originate failed after retries")
}

// Hangup deletes the channel resource. 2xx/204 is success.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
    httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
        c.config.HTTPURL+"/channels/"+url.PathEscape(channelID), nil)
    if err != nil {
        return errors.Wrap(err, errors.ErrInternal, "failed to build hangup request")
    }
    httpReq.SetBasicAuth(c.config.Username, c.config.Password)

    resp, err := c.http.Do(httpReq)
    if err != nil {
        return errors.Wrap(err, errors.ErrARIUnavailable, "ARI hangup failed")
    }
    resp.Body.Close()

    if resp.StatusCode >= 200 && resp.StatusCode < 300 {
        logger.WithField("channel_id", channelID).Info("Channel hangup successful")
        return nil
    }

    return errors.New(errors.ErrARIRejected, fmt.Sprintf("ARI error %d", resp.StatusCode))
}

func isTimeout(err error) bool {
    if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
        return true
    }
    if urlErr, ok := err.(*url.Error); ok {
        return urlErr.Timeout()
    }
    return false
}
