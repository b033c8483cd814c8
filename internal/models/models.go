package models

import (
    "database/sql/driver"
    "encoding/json"
    "time"
)

// Call status
type CallStatus string

const (
    CallStatusPending   CallStatus = "PENDING"
    CallStatusDialing   CallStatus = "DIALING"
    CallStatusRinging   CallStatus = "RINGING"
    CallStatusAnswered  CallStatus = "ANSWERED"
    CallStatusBusy      CallStatus = "BUSY"
    CallStatusNoAnswer  CallStatus = "NO_ANSWER"
    CallStatusFailed    CallStatus = "FAILED"
    CallStatusCompleted CallStatus = "COMPLETED"
)

// IsTerminal reports whether the status has no outgoing transitions.
func (s CallStatus) IsTerminal() bool {
    switch s {
    case CallStatusBusy, CallStatusNoAnswer, CallStatusFailed, CallStatusCompleted:
        return true
    }
    return false
}

// JSON field for database storage
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
    if j == nil {
        return nil, nil
    }
    return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
    if value == nil {
        *j = make(JSON)
        return nil
    }

    bytes, ok := value.([]byte)
    if !ok {
        return nil
    }

    return json.Unmarshal(bytes, j)
}

// Call is one outbound dialling attempt. Mutated by the origination pipeline
// (PENDING -> DIALING|FAILED) and the reconciler (everything after), always
// with a version check.
type Call struct {
    ID               int64      `json:"id" db:"id"`
    CallID           string     `json:"call_id" db:"call_id"`
    PhoneNumber      string     `json:"phone_number" db:"phone_number"`
    CallerID         string     `json:"caller_id" db:"caller_id"`
    Status           CallStatus `json:"status" db:"status"`
    Context          string     `json:"context" db:"context"`
    Extension        string     `json:"extension" db:"extension"`
    Priority         int        `json:"priority" db:"priority"`
    Timeout          int        `json:"timeout" db:"timeout"`
    Channel          string     `json:"channel,omitempty" db:"channel"`
    UniqueID         string     `json:"unique_id,omitempty" db:"unique_id"`
    CreatedAt        time.Time  `json:"created_at" db:"created_at"`
    DialedAt         *time.Time `json:"dialed_at,omitempty" db:"dialed_at"`
    AnsweredAt       *time.Time `json:"answered_at,omitempty" db:"answered_at"`
    EndedAt          *time.Time `json:"ended_at,omitempty" db:"ended_at"`
    Duration         *int       `json:"duration,omitempty" db:"duration"`
    BillableDuration *int       `json:"billable_duration,omitempty" db:"billable_duration"`
    FailureReason    string     `json:"failure_reason,omitempty" db:"failure_reason"`
    AttemptNumber    int        `json:"attempt_number" db:"attempt_number"`
    MaxAttempts      int        `json:"max_attempts" db:"max_attempts"`
    Metadata         JSON       `json:"call_metadata,omitempty" db:"call_metadata"`
    Version          int64      `json:"version" db:"version"`
}

// IsActive returns true while the call is in progress.
func (c *Call) IsActive() bool {
    switch c.Status {
    case CallStatusPending, CallStatusDialing, CallStatusRinging:
        return true
    }
    return false
}

// IsCompleted returns true once the call has been answered or ended.
func (c *Call) IsCompleted() bool {
    return c.Status == CallStatusAnswered || c.Status.IsTerminal()
}

// User is an API operator account.
type User struct {
    ID             int64     `json:"id" db:"id"`
    Username       string    `json:"username" db:"username"`
    Email          string    `json:"email,omitempty" db:"email"`
    FullName       string    `json:"full_name,omitempty" db:"full_name"`
    HashedPassword string    `json:"-" db:"hashed_password"`
    IsActive       bool      `json:"is_active" db:"is_active"`
    IsSuperuser    bool      `json:"is_superuser" db:"is_superuser"`
    CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CallRequest carries optional routing overrides for an origination.
type CallRequest struct {
    Context   string            `json:"context,omitempty"`
    Extension string            `json:"extension,omitempty"`
    Priority  int               `json:"priority,omitempty"`
    Timeout   int               `json:"timeout,omitempty"`
    CallerID  string            `json:"caller_id,omitempty"`
    Variables map[string]string `json:"variables,omitempty"`
}

// CallCreate is the RESTful /calls payload.
type CallCreate struct {
    CallRequest
    PhoneNumber string `json:"phone_number"`
}

// CallResponse is the origination response envelope.
type CallResponse struct {
    Success     bool      `json:"success"`
    CallID      string    `json:"call_id"`
    PhoneNumber string    `json:"phone_number"`
    Message     string    `json:"message"`
    Channel     string    `json:"channel,omitempty"`
    Status      string    `json:"status"`
    CreatedAt   time.Time `json:"created_at"`
    Error       string    `json:"error,omitempty"`
}

// CallStatusResponse is the status lookup payload.
type CallStatusResponse struct {
    CallID        string     `json:"call_id"`
    PhoneNumber   string     `json:"phone_number"`
    Status        string     `json:"status"`
    Channel       string     `json:"channel,omitempty"`
    Context       string     `json:"context"`
    Extension     string     `json:"extension"`
    CallerID      string     `json:"caller_id"`
    CreatedAt     time.Time  `json:"created_at"`
    DialedAt      *time.Time `json:"dialed_at,omitempty"`
    AnsweredAt    *time.Time `json:"answered_at,omitempty"`
    EndedAt       *time.Time `json:"ended_at,omitempty"`
    Duration      *int       `json:"duration,omitempty"`
    FailureReason string     `json:"failure_reason,omitempty"`
    AttemptNumber int        `json:"attempt_number"`
    IsActive      bool       `json:"is_active"`
    IsCompleted   bool       `json:"is_completed"`
}

// TokenResponse is the /token success payload.
type TokenResponse struct {
    AccessToken  string `json:"access_token"`
    RefreshToken string `json:"refresh_token"`
    TokenType    string `json:"token_type"`
    ExpiresIn    int    `json:"expires_in"`
}
