package models

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestValidatePhoneNumber(t *testing.T) {
    tests := []struct {
        name    string
        input   string
        want    string
        wantErr bool
    }{
        {"valid e164", "+14155552671", "+14155552671", false},
        {"formatting stripped", "+1 (415) 555-2671", "+14155552671", false},
        {"missing plus", "14155552671", "", true},
        {"too short", "+123456", "", true},
        {"too long", "+1234567890123456", "", true},
        {"letters", "+1415CALLNOW", "", true},
        {"empty", "", "", true},
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            got, err := ValidatePhoneNumber(tt.input)
            if tt.wantErr {
                require.Error(t, err)
                return
            }
            require.NoError(t, err)
            assert.Equal(t, tt.want, got)
        })
    }
}

func TestValidateContext(t *testing.T) {
    got, err := ValidateContext("outbound-dialer_1")
    require.NoError(t, err)
    assert.Equal(t, "outbound-dialer_1", got)

    _, err = ValidateContext("bad context;drop")
    assert.Error(t, err)

    _, err = ValidateContext("")
    assert.Error(t, err)
}

func TestValidateExtension(t *testing.T) {
    got, err := ValidateExtension("s")
    require.NoError(t, err)
    assert.Equal(t, "s", got)

    _, err = ValidateExtension("ext;rm")
    assert.Error(t, err)
}

func TestSanitizeCallerID(t *testing.T) {
    assert.Equal(t, "Sales <100>", SanitizeCallerID(`Sales <100>`))
    assert.Equal(t, "Outbound Call", SanitizeCallerID(""))
    // Dangerous characters are stripped, not rejected
    assert.Equal(t, "Acme Corp", SanitizeCallerID(`Acme" Corp;`))
}

func TestValidatePriority(t *testing.T) {
    got, err := ValidatePriority(1)
    require.NoError(t, err)
    assert.Equal(t, 1, got)

    _, err = ValidatePriority(0)
    assert.Error(t, err)

    _, err = ValidatePriority(11)
    assert.Error(t, err)
}

func TestValidateTimeout(t *testing.T) {
    got, err := ValidateTimeout(30000)
    require.NoError(t, err)
    assert.Equal(t, 30000, got)

    _, err = ValidateTimeout(0)
    assert.Error(t, err)

    _, err = ValidateTimeout(600001)
    assert.Error(t, err)
}
