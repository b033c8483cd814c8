package models

import (
    "fmt"
    "regexp"
    "strings"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

var (
    phonePattern     = regexp.MustCompile(`^\+\d{7,15}$`)
    phoneStrip       = regexp.MustCompile(`[^\d+]`)
    contextPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
    extensionPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
    callerIDStrip    = regexp.MustCompile(`[^a-zA-Z0-9 _<>()-]`)
)

// ValidatePhoneNumber strips everything except digits and '+', then requires
// E.164 format: +[country][number], 7-15 digits.
func ValidatePhoneNumber(phone string) (string, error) {
    cleaned := phoneStrip.ReplaceAllString(phone, "")

    if !phonePattern.MatchString(cleaned) {
        return "", errors.New(errors.ErrValidation,
            fmt.Sprintf("Invalid phone number format, expected E.164 +[country][number], got %q", phone))
    }

    return cleaned, nil
}

// ValidateContext rejects dial-plan context names that could carry injection.
func ValidateContext(value string) (string, error) {
    if value == "" {
        return "", errors.New(errors.ErrValidation, "context cannot be empty")
    }
    if !contextPattern.MatchString(value) {
        return "", errors.New(errors.ErrValidation,
            fmt.Sprintf("invalid context %q, only alphanumeric, underscore and hyphen allowed", value))
    }
    if len(value) > 64 {
        return "", errors.New(errors.ErrValidation, "context too long (max 64 chars)")
    }
    return value, nil
}

// ValidateExtension rejects non-alphanumeric extensions.
func ValidateExtension(value string) (string, error) {
    if value == "" {
        return "", errors.New(errors.ErrValidation, "extension cannot be empty")
    }
    if !extensionPattern.MatchString(value) {
        return "", errors.New(errors.ErrValidation,
            fmt.Sprintf("invalid extension %q, only alphanumeric characters allowed", value))
    }
    if len(value) > 32 {
        return "", errors.New(errors.ErrValidation, "extension too long (max 32 chars)")
    }
    return value, nil
}

// SanitizeCallerID removes characters that could break the dialplan and
// truncates to 128 chars.
func SanitizeCallerID(value string) string {
    if strings.TrimSpace(value) == "" {
        return "Outbound Call"
    }

    sanitized := callerIDStrip.ReplaceAllString(value, "")
    if len(sanitized) > 128 {
        sanitized = sanitized[:128]
    }
    return sanitized
}

// ValidatePriority bounds dial-plan priority to [1,10].
func ValidatePriority(priority int) (int, error) {
    if priority < 1 || priority > 10 {
        return 0, errors.New(errors.ErrValidation,
            fmt.Sprintf("priority must be between 1 and 10, got %d", priority))
    }
    return priority, nil
}

// ValidateTimeout bounds the dial timeout to (0, 600000] milliseconds.
func ValidateTimeout(timeoutMs int) (int, error) {
    if timeoutMs <= 0 || timeoutMs > 600000 {
        return 0, errors.New(errors.ErrValidation,
            fmt.Sprintf("timeout must be between 1 and 600000 ms, got %d", timeoutMs))
    }
    return timeoutMs, nil
}
