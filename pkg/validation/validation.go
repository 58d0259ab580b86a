// Package validation hardens the simulator boundary: helm control values,
// pilot names and raw protocol messages are checked here before they reach
// the session.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Message size and rate limits
const (
	MaxMessageSize    = 64 * 1024
	MaxPilotNameLen   = 32
	MaxReasonLen      = 128
	MaxMessagesPerMin = 1800 // a 20 Hz helm plus pings, with headroom
)

// Control ranges, in panel units
const (
	MaxTorque       = 200.0
	MaxBallast      = 100.0
	MaxFanSpeed     = 10.0
	MaxDesiredDepth = 100.0
)

// ErrNonFinite is returned when a control value is NaN or infinite
var ErrNonFinite = errors.New("control value is not finite")

var validPilotNameChars = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.<>()]+$`)

// ControlValues are the numeric helm controls checked at the boundary
type ControlValues struct {
	Torque       float64
	Ballast      float64
	FanSpeed     float64
	DesiredDepth float64
}

// SanitizeControls rejects non-finite values with ErrNonFinite and clamps
// finite values into their ranges. The second result reports whether any
// value was clamped.
func SanitizeControls(in ControlValues) (ControlValues, bool, error) {
	fields := []struct {
		name  string
		value float64
	}{
		{"torque", in.Torque},
		{"ballast", in.Ballast},
		{"fanSpeed", in.FanSpeed},
		{"desiredDepth", in.DesiredDepth},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return ControlValues{}, false, fmt.Errorf("%w: %s is %v", ErrNonFinite, f.name, f.value)
		}
	}

	out := ControlValues{
		Torque:       clamp(in.Torque, -MaxTorque, MaxTorque),
		Ballast:      clamp(in.Ballast, 0, MaxBallast),
		FanSpeed:     clamp(in.FanSpeed, -MaxFanSpeed, MaxFanSpeed),
		DesiredDepth: clamp(in.DesiredDepth, 0, MaxDesiredDepth),
	}
	return out, out != in, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// MessageValidator checks raw frames for size, JSON form and rate
type MessageValidator struct {
	rateLimiter *RateLimiter
}

// NewMessageValidator creates a validator allowing MaxMessagesPerMin per client
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{
		rateLimiter: NewRateLimiter(MaxMessagesPerMin, time.Minute),
	}
}

// Close releases resources used by the message validator
func (v *MessageValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// Forget drops rate limiting state for a disconnected client
func (v *MessageValidator) Forget(clientID string) {
	v.rateLimiter.Remove(clientID)
}

// ValidateMessage validates a raw message body from clientID
func (v *MessageValidator) ValidateMessage(data []byte, clientID string) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}

	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON format")
	}

	if !v.rateLimiter.Allow(clientID) {
		return fmt.Errorf("rate limit exceeded: max %d messages per minute", MaxMessagesPerMin)
	}

	return nil
}

// ValidatePilotName trims and escapes a pilot name
func ValidatePilotName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("pilot name cannot be empty")
	}

	if len(name) > MaxPilotNameLen {
		return "", fmt.Errorf("pilot name too long: %d characters (max %d)", len(name), MaxPilotNameLen)
	}

	if !utf8.ValidString(name) {
		return "", fmt.Errorf("pilot name contains invalid UTF-8 characters")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("pilot name cannot be only whitespace")
	}

	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("pilot name contains control characters")
		}
	}

	if !validPilotNameChars.MatchString(trimmed) {
		return "", fmt.Errorf("pilot name contains invalid characters (only alphanumeric, spaces, hyphens, underscores, and basic punctuation allowed)")
	}

	return html.EscapeString(trimmed), nil
}

// SanitizeReason cleans a free-text disconnect reason. Invalid input
// becomes an empty string rather than an error.
func SanitizeReason(reason string) string {
	if !utf8.ValidString(reason) {
		return ""
	}
	filtered := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(reason))

	if len(filtered) > MaxReasonLen {
		filtered = filtered[:MaxReasonLen]
		for !utf8.ValidString(filtered) {
			filtered = filtered[:len(filtered)-1]
		}
	}
	return html.EscapeString(filtered)
}
