package tokens

import (
	"errors"
	"fmt"
	"time"
)

// Purpose scopes a secret to one credential flow.
type Purpose string

const (
	PurposeInvite      Purpose = "invite"
	PurposeReset       Purpose = "reset"
	PurposeEmailChange Purpose = "email-change"
)

const (
	DefaultInviteTTL      = 7 * 24 * time.Hour
	DefaultResetTTL       = 10 * time.Minute
	DefaultEmailChangeTTL = 10 * time.Minute
	DefaultMaxAttempts    = 5
)

// ErrUnknownPurpose indicates a purpose outside the supported set.
var ErrUnknownPurpose = errors.New("tokens: unknown purpose")

// keySegment is the store key namespace for the purpose.
func (p Purpose) keySegment() (string, error) {
	switch p {
	case PurposeInvite:
		return "invite", nil
	case PurposeReset:
		return "reset_code", nil
	case PurposeEmailChange:
		return "email_change", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPurpose, string(p))
	}
}

// Policy maps each purpose to its lifetime and the mismatch limit.
type Policy struct {
	InviteTTL      time.Duration
	ResetTTL       time.Duration
	EmailChangeTTL time.Duration
	MaxAttempts    int
}

// DefaultPolicy returns invite 7d, reset and email-change 10m, five attempts.
func DefaultPolicy() Policy {
	return Policy{
		InviteTTL:      DefaultInviteTTL,
		ResetTTL:       DefaultResetTTL,
		EmailChangeTTL: DefaultEmailChangeTTL,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

// TTL returns the lifetime for purpose, falling back to the default for unset values.
func (p Policy) TTL(purpose Purpose) (time.Duration, error) {
	var configured, fallback time.Duration
	switch purpose {
	case PurposeInvite:
		configured, fallback = p.InviteTTL, DefaultInviteTTL
	case PurposeReset:
		configured, fallback = p.ResetTTL, DefaultResetTTL
	case PurposeEmailChange:
		configured, fallback = p.EmailChangeTTL, DefaultEmailChangeTTL
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPurpose, string(purpose))
	}
	if configured <= 0 {
		return fallback, nil
	}
	return configured, nil
}

// KeyBuilder renders store keys for (purpose, subject).
type KeyBuilder struct {
	Prefix string
}

// Key returns "<prefix><segment>:<subject>".
func (b KeyBuilder) Key(purpose Purpose, subjectID string) (string, error) {
	segment, err := purpose.keySegment()
	if err != nil {
		return "", err
	}
	return b.Prefix + segment + ":" + subjectID, nil
}
