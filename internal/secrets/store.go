// Package secrets implements the ephemeral secret store used by the
// credential flows: per-key TTL, atomic replace, and atomic compare-and-consume.
package secrets

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable indicates the backing store could not be reached or timed out.
	ErrUnavailable = errors.New("secrets: store unavailable")
	// ErrInvalidKey indicates an empty key was supplied.
	ErrInvalidKey = errors.New("secrets: key required")
	// ErrInvalidTTL indicates a non-positive TTL was supplied.
	ErrInvalidTTL = errors.New("secrets: ttl must be positive")
)

// Record is the stored value for a key. Digest is the hash of the issued
// secret; Payload is opaque data released on a successful match.
type Record struct {
	Digest  string
	Payload string
}

// MatchStatus is the outcome of a Redeem call.
type MatchStatus int

const (
	// MatchAbsent means no live record exists (never issued, expired, consumed or exhausted).
	MatchAbsent MatchStatus = iota
	// MatchMismatch means a record exists but the digest differs.
	MatchMismatch
	// MatchAccepted means the digest matched.
	MatchAccepted
)

func (s MatchStatus) String() string {
	switch s {
	case MatchAccepted:
		return "accepted"
	case MatchMismatch:
		return "mismatch"
	default:
		return "absent"
	}
}

// Match carries the redeem outcome and, when accepted, the record payload.
type Match struct {
	Status  MatchStatus
	Payload string
}

// RedeemOptions controls a Redeem call.
type RedeemOptions struct {
	// Consume deletes the record on a successful match.
	Consume bool
	// MaxAttempts deletes the record once this many mismatches were observed. Zero disables the limit.
	MaxAttempts int
}

// Store is the contract the token services rely on. Every method is a single
// atomic operation against the backing service.
type Store interface {
	// Put replaces any live record for key and sets its expiry.
	Put(ctx context.Context, key string, record Record, ttl time.Duration) error
	// Redeem compares digest against the live record and, depending on options,
	// consumes it, all in one step.
	Redeem(ctx context.Context, key string, digest string, options RedeemOptions) (Match, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func validatePut(key string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
