// Package tokens issues and redeems single-use secrets bound to a purpose and
// a subject, on top of the ephemeral secret store.
package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/secrets"
	"go.uber.org/zap"
)

const (
	opIssue  = "tokens.issue"
	opRevoke = "tokens.revoke"

	defaultOperationTimeout = 2 * time.Second
)

var errMissingStore = errors.New("tokens: secret store required")

// Config describes the dependencies shared by Issuer and Verifier.
type Config struct {
	Store            secrets.Store
	Policy           Policy
	Keys             KeyBuilder
	Generator        SecretGenerator
	Clock            func() time.Time
	OperationTimeout time.Duration
	Logger           *zap.Logger
}

func (cfg Config) normalized() (Config, error) {
	if cfg.Store == nil {
		return Config{}, errMissingStore
	}
	if cfg.Generator == nil {
		cfg.Generator = NewRandomGenerator()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.Policy.MaxAttempts < 0 {
		cfg.Policy.MaxAttempts = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}

// Secret is an issued token. Value is handed to the delivery channel and never stored.
type Secret struct {
	Value     string
	Purpose   Purpose
	SubjectID string
	ExpiresAt time.Time
}

// Issuer writes fresh secrets to the store. Issuing for a key that already
// holds a live secret invalidates the older one.
type Issuer struct {
	cfg Config
}

// NewIssuer constructs an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Issuer{cfg: normalized}, nil
}

// Issue generates and stores a secret for (purpose, subjectID).
func (i *Issuer) Issue(ctx context.Context, purpose Purpose, subjectID string) (Secret, error) {
	return i.IssueWithPayload(ctx, purpose, subjectID, "")
}

// IssueWithPayload stores payload alongside the secret. The payload is
// released only by a successful redemption.
func (i *Issuer) IssueWithPayload(ctx context.Context, purpose Purpose, subjectID string, payload string) (Secret, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Secret{}, apperr.Validation(opIssue, "missing_subject", nil)
	}
	ttl, err := i.cfg.Policy.TTL(purpose)
	if err != nil {
		return Secret{}, apperr.Validation(opIssue, "unknown_purpose", err)
	}
	key, err := i.cfg.Keys.Key(purpose, subjectID)
	if err != nil {
		return Secret{}, apperr.Validation(opIssue, "unknown_purpose", err)
	}
	value, err := i.cfg.Generator.NewSecret()
	if err != nil {
		return Secret{}, apperr.Internal(opIssue, "secret_generation_failed", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, i.cfg.OperationTimeout)
	defer cancel()

	issuedAt := i.cfg.Clock().UTC()
	record := secrets.Record{Digest: digest(key, value), Payload: payload}
	if err := i.cfg.Store.Put(storeCtx, key, record, ttl); err != nil {
		i.cfg.Logger.Error("secret store write failed",
			zap.String("operation", opIssue),
			zap.String("purpose", string(purpose)),
			zap.String("subject_id", subjectID),
			zap.Error(err))
		return Secret{}, apperr.Unavailable(opIssue, "store_write_failed", err)
	}

	return Secret{
		Value:     value,
		Purpose:   purpose,
		SubjectID: subjectID,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

// Revoke drops any live secret for (purpose, subjectID).
func (i *Issuer) Revoke(ctx context.Context, purpose Purpose, subjectID string) error {
	key, err := i.cfg.Keys.Key(purpose, strings.TrimSpace(subjectID))
	if err != nil {
		return apperr.Validation(opRevoke, "unknown_purpose", err)
	}
	storeCtx, cancel := context.WithTimeout(ctx, i.cfg.OperationTimeout)
	defer cancel()
	if err := i.cfg.Store.Delete(storeCtx, key); err != nil {
		return apperr.Unavailable(opRevoke, "store_delete_failed", err)
	}
	return nil
}
