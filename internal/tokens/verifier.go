package tokens

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/secrets"
	"go.uber.org/zap"
)

const (
	opConsume = "tokens.consume"
	opCheck   = "tokens.check"

	decoySubject = "\x00decoy"
)

// RejectReason explains a rejected redemption. Callers must not expose it.
type RejectReason string

const (
	// ReasonNotFound covers never issued, expired, consumed and exhausted.
	ReasonNotFound RejectReason = "not_found"
	// ReasonMismatch means a live secret exists but differs from the one presented.
	ReasonMismatch RejectReason = "mismatch"
)

// Verdict is the definitive accept/reject answer for one redemption.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
	Payload  string
}

// Verifier redeems secrets with a single atomic compare-and-consume.
type Verifier struct {
	cfg Config
}

// NewVerifier constructs a Verifier over the same configuration as the Issuer.
func NewVerifier(cfg Config) (*Verifier, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Verifier{cfg: normalized}, nil
}

// Consume accepts presented at most once. A second Consume after acceptance
// returns ReasonNotFound.
func (v *Verifier) Consume(ctx context.Context, purpose Purpose, subjectID, presented string) (Verdict, error) {
	return v.redeem(ctx, opConsume, purpose, subjectID, presented, true)
}

// Check reports whether presented would be accepted without consuming it.
// Mismatches count toward the attempt limit.
func (v *Verifier) Check(ctx context.Context, purpose Purpose, subjectID, presented string) (Verdict, error) {
	return v.redeem(ctx, opCheck, purpose, subjectID, presented, false)
}

func (v *Verifier) redeem(ctx context.Context, op string, purpose Purpose, subjectID, presented string, consume bool) (Verdict, error) {
	subjectID = strings.TrimSpace(subjectID)
	presented = strings.TrimSpace(presented)

	// Unknown subjects still cost one store roundtrip against a key that never exists.
	lookupSubject := subjectID
	if lookupSubject == "" || presented == "" {
		lookupSubject = decoySubject
	}
	key, err := v.cfg.Keys.Key(purpose, lookupSubject)
	if err != nil {
		return Verdict{}, apperr.Validation(op, "unknown_purpose", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, v.cfg.OperationTimeout)
	defer cancel()

	match, err := v.cfg.Store.Redeem(storeCtx, key, digest(key, presented), secrets.RedeemOptions{
		Consume:     consume,
		MaxAttempts: v.cfg.Policy.MaxAttempts,
	})
	if err != nil {
		v.cfg.Logger.Error("secret store redeem failed",
			zap.String("operation", op),
			zap.String("purpose", string(purpose)),
			zap.String("subject_id", subjectID),
			zap.Error(err))
		return Verdict{}, apperr.Unavailable(op, "store_redeem_failed", err)
	}

	if lookupSubject == decoySubject {
		return Verdict{Reason: ReasonNotFound}, nil
	}

	switch match.Status {
	case secrets.MatchAccepted:
		return Verdict{Accepted: true, Payload: match.Payload}, nil
	case secrets.MatchMismatch:
		v.cfg.Logger.Info("secret rejected",
			zap.String("operation", op),
			zap.String("purpose", string(purpose)),
			zap.String("subject_id", subjectID),
			zap.String("reason", string(ReasonMismatch)))
		return Verdict{Reason: ReasonMismatch}, nil
	default:
		v.cfg.Logger.Info("secret rejected",
			zap.String("operation", op),
			zap.String("purpose", string(purpose)),
			zap.String("subject_id", subjectID),
			zap.String("reason", string(ReasonNotFound)))
		return Verdict{Reason: ReasonNotFound}, nil
	}
}
