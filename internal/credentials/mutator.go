package credentials

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/tokens"
	"go.uber.org/zap"
)

const opApply = "credentials.apply"

// CredentialWriter is the write side of the identity provider.
type CredentialWriter interface {
	SetPassword(ctx context.Context, subjectID, newSecret string) error
	SetEmail(ctx context.Context, subjectID, newEmail string) error
	Activate(ctx context.Context, subjectID string) error
}

// Payload carries what a redeemed token is allowed to change.
type Payload struct {
	NewPassword string
	TargetEmail string
	// ActivatePending activates an invited account on password reset.
	ActivatePending bool
}

// Mutator applies a verified token to the identity record. It must only be
// called after the verifier accepted the secret; the secret is already gone
// when Apply runs, so a failure requires a fresh token.
type Mutator struct {
	writer CredentialWriter
	logger *zap.Logger
}

// NewMutator constructs a Mutator over writer.
func NewMutator(writer CredentialWriter, logger *zap.Logger) (*Mutator, error) {
	if writer == nil {
		return nil, fmt.Errorf("credentials: credential writer required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutator{writer: writer, logger: logger}, nil
}

// Apply sets the password for invite and reset (activating invited accounts,
// and pending ones on reset when payload asks for it) and moves the account to payload.TargetEmail for email-change.
func (m *Mutator) Apply(ctx context.Context, purpose tokens.Purpose, subjectID string, payload Payload) error {
	var err error
	switch purpose {
	case tokens.PurposeInvite:
		if err = m.writer.SetPassword(ctx, subjectID, payload.NewPassword); err == nil {
			err = m.writer.Activate(ctx, subjectID)
		}
	case tokens.PurposeReset:
		if err = m.writer.SetPassword(ctx, subjectID, payload.NewPassword); err == nil && payload.ActivatePending {
			err = m.writer.Activate(ctx, subjectID)
		}
	case tokens.PurposeEmailChange:
		err = m.writer.SetEmail(ctx, subjectID, payload.TargetEmail)
	default:
		return apperr.Validation(opApply, "unknown_purpose", fmt.Errorf("%w: %q", tokens.ErrUnknownPurpose, string(purpose)))
	}
	if err != nil {
		m.logger.Error("credential mutation failed",
			zap.String(fieldOperation, opApply),
			zap.String(fieldPurpose, string(purpose)),
			zap.String(fieldSubjectID, subjectID),
			zap.Error(err))
		if apperr.KindOf(err) == apperr.KindInternal {
			return apperr.Internal(opApply, "mutation_failed", err)
		}
		return err
	}
	return nil
}
