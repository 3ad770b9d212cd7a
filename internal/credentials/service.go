// Package credentials implements the token-backed credential flows: account
// invitation, password reset, email change and authenticated password change.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/MarcoPoloResearchLab/talenthub/internal/mail"
	"github.com/MarcoPoloResearchLab/talenthub/internal/tokens"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	opInvite               = "credentials.invite"
	opResendInvite         = "credentials.resend_invite"
	opAcceptInvite         = "credentials.accept_invite"
	opRequestPasswordReset = "credentials.request_password_reset"
	opVerifyResetCode      = "credentials.verify_reset_code"
	opResetPassword        = "credentials.reset_password"
	opRequestEmailChange   = "credentials.request_email_change"
	opConfirmEmailChange   = "credentials.confirm_email_change"
	opChangePassword       = "credentials.change_password"

	reasonInvalidInput    = "invalid_input"
	reasonInvalidToken    = "invalid_token"
	reasonWeakPassword    = "invalid_password"
	reasonEmailTaken      = "email_taken"
	reasonSameEmail       = "same_email"
	reasonOldPassword     = "invalid_old_password"
	reasonRenderFailed    = "render_failed"
	reasonEnqueueFailed   = "enqueue_failed"
	reasonTempSecretError = "temp_secret_failed"
	reasonRevokeFailed    = "revoke_failed"

	fieldOperation = "operation"
	fieldReason    = "reason"
	fieldPurpose   = "purpose"
	fieldSubjectID = "subject_id"
	fieldErrorKind = "error_kind"

	// MinPasswordLength and MaxPasswordLength bound new passwords in bytes.
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var (
	ErrPasswordTooShort = errors.New("credentials: password too short")
	ErrPasswordTooLong  = errors.New("credentials: password too long")
	ErrInvalidToken     = errors.New("credentials: invalid or expired token")
)

// Accounts is the identity provider as seen by the credential flows.
type Accounts interface {
	CredentialWriter
	CreateAccount(ctx context.Context, email, tempSecret string, metadata identity.Metadata) (string, error)
	Authenticate(ctx context.Context, login, secret string) (identity.Session, error)
	VerifyPassword(ctx context.Context, subjectID, secret string) error
	FindByEmail(ctx context.Context, email string) (identity.Account, error)
	FindByID(ctx context.Context, subjectID string) (identity.Account, error)
	SetActive(ctx context.Context, subjectID string, active bool) error
	UpdateProfile(ctx context.Context, subjectID string, update identity.ProfileUpdate) error
	Delete(ctx context.Context, subjectID string) error
}

// TokenIssuer issues and revokes purpose-bound secrets.
type TokenIssuer interface {
	Issue(ctx context.Context, purpose tokens.Purpose, subjectID string) (tokens.Secret, error)
	IssueWithPayload(ctx context.Context, purpose tokens.Purpose, subjectID, payload string) (tokens.Secret, error)
	Revoke(ctx context.Context, purpose tokens.Purpose, subjectID string) error
}

// TokenVerifier redeems purpose-bound secrets.
type TokenVerifier interface {
	Consume(ctx context.Context, purpose tokens.Purpose, subjectID, presented string) (tokens.Verdict, error)
	Check(ctx context.Context, purpose tokens.Purpose, subjectID, presented string) (tokens.Verdict, error)
}

// Outbox accepts rendered messages for asynchronous delivery.
type Outbox interface {
	Enqueue(msg mail.Message) error
}

// Renderer produces the credential emails.
type Renderer interface {
	Invitation(to, name, link, validity string) (mail.Message, error)
	InviteReminder(to, name, link, validity string) (mail.Message, error)
	PasswordReset(to, name, code, link, validity string) (mail.Message, error)
	EmailChange(to, name, code, validity string) (mail.Message, error)
}

// ServiceConfig describes the dependencies of the credential flows.
type ServiceConfig struct {
	Accounts    Accounts
	Issuer      TokenIssuer
	Verifier    TokenVerifier
	Policy      tokens.Policy
	Outbox      Outbox
	Templates   Renderer
	FrontendURL string
	TempSecrets tokens.SecretGenerator
	Logger      *zap.Logger
}

// Service runs the credential flows.
type Service struct {
	accounts    Accounts
	issuer      TokenIssuer
	verifier    TokenVerifier
	mutator     *Mutator
	policy      tokens.Policy
	outbox      Outbox
	templates   Renderer
	frontendURL string
	tempSecrets tokens.SecretGenerator
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewAccount is the administrator-supplied profile of an invited user.
type NewAccount struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Name     string `json:"name" validate:"required,max=320"`
	Username string `json:"username" validate:"required,max=190"`
	Role     string `json:"role" validate:"required,oneof=admin user user_sourcing user_7options"`
}

// NewService validates dependencies and applies defaults.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, fmt.Errorf("credentials: accounts required")
	case cfg.Issuer == nil:
		return nil, fmt.Errorf("credentials: token issuer required")
	case cfg.Verifier == nil:
		return nil, fmt.Errorf("credentials: token verifier required")
	case cfg.Outbox == nil:
		return nil, fmt.Errorf("credentials: outbox required")
	case cfg.Templates == nil:
		return nil, fmt.Errorf("credentials: templates required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mutator, err := NewMutator(cfg.Accounts, logger)
	if err != nil {
		return nil, err
	}
	tempSecrets := cfg.TempSecrets
	if tempSecrets == nil {
		tempSecrets = tokens.NewRandomGenerator()
	}
	return &Service{
		accounts:    cfg.Accounts,
		issuer:      cfg.Issuer,
		verifier:    cfg.Verifier,
		mutator:     mutator,
		policy:      cfg.Policy,
		outbox:      cfg.Outbox,
		templates:   cfg.Templates,
		frontendURL: strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		tempSecrets: tempSecrets,
		validate:    validator.New(),
		logger:      logger,
	}, nil
}

// Invite provisions an inactive account and mails an invitation link.
func (s *Service) Invite(ctx context.Context, request NewAccount) (identity.Account, error) {
	request.Email = identity.NormalizeEmail(request.Email)
	request.Role = strings.ToLower(strings.TrimSpace(request.Role))
	if err := s.validate.Struct(request); err != nil {
		return identity.Account{}, apperr.Validation(opInvite, reasonInvalidInput, err)
	}

	tempSecret, err := s.tempSecrets.NewSecret()
	if err != nil {
		return identity.Account{}, apperr.Internal(opInvite, reasonTempSecretError, err)
	}
	subjectID, err := s.accounts.CreateAccount(ctx, request.Email, tempSecret, identity.Metadata{
		Name:     request.Name,
		Username: request.Username,
		Role:     request.Role,
	})
	if err != nil {
		return identity.Account{}, err
	}

	secret, err := s.issuer.Issue(ctx, tokens.PurposeInvite, subjectID)
	if err != nil {
		// The account exists; the administrator can resend the invitation.
		return identity.Account{}, err
	}

	account, err := s.accounts.FindByID(ctx, subjectID)
	if err != nil {
		return identity.Account{}, err
	}
	s.deliver(opInvite, subjectID, func() (mail.Message, error) {
		return s.templates.Invitation(account.Email, account.Name, s.inviteLink(secret.Value, account.Email), s.validity(tokens.PurposeInvite))
	})
	return account, nil
}

// ResendInvite issues a fresh invitation, invalidating the previous link.
func (s *Service) ResendInvite(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return apperr.Validation(opResendInvite, reasonInvalidInput, err)
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if account.Disabled {
		return apperr.Forbidden(opResendInvite, "account_disabled", identity.ErrAccountDisabled)
	}
	secret, err := s.issuer.Issue(ctx, tokens.PurposeInvite, account.ID)
	if err != nil {
		return err
	}
	s.deliver(opResendInvite, account.ID, func() (mail.Message, error) {
		return s.templates.InviteReminder(account.Email, account.Name, s.inviteLink(secret.Value, account.Email), s.validity(tokens.PurposeInvite))
	})
	return nil
}

// AcceptInvite redeems the invitation, sets the password, activates the
// account and signs the user in.
func (s *Service) AcceptInvite(ctx context.Context, email, token, password string) (identity.Session, error) {
	if err := s.checkPassword(opAcceptInvite, password); err != nil {
		return identity.Session{}, err
	}
	account, err := s.subjectFor(ctx, opAcceptInvite, email)
	if err != nil {
		return identity.Session{}, err
	}
	if _, err := s.redeem(ctx, opAcceptInvite, tokens.PurposeInvite, account.ID, token, true); err != nil {
		return identity.Session{}, err
	}
	if err := s.revoke(ctx, opAcceptInvite, account.ID, tokens.PurposeReset); err != nil {
		return identity.Session{}, err
	}
	if err := s.mutator.Apply(ctx, tokens.PurposeInvite, account.ID, Payload{NewPassword: password}); err != nil {
		return identity.Session{}, err
	}
	return s.accounts.Authenticate(ctx, identity.NormalizeEmail(email), password)
}

// RequestPasswordReset mails a reset code. Unknown and deactivated accounts
// succeed silently without mail.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return apperr.Validation(opRequestPasswordReset, reasonInvalidInput, err)
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if account.Disabled {
		return nil
	}
	secret, err := s.issuer.Issue(ctx, tokens.PurposeReset, account.ID)
	if err != nil {
		return err
	}
	s.deliver(opRequestPasswordReset, account.ID, func() (mail.Message, error) {
		return s.templates.PasswordReset(account.Email, account.Name, secret.Value, s.resetLink(secret.Value, account.Email), s.validity(tokens.PurposeReset))
	})
	return nil
}

// VerifyResetCode reports whether code is currently valid without consuming it.
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) error {
	account, err := s.subjectFor(ctx, opVerifyResetCode, email)
	if err != nil {
		return err
	}
	_, err = s.redeem(ctx, opVerifyResetCode, tokens.PurposeReset, account.ID, code, false)
	return err
}

// ResetPassword redeems the reset code and sets newPassword. A pending
// invitation is settled by the reset: the account is activated and the
// invite link stops working.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := s.checkPassword(opResetPassword, newPassword); err != nil {
		return err
	}
	account, err := s.subjectFor(ctx, opResetPassword, email)
	if err != nil {
		return err
	}
	if _, err := s.redeem(ctx, opResetPassword, tokens.PurposeReset, account.ID, code, true); err != nil {
		return err
	}
	pending := account.Pending()
	if pending {
		if err := s.revoke(ctx, opResetPassword, account.ID, tokens.PurposeInvite); err != nil {
			return err
		}
	}
	return s.mutator.Apply(ctx, tokens.PurposeReset, account.ID, Payload{NewPassword: newPassword, ActivatePending: pending})
}

// RequestEmailChange mails a confirmation code to newEmail.
func (s *Service) RequestEmailChange(ctx context.Context, subjectID, newEmail string) error {
	newEmail = identity.NormalizeEmail(newEmail)
	if err := s.validate.Var(newEmail, "required,email,max=320"); err != nil {
		return apperr.Validation(opRequestEmailChange, reasonInvalidInput, err)
	}
	account, err := s.accounts.FindByID(ctx, subjectID)
	if err != nil {
		return err
	}
	if account.Email == newEmail {
		return apperr.Validation(opRequestEmailChange, reasonSameEmail, nil)
	}
	_, err = s.accounts.FindByEmail(ctx, newEmail)
	switch {
	case err == nil:
		return apperr.Conflict(opRequestEmailChange, reasonEmailTaken, identity.ErrEmailTaken)
	case !apperr.Is(err, apperr.KindNotFound):
		return err
	}

	secret, err := s.issuer.IssueWithPayload(ctx, tokens.PurposeEmailChange, account.ID, newEmail)
	if err != nil {
		return err
	}
	s.deliver(opRequestEmailChange, account.ID, func() (mail.Message, error) {
		return s.templates.EmailChange(newEmail, account.Name, secret.Value, s.validity(tokens.PurposeEmailChange))
	})
	return nil
}

// ConfirmEmailChange redeems code and moves the account to the address it was issued for.
func (s *Service) ConfirmEmailChange(ctx context.Context, subjectID, code string) (identity.Account, error) {
	verdict, err := s.redeem(ctx, opConfirmEmailChange, tokens.PurposeEmailChange, subjectID, code, true)
	if err != nil {
		return identity.Account{}, err
	}
	if err := s.mutator.Apply(ctx, tokens.PurposeEmailChange, subjectID, Payload{TargetEmail: verdict.Payload}); err != nil {
		return identity.Account{}, err
	}
	return s.accounts.FindByID(ctx, subjectID)
}

// ChangePassword replaces the password of an authenticated user.
func (s *Service) ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error {
	if oldPassword == "" {
		return apperr.Validation(opChangePassword, reasonInvalidInput, nil)
	}
	if err := s.checkPassword(opChangePassword, newPassword); err != nil {
		return err
	}
	if err := s.accounts.VerifyPassword(ctx, subjectID, oldPassword); err != nil {
		if apperr.Is(err, apperr.KindAuthRejected) {
			return apperr.Validation(opChangePassword, reasonOldPassword, err)
		}
		return err
	}
	if err := s.revoke(ctx, opChangePassword, subjectID, tokens.PurposeReset); err != nil {
		return err
	}
	return s.accounts.SetPassword(ctx, subjectID, newPassword)
}

// subjectFor resolves email to its account. Unknown and deactivated accounts
// resolve to the zero account, whose empty subject the verifier rejects
// through its decoy path.
func (s *Service) subjectFor(ctx context.Context, op, email string) (identity.Account, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return identity.Account{}, apperr.Validation(op, reasonInvalidInput, nil)
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if apperr.Is(err, apperr.KindNotFound) {
		return identity.Account{}, nil
	}
	if err != nil {
		return identity.Account{}, err
	}
	if account.Disabled {
		return identity.Account{}, nil
	}
	return account, nil
}

// revoke drops the live secrets of subjectID for each purpose.
func (s *Service) revoke(ctx context.Context, op, subjectID string, purposes ...tokens.Purpose) error {
	for _, purpose := range purposes {
		if err := s.issuer.Revoke(ctx, purpose, subjectID); err != nil {
			s.logger.Error("token revocation failed",
				zap.String(fieldOperation, op),
				zap.String(fieldReason, reasonRevokeFailed),
				zap.String(fieldPurpose, string(purpose)),
				zap.String(fieldSubjectID, subjectID),
				zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *Service) redeem(ctx context.Context, op string, purpose tokens.Purpose, subjectID, presented string, consume bool) (tokens.Verdict, error) {
	if strings.TrimSpace(presented) == "" {
		return tokens.Verdict{}, apperr.Validation(op, reasonInvalidInput, nil)
	}
	redeem := s.verifier.Check
	if consume {
		redeem = s.verifier.Consume
	}
	verdict, err := redeem(ctx, purpose, subjectID, presented)
	if err != nil {
		return tokens.Verdict{}, err
	}
	if !verdict.Accepted {
		return tokens.Verdict{}, apperr.AuthRejected(op, reasonInvalidToken, ErrInvalidToken)
	}
	return verdict, nil
}

func (s *Service) checkPassword(op, password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return apperr.Validation(op, reasonWeakPassword, ErrPasswordTooShort)
	case len(password) > MaxPasswordLength:
		return apperr.Validation(op, reasonWeakPassword, ErrPasswordTooLong)
	}
	return nil
}

// deliver renders and enqueues a message. Failures never fail the flow.
func (s *Service) deliver(op, subjectID string, render func() (mail.Message, error)) {
	msg, err := render()
	if err != nil {
		err = apperr.Delivery(op, reasonRenderFailed, err)
		s.logger.Warn("email render failed",
			zap.String(fieldOperation, op),
			zap.String(fieldReason, reasonRenderFailed),
			zap.String(fieldSubjectID, subjectID),
			zap.String(fieldErrorKind, string(apperr.KindOf(err))),
			zap.Error(err))
		return
	}
	if err := s.outbox.Enqueue(msg); err != nil {
		err = apperr.Delivery(op, reasonEnqueueFailed, err)
		s.logger.Warn("email enqueue failed",
			zap.String(fieldOperation, op),
			zap.String(fieldReason, reasonEnqueueFailed),
			zap.String(fieldSubjectID, subjectID),
			zap.String(fieldErrorKind, string(apperr.KindOf(err))),
			zap.Error(err))
	}
}

func (s *Service) inviteLink(token, email string) string {
	return s.link("/set-password", token, email)
}

func (s *Service) resetLink(token, email string) string {
	return s.link("/reset-password", token, email)
}

func (s *Service) link(path, token, email string) string {
	query := url.Values{}
	query.Set("token", token)
	query.Set("email", email)
	return s.frontendURL + path + "?" + query.Encode()
}

func (s *Service) validity(purpose tokens.Purpose) string {
	ttl, err := s.policy.TTL(purpose)
	if err != nil {
		return ""
	}
	return humanizeDuration(ttl)
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "jour")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "heure")
	default:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n > 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", n, unit)
}
