// Package identity is the source of truth for login credentials: accounts,
// bcrypt password hashes and session issuance.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	opCreateAccount  = "identity.create_account"
	opSetPassword    = "identity.set_password"
	opSetEmail       = "identity.set_email"
	opActivate       = "identity.activate"
	opSetActive      = "identity.set_active"
	opUpdateProfile  = "identity.update_profile"
	opDelete         = "identity.delete"
	opAuthenticate   = "identity.authenticate"
	opVerifyPassword = "identity.verify_password"
	opFind           = "identity.find"
	opList           = "identity.list"

	defaultOperationTimeout = 5 * time.Second
	sessionTokenType        = "Bearer"
)

var (
	ErrAccountNotFound    = errors.New("identity: account not found")
	ErrEmailTaken         = errors.New("identity: email already in use")
	ErrUsernameTaken      = errors.New("identity: username already in use")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrAccountDisabled    = errors.New("identity: account is deactivated")
	ErrAccountPending     = errors.New("identity: account invitation not accepted")
	ErrEmptySecret        = errors.New("identity: secret must not be empty")
)

// SessionIssuer mints the session token returned by Authenticate.
type SessionIssuer interface {
	IssueSessionToken(ctx context.Context, principal auth.Principal) (string, int64, error)
}

// ProviderConfig describes the dependencies required by Provider.
type ProviderConfig struct {
	Database         *gorm.DB
	Sessions         SessionIssuer
	BcryptCost       int
	OperationTimeout time.Duration
	IDGenerator      func() (string, error)
	Logger           *zap.Logger
}

// Provider stores accounts in the relational database.
type Provider struct {
	db        *gorm.DB
	sessions  SessionIssuer
	cost      int
	timeout   time.Duration
	newID     func() (string, error)
	logger    *zap.Logger
	decoyHash []byte
}

// NewProvider validates dependencies and applies defaults.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("identity: session issuer required")
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("identity: bcrypt cost %d out of range", cost)
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	// Unknown logins still pay for one bcrypt comparison.
	decoyHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("identity: prepare decoy hash: %w", err)
	}
	return &Provider{
		db:        cfg.Database,
		sessions:  cfg.Sessions,
		cost:      cost,
		timeout:   timeout,
		newID:     newID,
		logger:    logger,
		decoyHash: decoyHash,
	}, nil
}

// CreateAccount provisions an inactive account holding tempSecret and returns its subject id.
func (p *Provider) CreateAccount(ctx context.Context, email, tempSecret string, metadata Metadata) (string, error) {
	email = NormalizeEmail(email)
	username := strings.TrimSpace(metadata.Username)
	if email == "" {
		return "", apperr.Validation(opCreateAccount, "missing_email", nil)
	}
	if username == "" {
		username = email
	}
	hash, err := p.hash(opCreateAccount, tempSecret)
	if err != nil {
		return "", err
	}
	id, err := p.newID()
	if err != nil {
		return "", apperr.Internal(opCreateAccount, "id_generation_failed", err)
	}

	account := Account{
		ID:           id,
		Email:        email,
		Username:     username,
		Name:         strings.TrimSpace(metadata.Name),
		Role:         normalizeRole(metadata.Role),
		PasswordHash: hash,
		Active:       false,
	}

	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if taken, err := exists(tx, "email = ?", email); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}
		if taken, err := exists(tx, "username = ?", username); err != nil {
			return err
		} else if taken {
			return ErrUsernameTaken
		}
		return tx.Create(&account).Error
	})
	switch {
	case err == nil:
		return account.ID, nil
	case errors.Is(err, ErrEmailTaken):
		return "", apperr.Conflict(opCreateAccount, "email_taken", ErrEmailTaken)
	case errors.Is(err, ErrUsernameTaken):
		return "", apperr.Conflict(opCreateAccount, "username_taken", ErrUsernameTaken)
	case isUniqueViolation(err):
		return "", apperr.Conflict(opCreateAccount, "account_exists", err)
	default:
		return "", p.storageFailure(opCreateAccount, err, zap.String("email", email))
	}
}

// SetPassword replaces the password hash of subjectID.
func (p *Provider) SetPassword(ctx context.Context, subjectID, newSecret string) error {
	hash, err := p.hash(opSetPassword, newSecret)
	if err != nil {
		return err
	}
	return p.update(ctx, opSetPassword, subjectID, map[string]interface{}{"password_hash": hash})
}

// SetEmail moves subjectID to newEmail. ErrEmailTaken when another account holds it.
func (p *Provider) SetEmail(ctx context.Context, subjectID, newEmail string) error {
	email := NormalizeEmail(newEmail)
	if email == "" {
		return apperr.Validation(opSetEmail, "missing_email", nil)
	}

	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var affected int64
	err := p.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if taken, err := exists(tx, "email = ? AND id <> ?", email, subjectID); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}
		result := tx.Model(&Account{}).Where("id = ?", subjectID).Update("email", email)
		affected = result.RowsAffected
		return result.Error
	})
	switch {
	case err == nil && affected == 0:
		return apperr.NotFound(opSetEmail, "account_not_found", ErrAccountNotFound)
	case err == nil:
		return nil
	case errors.Is(err, ErrEmailTaken), isUniqueViolation(err):
		return apperr.Conflict(opSetEmail, "email_taken", ErrEmailTaken)
	default:
		return p.storageFailure(opSetEmail, err, zap.String("subject_id", subjectID))
	}
}

// Activate marks subjectID as active. Accounts deactivated by an
// administrator stay deactivated and yield ErrAccountDisabled.
func (p *Provider) Activate(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.db.WithContext(opCtx).Model(&Account{}).
		Where("id = ? AND disabled = ?", subjectID, false).
		Update("active", true)
	if result.Error != nil {
		return p.storageFailure(opActivate, result.Error, zap.String("subject_id", subjectID))
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := p.FindByID(ctx, subjectID); err != nil {
		return err
	}
	return apperr.Forbidden(opActivate, "account_disabled", ErrAccountDisabled)
}

// SetActive enables or deactivates subjectID. Deactivation is sticky: only
// another SetActive(true) lifts it.
func (p *Provider) SetActive(ctx context.Context, subjectID string, active bool) error {
	return p.update(ctx, opSetActive, subjectID, map[string]interface{}{
		"active":   active,
		"disabled": !active,
	})
}

// UpdateProfile applies the non-nil fields of update.
func (p *Provider) UpdateProfile(ctx context.Context, subjectID string, update ProfileUpdate) error {
	subjectID = strings.TrimSpace(subjectID)
	updates := map[string]interface{}{}
	if update.Name != nil {
		updates["name"] = strings.TrimSpace(*update.Name)
	}
	if update.Role != nil {
		updates["role"] = normalizeRole(*update.Role)
	}
	username := ""
	if update.Username != nil {
		username = strings.TrimSpace(*update.Username)
		if username == "" {
			return apperr.Validation(opUpdateProfile, "missing_username", nil)
		}
		updates["username"] = username
	}
	if len(updates) == 0 {
		_, err := p.FindByID(ctx, subjectID)
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var affected int64
	err := p.db.WithContext(opCtx).Transaction(func(tx *gorm.DB) error {
		if username != "" {
			if taken, err := exists(tx, "username = ? AND id <> ?", username, subjectID); err != nil {
				return err
			} else if taken {
				return ErrUsernameTaken
			}
		}
		result := tx.Model(&Account{}).Where("id = ?", subjectID).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	switch {
	case err == nil && affected == 0:
		return apperr.NotFound(opUpdateProfile, "account_not_found", ErrAccountNotFound)
	case err == nil:
		return nil
	case errors.Is(err, ErrUsernameTaken), isUniqueViolation(err):
		return apperr.Conflict(opUpdateProfile, "username_taken", ErrUsernameTaken)
	default:
		return p.storageFailure(opUpdateProfile, err, zap.String("subject_id", subjectID))
	}
}

// Delete removes subjectID.
func (p *Provider) Delete(ctx context.Context, subjectID string) error {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.db.WithContext(opCtx).Where("id = ?", strings.TrimSpace(subjectID)).Delete(&Account{})
	if result.Error != nil {
		return p.storageFailure(opDelete, result.Error, zap.String("subject_id", subjectID))
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(opDelete, "account_not_found", ErrAccountNotFound)
	}
	return nil
}

// Authenticate checks secret against the account found by email or username
// and issues a session token.
func (p *Provider) Authenticate(ctx context.Context, login, secret string) (Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || secret == "" {
		return Session{}, apperr.Validation(opAuthenticate, "missing_credentials", nil)
	}

	account, err := p.findByLogin(ctx, login)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return Session{}, p.storageFailure(opAuthenticate, err)
	}
	if errors.Is(err, ErrAccountNotFound) {
		_ = bcrypt.CompareHashAndPassword(p.decoyHash, []byte(secret))
		return Session{}, apperr.AuthRejected(opAuthenticate, "invalid_credentials", ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(secret)); err != nil {
		return Session{}, apperr.AuthRejected(opAuthenticate, "invalid_credentials", ErrInvalidCredentials)
	}
	switch {
	case account.Disabled:
		return Session{}, apperr.Forbidden(opAuthenticate, "account_disabled", ErrAccountDisabled)
	case !account.Active:
		return Session{}, apperr.Forbidden(opAuthenticate, "account_pending", ErrAccountPending)
	}

	token, expiresIn, err := p.sessions.IssueSessionToken(ctx, auth.Principal{
		UserID: account.ID,
		Email:  account.Email,
		Name:   account.Name,
		Role:   account.Role,
	})
	if err != nil {
		p.logger.Error("session issuance failed",
			zap.String("operation", opAuthenticate),
			zap.String("subject_id", account.ID),
			zap.Error(err))
		return Session{}, apperr.Internal(opAuthenticate, "session_issue_failed", err)
	}
	return Session{
		AccessToken: token,
		TokenType:   sessionTokenType,
		ExpiresIn:   expiresIn,
		Account:     account,
	}, nil
}

// VerifyPassword reports whether secret matches the current password of subjectID.
func (p *Provider) VerifyPassword(ctx context.Context, subjectID, secret string) error {
	account, err := p.FindByID(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(secret)); err != nil {
		return apperr.AuthRejected(opVerifyPassword, "invalid_credentials", ErrInvalidCredentials)
	}
	return nil
}

// FindByEmail returns the account registered under email.
func (p *Provider) FindByEmail(ctx context.Context, email string) (Account, error) {
	return p.findOne(ctx, "email = ?", NormalizeEmail(email))
}

// FindByID returns the account for subjectID.
func (p *Provider) FindByID(ctx context.Context, subjectID string) (Account, error) {
	return p.findOne(ctx, "id = ?", strings.TrimSpace(subjectID))
}

// List returns every account, newest first.
func (p *Provider) List(ctx context.Context) ([]Account, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var accounts []Account
	if err := p.db.WithContext(opCtx).Order("created_at DESC").Order("id DESC").Find(&accounts).Error; err != nil {
		return nil, p.storageFailure(opList, err)
	}
	return accounts, nil
}

func (p *Provider) findOne(ctx context.Context, query string, args ...interface{}) (Account, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var account Account
	err := p.db.WithContext(opCtx).Where(query, args...).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, apperr.NotFound(opFind, "account_not_found", ErrAccountNotFound)
	}
	if err != nil {
		return Account{}, p.storageFailure(opFind, err)
	}
	return account, nil
}

func (p *Provider) findByLogin(ctx context.Context, login string) (Account, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var account Account
	err := p.db.WithContext(opCtx).Where("username = ?", login).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = p.db.WithContext(opCtx).Where("email = ?", NormalizeEmail(login)).Take(&account).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	return account, err
}

func (p *Provider) update(ctx context.Context, op, subjectID string, updates map[string]interface{}) error {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.db.WithContext(opCtx).Model(&Account{}).Where("id = ?", strings.TrimSpace(subjectID)).Updates(updates)
	if result.Error != nil {
		return p.storageFailure(op, result.Error, zap.String("subject_id", subjectID))
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(op, "account_not_found", ErrAccountNotFound)
	}
	return nil
}

func (p *Provider) hash(op, secret string) (string, error) {
	if secret == "" {
		return "", apperr.Validation(op, "empty_secret", ErrEmptySecret)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation(op, "secret_too_long", err)
		}
		return "", apperr.Internal(op, "hash_failed", err)
	}
	return string(hash), nil
}

func (p *Provider) storageFailure(op string, err error, fields ...zap.Field) error {
	fields = append([]zap.Field{
		zap.String("operation", op),
		zap.String("reason", "storage_failed"),
		zap.Error(err),
	}, fields...)
	p.logger.Error("identity storage failure", fields...)
	return apperr.Unavailable(op, "storage_failed", err)
}

func exists(tx *gorm.DB, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := tx.Model(&Account{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
