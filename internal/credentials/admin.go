package credentials

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/talenthub/internal/apperr"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/MarcoPoloResearchLab/talenthub/internal/tokens"
)

const (
	opUpdateAccount = "credentials.update_account"
	opDeleteAccount = "credentials.delete_account"

	reasonSelfLockout = "self_lockout"
)

var allPurposes = []tokens.Purpose{tokens.PurposeInvite, tokens.PurposeReset, tokens.PurposeEmailChange}

// AccountUpdate is an administrator edit of another account. Nil fields are kept.
type AccountUpdate struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=320"`
	Username *string `json:"username" validate:"omitempty,min=1,max=190"`
	Email    *string `json:"email" validate:"omitempty,email,max=320"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin user user_sourcing user_7options"`
	Password *string `json:"password"`
	Active   *bool   `json:"active"`
}

// UpdateAccount applies an administrator edit. Outstanding secrets that the
// edit makes stale are revoked before the change: reset codes on a password
// set, email-change codes on an email set, and every secret on deactivation.
func (s *Service) UpdateAccount(ctx context.Context, actorID, subjectID string, update AccountUpdate) (identity.Account, error) {
	if update.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*update.Role))
		update.Role = &role
	}
	if update.Email != nil {
		email := identity.NormalizeEmail(*update.Email)
		update.Email = &email
	}
	if err := s.validate.Struct(update); err != nil {
		return identity.Account{}, apperr.Validation(opUpdateAccount, reasonInvalidInput, err)
	}
	if update.Password != nil {
		if err := s.checkPassword(opUpdateAccount, *update.Password); err != nil {
			return identity.Account{}, err
		}
	}
	if subjectID == actorID && update.Active != nil && !*update.Active {
		return identity.Account{}, apperr.Validation(opUpdateAccount, reasonSelfLockout, nil)
	}

	account, err := s.accounts.FindByID(ctx, subjectID)
	if err != nil {
		return identity.Account{}, err
	}

	if update.Active != nil && !*update.Active {
		if err := s.revoke(ctx, opUpdateAccount, account.ID, allPurposes...); err != nil {
			return identity.Account{}, err
		}
		if err := s.accounts.SetActive(ctx, account.ID, false); err != nil {
			return identity.Account{}, err
		}
	}
	if update.Name != nil || update.Username != nil || update.Role != nil {
		if err := s.accounts.UpdateProfile(ctx, account.ID, identity.ProfileUpdate{
			Name:     update.Name,
			Username: update.Username,
			Role:     update.Role,
		}); err != nil {
			return identity.Account{}, err
		}
	}
	if update.Email != nil && *update.Email != account.Email {
		if err := s.revoke(ctx, opUpdateAccount, account.ID, tokens.PurposeEmailChange); err != nil {
			return identity.Account{}, err
		}
		if err := s.accounts.SetEmail(ctx, account.ID, *update.Email); err != nil {
			return identity.Account{}, err
		}
	}
	if update.Password != nil {
		if err := s.revoke(ctx, opUpdateAccount, account.ID, tokens.PurposeReset); err != nil {
			return identity.Account{}, err
		}
		if err := s.accounts.SetPassword(ctx, account.ID, *update.Password); err != nil {
			return identity.Account{}, err
		}
	}
	if update.Active != nil && *update.Active {
		if err := s.accounts.SetActive(ctx, account.ID, true); err != nil {
			return identity.Account{}, err
		}
	}
	return s.accounts.FindByID(ctx, account.ID)
}

// DeleteAccount removes subjectID after revoking all of its secrets.
// Administrators cannot delete themselves.
func (s *Service) DeleteAccount(ctx context.Context, actorID, subjectID string) error {
	if subjectID == actorID {
		return apperr.Validation(opDeleteAccount, reasonSelfLockout, nil)
	}
	account, err := s.accounts.FindByID(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := s.revoke(ctx, opDeleteAccount, account.ID, allPurposes...); err != nil {
		return err
	}
	return s.accounts.Delete(ctx, account.ID)
}
