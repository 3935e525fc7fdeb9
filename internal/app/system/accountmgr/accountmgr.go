// internal/app/system/accountmgr/accountmgr.go
// Package accountmgr holds the account business rules. Every method runs
// inside the unit of work whose context it receives and performs at most one
// versioned write of the account, so a stale read surfaces as
// accountstore.ErrVersionConflict and rolls the whole unit back.
//
// Methods that act on an existing account take the copy loaded in the same
// unit of work. They mutate it in place; on failure the copy must be
// discarded.
package accountmgr

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: the numeric _id assigned by the store on creation
//   - Login / login: the human-readable, immutable string the account signs in with

import (
	"context"
	"errors"
	"time"

	accountstore "github.com/dalemusser/stratabook/internal/app/store/accounts"
	"github.com/dalemusser/stratabook/internal/app/store/forgotpassword"
	"github.com/dalemusser/stratabook/internal/app/store/passwordhistory"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrLookupFailed            = errors.New("account lookup failed")
	ErrLoginAlreadyExists      = errors.New("login already exists")
	ErrEmailAlreadyExists      = errors.New("email already exists")
	ErrAccountAlreadyConfirmed = errors.New("account already confirmed")
	ErrPasswordAlreadyUsed     = errors.New("password already used")
	ErrInvalidResetToken       = errors.New("invalid or expired password reset token")
)

// AccountStore is the versioned account persistence the service needs.
type AccountStore interface {
	Create(ctx context.Context, a models.Account) (models.Account, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByLogin(ctx context.Context, login string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByToken(ctx context.Context, token string) (*models.Account, error)
	List(ctx context.Context, opts ...*options.FindOptions) ([]models.Account, error)
	Filter(ctx context.Context, query string, opts ...*options.FindOptions) ([]models.Account, error)
	Update(ctx context.Context, a *models.Account) error
}

// HistoryStore keeps the password history of each account.
type HistoryStore interface {
	Append(ctx context.Context, accountID int64, digest string) (models.PreviousPassword, error)
	ListByAccount(ctx context.Context, accountID int64) (models.PasswordHistory, error)
}

// TokenStore keeps the outstanding forgot-password token of each account.
type TokenStore interface {
	Create(ctx context.Context, accountID int64, email string) (*models.ForgotPasswordToken, error)
	VerifyToken(ctx context.Context, token string) (*models.ForgotPasswordToken, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Service applies account business rules against the stores.
type Service struct {
	accounts AccountStore
	history  HistoryStore
	tokens   TokenStore
	now      func() time.Time
}

func New(accounts AccountStore, history HistoryStore, tokens TokenStore) *Service {
	return &Service{
		accounts: accounts,
		history:  history,
		tokens:   tokens,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindByID loads an account by id.
func (s *Service) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	return notFound(s.accounts.GetByID(ctx, id))
}

// FindByLogin loads an account by its exact login.
func (s *Service) FindByLogin(ctx context.Context, login string) (*models.Account, error) {
	return notFound(s.accounts.GetByLogin(ctx, login))
}

// FindByEmail loads an account by e-mail.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return notFound(s.accounts.GetByEmail(ctx, email))
}

// FindByToken loads the account holding a verification token. A miss is
// reported as ErrLookupFailed, not ErrAccountNotFound: the caller is not yet
// authenticated and should not learn whether an account exists.
func (s *Service) FindByToken(ctx context.Context, token string) (*models.Account, error) {
	a, err := s.accounts.GetByToken(ctx, token)
	if errors.Is(err, accountstore.ErrNotFound) {
		return nil, ErrLookupFailed
	}
	return a, err
}

func notFound(a *models.Account, err error) (*models.Account, error) {
	if errors.Is(err, accountstore.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

// ListAccounts returns accounts sorted by login.
func (s *Service) ListAccounts(ctx context.Context, opts ...*options.FindOptions) ([]models.Account, error) {
	return s.accounts.List(ctx, opts...)
}

// FilterAccounts returns accounts whose login or names contain query.
func (s *Service) FilterAccounts(ctx context.Context, query string, opts ...*options.FindOptions) ([]models.Account, error) {
	return s.accounts.Filter(ctx, query, opts...)
}

// CreateAccount stores a new account and records its initial password in the
// history.
func (s *Service) CreateAccount(ctx context.Context, a models.Account) (models.Account, error) {
	created, err := s.accounts.Create(ctx, a)
	switch {
	case errors.Is(err, accountstore.ErrDuplicateLogin):
		return models.Account{}, ErrLoginAlreadyExists
	case errors.Is(err, accountstore.ErrDuplicateEmail):
		return models.Account{}, ErrEmailAlreadyExists
	case err != nil:
		return models.Account{}, err
	}

	if _, err := s.history.Append(ctx, created.ID, created.Password); err != nil {
		return models.Account{}, err
	}
	return created, nil
}

// ConfirmAccount marks a as confirmed. Confirming twice is an error.
func (s *Service) ConfirmAccount(ctx context.Context, a *models.Account) error {
	if a.Confirmed {
		return ErrAccountAlreadyConfirmed
	}
	a.Confirmed = true
	return s.accounts.Update(ctx, a)
}

// ChangeOwnPassword sets digest as the current password. Any digest already
// in the account's history is refused.
func (s *Service) ChangeOwnPassword(ctx context.Context, a *models.Account, digest string) error {
	history, err := s.history.ListByAccount(ctx, a.ID)
	if err != nil {
		return err
	}
	if history.Contains(digest) {
		return ErrPasswordAlreadyUsed
	}

	a.Password = digest
	a.ForcePasswordChange = false
	if err := s.accounts.Update(ctx, a); err != nil {
		return err
	}
	if _, err := s.history.Append(ctx, a.ID, digest); err != nil {
		if errors.Is(err, passwordhistory.ErrDuplicate) {
			return ErrPasswordAlreadyUsed
		}
		return err
	}
	return nil
}

// ChangeOtherPassword sets digest as the current password on behalf of an
// administrator. Reuse is allowed; a digest already in the history is not
// recorded twice. The owner must change it at next sign-in.
func (s *Service) ChangeOtherPassword(ctx context.Context, a *models.Account, digest string) error {
	history, err := s.history.ListByAccount(ctx, a.ID)
	if err != nil {
		return err
	}

	a.Password = digest
	a.ForcePasswordChange = true
	if err := s.accounts.Update(ctx, a); err != nil {
		return err
	}
	if history.Contains(digest) {
		return nil
	}
	_, err = s.history.Append(ctx, a.ID, digest)
	return err
}

// EditProfile applies the non-nil fields of patch.
func (s *Service) EditProfile(ctx context.Context, a *models.Account, patch models.ProfilePatch) error {
	if patch.FirstName != nil {
		a.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		a.LastName = *patch.LastName
	}
	return s.accounts.Update(ctx, a)
}

// BlockAccount deactivates a.
func (s *Service) BlockAccount(ctx context.Context, a *models.Account) error {
	a.Active = false
	return s.accounts.Update(ctx, a)
}

// UnlockAccount reactivates a and clears its failed-auth counter.
func (s *Service) UnlockAccount(ctx context.Context, a *models.Account) error {
	a.Active = true
	a.FailedAuthCounter = 0
	return s.accounts.Update(ctx, a)
}

// RecordAuthSuccess notes a successful sign-in from ip.
func (s *Service) RecordAuthSuccess(ctx context.Context, a *models.Account, ip string) error {
	now := s.now()
	a.FailedAuthCounter = 0
	a.LastSuccessfulAuth = &now
	a.LastAuthIP = ip
	return s.accounts.Update(ctx, a)
}

// RecordAuthFailure notes a failed sign-in from ip. Once the counter reaches
// maxFailures an active account is blocked and blocked is true. A
// maxFailures of zero or less never blocks.
func (s *Service) RecordAuthFailure(ctx context.Context, a *models.Account, ip string, maxFailures int) (blocked bool, err error) {
	now := s.now()
	a.FailedAuthCounter++
	a.LastFailedAuth = &now
	a.LastAuthIP = ip
	if maxFailures > 0 && a.FailedAuthCounter >= maxFailures && a.Active {
		a.Active = false
		blocked = true
	}
	if err := s.accounts.Update(ctx, a); err != nil {
		return false, err
	}
	return blocked, nil
}

// CreateForgotPasswordToken issues a reset token for a, replacing any
// earlier one.
func (s *Service) CreateForgotPasswordToken(ctx context.Context, a *models.Account) (*models.ForgotPasswordToken, error) {
	return s.tokens.Create(ctx, a.ID, a.Email)
}

// VerifyForgotPasswordToken returns the live token record for token.
func (s *Service) VerifyForgotPasswordToken(ctx context.Context, token string) (*models.ForgotPasswordToken, error) {
	t, err := s.tokens.VerifyToken(ctx, token)
	if errors.Is(err, forgotpassword.ErrInvalidToken) {
		return nil, ErrInvalidResetToken
	}
	return t, err
}

// ConsumeForgotPasswordToken deletes a used token.
func (s *Service) ConsumeForgotPasswordToken(ctx context.Context, t *models.ForgotPasswordToken) error {
	return s.tokens.Delete(ctx, t.ID)
}
