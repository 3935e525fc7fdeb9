// internal/app/system/accountops/accountops.go
// Package accountops is the operation surface callers outside the core use.
// Each operation is one retried unit of work: the account is reloaded by id
// at the start of every attempt, the accountmgr rule is applied, and the
// result is returned only once the unit commits. Notifications go out after
// the commit and never affect the result.
package accountops

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: the numeric _id assigned by the store on creation
//   - Login / login: the human-readable, immutable string the account signs in with

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"github.com/dalemusser/stratabook/internal/app/system/accountmgr"
	"github.com/dalemusser/stratabook/internal/app/system/authutil"
	"github.com/dalemusser/stratabook/internal/app/system/mailer"
	"github.com/dalemusser/stratabook/internal/app/system/normalize"
	"github.com/dalemusser/stratabook/internal/app/system/retry"
	"github.com/dalemusser/stratabook/internal/app/system/timeouts"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"go.uber.org/zap"
)

var (
	// ErrInvalidPassword wraps the authutil policy error for a rejected plain-text password.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidCredentials is returned by Authenticate for an unknown login or wrong password.
	ErrInvalidCredentials = errors.New("invalid login or password")
	// ErrAccountInactive is returned by Authenticate for a blocked account
	// whose password matched.
	ErrAccountInactive = errors.New("account is blocked")
)

// Config holds the policy values of the operation surface.
type Config struct {
	// MaxFailedAuth blocks an account after this many consecutive failed
	// sign-ins. Zero disables blocking.
	MaxFailedAuth int
}

// Ops runs account operations through the retry executor.
type Ops struct {
	exec     *retry.Executor
	svc      *accountmgr.Service
	hasher   *authutil.Hasher
	notifier mailer.Notifier
	log      *zap.Logger
	cfg      Config
}

// New wires the operation surface. notifier and log may be nil.
func New(exec *retry.Executor, svc *accountmgr.Service, hasher *authutil.Hasher, notifier mailer.Notifier, log *zap.Logger, cfg Config) *Ops {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = mailer.Discard{Log: log}
	}
	return &Ops{
		exec:     exec,
		svc:      svc,
		hasher:   hasher,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
	}
}

// CreateInput is what a caller supplies to register an account.
type CreateInput struct {
	Login     string `json:"login"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// ListOptions pages List and Filter. Zero values select the first page of 20.
type ListOptions struct {
	Page    int64
	PerPage int64
}

// ---- lookups ----

func (o *Ops) Get(ctx context.Context, id int64) (*models.Account, error) {
	return retry.Call(ctx, o.exec, "get", func(ctx context.Context) (*models.Account, error) {
		return o.svc.FindByID(ctx, id)
	})
}

func (o *Ops) LookupByLogin(ctx context.Context, login string) (*models.Account, error) {
	return retry.Call(ctx, o.exec, "lookup_by_login", func(ctx context.Context) (*models.Account, error) {
		return o.svc.FindByLogin(ctx, login)
	})
}

func (o *Ops) LookupByEmail(ctx context.Context, email string) (*models.Account, error) {
	return retry.Call(ctx, o.exec, "lookup_by_email", func(ctx context.Context) (*models.Account, error) {
		return o.svc.FindByEmail(ctx, email)
	})
}

func (o *Ops) LookupByToken(ctx context.Context, token string) (*models.Account, error) {
	return retry.Call(ctx, o.exec, "lookup_by_token", func(ctx context.Context) (*models.Account, error) {
		return o.svc.FindByToken(ctx, token)
	})
}

// List returns one page of accounts sorted by login.
func (o *Ops) List(ctx context.Context, lo ListOptions) ([]models.Account, error) {
	return retry.Call(ctx, o.exec, "list", func(ctx context.Context) ([]models.Account, error) {
		return o.svc.ListAccounts(ctx, storeutil.Paginate(lo.PerPage, lo.Page))
	})
}

// Filter returns one page of accounts matching query.
func (o *Ops) Filter(ctx context.Context, query string, lo ListOptions) ([]models.Account, error) {
	return retry.Call(ctx, o.exec, "filter", func(ctx context.Context) ([]models.Account, error) {
		return o.svc.FilterAccounts(ctx, query, storeutil.Paginate(lo.PerPage, lo.Page))
	})
}

// ---- mutations ----

// Create registers an account and e-mails its confirmation link.
func (o *Ops) Create(ctx context.Context, in CreateInput) (models.Account, error) {
	if err := checkPassword(in.Password); err != nil {
		return models.Account{}, err
	}

	created, err := retry.Call(ctx, o.exec, "create", func(ctx context.Context) (models.Account, error) {
		a := models.NewAccount()
		a.Login = normalize.Login(in.Login)
		a.Password = o.hasher.Hash(a.Login, in.Password)
		a.FirstName = in.FirstName
		a.LastName = in.LastName
		a.Email = in.Email
		return o.svc.CreateAccount(ctx, a)
	})
	if err != nil {
		return models.Account{}, err
	}

	o.log.Info("account created",
		zap.Int64("account_id", created.ID),
		zap.String("login", created.Login))
	token := created.VerificationToken
	o.notify(ctx, "confirmation", created, func(ctx context.Context, to mailer.Recipient) error {
		return o.notifier.NotifyConfirmation(ctx, to, token)
	})
	return created, nil
}

// Confirm marks the account as confirmed.
func (o *Ops) Confirm(ctx context.Context, id int64) (*models.Account, error) {
	return o.mutate(ctx, "confirm", id, o.svc.ConfirmAccount)
}

// ChangeOwnPassword is the self-service password change. A password used
// before by this account is refused.
func (o *Ops) ChangeOwnPassword(ctx context.Context, id int64, password string) (*models.Account, error) {
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	return o.mutate(ctx, "change_own_password", id, func(ctx context.Context, a *models.Account) error {
		return o.svc.ChangeOwnPassword(ctx, a, o.hasher.Hash(a.Login, password))
	})
}

// ChangeOtherPassword is the administrator reset. Reusing an old password is
// allowed.
func (o *Ops) ChangeOtherPassword(ctx context.Context, id int64, password string) (*models.Account, error) {
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	return o.mutate(ctx, "change_other_password", id, func(ctx context.Context, a *models.Account) error {
		return o.svc.ChangeOtherPassword(ctx, a, o.hasher.Hash(a.Login, password))
	})
}

func (o *Ops) EditProfile(ctx context.Context, id int64, patch models.ProfilePatch) (*models.Account, error) {
	return o.mutate(ctx, "edit_profile", id, func(ctx context.Context, a *models.Account) error {
		return o.svc.EditProfile(ctx, a, patch)
	})
}

// Block deactivates the account and, once committed, notifies its owner.
func (o *Ops) Block(ctx context.Context, id int64) (*models.Account, error) {
	a, err := o.mutate(ctx, "block", id, o.svc.BlockAccount)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, "blocked", *a, o.notifier.NotifyBlocked)
	return a, nil
}

// Unlock reactivates the account and, once committed, notifies its owner.
func (o *Ops) Unlock(ctx context.Context, id int64) (*models.Account, error) {
	a, err := o.mutate(ctx, "unlock", id, o.svc.UnlockAccount)
	if err != nil {
		return nil, err
	}
	o.notify(ctx, "unlocked", *a, o.notifier.NotifyUnlocked)
	return a, nil
}

// ---- authentication bookkeeping ----

func (o *Ops) RecordAuthSuccess(ctx context.Context, id int64, ip string) (*models.Account, error) {
	return o.mutate(ctx, "record_auth_success", id, func(ctx context.Context, a *models.Account) error {
		return o.svc.RecordAuthSuccess(ctx, a, ip)
	})
}

// RecordAuthFailure counts a failed sign-in and blocks the account at the
// configured threshold.
func (o *Ops) RecordAuthFailure(ctx context.Context, id int64, ip string) (*models.Account, error) {
	var blocked bool
	a, err := o.mutate(ctx, "record_auth_failure", id, func(ctx context.Context, a *models.Account) error {
		var err error
		blocked, err = o.svc.RecordAuthFailure(ctx, a, ip, o.cfg.MaxFailedAuth)
		return err
	})
	if err != nil {
		return nil, err
	}
	if blocked {
		o.log.Warn("account blocked after failed sign-ins",
			zap.Int64("account_id", a.ID),
			zap.Int("failed_auth_counter", a.FailedAuthCounter))
		o.notify(ctx, "blocked", *a, o.notifier.NotifyBlocked)
	}
	return a, nil
}

// Authenticate checks login and password and records the outcome on the
// account. Unknown logins and wrong passwords both yield ErrInvalidCredentials;
// a blocked account is only reported as ErrAccountInactive once the password
// matched, so a caller without it cannot tell blocked from active.
func (o *Ops) Authenticate(ctx context.Context, login, password, ip string) (*models.Account, error) {
	a, err := o.LookupByLogin(ctx, login)
	if errors.Is(err, accountmgr.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !o.hasher.Matches(a.Login, password, a.Password) {
		if a.Active {
			if _, err := o.RecordAuthFailure(ctx, a.ID, ip); err != nil {
				return nil, err
			}
		}
		return nil, ErrInvalidCredentials
	}
	if !a.Active {
		return nil, ErrAccountInactive
	}
	return o.RecordAuthSuccess(ctx, a.ID, ip)
}

// ---- password reset ----

// RequestPasswordReset issues a reset token for the account registered under
// email and mails it. An unknown e-mail is not an error, so callers cannot
// probe for accounts.
func (o *Ops) RequestPasswordReset(ctx context.Context, email string) error {
	var acct models.Account
	tok, err := retry.Call(ctx, o.exec, "request_password_reset", func(ctx context.Context) (*models.ForgotPasswordToken, error) {
		a, err := o.svc.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		acct = *a
		return o.svc.CreateForgotPasswordToken(ctx, a)
	})
	if errors.Is(err, accountmgr.ErrAccountNotFound) {
		o.log.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	token := tok.Token
	o.notify(ctx, "password_reset", acct, func(ctx context.Context, to mailer.Recipient) error {
		return o.notifier.NotifyPasswordReset(ctx, to, token)
	})
	return nil
}

// CompletePasswordReset redeems a reset token: the password is changed under
// the self-service rules and the token is deleted in the same unit of work.
func (o *Ops) CompletePasswordReset(ctx context.Context, token, password string) (*models.Account, error) {
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	return retry.Call(ctx, o.exec, "complete_password_reset", func(ctx context.Context) (*models.Account, error) {
		tok, err := o.svc.VerifyForgotPasswordToken(ctx, token)
		if err != nil {
			return nil, err
		}
		a, err := o.svc.FindByID(ctx, tok.AccountID)
		if err != nil {
			return nil, err
		}
		if err := o.svc.ChangeOwnPassword(ctx, a, o.hasher.Hash(a.Login, password)); err != nil {
			return nil, err
		}
		if err := o.svc.ConsumeForgotPasswordToken(ctx, tok); err != nil {
			return nil, err
		}
		return a, nil
	})
}

// ---- helpers ----

// mutate reloads account id in every attempt and applies fn to the fresh copy.
func (o *Ops) mutate(ctx context.Context, op string, id int64, fn func(context.Context, *models.Account) error) (*models.Account, error) {
	a, err := retry.Call(ctx, o.exec, op, func(ctx context.Context) (*models.Account, error) {
		a, err := o.svc.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("account updated",
		zap.String("operation", op),
		zap.Int64("account_id", a.ID),
		zap.Int64("version", a.Version))
	return a, nil
}

// notify sends a notification in the background. The request context may be
// gone by then, so only its values are kept.
func (o *Ops) notify(ctx context.Context, kind string, a models.Account, send func(context.Context, mailer.Recipient) error) {
	to := mailer.Recipient{Email: a.Email, Name: a.FirstName}
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := timeouts.WithTimeout(bg, timeouts.Notify(), o.log, "notify_"+kind)
		defer cancel()
		if err := send(ctx, to); err != nil {
			o.log.Warn("account notification failed",
				zap.String("kind", kind),
				zap.Int64("account_id", a.ID),
				zap.Error(err))
		}
	}()
}

func checkPassword(password string) error {
	if err := authutil.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPassword, err)
	}
	return nil
}
