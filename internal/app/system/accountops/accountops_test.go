package accountops

import (
	"context"
	"errors"
	"testing"
	"time"

	accountstore "github.com/dalemusser/stratabook/internal/app/store/accounts"
	"github.com/dalemusser/stratabook/internal/app/store/forgotpassword"
	"github.com/dalemusser/stratabook/internal/app/store/passwordhistory"
	"github.com/dalemusser/stratabook/internal/app/system/accountmgr"
	"github.com/dalemusser/stratabook/internal/app/system/authutil"
	"github.com/dalemusser/stratabook/internal/app/system/mailer"
	"github.com/dalemusser/stratabook/internal/app/system/retry"
	"github.com/dalemusser/stratabook/internal/app/system/txn"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"github.com/dalemusser/stratabook/internal/testutil"
	"go.uber.org/zap"
)

// racingStore simulates another session writing the same account between
// this unit's read and its write.
type racingStore struct {
	*accountstore.Store
	bg      context.Context
	races   int // remaining races; negative races forever
	updates int
}

func (r *racingStore) Update(ctx context.Context, a *models.Account) error {
	r.updates++
	if r.races != 0 {
		if r.races > 0 {
			r.races--
		}
		other, err := r.Store.GetByID(r.bg, a.ID)
		if err != nil {
			return err
		}
		if err := r.Store.Update(r.bg, other); err != nil {
			return err
		}
	}
	return r.Store.Update(ctx, a)
}

type notification struct {
	kind  string
	email string
	token string
}

type recordingNotifier struct {
	ch chan notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan notification, 16)}
}

func (n *recordingNotifier) NotifyBlocked(ctx context.Context, to mailer.Recipient) error {
	n.ch <- notification{kind: "blocked", email: to.Email}
	return nil
}

func (n *recordingNotifier) NotifyUnlocked(ctx context.Context, to mailer.Recipient) error {
	n.ch <- notification{kind: "unlocked", email: to.Email}
	return nil
}

func (n *recordingNotifier) NotifyConfirmation(ctx context.Context, to mailer.Recipient, token string) error {
	n.ch <- notification{kind: "confirmation", email: to.Email, token: token}
	return nil
}

func (n *recordingNotifier) NotifyPasswordReset(ctx context.Context, to mailer.Recipient, token string) error {
	n.ch <- notification{kind: "password_reset", email: to.Email, token: token}
	return nil
}

func (n *recordingNotifier) next(t *testing.T, kind string) notification {
	t.Helper()
	for {
		select {
		case got := <-n.ch:
			if got.kind == kind {
				return got
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s notification", kind)
			return notification{}
		}
	}
}

func (n *recordingNotifier) none(t *testing.T, kind string) {
	t.Helper()
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case got := <-n.ch:
			if got.kind == kind {
				t.Fatalf("unexpected %s notification", kind)
			}
		case <-deadline:
			return
		}
	}
}

type fixture struct {
	ops      *Ops
	store    *racingStore
	notifier *recordingNotifier
	ctx      context.Context
}

func setup(t *testing.T, limit int) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)

	store := &racingStore{Store: accountstore.New(db), bg: ctx}
	svc := accountmgr.New(store, passwordhistory.New(db), forgotpassword.New(db, time.Hour))
	exec := retry.New(limit, txn.New(db, zap.NewNop()), zap.NewNop(), nil)
	notifier := newRecordingNotifier()

	return &fixture{
		ops:      New(exec, svc, authutil.NewHasher("test-pepper"), notifier, zap.NewNop(), Config{MaxFailedAuth: 3}),
		store:    store,
		notifier: notifier,
		ctx:      ctx,
	}
}

func (f *fixture) createBob(t *testing.T) models.Account {
	t.Helper()
	a, err := f.ops.Create(f.ctx, CreateInput{
		Login:     "bob",
		Password:  "tr0ub4dor",
		FirstName: "Bob",
		LastName:  "Smith",
		Email:     "bob@x.com",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return a
}

func TestCreate_SendsConfirmation(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	got := f.notifier.next(t, "confirmation")
	if got.email != "bob@x.com" || got.token != bob.VerificationToken {
		t.Errorf("confirmation = %+v", got)
	}

	found, err := f.ops.LookupByToken(f.ctx, got.token)
	if err != nil || found.ID != bob.ID {
		t.Errorf("LookupByToken() = %v, %v", found, err)
	}
}

func TestCreate_Rejections(t *testing.T) {
	f := setup(t, 3)
	f.createBob(t)

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"weak password", CreateInput{Login: "al", Password: "123456", FirstName: "A", LastName: "B", Email: "al@x.com"}, ErrInvalidPassword},
		{"duplicate login", CreateInput{Login: "bob", Password: "s3cretpw", FirstName: "A", LastName: "B", Email: "b2@x.com"}, accountmgr.ErrLoginAlreadyExists},
		{"duplicate email", CreateInput{Login: "rob", Password: "s3cretpw", FirstName: "A", LastName: "B", Email: "bob@x.com"}, accountmgr.ErrEmailAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ops.Create(f.ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfirm_BobScenario(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	a, err := f.ops.Confirm(f.ctx, bob.ID)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !a.Confirmed {
		t.Error("Confirm() left account unconfirmed")
	}

	before := f.store.updates
	if _, err := f.ops.Confirm(f.ctx, bob.ID); !errors.Is(err, accountmgr.ErrAccountAlreadyConfirmed) {
		t.Errorf("Confirm(again) error = %v, want ErrAccountAlreadyConfirmed", err)
	}
	if f.store.updates != before {
		t.Error("business-rule failure should not reach the store")
	}
}

func TestRetry_ConflictsWithinLimitSucceed(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	f.store.races = 3
	a, err := f.ops.Confirm(f.ctx, bob.ID)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if f.store.updates != 4 {
		t.Errorf("update attempts = %d, want 4", f.store.updates)
	}
	// three concurrent writes plus our own
	if a.Version != bob.Version+4 {
		t.Errorf("Version = %d, want %d", a.Version, bob.Version+4)
	}
}

func TestRetry_LimitThreeAllConflict(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	f.store.races = -1
	_, err := f.ops.Block(f.ctx, bob.ID)
	if !errors.Is(err, retry.ErrRetriesExhausted) {
		t.Fatalf("Block() error = %v, want ErrRetriesExhausted", err)
	}
	if errors.Is(err, accountstore.ErrVersionConflict) || txn.IsConflict(err) {
		t.Error("exhaustion must not look like a raw conflict")
	}
	if f.store.updates != 4 {
		t.Errorf("update attempts = %d, want 4", f.store.updates)
	}

	f.store.races = 0
	got, _ := f.ops.Get(f.ctx, bob.ID)
	if !got.Active {
		t.Error("rolled-back block leaked")
	}
	f.notifier.none(t, "blocked")
}

func TestPasswordReuse(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	if _, err := f.ops.ChangeOwnPassword(f.ctx, bob.ID, "tr0ub4dor"); !errors.Is(err, accountmgr.ErrPasswordAlreadyUsed) {
		t.Errorf("ChangeOwnPassword(reuse) error = %v, want ErrPasswordAlreadyUsed", err)
	}
	if _, err := f.ops.ChangeOtherPassword(f.ctx, bob.ID, "tr0ub4dor"); err != nil {
		t.Errorf("ChangeOtherPassword(reuse) error = %v", err)
	}
	a, err := f.ops.ChangeOwnPassword(f.ctx, bob.ID, "c0rrect-horse")
	if err != nil {
		t.Fatalf("ChangeOwnPassword(fresh) error = %v", err)
	}
	if a.ForcePasswordChange {
		t.Error("self-service change should clear ForcePasswordChange")
	}
	if _, err := f.ops.ChangeOwnPassword(f.ctx, bob.ID, "123456"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("ChangeOwnPassword(weak) error = %v, want ErrInvalidPassword", err)
	}
}

func TestBlockUnlock_Notifies(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	if _, err := f.ops.Block(f.ctx, bob.ID); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	if got := f.notifier.next(t, "blocked"); got.email != "bob@x.com" {
		t.Errorf("blocked notification to %q", got.email)
	}

	a, err := f.ops.Unlock(f.ctx, bob.ID)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if !a.Active || a.FailedAuthCounter != 0 {
		t.Errorf("after unlock active=%v counter=%d", a.Active, a.FailedAuthCounter)
	}
	f.notifier.next(t, "unlocked")
}

func TestAuthenticate(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	a, err := f.ops.Authenticate(f.ctx, "bob", "tr0ub4dor", "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if a.LastAuthIP != "10.0.0.1" || a.LastSuccessfulAuth == nil {
		t.Errorf("success not recorded: ip=%q", a.LastAuthIP)
	}

	if _, err := f.ops.Authenticate(f.ctx, "nobody", "x", "10.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(unknown) error = %v, want ErrInvalidCredentials", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.ops.Authenticate(f.ctx, "bob", "wrong-pass", "10.0.0.9"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Authenticate(wrong %d) error = %v", i, err)
		}
	}
	f.notifier.next(t, "blocked")

	// blocked: a wrong password looks the same as for an active account
	if _, err := f.ops.Authenticate(f.ctx, "bob", "wrong-pass", "10.0.0.9"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(blocked, wrong password) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.ops.Authenticate(f.ctx, "bob", "tr0ub4dor", "10.0.0.1"); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("Authenticate(blocked) error = %v, want ErrAccountInactive", err)
	}

	got, _ := f.ops.Get(f.ctx, bob.ID)
	if got.FailedAuthCounter != 3 || got.Active {
		t.Errorf("counter=%d active=%v", got.FailedAuthCounter, got.Active)
	}
}

func TestPasswordReset(t *testing.T) {
	f := setup(t, 3)
	bob := f.createBob(t)

	if err := f.ops.RequestPasswordReset(f.ctx, "nobody@x.com"); err != nil {
		t.Errorf("RequestPasswordReset(unknown) error = %v", err)
	}
	f.notifier.none(t, "password_reset")

	if err := f.ops.RequestPasswordReset(f.ctx, "BOB@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	sent := f.notifier.next(t, "password_reset")

	if _, err := f.ops.CompletePasswordReset(f.ctx, sent.token, "tr0ub4dor"); !errors.Is(err, accountmgr.ErrPasswordAlreadyUsed) {
		t.Errorf("CompletePasswordReset(reuse) error = %v, want ErrPasswordAlreadyUsed", err)
	}

	a, err := f.ops.CompletePasswordReset(f.ctx, sent.token, "n3w-secret")
	if err != nil {
		t.Fatalf("CompletePasswordReset() error = %v", err)
	}
	if a.ID != bob.ID {
		t.Errorf("reset account id = %d, want %d", a.ID, bob.ID)
	}
	if _, err := f.ops.Authenticate(f.ctx, "bob", "n3w-secret", "10.0.0.1"); err != nil {
		t.Errorf("Authenticate(new password) error = %v", err)
	}
	if _, err := f.ops.CompletePasswordReset(f.ctx, sent.token, "another-1"); !errors.Is(err, accountmgr.ErrInvalidResetToken) {
		t.Errorf("CompletePasswordReset(used token) error = %v, want ErrInvalidResetToken", err)
	}
}

func TestListAndFilter(t *testing.T) {
	f := setup(t, 3)
	f.createBob(t)
	if _, err := f.ops.Create(f.ctx, CreateInput{
		Login: "alice", Password: "w0nderland", FirstName: "Alice", LastName: "Liddell", Email: "alice@x.com",
	}); err != nil {
		t.Fatalf("Create(alice) error = %v", err)
	}

	all, err := f.ops.List(f.ctx, ListOptions{})
	if err != nil || len(all) != 2 || all[0].Login != "alice" {
		t.Errorf("List() = %v, %v", all, err)
	}
	page, err := f.ops.List(f.ctx, ListOptions{Page: 2, PerPage: 1})
	if err != nil || len(page) != 1 || page[0].Login != "bob" {
		t.Errorf("List(page 2) = %v, %v", page, err)
	}
	hits, err := f.ops.Filter(f.ctx, "lidd", ListOptions{})
	if err != nil || len(hits) != 1 || hits[0].Login != "alice" {
		t.Errorf("Filter() = %v, %v", hits, err)
	}
}
