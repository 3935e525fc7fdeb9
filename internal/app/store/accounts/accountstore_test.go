package accountstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"github.com/dalemusser/stratabook/internal/app/system/inputval"
	"github.com/dalemusser/stratabook/internal/app/system/txn"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"github.com/dalemusser/stratabook/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
)

func newAccount(login, email string) models.Account {
	a := models.NewAccount()
	a.Login = login
	a.Password = strings.Repeat("a1", 32)
	a.FirstName = "Bob"
	a.LastName = "Smith"
	a.Email = email
	return a
}

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, newAccount("bob", " Bob@Example.com "))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.ID != 1 {
		t.Errorf("Create() ID = %d, want 1", created.ID)
	}
	if created.Version != 1 {
		t.Errorf("Create() Version = %d, want 1", created.Version)
	}
	if created.Email != "bob@example.com" {
		t.Errorf("Create() Email = %q, want normalized", created.Email)
	}
	if created.LoginCI == "" || created.FirstNameCI == "" {
		t.Error("Create() did not set folded keys")
	}
	if created.VerificationToken == "" {
		t.Error("Create() did not set VerificationToken")
	}
	if created.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}

	second, err := store.Create(ctx, newAccount("alice", "alice@example.com"))
	if err != nil {
		t.Fatalf("Create(second) error = %v", err)
	}
	if second.ID != 2 {
		t.Errorf("Create(second) ID = %d, want 2", second.ID)
	}
}

func TestStore_Create_Invalid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := newAccount("bob", "not-an-email")
	_, err := store.Create(ctx, a)
	if !errors.Is(err, inputval.ErrInvalid) {
		t.Errorf("Create() error = %v, want inputval.ErrInvalid", err)
	}
}

func TestStore_Create_Duplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, newAccount("bob", "bob@example.com")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name    string
		account models.Account
		want    error
	}{
		{"same login", newAccount("bob", "other@example.com"), ErrDuplicateLogin},
		{"same email", newAccount("robert", "bob@example.com"), ErrDuplicateEmail},
		{"same email different case", newAccount("bobby", "BOB@example.com"), ErrDuplicateEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.account)
			if !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_Lookups(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, newAccount("bob", "bob@example.com"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byID, err := store.GetByID(ctx, created.ID)
	if err != nil || byID.Login != "bob" {
		t.Errorf("GetByID() = %v, %v", byID, err)
	}
	byLogin, err := store.GetByLogin(ctx, "bob")
	if err != nil || byLogin.ID != created.ID {
		t.Errorf("GetByLogin() = %v, %v", byLogin, err)
	}
	byEmail, err := store.GetByEmail(ctx, "BOB@example.com")
	if err != nil || byEmail.ID != created.ID {
		t.Errorf("GetByEmail() = %v, %v", byEmail, err)
	}
	byToken, err := store.GetByToken(ctx, created.VerificationToken)
	if err != nil || byToken.ID != created.ID {
		t.Errorf("GetByToken() = %v, %v", byToken, err)
	}

	misses := map[string]func() error{
		"id":          func() error { _, err := store.GetByID(ctx, 999); return err },
		"login":       func() error { _, err := store.GetByLogin(ctx, "nobody"); return err },
		"login case":  func() error { _, err := store.GetByLogin(ctx, "BOB"); return err },
		"email":       func() error { _, err := store.GetByEmail(ctx, "nobody@example.com"); return err },
		"token":       func() error { _, err := store.GetByToken(ctx, "nope"); return err },
		"empty token": func() error { _, err := store.GetByToken(ctx, ""); return err },
	}
	for name, fn := range misses {
		t.Run(name, func(t *testing.T) {
			if err := fn(); !errors.Is(err, ErrNotFound) {
				t.Errorf("lookup error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_Update_VersionCAS(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, newAccount("bob", "bob@example.com"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, _ := store.GetByID(ctx, created.ID)
	second, _ := store.GetByID(ctx, created.ID)

	first.FirstName = "Robert"
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("Update(first) error = %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Update(first) Version = %d, want 2", first.Version)
	}

	second.LastName = "Jones"
	err = store.Update(ctx, second)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Update(stale) error = %v, want ErrVersionConflict", err)
	}
	if !errors.Is(err, txn.ErrConflict) {
		t.Error("ErrVersionConflict should wrap txn.ErrConflict")
	}

	got, _ := store.GetByID(ctx, created.ID)
	if got.FirstName != "Robert" || got.LastName != "Smith" {
		t.Errorf("stale write leaked: first=%q last=%q", got.FirstName, got.LastName)
	}
	if got.Version != 2 {
		t.Errorf("stored Version = %d, want 2", got.Version)
	}
}

func TestStore_Update_VersionMonotonic(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, newAccount("bob", "bob@example.com"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	a := &created
	for i := 0; i < 5; i++ {
		before := a.Version
		a.FailedAuthCounter = i
		if err := store.Update(ctx, a); err != nil {
			t.Fatalf("Update(%d) error = %v", i, err)
		}
		if a.Version != before+1 {
			t.Errorf("Update(%d) Version = %d, want %d", i, a.Version, before+1)
		}
	}
}

func TestStore_Update_ImmutableFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, newAccount("bob", "bob@example.com"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	created.Login = "mallory"
	created.Email = "mallory@example.com"
	if err := store.Update(ctx, &created); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := store.GetByID(ctx, created.ID)
	if got.Login != "bob" || got.Email != "bob@example.com" {
		t.Errorf("Update() changed immutable fields: login=%q email=%q", got.Login, got.Email)
	}
}

func TestStore_Update_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := newAccount("ghost", "ghost@example.com")
	a.ID = 42
	a.Version = 1
	if err := store.Update(ctx, &a); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListAndFilter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i, login := range []string{"carol", "alice", "bob"} {
		a := newAccount(login, fmt.Sprintf("u%d@example.com", i))
		a.FirstName = strings.ToUpper(login[:1]) + login[1:]
		if login == "carol" {
			a.LastName = "Zoë"
		}
		if _, err := store.Create(ctx, a); err != nil {
			t.Fatalf("Create(%s) error = %v", login, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].Login != "alice" || all[2].Login != "carol" {
		t.Errorf("List() order = %v", logins(all))
	}

	page, err := store.List(ctx, storeutil.Paginate(2, 2))
	if err != nil {
		t.Fatalf("List(page 2) error = %v", err)
	}
	if len(page) != 1 || page[0].Login != "carol" {
		t.Errorf("List(page 2) = %v, want [carol]", logins(page))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"alice", "bob", "carol"}},
		{"BO", []string{"bob"}},
		{"zoe", []string{"carol"}},
		{"smith", []string{"alice", "bob"}},
		{"a.*", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := store.Filter(ctx, tt.query)
			if err != nil {
				t.Fatalf("Filter(%q) error = %v", tt.query, err)
			}
			if strings.Join(logins(got), ",") != strings.Join(tt.want, ",") {
				t.Errorf("Filter(%q) = %v, want %v", tt.query, logins(got), tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	loginDup := mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: db.accounts index: uniq_accounts_login dup key: { login: \"bob\" }",
	}}}
	emailDup := mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: db.accounts index: uniq_accounts_email dup key: { email: \"b@x.io\" }",
	}}}
	other := errors.New("boom")

	if got := classify(loginDup); got != ErrDuplicateLogin {
		t.Errorf("classify(login dup) = %v, want ErrDuplicateLogin", got)
	}
	if got := classify(emailDup); got != ErrDuplicateEmail {
		t.Errorf("classify(email dup) = %v, want ErrDuplicateEmail", got)
	}
	if got := classify(other); got != other {
		t.Errorf("classify(other) = %v, want passthrough", got)
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func logins(as []models.Account) []string {
	var out []string
	for _, a := range as {
		out = append(out, a.Login)
	}
	return out
}
