package forgotpassword

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/stratabook/internal/testutil"
)

const testExpiry = 30 * time.Minute

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, testExpiry)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	tok, err := store.Create(ctx, 1, "bob@example.com")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if tok.ID.IsZero() {
		t.Error("ID should not be zero")
	}
	if tok.AccountID != 1 {
		t.Errorf("AccountID = %d, want 1", tok.AccountID)
	}
	if tok.Token == "" {
		t.Error("Token should not be empty")
	}
	if tok.ExpiresAt.Before(time.Now()) {
		t.Error("ExpiresAt should be in the future")
	}
}

func TestStore_Create_ReplacesPrevious(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, testExpiry)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	first, err := store.Create(ctx, 1, "bob@example.com")
	if err != nil {
		t.Fatalf("Create() first error = %v", err)
	}
	second, err := store.Create(ctx, 1, "bob@example.com")
	if err != nil {
		t.Fatalf("Create() second error = %v", err)
	}
	if first.Token == second.Token {
		t.Fatal("Create() reused a token")
	}

	if _, err := store.VerifyToken(ctx, first.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyToken(first) error = %v, want ErrInvalidToken", err)
	}
	got, err := store.VerifyToken(ctx, second.Token)
	if err != nil {
		t.Fatalf("VerifyToken(second) error = %v", err)
	}
	if got.AccountID != 1 {
		t.Errorf("VerifyToken() AccountID = %d, want 1", got.AccountID)
	}

	n, err := db.Collection("forgot_password_tokens").CountDocuments(ctx, map[string]any{"account_id": int64(1)})
	if err != nil {
		t.Fatalf("CountDocuments() error = %v", err)
	}
	if n != 1 {
		t.Errorf("tokens for account = %d, want 1", n)
	}
}

func TestStore_VerifyToken_Expired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, time.Millisecond)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, 1, "bob@example.com")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := store.VerifyToken(ctx, created.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestStore_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, testExpiry)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, 7, "carol@example.com")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.VerifyToken(ctx, created.Token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}

	if err := store.Delete(ctx, got.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.VerifyToken(ctx, created.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyToken() after Delete error = %v, want ErrInvalidToken", err)
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	short := New(db, time.Millisecond)
	long := New(db, testExpiry)

	if _, err := short.Create(ctx, 1, "bob@example.com"); err != nil {
		t.Fatalf("Create(expiring) error = %v", err)
	}
	kept, err := long.Create(ctx, 2, "alice@example.com")
	if err != nil {
		t.Fatalf("Create(live) error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	n, err := long.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
	if _, err := long.VerifyToken(ctx, kept.Token); err != nil {
		t.Errorf("VerifyToken(live) error = %v", err)
	}
	left, err := db.Collection("forgot_password_tokens").CountDocuments(ctx, map[string]any{"account_id": int64(1)})
	if err != nil {
		t.Fatalf("CountDocuments() error = %v", err)
	}
	if left != 0 {
		t.Errorf("expired tokens left = %d, want 0", left)
	}
}
