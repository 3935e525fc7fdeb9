// internal/app/system/indexes/indexes.go
package indexes

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: the numeric _id assigned by the store on creation
//   - Login / login: the human-readable, immutable string the account signs in with

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Unique index names. The account store reads these back out of duplicate-key
// errors to tell a login clash from an e-mail clash.
const (
	AccountsLoginUnique       = "uniq_accounts_login"
	AccountsEmailUnique       = "uniq_accounts_email"
	PreviousPasswordsUnique   = "uniq_previous_passwords_password"
	ForgotPasswordAccountUniq = "uniq_forgot_password_account"
	ForgotPasswordTokenUniq   = "uniq_forgot_password_token"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	if err := ensureAccounts(ctx, db); err != nil {
		problems = append(problems, "accounts: "+err.Error())
	}
	if err := ensurePreviousPasswords(ctx, db); err != nil {
		problems = append(problems, "previous_passwords: "+err.Error())
	}
	if err := ensureForgotPasswordTokens(ctx, db); err != nil {
		problems = append(problems, "forgot_password_tokens: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Reconciling one collection's indexes                                        */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

// Best-effort duplicate-detector (works cross-vendors)
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(11000) {
		return true
	}
	return strings.Contains(err.Error(), "E11000")
}

// ensureIndexSet makes coll carry every index in want. An index whose keys
// already exist is reused when its uniqueness matches and rebuilt when it does
// not. Problems are collected so one bad index does not hide the rest.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, want []mongo.IndexModel) error {
	have, err := listIndexes(ctx, coll)
	if err != nil {
		return err
	}

	var errs []string
	for _, m := range want {
		name, unique := "", false
		if m.Options != nil {
			if m.Options.Name != nil {
				name = *m.Options.Name
			}
			unique = m.Options.Unique != nil && *m.Options.Unique
		}
		sig := keySig(m.Keys.(bson.D))
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("keys", sig),
			zap.Bool("unique", unique))
		start := time.Now()

		action := "created"
		if ex, ok := have[sig]; ok {
			if ex.Unique == unique {
				log.Debug("reusing existing index", zap.String("existing_name", ex.Name))
				continue
			}
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				log.Warn("drop existing index failed", zap.Error(err))
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), name, err))
				continue
			}
			action = "recreated"
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			log.Warn("index ensure failed", zap.Error(err))
			if unique && isDuplicateKeyErr(err) {
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)", coll.Name(), name))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), name, err))
			}
			continue
		}
		log.Info("index "+action, zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// listIndexes returns coll's indexes keyed by key signature. A collection
// that does not exist yet has none.
func listIndexes(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	have := map[string]existingIndex{}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		var ce mongo.CommandError
		if errors.As(err, &ce) && ce.Code == 26 { // NamespaceNotFound
			return have, nil
		}
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			return nil, err
		}
		have[keySig(idx.Key)] = idx
	}
	return have, cur.Err()
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureAccounts(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("accounts")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "login", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(AccountsLoginUnique),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(AccountsEmailUnique),
		},
		// Confirmation link lookup
		{
			Keys:    bson.D{{Key: "verification_token", Value: 1}},
			Options: options.Index().SetName("idx_accounts_verification_token"),
		},
		// List ordering and folded filter
		{
			Keys:    bson.D{{Key: "login_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_accounts_loginci_id"),
		},
		{
			Keys:    bson.D{{Key: "lastname_ci", Value: 1}, {Key: "firstname_ci", Value: 1}},
			Options: options.Index().SetName("idx_accounts_lastnameci_firstnameci"),
		},
	})
}

func ensurePreviousPasswords(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("previous_passwords")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "password", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(PreviousPasswordsUnique),
		},
		// History of one account, oldest first
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_previous_passwords_account_created"),
		},
	})
}

func ensureForgotPasswordTokens(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("forgot_password_tokens")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// TTL index for auto-cleanup of expired tokens
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(0).
				SetName("idx_forgot_password_expires_ttl"),
		},
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(ForgotPasswordTokenUniq),
		},
		// At most one outstanding token per account
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(ForgotPasswordAccountUniq),
		},
	})
}
