// Package validators makes sure every collection the account service writes
// exists before the first transaction runs, and attaches $jsonSchema
// validators where the server supports them.
package validators

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dalemusser/stratabook/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// hexDigest matches the 64-character lowercase digests produced by authutil.
const hexDigest = "^[0-9a-f]{64}$"

// Server error codes this package reacts to.
const (
	codeNamespaceExists = 48
	codeCommandNotFound = 59
	codeNotSupported    = 115
)

type collection struct {
	name   string
	schema bson.M // nil means no validator
}

// collections lists what EnsureAll provisions, in order.
func collections() []collection {
	return []collection{
		{"accounts", accountsSchema()},
		{"previous_passwords", previousPasswordsSchema()},
		{"forgot_password_tokens", forgotPasswordSchema()},
		{"id_counters", nil},
	}
}

// EnsureAll creates missing collections and applies their validators.
// Collections must exist up front because older servers refuse to create one
// inside a multi-document transaction. A server that rejects collMod (some
// DocumentDB versions) keeps its collections without validators.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	existing, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	var errs []error
	for _, c := range collections() {
		if err := ensure(ctx, db, c, slices.Contains(existing, c.name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func ensure(ctx context.Context, db *mongo.Database, c collection, exists bool) error {
	log := zap.L().With(zap.String("collection", c.name))

	if !exists {
		opts := options.CreateCollection()
		if c.schema != nil {
			opts.SetValidator(c.schema).
				SetValidationLevel("moderate").
				SetValidationAction("error")
		}
		err := db.CreateCollection(ctx, c.name, opts)
		switch {
		case err == nil:
			log.Info("created collection", zap.Bool("validated", c.schema != nil))
			return nil
		case hasCode(err, codeNamespaceExists):
			// lost a race with another instance; fall through to collMod
		case c.schema != nil && hasCode(err, codeCommandNotFound, codeNotSupported):
			log.Info("validator unsupported, creating without one")
			return db.CreateCollection(ctx, c.name)
		default:
			return err
		}
	}

	if c.schema == nil {
		return nil
	}
	err := db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: c.name},
		{Key: "validator", Value: c.schema},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}).Err()
	if hasCode(err, codeCommandNotFound, codeNotSupported) {
		log.Info("validator skipped (unsupported)")
		return nil
	}
	if err == nil {
		log.Debug("validator refreshed")
	}
	return err
}

// hasCode reports whether err is a server error carrying any of codes.
func hasCode(err error, codes ...int) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.HasErrorCode(c) {
			return true
		}
	}
	return false
}

func accountsSchema() bson.M {
	name := bson.M{"bsonType": "string", "minLength": 1, "maxLength": models.NameMaxLen}
	return bson.M{"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{"login", "password", "version", "firstname", "lastname", "email"},
		"properties": bson.M{
			"_id":                 bson.M{"bsonType": "long"},
			"login":               bson.M{"bsonType": "string", "minLength": 1, "maxLength": models.LoginMaxLen},
			"password":            bson.M{"bsonType": "string", "pattern": hexDigest},
			"version":             bson.M{"bsonType": "long", "minimum": 1},
			"firstname":           name,
			"lastname":            name,
			"email":               bson.M{"bsonType": "string", "minLength": 1, "maxLength": models.EmailMaxLen},
			"active":              bson.M{"bsonType": "bool"},
			"confirmed":           bson.M{"bsonType": "bool"},
			"failed_auth_counter": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
			"last_auth_ip":        bson.M{"bsonType": "string", "maxLength": models.AuthIPMaxLen},
		},
	}}
}

func previousPasswordsSchema() bson.M {
	return bson.M{"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{"password", "version", "account_id"},
		"properties": bson.M{
			"password":   bson.M{"bsonType": "string", "pattern": hexDigest},
			"version":    bson.M{"bsonType": "long"},
			"account_id": bson.M{"bsonType": "long"},
		},
	}}
}

func forgotPasswordSchema() bson.M {
	return bson.M{"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{"account_id", "token", "expires_at"},
		"properties": bson.M{
			"account_id": bson.M{"bsonType": "long"},
			"token":      bson.M{"bsonType": "string", "minLength": 1},
			"expires_at": bson.M{"bsonType": "date"},
		},
	}}
}
