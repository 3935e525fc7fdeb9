// internal/app/store/forgotpassword/forgotpasswordstore.go
package forgotpassword

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrInvalidToken is returned for unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Store provides access to the forgot_password_tokens collection.
// An account has at most one outstanding token.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

// New creates a new forgot-password token store.
func New(db *mongo.Database, expiry time.Duration) *Store {
	return &Store{
		c:      db.Collection("forgot_password_tokens"),
		expiry: expiry,
	}
}

// Create issues a fresh token for accountID, replacing any earlier one.
func (s *Store) Create(ctx context.Context, accountID int64, email string) (*models.ForgotPasswordToken, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := models.ForgotPasswordToken{
		AccountID: accountID,
		Email:     email,
		Token:     token,
		ExpiresAt: now.Add(s.expiry),
		CreatedAt: now,
	}

	opts := options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.After)
	if err := s.c.FindOneAndReplace(ctx, bson.M{"account_id": accountID}, t, opts).Decode(&t); err != nil {
		return nil, storeutil.WrapConnection(err)
	}
	return &t, nil
}

// VerifyToken returns the token record if token exists and has not expired.
func (s *Store) VerifyToken(ctx context.Context, token string) (*models.ForgotPasswordToken, error) {
	var t models.ForgotPasswordToken
	filter := bson.M{
		"token":      token,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}

	if err := s.c.FindOne(ctx, filter).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidToken
		}
		return nil, storeutil.WrapConnection(err)
	}

	return &t, nil
}

// Delete removes a token once it has been used.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return storeutil.WrapConnection(err)
}

// DeleteExpired removes tokens whose expiry has passed and reports how many
// went. The TTL index does the same lazily; this keeps VerifyToken's view and
// the collection in step between TTL sweeps.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, storeutil.WrapConnection(err)
	}
	return res.DeletedCount, nil
}

// generateToken generates a random URL-safe token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
