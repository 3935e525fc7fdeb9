// internal/app/store/passwordhistory/passwordhistorystore.go
package passwordhistory

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"github.com/dalemusser/stratabook/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicate is returned when the digest is already somewhere in the history.
var ErrDuplicate = errors.New("password digest already recorded")

// Store provides access to the previous_passwords collection. Entries are
// append-only; only the account service reads or writes an account's rows.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("previous_passwords")}
}

// Append records digest as used by accountID.
func (s *Store) Append(ctx context.Context, accountID int64, digest string) (models.PreviousPassword, error) {
	p := models.PreviousPassword{
		ID:        primitive.NewObjectID(),
		Password:  digest,
		Version:   1,
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, p); err != nil {
		if wafflemongo.IsDup(err) {
			return models.PreviousPassword{}, ErrDuplicate
		}
		return models.PreviousPassword{}, storeutil.WrapConnection(err)
	}
	return p, nil
}

// ListByAccount returns the account's history, oldest first.
func (s *Store) ListByAccount(ctx context.Context, accountID int64) (models.PasswordHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, storeutil.WrapConnection(err)
	}
	defer cur.Close(ctx)

	var out models.PasswordHistory
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeutil.WrapConnection(err)
	}
	return out, nil
}
