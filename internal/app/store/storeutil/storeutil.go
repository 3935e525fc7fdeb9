// internal/app/store/storeutil/storeutil.go
package storeutil

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrConnection wraps network and timeout failures talking to the database.
var ErrConnection = errors.New("database connection failure")

// Paginate returns *options.FindOptions with skip/limit given a 1-based page.
func Paginate(limit, page int64) *options.FindOptions {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	sk := (page - 1) * limit
	return options.Find().SetLimit(limit).SetSkip(sk)
}

// WrapConnection returns err marked with ErrConnection when it is a network
// or timeout failure, and err unchanged otherwise.
func WrapConnection(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return err
}
