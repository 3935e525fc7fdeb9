// internal/app/store/accounts/accountstore.go
package accountstore

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: the numeric _id assigned by the store on creation
//   - Login / login: the human-readable, immutable string the account signs in with

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"github.com/dalemusser/stratabook/internal/app/system/indexes"
	"github.com/dalemusser/stratabook/internal/app/system/inputval"
	"github.com/dalemusser/stratabook/internal/app/system/normalize"
	"github.com/dalemusser/stratabook/internal/app/system/txn"
	"github.com/dalemusser/stratabook/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateLogin is returned when the login is already taken.
	ErrDuplicateLogin = errors.New("an account with this login already exists")
	// ErrDuplicateEmail is returned when the e-mail is already taken.
	ErrDuplicateEmail = errors.New("an account with this email already exists")
	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the one the caller read.
	ErrVersionConflict = fmt.Errorf("stale account version: %w", txn.ErrConflict)
	// ErrConnection wraps network and timeout failures talking to the database.
	ErrConnection = storeutil.ErrConnection
)

const counterKey = "accounts"

type Store struct {
	c        *mongo.Collection
	counters *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		c:        db.Collection("accounts"),
		counters: db.Collection("id_counters"),
	}
}

// Create normalizes and validates a, assigns its id and initial version, and
// inserts it. Duplicate logins and e-mails are reported as ErrDuplicateLogin
// and ErrDuplicateEmail.
func (s *Store) Create(ctx context.Context, a models.Account) (models.Account, error) {
	normalizeAccount(&a)
	if a.VerificationToken == "" {
		a.VerificationToken = models.NewVerificationToken()
	}
	if err := inputval.Account(a); err != nil {
		return models.Account{}, err
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return models.Account{}, err
	}

	now := time.Now().UTC()
	a.ID = id
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, a); err != nil {
		return models.Account{}, classify(err)
	}
	return a, nil
}

// nextID draws the next account id from the id_counters collection.
func (s *Store) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": counterKey},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, classify(err)
	}
	return doc.Seq, nil
}

// GetByID loads an account by id.
func (s *Store) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByLogin loads an account by its exact login.
func (s *Store) GetByLogin(ctx context.Context, login string) (*models.Account, error) {
	return s.findOne(ctx, bson.M{"login": normalize.Login(login)})
}

// GetByEmail loads an account by e-mail (case-insensitive).
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

// GetByToken loads the account holding the given verification token.
func (s *Store) GetByToken(ctx context.Context, token string) (*models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"verification_token": token})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	var a models.Account
	if err := s.c.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &a, nil
}

// List returns accounts sorted by login. Extra options (paging) are applied
// after the sort.
func (s *Store) List(ctx context.Context, opts ...*options.FindOptions) ([]models.Account, error) {
	return s.find(ctx, bson.M{}, opts...)
}

// Filter returns accounts whose login, first name or last name contains query
// (case and diacritic insensitive), sorted by login. An empty query lists all.
func (s *Store) Filter(ctx context.Context, query string, opts ...*options.FindOptions) ([]models.Account, error) {
	q := text.Fold(normalize.QueryParam(query))
	if q == "" {
		return s.List(ctx, opts...)
	}
	re := primitive.Regex{Pattern: regexp.QuoteMeta(q)}
	return s.find(ctx, bson.M{"$or": bson.A{
		bson.M{"login_ci": re},
		bson.M{"firstname_ci": re},
		bson.M{"lastname_ci": re},
	}}, opts...)
}

func (s *Store) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Account, error) {
	all := append([]*options.FindOptions{options.Find().SetSort(bson.D{{Key: "login", Value: 1}})}, opts...)
	cur, err := s.c.Find(ctx, filter, all...)
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)

	accounts := []models.Account{}
	if err := cur.All(ctx, &accounts); err != nil {
		return nil, classify(err)
	}
	return accounts, nil
}

// Update writes the mutable fields of a, provided the stored version still
// equals a.Version. The compare and the write are one atomic UpdateOne.
// On success a.Version is advanced to the stored value. Login and e-mail are
// never written.
func (s *Store) Update(ctx context.Context, a *models.Account) error {
	normalizeAccount(a)
	if err := inputval.Account(*a); err != nil {
		return err
	}

	expected := a.Version
	now := time.Now().UTC()
	set := bson.M{
		"password":              a.Password,
		"firstname":             a.FirstName,
		"firstname_ci":          a.FirstNameCI,
		"lastname":              a.LastName,
		"lastname_ci":           a.LastNameCI,
		"active":                a.Active,
		"confirmed":             a.Confirmed,
		"force_password_change": a.ForcePasswordChange,
		"failed_auth_counter":   a.FailedAuthCounter,
		"last_successful_auth":  a.LastSuccessfulAuth,
		"last_failed_auth":      a.LastFailedAuth,
		"last_auth_ip":          a.LastAuthIP,
		"verification_token":    a.VerificationToken,
		"updated_at":            now,
	}

	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": a.ID, "version": expected},
		bson.M{"$set": set, "$inc": bson.M{"version": int64(1)}},
	)
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		n, err := s.c.CountDocuments(ctx, bson.M{"_id": a.ID})
		if err != nil {
			return classify(err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	a.Version = expected + 1
	a.UpdatedAt = now
	return nil
}

func normalizeAccount(a *models.Account) {
	a.Login = normalize.Login(a.Login)
	a.LoginCI = text.Fold(a.Login)
	a.FirstName = normalize.Name(a.FirstName)
	a.FirstNameCI = text.Fold(a.FirstName)
	a.LastName = normalize.Name(a.LastName)
	a.LastNameCI = text.Fold(a.LastName)
	a.Email = normalize.Email(a.Email)
}

// classify maps driver errors onto the store's sentinels. Duplicate keys are
// told apart by the unique index named in the server message.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if wafflemongo.IsDup(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, indexes.AccountsLoginUnique):
			return ErrDuplicateLogin
		case strings.Contains(msg, indexes.AccountsEmailUnique):
			return ErrDuplicateEmail
		}
		return err
	}
	return storeutil.WrapConnection(err)
}
