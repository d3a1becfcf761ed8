package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
)

const collectionPrincipals = "principals"

// PrincipalRepository implements ports.CredentialStore on MongoDB.
// Atomically requires a replica set, since it runs inside a multi-document
// transaction.
type PrincipalRepository struct {
	client *mongo.Client
	col    *mongo.Collection
	inTx   bool
}

func NewPrincipalRepository(db *mongo.Database) *PrincipalRepository {
	return &PrincipalRepository{client: db.Client(), col: db.Collection(collectionPrincipals)}
}

type principalDoc struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty"`
	Email               string             `bson:"email"`
	PasswordHash        string             `bson:"password_hash"`
	FirstName           string             `bson:"first_name"`
	LastName            string             `bson:"last_name"`
	Role                string             `bson:"role"`
	Enabled             bool               `bson:"enabled"`
	Locked              bool               `bson:"locked"`
	RefreshToken        *string            `bson:"refresh_token,omitempty"`
	ResetTokenHash      *string            `bson:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt *time.Time         `bson:"reset_token_expires_at,omitempty"`
	Revision            int64              `bson:"revision"`
	CreatedAt           time.Time          `bson:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at"`
}

func (r *PrincipalRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	n, err := r.col.CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count principals: %w", err)
	}
	return n > 0, nil
}

// FindByEmail retrieves a principal. Inside a transaction the read bumps the
// document revision, so a concurrent transaction touching the same principal
// fails with a write conflict and is retried.
func (r *PrincipalRepository) FindByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *PrincipalRepository) FindByResetToken(ctx context.Context, tokenHash string) (*domain.Principal, error) {
	return r.findOne(ctx, bson.M{"reset_token_hash": tokenHash})
}

func (r *PrincipalRepository) findOne(ctx context.Context, filter bson.M) (*domain.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res *mongo.SingleResult
	if r.inTx {
		res = r.col.FindOneAndUpdate(ctx, filter,
			bson.M{"$inc": bson.M{"revision": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After))
	} else {
		res = r.col.FindOne(ctx, filter)
	}

	var doc principalDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find principal: %w", err)
	}
	return doc.toDomain(), nil
}

// Save inserts a principal without an ID, or replaces the stored one, and
// returns the document as read back.
func (r *PrincipalRepository) Save(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc, err := toDoc(p)
	if err != nil {
		return nil, err
	}

	if doc.ID.IsZero() {
		res, err := r.col.InsertOne(ctx, doc)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, domain.ErrAlreadyExists
			}
			return nil, fmt.Errorf("insert principal: %w", err)
		}
		oid, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return nil, fmt.Errorf("insert principal: unexpected id type %T", res.InsertedID)
		}

		var created principalDoc
		if err := r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&created); err != nil {
			return nil, fmt.Errorf("read back principal: %w", err)
		}
		return created.toDomain(), nil
	}

	var saved principalDoc
	err = r.col.FindOneAndReplace(ctx, bson.M{"_id": doc.ID}, doc,
		options.FindOneAndReplace().SetReturnDocument(options.After)).Decode(&saved)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			return nil, domain.ErrNotFound
		case mongo.IsDuplicateKeyError(err):
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("replace principal: %w", err)
	}
	return saved.toDomain(), nil
}

// Atomically runs fn in a MongoDB transaction with majority write concern.
// The driver retries fn on transient errors, so fn must be safe to re-run.
func (r *PrincipalRepository) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	tx := &PrincipalRepository{client: r.client, col: r.col, inTx: true}
	txOpts := options.Transaction().SetWriteConcern(writeconcern.Majority())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, tx)
	}, txOpts)
	return err
}

// EnsureIndexes creates the unique indexes the repository relies on.
func (r *PrincipalRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "reset_token_hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}

func toDoc(p *domain.Principal) (principalDoc, error) {
	doc := principalDoc{
		Email:               p.Email,
		PasswordHash:        p.PasswordHash,
		FirstName:           p.FirstName,
		LastName:            p.LastName,
		Role:                p.Role,
		Enabled:             p.Enabled,
		Locked:              p.Locked,
		RefreshToken:        p.RefreshToken,
		ResetTokenHash:      p.ResetTokenHash,
		ResetTokenExpiresAt: p.ResetTokenExpiresAt,
		CreatedAt:           p.CreatedAt.UTC(),
		UpdatedAt:           p.UpdatedAt.UTC(),
	}
	if p.ID != "" {
		oid, err := primitive.ObjectIDFromHex(p.ID)
		if err != nil {
			return principalDoc{}, fmt.Errorf("principal id %q: %w", p.ID, domain.ErrNotFound)
		}
		doc.ID = oid
	}
	return doc, nil
}

func (d principalDoc) toDomain() *domain.Principal {
	p := &domain.Principal{
		ID:             d.ID.Hex(),
		Email:          d.Email,
		PasswordHash:   d.PasswordHash,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		Role:           d.Role,
		Enabled:        d.Enabled,
		Locked:         d.Locked,
		RefreshToken:   d.RefreshToken,
		ResetTokenHash: d.ResetTokenHash,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.ResetTokenExpiresAt != nil {
		t := d.ResetTokenExpiresAt.UTC()
		p.ResetTokenExpiresAt = &t
	}
	return p
}
