package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
)

// UserRepository stores users in the "users" collection, keyed for upserts
// by the stable Google subject id.
type UserRepository struct {
	users *mongo.Collection
}

// NewUserRepository creates the repository and its indexes.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{users: db.Collection("users")}

	_, err := repo.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "google_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google_id index: %w", err)
	}
	return repo, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperrors.ErrNotFound
	}

	var doc userDoc
	err = r.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// UpsertByGoogleID creates or updates the user document keyed by google_id.
// The local _id is never part of the filter: on first authentication it does
// not exist yet.
func (r *UserRepository) UpsertByGoogleID(ctx context.Context, user *domain.User) (*domain.User, error) {
	now := time.Now().UTC()

	set := bson.M{
		"name":                     user.Name,
		"email":                    user.Email,
		"picture":                  user.Picture,
		"locale":                   user.Locale,
		"credentials.access_token": user.Credentials.AccessToken,
		"credentials.scope":        user.Credentials.Scope,
		"credentials.expires_at":   user.Credentials.ExpiresAt,
		"updated_at":               now,
	}
	// Re-consent flows may come back without a refresh token. A previously
	// stored one must survive the upsert.
	if user.Credentials.RefreshToken != "" {
		set["credentials.refresh_token"] = user.Credentials.RefreshToken
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"google_id":  user.GoogleID,
			"created_at": now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc userDoc
	err := r.users.FindOneAndUpdate(ctx, bson.M{"google_id": user.GoogleID}, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %s: %w", user.GoogleID, err)
	}
	return doc.toDomain(), nil
}

// UpdateCredentials atomically replaces the embedded credential document.
func (r *UserRepository) UpdateCredentials(ctx context.Context, id string, creds domain.Credentials) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperrors.ErrNotFound
	}

	update := bson.M{"$set": bson.M{
		"credentials": creds,
		"updated_at":  time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	err = r.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// UpdateProfile refreshes profile fields and the denormalized shelf cache,
// leaving credentials untouched.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, name, email, picture, locale string, shelves []domain.Bookshelf) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return apperrors.ErrNotFound
	}

	_, err = r.users.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"name":        name,
		"email":       email,
		"picture":     picture,
		"locale":      locale,
		"bookshelves": shelves,
		"updated_at":  time.Now().UTC(),
	}})
	return err
}

// userDoc mirrors domain.User with a native ObjectID _id.
type userDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	GoogleID    string             `bson:"google_id"`
	Name        string             `bson:"name,omitempty"`
	Email       string             `bson:"email,omitempty"`
	Picture     string             `bson:"picture,omitempty"`
	Locale      string             `bson:"locale,omitempty"`
	Credentials domain.Credentials `bson:"credentials"`
	Bookshelves []domain.Bookshelf `bson:"bookshelves,omitempty"`
	CreatedAt   time.Time          `bson:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:          d.ID.Hex(),
		GoogleID:    d.GoogleID,
		Name:        d.Name,
		Email:       d.Email,
		Picture:     d.Picture,
		Locale:      d.Locale,
		Credentials: d.Credentials,
		Bookshelves: d.Bookshelves,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ domain.UserRepository = (*UserRepository)(nil)
