package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
)

// BookRepository stores mirrored volumes in the "books" collection. The
// upsert key is always the pair (user_id, google_id): the same volume id
// appears once per user that shelved it.
type BookRepository struct {
	books *mongo.Collection
}

// NewBookRepository creates the repository and its indexes.
func NewBookRepository(ctx context.Context, db *mongo.Database) (*BookRepository, error) {
	repo := &BookRepository{books: db.Collection("books")}

	_, err := repo.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "google_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "bookshelves", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create book indexes: %w", err)
	}
	return repo, nil
}

// Upsert writes the book keyed by (user_id, google_id), overwriting the
// stored membership set with the given one.
func (r *BookRepository) Upsert(ctx context.Context, book *domain.Book) (*domain.Book, error) {
	shelves := domain.NewShelfSet(book.Bookshelves).Sorted()
	authors := book.Authors
	if authors == nil {
		authors = []string{}
	}

	update := bson.M{
		"$set": bson.M{
			"title":       book.Title,
			"authors":     authors,
			"image":       book.Image,
			"bookshelves": shelves,
		},
		"$setOnInsert": bson.M{
			"user_id":   book.UserID,
			"google_id": book.GoogleID,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	filter := bson.M{"user_id": book.UserID, "google_id": book.GoogleID}

	var doc bookDoc
	if err := r.books.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to upsert book %s for user %s: %w", book.GoogleID, book.UserID, err)
	}
	return doc.toDomain(), nil
}

func (r *BookRepository) GetByGoogleID(ctx context.Context, userID, googleID string) (*domain.Book, error) {
	var doc bookDoc
	err := r.books.FindOne(ctx, bson.M{"user_id": userID, "google_id": googleID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// ListByShelf pages through the user's books on one shelf and returns the
// shelf's total alongside.
func (r *BookRepository) ListByShelf(ctx context.Context, userID string, shelfID int64, skip, limit int64) ([]domain.Book, int64, error) {
	filter := bson.M{"user_id": userID, "bookshelves": shelfID}

	total, err := r.books.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSkip(skip).
		SetLimit(limit).
		SetSort(bson.D{{Key: "title", Value: 1}})

	cursor, err := r.books.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	books, err := decodeBooks(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// ListByGoogleIDs returns the user's mirrored copies of the given volume
// ids, used to overlay mirror state onto provider search results.
func (r *BookRepository) ListByGoogleIDs(ctx context.Context, userID string, googleIDs []string) ([]domain.Book, error) {
	if len(googleIDs) == 0 {
		return nil, nil
	}

	cursor, err := r.books.Find(ctx, bson.M{
		"user_id":   userID,
		"google_id": bson.M{"$in": googleIDs},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return decodeBooks(ctx, cursor)
}

func decodeBooks(ctx context.Context, cursor *mongo.Cursor) ([]domain.Book, error) {
	var docs []bookDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(docs))
	for i := range docs {
		books = append(books, *docs[i].toDomain())
	}
	return books, nil
}

type bookDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	UserID      string             `bson:"user_id"`
	GoogleID    string             `bson:"google_id"`
	Title       string             `bson:"title"`
	Authors     []string           `bson:"authors"`
	Image       string             `bson:"image,omitempty"`
	Bookshelves []int64            `bson:"bookshelves"`
}

func (d *bookDoc) toDomain() *domain.Book {
	return &domain.Book{
		ID:          d.ID.Hex(),
		UserID:      d.UserID,
		GoogleID:    d.GoogleID,
		Title:       d.Title,
		Authors:     d.Authors,
		Image:       d.Image,
		Bookshelves: d.Bookshelves,
	}
}

var _ domain.BookRepository = (*BookRepository)(nil)
