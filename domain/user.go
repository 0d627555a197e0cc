package domain

import "time"

// Credentials is the delegated-access token pair a user granted us for the
// Google Books API. It is replaced wholesale by the credential refresher,
// never mutated field by field.
type Credentials struct {
	AccessToken  string `bson:"access_token" json:"-"`
	RefreshToken string `bson:"refresh_token" json:"-"`
	Scope        string `bson:"scope" json:"-"`
	// ExpiresAt is the absolute expiry of the access token in epoch seconds.
	ExpiresAt int64 `bson:"expires_at" json:"-"`
}

// ExpiresWithin reports whether the access token expires inside the given
// grace window (or already has).
func (c Credentials) ExpiresWithin(now time.Time, grace time.Duration) bool {
	return c.ExpiresAt <= now.Add(grace).Unix()
}

// User is a locally mirrored Google account. The document is upserted by
// GoogleID on every authentication; the local _id does not exist before the
// first upsert and must never be used as the upsert key.
type User struct {
	ID       string `bson:"_id,omitempty" json:"id"`
	GoogleID string `bson:"google_id" json:"google_id"`
	Name     string `bson:"name,omitempty" json:"name"`
	Email    string `bson:"email,omitempty" json:"email"`
	Picture  string `bson:"picture,omitempty" json:"picture"`
	Locale   string `bson:"locale,omitempty" json:"locale"`

	Credentials Credentials `bson:"credentials" json:"-"`

	// Bookshelves is a denormalized cache of the user's shelf summaries,
	// rebuilt on every full sync. A stale cache is acceptable.
	Bookshelves []Bookshelf `bson:"bookshelves,omitempty" json:"bookshelves"`

	CreatedAt time.Time `bson:"created_at" json:"-"`
	UpdatedAt time.Time `bson:"updated_at" json:"-"`
}
