package domain

// Bookshelf is a shelf summary as reported by the provider. Read-mostly;
// rebuilt from the provider on every full sync.
type Bookshelf struct {
	ID          int64  `bson:"id" json:"id"`
	Title       string `bson:"title" json:"title"`
	VolumeCount int    `bson:"volume_count" json:"volumeCount"`
}

// ReservedBookshelves are the provider's system shelves ("Purchased",
// "Reviewed", ...). They never appear in any shelf listing we return.
var ReservedBookshelves = []int64{1, 5, 6, 7, 8, 9}

// IsReservedBookshelf reports whether id is one of the provider's system
// shelves.
func IsReservedBookshelf(id int64) bool {
	for _, r := range ReservedBookshelves {
		if id == r {
			return true
		}
	}
	return false
}

// Book is one mirrored volume. Identity in the mirror is the pair
// (UserID, GoogleID): the same Google volume appears independently for every
// user that shelved it. A volume absent from the mirror is not known to be
// unshelved, it may simply be unsynced.
type Book struct {
	ID       string `bson:"_id,omitempty" json:"id"`
	UserID   string `bson:"user_id" json:"-"`
	GoogleID string `bson:"google_id" json:"google_id"`

	Title   string   `bson:"title" json:"title"`
	Authors []string `bson:"authors" json:"authors"`
	Image   string   `bson:"image,omitempty" json:"image,omitempty"`

	// Bookshelves is the set of shelf ids the owner currently keeps this
	// volume in. Stored sorted, no duplicates.
	Bookshelves []int64 `bson:"bookshelves" json:"bookshelves"`
}

// BooksPage is one page of volumes together with the provider-reported (or
// mirror-counted) total.
type BooksPage struct {
	TotalItems int64  `json:"totalItems"`
	Items      []Book `json:"items"`
}
