package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/bookmirror/bookmirror/domain"
)

// Synchronizer reconciles the local mirror against the provider. Full syncs
// rebuild the mirror from the provider's state; shelf reconciliation pushes
// a local membership delta back out. Both normally run as background work
// dispatched after the triggering request has already answered.
type Synchronizer struct {
	opener *SessionOpener
	oauth  TokenExchanger
	users  domain.UserRepository
	books  domain.BookRepository
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(opener *SessionOpener, oauth TokenExchanger, users domain.UserRepository, books domain.BookRepository) *Synchronizer {
	return &Synchronizer{opener: opener, oauth: oauth, users: users, books: books}
}

// SyncUser refreshes the user's profile fields and denormalized shelf cache,
// then mirrors the library. The profile step tolerates provider failures: a
// stale cache is acceptable, so those are logged and the prior cache kept.
// A profile failure does not stop the book mirroring, and a book-mirroring
// failure does not roll back the profile update.
func (s *Synchronizer) SyncUser(ctx context.Context, user *domain.User) error {
	sess, err := s.opener.Open(ctx, user)
	if err != nil {
		return err
	}
	user = sess.User()

	shelves, err := sess.Bookshelves(ctx)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("full sync: shelf listing failed, keeping cached shelves")
		shelves = user.Bookshelves
	}

	info, err := s.oauth.Userinfo(ctx, user.Credentials.AccessToken)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("full sync: profile fetch failed, keeping cached profile")
	} else {
		user.Name = info.Name
		user.Email = info.Email
		user.Picture = info.Picture
		user.Locale = info.Locale
	}

	if err := s.users.UpdateProfile(ctx, user.ID, user.Name, user.Email, user.Picture, user.Locale, shelves); err != nil {
		return err
	}

	return s.syncBooks(ctx, sess)
}

// SyncBooks rebuilds the user's book mirror from the provider. All shelves,
// all pages; every resulting book is upserted keyed by (owner, volume id),
// overwriting its stored membership set.
func (s *Synchronizer) SyncBooks(ctx context.Context, user *domain.User) error {
	sess, err := s.opener.Open(ctx, user)
	if err != nil {
		return err
	}
	return s.syncBooks(ctx, sess)
}

func (s *Synchronizer) syncBooks(ctx context.Context, sess *ShelfSession) error {
	user := sess.User()

	books, err := sess.AllBooks(ctx)
	if err != nil {
		// All-or-nothing: nothing folded so far survives. The mirror keeps
		// its previous state until a later sync succeeds.
		log.Error().Err(err).Str("user_id", user.ID).Msg("full sync: library extraction failed")
		return err
	}

	for i := range books {
		books[i].UserID = user.ID
		if _, err := s.books.Upsert(ctx, &books[i]); err != nil {
			return err
		}
	}

	log.Info().Str("user_id", user.ID).Int("books", len(books)).Msg("full sync: mirror rebuilt")
	return nil
}

// ReconcileShelves pushes a local membership edit to the provider. The new
// membership set on book has already been persisted by the caller; this only
// issues the provider calls for the delta between oldShelves and it.
//
// Removals go first so a concurrent full sync is less likely to observe the
// volume in neither the old nor the new shelf, though nothing locks the
// window. Each call fails independently: failures are logged and skipped,
// never returned, because the user's local edit has already succeeded. A
// partially applied delta stays as is until the next full sync heals it.
func (s *Synchronizer) ReconcileShelves(ctx context.Context, user *domain.User, oldShelves []int64, book *domain.Book) error {
	old := domain.NewShelfSet(oldShelves)
	desired := domain.NewShelfSet(book.Bookshelves)
	toRemove, toAdd := domain.Diff(old, desired)
	if len(toRemove) == 0 && len(toAdd) == 0 {
		return nil
	}

	sess, err := s.opener.Open(ctx, user)
	if err != nil {
		return err
	}

	for _, shelfID := range toRemove {
		if err := sess.RemoveBook(ctx, shelfID, book.GoogleID); err != nil {
			log.Error().Err(err).
				Str("user_id", user.ID).
				Str("volume_id", book.GoogleID).
				Int64("shelf_id", shelfID).
				Msg("reconcile: remove failed")
		}
	}
	for _, shelfID := range toAdd {
		if err := sess.AddBook(ctx, shelfID, book.GoogleID); err != nil {
			log.Error().Err(err).
				Str("user_id", user.ID).
				Str("volume_id", book.GoogleID).
				Int64("shelf_id", shelfID).
				Msg("reconcile: add failed")
		}
	}
	return nil
}
