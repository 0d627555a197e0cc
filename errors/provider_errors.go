package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies which provider operation failed. Callers branch on the
// kind to decide between surfacing, log-and-continue, or abort.
type Kind string

const (
	KindTokenExchange   Kind = "token_exchange"
	KindListShelves     Kind = "list_shelves"
	KindListShelfItems  Kind = "list_shelf_items"
	KindAddToShelf      Kind = "add_to_shelf"
	KindRemoveFromShelf Kind = "remove_from_shelf"
	KindSearch          Kind = "search"
	KindGetVolume       Kind = "get_volume"
	KindUserinfo        Kind = "userinfo"
)

// Sentinel errors surfaced to the request layer.
var (
	// ErrPermissionLost means the user's delegated access is gone (revoked
	// or expired refresh token). Retrying will not help; the user has to
	// re-consent.
	ErrPermissionLost = errors.New("provider permission lost, re-consent required")
	// ErrInvalidState means the OAuth state parameter did not match a
	// pending authorization.
	ErrInvalidState = errors.New("invalid or expired oauth state")
	// ErrSessionRevoked means the presented session token is no longer
	// allow-listed.
	ErrSessionRevoked = errors.New("session revoked or expired")
	// ErrNotFound is returned by repositories when no document matches.
	ErrNotFound = errors.New("not found")
)

// ProviderError wraps a failed call against Google with the raw error
// payload the provider returned, kept verbatim for diagnostics.
type ProviderError struct {
	Kind Kind
	// Op is the failing operation, e.g. "googlebooks.ListBookshelves".
	Op string
	// Raw is the provider's error body, if any.
	Raw json.RawMessage
	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *ProviderError) Error() string {
	switch {
	case len(e.Raw) > 0:
		return fmt.Sprintf("%s: %s: provider error: %s", e.Op, e.Kind, string(e.Raw))
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError for op with the given kind.
func NewProviderError(kind Kind, op string, raw []byte, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Raw: raw, Err: err}
}

// KindOf extracts the provider error kind from err, or "" if err does not
// wrap a ProviderError.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err wraps a ProviderError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
