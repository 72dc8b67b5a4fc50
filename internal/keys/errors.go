package keys

import "errors"

var (
	// ErrUnsupportedKeyPath marks the external (password-protected
	// permission) session-key path, which this exporter does not handle.
	ErrUnsupportedKeyPath = errors.New("unsupported key path: external permission")
	// ErrNoMailGroup is returned when a user has no membership of
	// GroupType Mail — login cannot proceed to folder enumeration.
	ErrNoMailGroup = errors.New("no mail group membership found")
	// ErrMembershipKeyMissing marks a membership record with no group key
	// envelope, which should never happen for the user and mail groups.
	ErrMembershipKeyMissing = errors.New("membership has no group key")
)
