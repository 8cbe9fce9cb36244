package authgate

import "errors"

var (
	// ErrInvalidCredential covers bad, expired or unknown sessions and tokens.
	// Store read failures during validation also resolve here: the gate fails
	// closed, never open.
	ErrInvalidCredential = errors.New("invalid or expired credential")

	// ErrSlugMismatch means the bearer token is valid but belongs to a user
	// whose URL slug differs from the path; the request is a replay against
	// another user's URL.
	ErrSlugMismatch = errors.New("token does not belong to this URL")
)
