package core

import (
	"context"
	"time"
)

// Authenticator resolves a credential token to a user identity. The relay
// treats identity as an external concern; it never issues credentials itself.
type Authenticator interface {
	// Verify returns the user ID the token authenticates, or ErrAuthFailed
	// (possibly wrapped with detail) if the credential is rejected.
	Verify(ctx context.Context, token string) (string, error)
}

// MessageStore is the persistence collaborator. The relay is not the system
// of record: every message is handed to the store regardless of whether any
// recipient connection is live, and offline recipients catch up via
// LoadHistory.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error

	// LoadHistory returns messages of a chat ordered by descending sent
	// time. A zero limit defaults to 100.
	LoadHistory(ctx context.Context, chatID string, limit, offset int) ([]Message, error)

	// UpdateReadFlag marks a message as read by the given user and returns
	// the updated message so the relay can route the read receipt to the
	// original sender. Returns ErrUnknownMessage if no such message exists.
	UpdateReadFlag(ctx context.Context, messageID, readBy string) (*Message, error)

	// SetPresenceLastSeen records when a user was last connected. Used for
	// display only; presence correctness is connection-derived.
	SetPresenceLastSeen(ctx context.Context, userID string, ts time.Time) error
}
