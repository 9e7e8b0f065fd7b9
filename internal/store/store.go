// Package store abstracts the cloud persistence for readings and session
// records: a keyed store with change notification, keyed by owner.
package store

import (
	"context"
	"errors"

	"github.com/posturedev/posturelink/internal/protocol"
	"github.com/posturedev/posturelink/internal/session"
)

// ErrRemoteWrite marks a failed remote write; callers buffer and retry.
var ErrRemoteWrite = errors.New("store: remote write failed")

// Store is the external keyed store. All operations are fallible and take
// a context; implementations must be safe for concurrent use.
type Store interface {
	// WriteCurrent replaces the owner's live reading and notifies
	// subscribers.
	WriteCurrent(ctx context.Context, ownerID string, r protocol.Reading) error
	// ClearCurrent removes the live reading, notifying subscribers with
	// an absent value.
	ClearCurrent(ctx context.Context, ownerID string) error
	// AppendHistory appends r to the owner's history and returns the
	// generated entry id.
	AppendHistory(ctx context.Context, ownerID string, r protocol.Reading) (string, error)
	// ReadHistory returns up to limit readings, most recent last.
	ReadHistory(ctx context.Context, ownerID string, limit int) ([]protocol.Reading, error)
	// SubscribeCurrent yields the owner's live reading as it changes; nil
	// means absent. The returned cancel func releases the subscription.
	SubscribeCurrent(ctx context.Context, ownerID string) (<-chan *protocol.Reading, func(), error)

	// PutSession stores a finalized session record, assigning an id when
	// the record has none, and returns the id.
	PutSession(ctx context.Context, ownerID string, rec session.Record) (string, error)
	// ListSessions returns up to limit session records, oldest first.
	ListSessions(ctx context.Context, ownerID string, limit int) ([]session.Record, error)
	// DeleteSession removes one session record.
	DeleteSession(ctx context.Context, ownerID, sessionID string) error
}
