package storage

import (
	"errors"
	"time"

	"github.com/seidata/curator/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by Transition when the record is no longer
	// in the expected source status.
	ErrConflict = errors.New("status conflict")

	// ErrDuplicateActive is returned by InsertFile when a record with the
	// same hash is still active.
	ErrDuplicateActive = errors.New("duplicate active record")
)

// TransitionOpts carries the optional fields a status transition may
// stamp on a record.
type TransitionOpts struct {
	// Error is stored on the record when moving to REJECTED.
	Error string

	// Available is stamped when moving to COMPLETED.
	Available *time.Time

	// Note is stored in the record error field for forced
	// re-validations, replacing any earlier text; it takes precedence
	// over Error when both are set.
	Note string
}

// Store defines the interface for curator's metadata index.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// File records
	InsertFile(rec *types.FileRecord) error
	GetFile(id string) (*types.FileRecord, error)
	FindByHash(hash string) ([]*types.FileRecord, error)
	FindLatest(network types.Network, station string) (*types.FileRecord, error)

	// ClaimNext returns one record whose status is in statuses, oldest
	// modified first, under a per-record advisory lock so concurrent
	// daemons cannot dispatch the same record. The release function must
	// be called when processing finishes. Returns (nil, nil, nil) when no
	// record is claimable.
	ClaimNext(statuses []types.Status) (*types.FileRecord, func(), error)

	// Transition conditionally moves a record from one status to
	// another. It fails with ErrConflict when the current status differs
	// from from. Transitions are the only way status changes.
	Transition(id string, from, to types.Status, opts TransitionOpts) error

	ListStation(network types.Network, station string) ([]*types.FileRecord, error)
	ListNetwork(network types.Network) ([]*types.FileRecord, error)

	// ListStationCode lists a station's history across all validity
	// windows of a network code, newest first. The HTTP history surface
	// queries by bare code.
	ListStationCode(code, station string) ([]*types.FileRecord, error)

	// ListFiles returns every record, newest first.
	ListFiles() ([]*types.FileRecord, error)

	// AcceptedSet returns, per (network, station), the latest record
	// whose status is ACCEPTED or COMPLETED.
	AcceptedSet() ([]*types.FileRecord, error)

	// DeleteFile removes the row entirely. Only records already in
	// DELETED may be removed.
	DeleteFile(id string) error

	// Prototypes
	PutPrototype(p *types.Prototype) error
	GetPrototype(hash string) (*types.Prototype, error)
	ActivePrototype(code string, start time.Time) (*types.Prototype, error)
	ListPrototypes() ([]*types.Prototype, error)

	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	ListUsers() ([]*types.User, error)

	// Sessions
	CreateSession(session *types.Session) error
	GetSession(token string) (*types.Session, error)
	DeleteSession(token string) error

	// Utility
	Close() error
}
