/*
Package storage provides BoltDB-backed persistence for curator's
metadata index.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for file records,
network prototypes, users and sessions. All data is serialized as JSON
and stored in separate buckets.

# Bucket structure

	files        (record id)     submission lifecycle records
	prototypes   (hash)          network prototype definitions
	users        (user id)       operators and administrators
	sessions     (token)         authenticated sessions

# Transitions

Transition is the single mutation path for record status: it re-reads
the row inside the update transaction and fails with ErrConflict when
the current status no longer matches the expected source status. Every
state change in the pipeline, including supersession and purge
eligibility, goes through it, which is what makes concurrent daemons and
simultaneous-acceptance races safe.

ClaimNext hands out records under an in-process advisory lock so that
several daemon goroutines sharing one store never dispatch the same
record twice.
*/
package storage
