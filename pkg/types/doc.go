/*
Package types defines the records shared across curator's components:
file records, network prototypes, users, sessions, and the status enum
that drives the curation state machine.

The forward path of the state machine is

	PENDING -> VALIDATED -> CONVERTED -> ACCEPTED -> COMPLETED

with REJECTED reachable from any pre-acceptance state, SUPERSEDED
reachable only from COMPLETED, and DELETED marking records eligible for
purge. The integer values of Status are stable wire and storage
identifiers; never renumber them.
*/
package types
