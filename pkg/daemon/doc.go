/*
Package daemon implements the lifecycle worker that moves file records
through the curation state machine.

Each cycle the daemon claims dispatchable records one at a time, oldest
modified first, until none is left, and acts on each one's status:

	PENDING    validate the artifact and its prototype compatibility
	VALIDATED  invoke the external converter
	CONVERTED  verify a merge against the network prototype, accept
	DELETED    purge the row and unreferenced blobs (when enabled)

Acceptance triggers the supersession resolver, which retires prior
records for the same station. When the forward queue is empty the
daemon assembles the full published inventory from the accepted set
into the node's well-known output artifact and optionally reconfigures
the downstream query webservice.

Every state change goes through the index's conditional transition;
a conflict means another actor won and the record is re-read rather
than forced. Subprocess failures with a non-zero exit reject the
record, while timeouts and I/O errors leave it in place for the next
poll.
*/
package daemon
