/*
Package auth provides session authentication and the per-artifact
authorization gate.

Sessions are bearer tokens stored in the index with an expiry; expired
sessions are swept lazily on lookup. The authorization gate enforces the
submission rules: administrators may submit metadata for any network,
operators only for the single (code, start) prototype they are bound
to, and an artifact's end date and restricted flag must agree with the
active prototype. Auth failures abort the request before anything
touches the index.
*/
package auth
