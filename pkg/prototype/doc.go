/*
Package prototype manages network prototype definitions.

A prototype is the authoritative header-level description of a seismic
network: its validity window, restricted-access flag and description.
Submissions are authorized and validated against the active prototype
for their (code, start) identity. At most one prototype per identity is
active at a time; older ones remain stored for audit.

Ingesting a genuinely new prototype reconciles the affected network:
every station whose latest record is ACCEPTED or COMPLETED is forced
back to PENDING so the pipeline re-checks compatibility against the new
definition.
*/
package prototype
