/*
Package api implements curator's HTTP surface.

The intake endpoint accepts multipart StationXML uploads, splits them
into per-station artifacts, authorizes each against the submitter's
network prototype, stages blobs and PENDING index rows, and answers
with a dashboard redirect. The read API serves record history, the
per-station staging projection, and blobs; the /rpc routes expose the
administrator operations (prototype re-ingest, full inventory export,
webservice reconfigure).

Handlers never move records through the state machine directly; the
only writes they perform are staging new PENDING rows and handing
single records to the supersession resolver for user-initiated
retirement.
*/
package api
