/*
Package blob implements curator's content-addressed artifact store.

Every submitted StationXML document and its converted form lives on disk
at a deterministic path derived from the network, station, and the
SHA-256 of the canonical document:

	<root>/<network-code>/<station>/<hash>.xml
	<root>/<network-code>/<station>/<hash>.converted
	<root>/prototypes/<hash>.stationxml
	<root>/inventory/<node-id>-full-inventory.xml

Writes stream to a temporary sibling file and rename into place, so a
crash never leaves a partial artifact under a final name and concurrent
writers of the same hash are safe. A blob file exists iff at least one
non-purged index record references its hash; the reference check on
removal belongs to the lifecycle daemon's purge step.
*/
package blob
