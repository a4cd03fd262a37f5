/*
Package stationxml parses, validates and splits FDSN StationXML
submissions.

A multi-station upload is decomposed into one artifact per (network,
station) pair: the Network subtree is cloned with its sibling stations
stripped, a fixed Source/Sender/Module/Created header is injected, and
the artifact hash is the SHA-256 of the canonical serialization of the
Network element. Canonicalization removes the redundant empty default
namespace attribute (xmlns="") the serializer can emit, so documents
differing only in that nuisance are hash-equal.

Validation returns the first failing rule as a structured
ValidationError; callers decide whether that means a rejected record
(daemon re-validation) or an aborted upload (intake).
*/
package stationxml
