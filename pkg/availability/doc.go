/*
Package availability promotes accepted records to COMPLETED once the
public query webservice serves their metadata.

On a cadence lower than the lifecycle daemon's, the checker requests
each accepted station at response level, canonicalizes and hashes the
returned Network element, and compares it against the record's artifact
hash. Equality is the proof of publication; inequality leaves the
record for a later sweep. Webservice outages trip a circuit breaker so
the sweep fails fast until the service recovers.
*/
package availability
