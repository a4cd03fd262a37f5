/*
Package events distributes curation events to in-process subscribers.

The broker carries the asynchronous administrator notifications the
submission API emits, plus lifecycle events the dashboard can stream.
Delivery is best-effort: a subscriber with a full buffer misses the
event rather than blocking the publisher.
*/
package events
