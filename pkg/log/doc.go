/*
Package log provides structured logging for curator built on zerolog.

Init configures the process-wide logger once at startup; components then
derive child loggers with WithComponent so every line carries the
subsystem that produced it. Lifecycle code additionally tags lines with
record_id, network and station fields so a single submission can be
traced from intake to completion.
*/
package log
