/*
Package executor wraps the external converter/merger tool behind a
small, uniform invocation surface.

Every call spawns one subprocess, captures stderr, and either buffers or
streams stdout. Exit status is returned as data: a failing conversion is
a Result with a non-zero code, never a Go error, and the lifecycle
daemon decides between retry and rejection. Errors are reserved for the
cases where the tool could not run at all, including the per-invocation
wall-clock timeout, after which the child is killed.
*/
package executor
