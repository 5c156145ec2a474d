// Package lock guards the staging tree with a run marker file.
//
// The marker records the PID of the owning run. A marker whose process is
// gone, or which is older than its lifetime, is treated as stale and reclaimed.
package lock
