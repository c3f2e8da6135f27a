//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Compiled without CGO or with the purego tag:
//
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// FTS5 is built into the pure Go driver.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"

	// busyTimeoutParam makes every pooled connection wait on locks
	busyTimeoutParam = "_pragma=busy_timeout(5000)"
)
