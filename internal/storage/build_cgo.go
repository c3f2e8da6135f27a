//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// The fts5 tag is required for the keyword index.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"

	// busyTimeoutParam makes every pooled connection wait on locks
	busyTimeoutParam = "_busy_timeout=5000"
)
