//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag. Uses the mattn driver; vector
// ranking still runs in Go but over the C SQLite engine.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether the build links a native
	// vector-capable SQLite
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
