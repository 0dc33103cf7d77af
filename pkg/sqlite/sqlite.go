// Package sqlite provides the public API for the SQLite container.
// This package exposes the factory function for opening durable containers
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/typevault/internal/sqlite"
	"github.com/mesh-intelligence/typevault/pkg/types"
)

// FileExt is the extension typevault gives container files.
const FileExt = ".tvdb"

// Open opens the container stored in the file at path, creating it with an
// empty root group if it does not exist.
//
// Example:
//
//	c, err := sqlite.Open(".typevault-db/default.tvdb")
//	if err != nil {
//	    return err
//	}
//	defer lib.CloseContainer(c)
func Open(path string) (types.Container, error) {
	c, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}
