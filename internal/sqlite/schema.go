// Package sqlite implements a durable Container on SQLite.
//
// Object headers are stored as JSON in the objects table, one row per
// allocated address. Group links live in their own table so they can be
// listed in name order without decoding headers. Freed address ranges are
// kept in free_blocks and reused first-fit.
package sqlite

// Schema DDL for all tables.
const (
	createMeta = `CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

	createObjects = `CREATE TABLE IF NOT EXISTS objects (
    addr INTEGER PRIMARY KEY,
    size INTEGER NOT NULL,
    header TEXT
);`

	createFreeBlocks = `CREATE TABLE IF NOT EXISTS free_blocks (
    addr INTEGER PRIMARY KEY,
    size INTEGER NOT NULL
);`

	createLinks = `CREATE TABLE IF NOT EXISTS links (
    parent INTEGER NOT NULL,
    name TEXT NOT NULL,
    kind INTEGER NOT NULL,
    addr INTEGER,
    target TEXT,
    PRIMARY KEY (parent, name)
);`
)

// Index DDL for common queries.
const (
	idxLinksAddr      = `CREATE INDEX IF NOT EXISTS idx_links_addr ON links(addr);`
	idxFreeBlocksSize = `CREATE INDEX IF NOT EXISTS idx_free_blocks_size ON free_blocks(size);`
)

// Keys of the meta table.
const (
	metaID   = "container_id"
	metaRoot = "root"
	metaNext = "next_addr"
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createMeta,
	createObjects,
	createFreeBlocks,
	createLinks,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxLinksAddr,
	idxFreeBlocksSize,
}
