package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

// firstAddress leaves room for a superblock, as in the in-memory container.
const firstAddress types.Address = 64

// rootSize is the space reserved for the root group header.
const rootSize = 64

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Container stores object headers in a SQLite database file.
type Container struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	id     types.ContainerID
	root   types.Address
	closed bool
}

var _ types.Container = (*Container)(nil)

// Open opens the container at path, creating the file, its schema and an
// empty root group when it does not exist yet. The container id is stored in
// the file, so reopening a container yields the same id.
func Open(path string) (*Container, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageError("open", err)
	}
	// One connection keeps transactions and reads on the same view.
	db.SetMaxOpenConns(1)

	c := &Container{db: db, path: path}
	if err := c.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	return c, nil
}

func (c *Container) init() error {
	for _, ddl := range slices.Concat(schemaDDL, indexDDL) {
		if _, err := c.db.Exec(ddl); err != nil {
			return storageError("create schema", err)
		}
	}

	id, err := getMeta(c.db, metaID)
	switch {
	case err == nil:
		root, err := getMeta(c.db, metaRoot)
		if err != nil {
			return storageError("read root", err)
		}
		n, err := strconv.ParseUint(root, 10, 64)
		if err != nil {
			return storageError("read root", err)
		}
		c.id, c.root = types.ContainerID(id), types.Address(n)
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return c.withTx(func(tx *sql.Tx) error {
			c.id = types.NewContainerID()
			if err := setMeta(tx, metaID, string(c.id)); err != nil {
				return err
			}
			if err := setMeta(tx, metaNext, strconv.FormatUint(uint64(firstAddress), 10)); err != nil {
				return err
			}
			root, err := allocate(tx, rootSize)
			if err != nil {
				return err
			}
			if err := writeHeader(tx, root, &types.ObjectHeader{Kind: types.ObjectGroup, RefCount: 1}); err != nil {
				return err
			}
			c.root = root
			return setMeta(tx, metaRoot, strconv.FormatUint(uint64(root), 10))
		})
	default:
		return storageError("read container id", err)
	}
}

func (c *Container) ID() types.ContainerID { return c.id }
func (c *Container) Root() types.Address   { return c.root }

// Path returns the database file the container is stored in.
func (c *Container) Path() string { return c.path }

// ReadObjectHeader returns the header at addr with its links in name order.
func (c *Container) ReadObjectHeader(addr types.Address) (*types.ObjectHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, types.ErrContainerClosed
	}
	return readHeader(c.db, addr)
}

// WriteObjectHeader stores h at the allocated address addr. The links of h
// are ignored; links change only through LinkName and LinkSoft.
func (c *Container) WriteObjectHeader(addr types.Address, h *types.ObjectHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrContainerClosed
	}
	return writeHeader(c.db, addr, h)
}

// AllocateStorage reserves size bytes, reusing the lowest freed block that
// fits.
func (c *Container) AllocateStorage(size int) (types.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, types.ErrContainerClosed
	}
	var addr types.Address
	err := c.withTx(func(tx *sql.Tx) error {
		var err error
		addr, err = allocate(tx, max(size, 1))
		return err
	})
	return addr, err
}

// FreeStorage releases addr, its header and its links.
func (c *Container) FreeStorage(addr types.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrContainerClosed
	}
	return c.withTx(func(tx *sql.Tx) error {
		return free(tx, addr)
	})
}

// LinkName adds a hard link and increments the target's reference count.
func (c *Container) LinkName(parent types.Address, name string, addr types.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrContainerClosed
	}
	return c.withTx(func(tx *sql.Tx) error {
		if err := checkLink(tx, parent, name); err != nil {
			return err
		}
		target, err := readHeader(tx, addr)
		if err != nil {
			return fmt.Errorf("link %q: %w", name, err)
		}
		target.RefCount++
		if err := writeHeader(tx, addr, target); err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO links (parent, name, kind, addr, target) VALUES (?, ?, ?, ?, NULL)`,
			int64(parent), name, int(types.LinkHard), int64(addr))
		if err != nil {
			return storageError("insert link", err)
		}
		return nil
	})
}

// LinkSoft adds a soft link to a path.
func (c *Container) LinkSoft(parent types.Address, name, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrContainerClosed
	}
	return c.withTx(func(tx *sql.Tx) error {
		if err := checkLink(tx, parent, name); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO links (parent, name, kind, addr, target) VALUES (?, ?, ?, NULL, ?)`,
			int64(parent), name, int(types.LinkSoft), target)
		if err != nil {
			return storageError("insert link", err)
		}
		return nil
	})
}

// IterateLinks calls fn for each link of group in name order. fn may call
// back into the container.
func (c *Container) IterateLinks(group types.Address, fn func(types.Link) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return types.ErrContainerClosed
	}
	h, err := readHeader(c.db, group)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("iterate %s: %w", group, err)
	}
	if h.Kind != types.ObjectGroup {
		return fmt.Errorf("iterate %s: %w", group, types.ErrNotGroup)
	}

	for _, l := range h.Links {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database. Close is idempotent.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// Allocated returns the number of live allocations, the root group included.
func (c *Container) Allocated() (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, types.ErrContainerClosed
	}
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&n); err != nil {
		return 0, storageError("count objects", err)
	}
	return n, nil
}

func (c *Container) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := c.db.Begin()
	if err != nil {
		return storageError("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError("commit", err)
	}
	return nil
}

func storageError(op string, err error) error {
	return types.NewError(types.KindStorage).Op(op).Wrap(err).Build()
}

func getMeta(q querier, key string) (string, error) {
	var v string
	err := q.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	return v, err
}

func setMeta(q querier, key, value string) error {
	_, err := q.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return storageError("write "+key, err)
	}
	return nil
}

func allocate(q querier, size int) (types.Address, error) {
	var addr, blockSize int64
	err := q.QueryRow(`SELECT addr, size FROM free_blocks WHERE size >= ? ORDER BY addr LIMIT 1`, size).
		Scan(&addr, &blockSize)
	switch {
	case err == nil:
		if blockSize == int64(size) {
			_, err = q.Exec(`DELETE FROM free_blocks WHERE addr = ?`, addr)
		} else {
			_, err = q.Exec(`UPDATE free_blocks SET addr = ?, size = ? WHERE addr = ?`,
				addr+int64(size), blockSize-int64(size), addr)
		}
		if err != nil {
			return 0, storageError("allocate", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		next, err := getMeta(q, metaNext)
		if err != nil {
			return 0, storageError("allocate", err)
		}
		n, err := strconv.ParseInt(next, 10, 64)
		if err != nil {
			return 0, storageError("allocate", err)
		}
		addr = n
		if err := setMeta(q, metaNext, strconv.FormatInt(n+int64(size), 10)); err != nil {
			return 0, err
		}
	default:
		return 0, storageError("allocate", err)
	}

	if _, err := q.Exec(`INSERT INTO objects (addr, size, header) VALUES (?, ?, NULL)`, addr, size); err != nil {
		return 0, storageError("allocate", err)
	}
	return types.Address(addr), nil
}

func free(q querier, addr types.Address) error {
	var size int64
	err := q.QueryRow(`SELECT size FROM objects WHERE addr = ?`, int64(addr)).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("free %s: %w", addr, types.ErrBadAddress)
	}
	if err != nil {
		return storageError("free", err)
	}
	if _, err := q.Exec(`DELETE FROM objects WHERE addr = ?`, int64(addr)); err != nil {
		return storageError("free", err)
	}
	if _, err := q.Exec(`DELETE FROM links WHERE parent = ?`, int64(addr)); err != nil {
		return storageError("free", err)
	}

	start, end := int64(addr), int64(addr)+size
	var prevAddr, prevSize int64
	err = q.QueryRow(`SELECT addr, size FROM free_blocks WHERE addr + size = ?`, start).Scan(&prevAddr, &prevSize)
	switch {
	case err == nil:
		if _, err := q.Exec(`DELETE FROM free_blocks WHERE addr = ?`, prevAddr); err != nil {
			return storageError("free", err)
		}
		start = prevAddr
	case !errors.Is(err, sql.ErrNoRows):
		return storageError("free", err)
	}

	var nextSize int64
	err = q.QueryRow(`SELECT size FROM free_blocks WHERE addr = ?`, end).Scan(&nextSize)
	switch {
	case err == nil:
		if _, err := q.Exec(`DELETE FROM free_blocks WHERE addr = ?`, end); err != nil {
			return storageError("free", err)
		}
		end += nextSize
	case !errors.Is(err, sql.ErrNoRows):
		return storageError("free", err)
	}

	if _, err := q.Exec(`INSERT INTO free_blocks (addr, size) VALUES (?, ?)`, start, end-start); err != nil {
		return storageError("free", err)
	}
	return nil
}

func readHeader(q querier, addr types.Address) (*types.ObjectHeader, error) {
	var raw sql.NullString
	err := q.QueryRow(`SELECT header FROM objects WHERE addr = ?`, int64(addr)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return nil, fmt.Errorf("read %s: %w", addr, types.ErrBadAddress)
	}
	if err != nil {
		return nil, storageError("read header", err)
	}

	var h types.ObjectHeader
	if err := json.Unmarshal([]byte(raw.String), &h); err != nil {
		return nil, types.NewError(types.KindStorage).Op("decode header").At(addr).Wrap(err).Build()
	}
	if h.Kind != types.ObjectGroup {
		return &h, nil
	}

	rows, err := q.Query(`SELECT name, kind, addr, target FROM links WHERE parent = ? ORDER BY name`, int64(addr))
	if err != nil {
		return nil, storageError("read links", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l      types.Link
			kind   int
			target sql.NullString
			to     sql.NullInt64
		)
		if err := rows.Scan(&l.Name, &kind, &to, &target); err != nil {
			return nil, storageError("read links", err)
		}
		l.Kind, l.Addr, l.Target = types.LinkKind(kind), types.Address(to.Int64), target.String
		h.Links = append(h.Links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("read links", err)
	}
	return &h, nil
}

func writeHeader(q querier, addr types.Address, h *types.ObjectHeader) error {
	stored := *h
	stored.Links = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return types.NewError(types.KindStorage).Op("encode header").At(addr).Wrap(err).Build()
	}
	res, err := q.Exec(`UPDATE objects SET header = ? WHERE addr = ?`, string(data), int64(addr))
	if err != nil {
		return storageError("write header", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("write %s: %w", addr, types.ErrBadAddress)
	}
	return nil
}

func checkLink(q querier, parent types.Address, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("link %q: invalid name", name)
	}
	g, err := readHeader(q, parent)
	if err != nil {
		return fmt.Errorf("link %q in %s: %w", name, parent, err)
	}
	if g.Kind != types.ObjectGroup {
		return fmt.Errorf("link %q in %s: %w", name, parent, types.ErrNotGroup)
	}
	var one int
	err = q.QueryRow(`SELECT 1 FROM links WHERE parent = ? AND name = ?`, int64(parent), name).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("link %q: %w", name, types.ErrLinkExists)
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return storageError("check link", err)
	}
}
