// Package container implements the self-describing output file produced by
// each preprocessor run.
//
// A container is a SQLite database holding named attributes and typed,
// checksummed datasets. The dispatcher owns the container handle: it creates
// the file, stores the metadata envelope under MetaAttr, lends a Writer to the
// plugin and closes the file on every exit path.
package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	// Ext is the file extension of output containers.
	Ext = ".h5db"

	// MetaAttr is the attribute holding the JSON metadata envelope.
	MetaAttr = "__proface.meta__"

	// applicationID tags the SQLite header so containers are recognizable ("PFC1").
	applicationID = 0x50464331
	formatVersion = 1
)

var (
	ErrIO               = errors.New("output container I/O failure")
	ErrClosed           = errors.New("container is closed")
	ErrReadOnly         = errors.New("container is read-only")
	ErrNotFound         = errors.New("not found in container")
	ErrExists           = errors.New("already exists in container")
	ErrReservedAttr     = errors.New("attribute name is reserved")
	ErrInvalidDataset   = errors.New("invalid dataset")
	ErrChecksumMismatch = errors.New("dataset checksum mismatch")
	ErrNotContainer     = errors.New("file is not a preprocessor container")
)

// IOError carries an underlying OS or driver failure. Its message is the
// underlying error's message, unchanged.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioErr(op string, err error) error {
	return &IOError{Op: op, Err: err}
}

// Writer is the part of a container a plugin may use. It deliberately has no
// Close: the dispatcher owns the handle.
type Writer interface {
	Path() string
	SetAttr(name string, value []byte) error
	CreateDataset(name string, ds Dataset) error
}

// Container is an open output container.
type Container struct {
	mu       sync.Mutex
	db       *sql.DB
	path     string
	readOnly bool
	closed   bool
}

// OutputPath derives the container path for a job file: same directory, same
// base name, container extension.
func OutputPath(jobPath string) string {
	dir := filepath.Dir(jobPath)
	base := filepath.Base(jobPath)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(dir, base+Ext)
}

// Create opens path for writing, destroying any existing file there, and
// bootstraps the container schema.
func Create(ctx context.Context, path string) (*Container, error) {
	if path == "" {
		return nil, ioErr("create", errors.New("container path is empty"))
	}

	// Truncate through the OS first so permission and path problems surface
	// with the OS message rather than a generic driver error.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ioErr("create", err)
	}
	if err := f.Close(); err != nil {
		return nil, ioErr("create", err)
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return nil, ioErr("create", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ioErr("open", err)
	}
	db.SetMaxOpenConns(1)

	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, ioErr("bootstrap", err)
	}

	return &Container{db: db, path: path}, nil
}

// Open opens an existing container read-only.
func Open(ctx context.Context, path string) (*Container, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ioErr("open", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, ioErr("open", err)
	}
	db.SetMaxOpenConns(1)

	var appID int64
	if err := db.QueryRowContext(ctx, "PRAGMA application_id;").Scan(&appID); err != nil {
		_ = db.Close()
		return nil, ioErr("open", err)
	}
	if appID != applicationID {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotContainer, path)
	}

	return &Container{db: db, path: path, readOnly: true}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA application_id = %d;", applicationID),
		fmt.Sprintf("PRAGMA user_version = %d;", formatVersion),
		`CREATE TABLE IF NOT EXISTS attributes (
  name  TEXT PRIMARY KEY,
  value BLOB
);`,
		`CREATE TABLE IF NOT EXISTS datasets (
  name     TEXT PRIMARY KEY,
  dtype    TEXT NOT NULL,
  shape    JSON NOT NULL,
  data     BLOB,
  checksum TEXT NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap container: %w", err)
		}
	}
	return nil
}

// Path returns the container file path.
func (c *Container) Path() string { return c.path }

// WriteMeta stores the metadata envelope. It can be written only once.
func (c *Container) WriteMeta(envelope []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writable(); err != nil {
		return err
	}
	if _, err := c.db.Exec("INSERT INTO attributes(name, value) VALUES(?, ?);", MetaAttr, envelope); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", ErrReservedAttr, MetaAttr)
		}
		return ioErr("write meta", err)
	}
	return nil
}

// SetAttr stores or replaces a top-level attribute. MetaAttr is reserved.
func (c *Container) SetAttr(name string, value []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("attribute name is empty")
	}
	if name == MetaAttr {
		return fmt.Errorf("%w: %s", ErrReservedAttr, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writable(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := c.db.Exec(
		"INSERT INTO attributes(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value;",
		name, value,
	); err != nil {
		return ioErr("set attribute", err)
	}
	return nil
}

// Attr returns the value of a top-level attribute.
func (c *Container) Attr(name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	var value []byte
	err := c.db.QueryRow("SELECT value FROM attributes WHERE name = ?;", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("read attribute", err)
	}
	return value, nil
}

// AttrNames returns all attribute names in lexical order.
func (c *Container) AttrNames() ([]string, error) {
	return c.names("SELECT name FROM attributes ORDER BY name;")
}

// Close flushes and releases the container. Only the first call does work;
// later calls return ErrClosed.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	if err := c.db.Close(); err != nil {
		return ioErr("close", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Container) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Container) writable() error {
	if c.closed {
		return ErrClosed
	}
	if c.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (c *Container) names(query string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, ioErr("list", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ioErr("list", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list", err)
	}
	return out, nil
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}
