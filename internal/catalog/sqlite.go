// Package catalog is the persistent record of blackholes, items and chunks
// that makes reconstruction possible without the local queue.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"wbh-go/internal/catalog/migrations"
	"wbh-go/internal/wbh"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so queries run the same
// way inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var itemColumns = []string{
	"id", "blackhole_id", "parent_id", "filename", "is_dir", "size", "items_count",
	"chunks_count", "checksum", "checksum_type", "root_path", "full_path",
	"created_at", "modified_at", "uploaded_at",
}

var chunkColumns = []string{
	"id", "blackhole_id", "items_id", `"index"`, "size", "filename", "checksum",
	"checksum_type", "encryption", "encryption_data", "msg_id", "file_id", "uploaded_at",
}

// SQLiteCatalog implements wbh.Catalog on a single SQLite file.
type SQLiteCatalog struct {
	db    *sql.DB
	clock wbh.Clock
	path  string
}

var _ wbh.Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens the catalog at path (or ":memory:") and applies
// pending migrations.
func NewSQLiteCatalog(path string, clock wbh.Clock) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if clock == nil {
		clock = wbh.RealClock{}
	}
	return &SQLiteCatalog{db: db, clock: clock, path: path}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enforced.
// An in-memory catalog is limited to one connection, since every new
// connection to ":memory:" would see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if isMemory(path) {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return db, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// Path returns the file the catalog was opened from.
func (c *SQLiteCatalog) Path() string { return c.path }

// DB exposes the underlying connection for migration checks.
func (c *SQLiteCatalog) DB() *sql.DB { return c.db }

func (c *SQLiteCatalog) Close() error { return c.db.Close() }

func (c *SQLiteCatalog) withTx(ctx context.Context, fn func(q dbtx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %w", wbh.ErrCatalog, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %w", wbh.ErrCatalog, err)
	}
	return nil
}

// BackupTo writes a consistent snapshot of the catalog to dest with
// VACUUM INTO. dest is replaced if it exists.
func (c *SQLiteCatalog) BackupTo(ctx context.Context, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old snapshot: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("%w: snapshotting catalog: %w", wbh.ErrCatalog, err)
	}
	return nil
}

// Blackhole operations

func (c *SQLiteCatalog) GetOrCreateBlackHole(ctx context.Context, name, destination string) (int64, error) {
	var id int64
	err := c.withTx(ctx, func(q dbtx) error {
		query, args, err := psql.Select("id").From("blackholes").Where(sq.Eq{"name": name}).ToSql()
		if err != nil {
			return fmt.Errorf("building query: %w", err)
		}
		err = q.QueryRowContext(ctx, query, args...).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: finding blackhole %s: %w", wbh.ErrCatalog, name, err)
		}

		query, args, err = psql.Insert("blackholes").
			Columns("name", "size", "destination", "created_at").
			Values(name, 0, destination, c.clock.Now()).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("building query: %w", err)
		}
		if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return fmt.Errorf("%w: inserting blackhole %s: %w", wbh.ErrCatalog, name, err)
		}
		return nil
	})
	return id, err
}

func (c *SQLiteCatalog) AddBlackHoleSize(ctx context.Context, blackholeID int64, delta int64) error {
	return c.addBlackHoleSize(ctx, c.db, blackholeID, delta)
}

func (c *SQLiteCatalog) addBlackHoleSize(ctx context.Context, q dbtx, blackholeID int64, delta int64) error {
	query, args, err := psql.Update("blackholes").
		Set("size", sq.Expr("size + ?", delta)).
		Where(sq.Eq{"id": blackholeID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: growing blackhole %d: %w", wbh.ErrCatalog, blackholeID, err)
	}
	return nil
}

func (c *SQLiteCatalog) GetBlackHoles(ctx context.Context) ([]*wbh.CatalogBlackHole, error) {
	return c.queryBlackHoles(ctx, psql.Select("id", "name", "size", "destination", "created_at").
		From("blackholes").
		OrderBy("id"))
}

func (c *SQLiteCatalog) GetBlackHole(ctx context.Context, id int64) (*wbh.CatalogBlackHole, error) {
	holes, err := c.queryBlackHoles(ctx, psql.Select("id", "name", "size", "destination", "created_at").
		From("blackholes").
		Where(sq.Eq{"id": id}))
	if err != nil || len(holes) == 0 {
		return nil, err
	}
	return holes[0], nil
}

func (c *SQLiteCatalog) queryBlackHoles(ctx context.Context, b sq.SelectBuilder) ([]*wbh.CatalogBlackHole, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing blackholes: %w", wbh.ErrCatalog, err)
	}
	defer rows.Close()

	var out []*wbh.CatalogBlackHole
	for rows.Next() {
		var bh wbh.CatalogBlackHole
		if err := rows.Scan(&bh.ID, &bh.Name, &bh.Size, &bh.Destination, &bh.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning blackhole: %w", wbh.ErrCatalog, err)
		}
		out = append(out, &bh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing blackholes: %w", wbh.ErrCatalog, err)
	}
	return out, nil
}

// Item operations

func (c *SQLiteCatalog) AddItem(ctx context.Context, blackholeID, parentID int64, node *wbh.ItemNode) (map[string]int64, error) {
	ids := make(map[string]int64)
	err := c.withTx(ctx, func(q dbtx) error {
		return c.insertNode(ctx, q, blackholeID, parentID, node, ids)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// insertNode inserts node before its children so every child row can
// reference its parent.
func (c *SQLiteCatalog) insertNode(ctx context.Context, q dbtx, blackholeID, parentID int64, node *wbh.ItemNode, ids map[string]int64) error {
	item := node.Item
	id := item.CatalogID
	if id == 0 {
		existing, err := c.itemIDByLocalID(ctx, q, item.LocalID)
		if err != nil {
			return err
		}
		id = existing
	}
	if id == 0 {
		inserted, err := c.insertItem(ctx, q, blackholeID, parentID, item)
		if err != nil {
			return err
		}
		id = inserted
	}
	ids[item.LocalID] = id

	for _, child := range node.Children {
		if err := c.insertNode(ctx, q, blackholeID, id, child, ids); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteCatalog) itemIDByLocalID(ctx context.Context, q dbtx, localID string) (int64, error) {
	if localID == "" {
		return 0, nil
	}
	query, args, err := psql.Select("id").From("items").Where(sq.Eq{"queue_id": localID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: finding item %s: %w", wbh.ErrCatalog, localID, err)
	}
	return id, nil
}

func (c *SQLiteCatalog) insertItem(ctx context.Context, q dbtx, blackholeID, parentID int64, item *wbh.WatchItem) (int64, error) {
	var queueID, parent any
	if item.LocalID != "" {
		queueID = item.LocalID
	}
	if parentID != 0 {
		parent = parentID
	}
	itemsCount := 0
	if item.IsDir {
		itemsCount = len(item.Children)
	}

	query, args, err := psql.Insert("items").
		Columns("queue_id", "filename", "is_dir", "size", "items_count", "chunks_count",
			"checksum", "checksum_type", "root_path", "full_path", "created_at",
			"modified_at", "blackhole_id", "parent_id").
		Values(queueID, item.Name, item.IsDir, item.Size, itemsCount, len(item.Chunks),
			item.Checksum, int(item.ChecksumType), strings.Join(item.PathSegments, "/"), item.Key(), c.timestamp(item.CreatedAt),
			c.timestamp(item.ModifiedAt), blackholeID, parent).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: inserting item %s: %w", wbh.ErrCatalog, item.Key(), err)
	}
	return id, nil
}

func (c *SQLiteCatalog) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return c.clock.Now()
	}
	return t
}

func (c *SQLiteCatalog) UpdateChunkCount(ctx context.Context, itemID int64, count int) error {
	return c.updateChunkCount(ctx, c.db, itemID, count)
}

func (c *SQLiteCatalog) updateChunkCount(ctx context.Context, q dbtx, itemID int64, count int) error {
	query, args, err := psql.Update("items").
		Set("chunks_count", count).
		Set("uploaded_at", c.clock.Now()).
		Where(sq.Eq{"id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: updating chunk count of item %d: %w", wbh.ErrCatalog, itemID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: item %d does not exist", wbh.ErrCatalog, itemID)
	}
	return nil
}

// FinalizeItem marks an uploaded file done in one transaction. The
// blackhole only grows by size the first time, while uploaded_at is unset.
func (c *SQLiteCatalog) FinalizeItem(ctx context.Context, blackholeID, itemID int64, count int, size int64) error {
	return c.withTx(ctx, func(q dbtx) error {
		query, args, err := psql.Select("uploaded_at IS NULL").
			From("items").
			Where(sq.Eq{"blackhole_id": blackholeID, "id": itemID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("building query: %w", err)
		}
		var pending bool
		if err := q.QueryRowContext(ctx, query, args...).Scan(&pending); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: item %d does not exist", wbh.ErrCatalog, itemID)
			}
			return fmt.Errorf("%w: finding item %d: %w", wbh.ErrCatalog, itemID, err)
		}
		if pending {
			if err := c.addBlackHoleSize(ctx, q, blackholeID, size); err != nil {
				return err
			}
		}
		return c.updateChunkCount(ctx, q, itemID, count)
	})
}

func (c *SQLiteCatalog) GetChildren(ctx context.Context, blackholeID, parentID int64) ([]*wbh.CatalogItem, error) {
	var parent any
	if parentID != 0 {
		parent = parentID
	}
	return c.queryItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"blackhole_id": blackholeID, "parent_id": parent}).
		OrderBy("filename", "id"))
}

func (c *SQLiteCatalog) GetItem(ctx context.Context, blackholeID, itemID int64) (*wbh.CatalogItem, error) {
	items, err := c.queryItems(ctx, psql.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"blackhole_id": blackholeID, "id": itemID}))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (c *SQLiteCatalog) queryItems(ctx context.Context, b sq.SelectBuilder) ([]*wbh.CatalogItem, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing items: %w", wbh.ErrCatalog, err)
	}
	defer rows.Close()

	var out []*wbh.CatalogItem
	for rows.Next() {
		var (
			it         wbh.CatalogItem
			parent     sql.NullInt64
			uploadedAt sql.NullTime
			checksum   int
		)
		err := rows.Scan(&it.ID, &it.BlackHoleID, &parent, &it.Filename, &it.IsDir, &it.Size,
			&it.ItemsCount, &it.ChunksCount, &it.Checksum, &checksum, &it.RootPath,
			&it.FullPath, &it.CreatedAt, &it.ModifiedAt, &uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning item: %w", wbh.ErrCatalog, err)
		}
		it.ParentID = parent.Int64
		it.ChecksumType = wbh.ChecksumType(checksum)
		if uploadedAt.Valid {
			t := uploadedAt.Time
			it.UploadedAt = &t
		}
		out = append(out, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing items: %w", wbh.ErrCatalog, err)
	}
	return out, nil
}

// Chunk operations

func (c *SQLiteCatalog) AddChunk(ctx context.Context, blackholeID, itemID int64, chunk *wbh.Chunk) (int64, error) {
	query, args, err := psql.Insert("chunks").
		Columns("msg_id", "file_id", "filename", "size", `"index"`, "checksum",
			"checksum_type", "encryption", "encryption_data", "uploaded_at",
			"blackhole_id", "items_id").
		Values(chunk.MessageHandle, chunk.BlobHandle, chunk.TempName, chunk.Size, chunk.Index,
			chunk.Checksum, int(chunk.ChecksumType), int(chunk.Encryption),
			chunk.EncryptionMaterial, c.clock.Now(), blackholeID, itemID).
		Suffix(`ON CONFLICT (items_id, "index") DO UPDATE SET
			msg_id = excluded.msg_id,
			file_id = excluded.file_id,
			filename = excluded.filename,
			size = excluded.size,
			checksum = excluded.checksum,
			checksum_type = excluded.checksum_type,
			encryption = excluded.encryption,
			encryption_data = excluded.encryption_data,
			uploaded_at = excluded.uploaded_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	var id int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: recording chunk %d of item %d: %w", wbh.ErrCatalog, chunk.Index, itemID, err)
	}
	return id, nil
}

func (c *SQLiteCatalog) GetChunks(ctx context.Context, blackholeID, itemID int64) ([]*wbh.CatalogChunk, error) {
	query, args, err := psql.Select(chunkColumns...).
		From("chunks").
		Where(sq.Eq{"blackhole_id": blackholeID, "items_id": itemID}).
		OrderBy(`"index"`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing chunks of item %d: %w", wbh.ErrCatalog, itemID, err)
	}
	defer rows.Close()

	var out []*wbh.CatalogChunk
	for rows.Next() {
		var (
			ch       wbh.CatalogChunk
			checksum int
			enc      int
		)
		err := rows.Scan(&ch.ID, &ch.BlackHoleID, &ch.ItemID, &ch.Index, &ch.Size, &ch.Filename,
			&ch.Checksum, &checksum, &enc, &ch.EncryptionMaterial, &ch.MessageID, &ch.BlobID,
			&ch.UploadedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %w", wbh.ErrCatalog, err)
		}
		ch.ChecksumType = wbh.ChecksumType(checksum)
		ch.Encryption = wbh.EncryptionType(enc)
		out = append(out, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing chunks of item %d: %w", wbh.ErrCatalog, itemID, err)
	}
	return out, nil
}
