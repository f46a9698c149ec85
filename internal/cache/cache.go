// Package cache persists the chapter audio index.
//
// The index is one half of the chapter cache: a relational table mapping
// chapter identity to the remote blob handle and timing metadata. The
// encoded audio itself lives in the remote blob collaborator. A lookup hit
// short-circuits synthesis entirely.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	_ "modernc.org/sqlite"

	"github.com/narravox/narrator/internal/core"
)

const dirPermissions = 0o750

// ErrNotFound indicates a cache miss. A miss is not a failure, it is the
// normal path into synthesis.
var ErrNotFound = errors.New("chapter not cached")

// Index is the SQLite-backed chapter cache index.
type Index struct {
	db    *sql.DB
	blobs core.BlobStore
	log   *logger.Logger
	clock func() time.Time
}

// Open initializes the index at the given database path, creating the
// schema when absent.
func Open(ctx context.Context, path string, blobs core.BlobStore, log *logger.Logger) (*Index, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		mkdirErr := os.MkdirAll(dir, dirPermissions)
		if mkdirErr != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", mkdirErr)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	pingErr := db.PingContext(ctx)
	if pingErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping cache database: %w", pingErr)
	}

	index := &Index{
		db:    db,
		blobs: blobs,
		log:   log,
		clock: time.Now,
	}

	schemaErr := index.initSchema(ctx)
	if schemaErr != nil {
		_ = db.Close()

		return nil, schemaErr
	}

	return index, nil
}

func (i *Index) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS chapters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    book_slug TEXT NOT NULL,
    chapter_item_id TEXT NOT NULL,
    remote_handle TEXT NOT NULL,
    metadata_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chapters_identity ON chapters(book_slug, chapter_item_id);
`

	_, err := i.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	closeErr := i.db.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close cache database: %w", closeErr)
	}

	return nil
}

// Lookup returns the cached record for an identity or ErrNotFound.
func (i *Index) Lookup(ctx context.Context, identity core.ChapterIdentity) (*core.CacheRecord, error) {
	row := i.db.QueryRowContext(ctx,
		`SELECT remote_handle, metadata_json FROM chapters
		 WHERE book_slug = ? AND chapter_item_id = ?`,
		identity.BookSlug, identity.ItemID)

	var (
		handle       string
		metadataJSON string
	)

	scanErr := row.Scan(&handle, &metadataJSON)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if scanErr != nil {
		return nil, fmt.Errorf("failed to read cache row: %w", scanErr)
	}

	var metadata []core.TimingEntry

	unmarshalErr := json.Unmarshal([]byte(metadataJSON), &metadata)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to decode cached metadata: %w", unmarshalErr)
	}

	return &core.CacheRecord{
		Identity:     identity,
		RemoteHandle: handle,
		Metadata:     metadata,
	}, nil
}

// Store persists a record with insert-or-replace semantics keyed by
// identity. A re-synthesis replaces the whole record; records are never
// merged or mutated in place.
func (i *Index) Store(
	ctx context.Context,
	identity core.ChapterIdentity,
	remoteHandle string,
	metadata []core.TimingEntry,
) error {
	metadataJSON, marshalErr := json.Marshal(metadata)
	if marshalErr != nil {
		return fmt.Errorf("failed to encode timing metadata: %w", marshalErr)
	}

	_, execErr := i.db.ExecContext(ctx,
		`INSERT INTO chapters(book_slug, chapter_item_id, remote_handle, metadata_json, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(book_slug, chapter_item_id) DO UPDATE SET
		     remote_handle = excluded.remote_handle,
		     metadata_json = excluded.metadata_json,
		     created_at = excluded.created_at`,
		identity.BookSlug, identity.ItemID, remoteHandle, string(metadataJSON), i.clock().UTC())
	if execErr != nil {
		return fmt.Errorf("failed to store cache record: %w", execErr)
	}

	i.log.Info("Cached chapter %s/%s -> %s", identity.BookSlug, identity.ItemID, remoteHandle)

	return nil
}

// ResolvePlayableURL exchanges a remote handle for a temporary download
// URL via the blob collaborator. The URL may expire; callers must not
// assume permanence.
func (i *Index) ResolvePlayableURL(ctx context.Context, remoteHandle string) (string, error) {
	url, err := i.blobs.Resolve(ctx, remoteHandle)
	if err != nil {
		return "", fmt.Errorf("failed to resolve playable URL: %w", err)
	}

	return url, nil
}
