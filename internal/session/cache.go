// Package session holds uploaded-book state between the upload call and the
// synthesis calls that reference its chapters.
//
// The cache is process-local and deliberately bounded: entries are evicted
// by count (LRU) and by age (TTL) instead of accumulating until process
// restart. An evicted session simply requires the client to upload again.
package session

import (
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/narravox/narrator/internal/core"
)

// Book is one upload session: parsed chapter text plus book metadata.
// Chapters are ordered by their original position in the book.
type Book struct {
	Title    string
	Author   string
	Chapters []core.Chapter
}

// Cache is a bounded, TTL'd store of upload sessions keyed by session id.
type Cache struct {
	entries *expirable.LRU[string, *Book]
	log     *logger.Logger
}

// NewCache creates a session cache holding at most maxEntries books, each
// for at most ttl.
func NewCache(maxEntries int, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		entries: expirable.NewLRU[string, *Book](maxEntries, nil, ttl),
		log:     log,
	}
}

// Put stores a book and returns its generated session id.
func (c *Cache) Put(book *Book) string {
	sessionID := uuid.NewString()

	c.entries.Add(sessionID, book)
	c.log.Info("Cached upload session %s (%q, %d chapters)", sessionID, book.Title, len(book.Chapters))

	return sessionID
}

// Get returns the book for a session id, if it is still cached.
func (c *Cache) Get(sessionID string) (*Book, bool) {
	return c.entries.Get(sessionID)
}

// Remove drops a session explicitly.
func (c *Cache) Remove(sessionID string) {
	c.entries.Remove(sessionID)
}

// Len reports the number of live sessions.
func (c *Cache) Len() int {
	return c.entries.Len()
}
