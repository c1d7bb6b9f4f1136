// Package cache holds short-lived, process-local state: uploaded blobs that
// have not been persisted yet and markers for credit deductions whose job row
// is not written yet.
package cache

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BlobPrefix marks a reference to a blob held in a BlobCache.
const BlobPrefix = "blob:"

// Blob is an uploaded payload awaiting persistence.
type Blob struct {
	ContentType string
	Data        []byte
}

// BlobCache maps blob: references to payloads. Entries expire after ttl.
type BlobCache struct {
	lru *expirable.LRU[string, Blob]
}

func NewBlobCache(size int, ttl time.Duration) *BlobCache {
	if size <= 0 {
		size = 128
	}
	return &BlobCache{lru: expirable.NewLRU[string, Blob](size, nil, ttl)}
}

// Put stores data and returns its blob: reference.
func (c *BlobCache) Put(contentType string, data []byte) string {
	ref := BlobPrefix + uuid.NewString()
	c.lru.Add(ref, Blob{ContentType: contentType, Data: data})
	return ref
}

// Get resolves a blob: reference.
func (c *BlobCache) Get(ref string) (Blob, bool) {
	if !strings.HasPrefix(ref, BlobPrefix) {
		return Blob{}, false
	}
	return c.lru.Get(ref)
}

// Len reports the number of live entries.
func (c *BlobCache) Len() int {
	return c.lru.Len()
}
