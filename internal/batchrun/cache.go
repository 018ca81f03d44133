// Copyright (c) esat-tools 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batchrun

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Cache.Get when no batch has completed for the
// dataset.
var ErrNotFound = errors.New("no batch result for dataset")

// Cache is the process-wide mapping from dataset ID to the most recent
// completed batch result. It is the single handoff point to downstream
// analysis: a new completion for the same dataset overwrites the old entry,
// never merges. Entries live until evicted or the process exits.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Result
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Result),
	}
}

// Put stores the result for its dataset, overwriting any prior entry.
func (c *Cache) Put(result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[result.DatasetID] = result
}

// Get returns the latest result for the dataset, or ErrNotFound.
func (c *Cache) Get(datasetID string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.entries[datasetID]
	if !ok {
		return nil, ErrNotFound
	}

	return result, nil
}

// Evict removes the entry for the dataset, if any.
func (c *Cache) Evict(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, datasetID)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Result)
}
