package store

import (
	"context"
	"slices"
)

// Cursor is the durable resume pointer into the current catalog pass. It is
// set to the in-progress target before any work happens on it, so a crash
// mid-target resumes at that target rather than silently skipping it.
type Cursor struct {
	kv KV
}

// NewCursor creates a cursor backed by the durable KV collaborator.
func NewCursor(kv KV) *Cursor {
	return &Cursor{kv: kv}
}

// Set persists the identity of the target about to be processed.
func (c *Cursor) Set(ctx context.Context, target string) error {
	return c.kv.Set(ctx, KeyCursor, []byte(target))
}

// Get returns the persisted cursor, reporting absence via the bool.
func (c *Cursor) Get(ctx context.Context) (string, bool, error) {
	data, ok, err := c.kv.Get(ctx, KeyCursor)
	if err != nil || !ok || len(data) == 0 {
		return "", false, err
	}
	return string(data), true, nil
}

// Clear removes the cursor after a pass completes without interruption.
func (c *Cursor) Clear(ctx context.Context) error {
	return c.kv.Delete(ctx, KeyCursor)
}

// ResolvedStart returns the index in catalog where the next pass should
// begin: the cursor's position when present and still in the catalog, else 0.
// Catalog membership changes between passes, so a vanished target simply
// restarts from the top.
func (c *Cursor) ResolvedStart(ctx context.Context, catalog []string) (int, error) {
	target, ok, err := c.Get(ctx)
	if err != nil || !ok {
		return 0, err
	}
	if i := slices.Index(catalog, target); i >= 0 {
		return i, nil
	}
	return 0, nil
}
