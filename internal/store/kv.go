// Package store holds the daemon's durable state: the build status map and
// the iteration cursor, persisted through an external key-value collaborator.
// Every get/set is an atomic single-key operation; no multi-key consistency
// is assumed.
package store

import (
	"context"
	"encoding/json"

	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
)

// Keys used by the control loop, by convention.
const (
	KeyCursor              = "current-cursor"
	KeyStatusMap           = "status-map"
	KeyLastGoodCount       = "last-good-count"
	KeyLastBadCount        = "last-bad-count"
	KeyPassGoodCount       = "pass-good-count"
	KeyPassBadCount        = "pass-bad-count"
	KeyUpstreamNeedsSync   = "upstream-needs-sync"
	KeyUpstreamLastUpdated = "upstream-last-updated"
	KeyUpstreamErrorLog    = "upstream-error-log"
	KeyLivenessPing        = "liveness-ping"
)

// KV is the durable key-value collaborator.
type KV interface {
	// Get returns the value for key, reporting absence via the bool.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON reads and decodes a JSON value. Absent keys leave dst untouched
// and report false.
func GetJSON(ctx context.Context, kv KV, key string, dst any) (bool, error) {
	data, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, bwerrors.StorageError("decode", key, err)
	}
	return true, nil
}

// SetJSON encodes and writes a JSON value.
func SetJSON(ctx context.Context, kv KV, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return bwerrors.StorageError("encode", key, err)
	}
	return kv.Set(ctx, key, data)
}
