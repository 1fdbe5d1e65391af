package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
)

const stateKVBucket = "buildwatch-state"

// NATSKV implements KV on a JetStream key-value bucket.
type NATSKV struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

// NewNATSKV connects to NATS and ensures the state bucket exists.
func NewNATSKV(ctx context.Context, url string) (*NATSKV, error) {
	conn, err := nats.Connect(url, nats.Name("buildwatch-state"))
	if err != nil {
		return nil, bwerrors.Wrap(err, bwerrors.CategoryStorage, bwerrors.SeverityFatal, "connect to NATS").
			WithContext("url", url)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, bwerrors.Wrap(err, bwerrors.CategoryStorage, bwerrors.SeverityFatal, "create JetStream context")
	}

	// Try to get existing bucket first
	kv, err := js.KeyValue(ctx, stateKVBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      stateKVBucket,
			Description: "buildwatch durable loop state",
			History:     1,
		})
		if err != nil {
			conn.Close()
			return nil, bwerrors.Wrap(err, bwerrors.CategoryStorage, bwerrors.SeverityFatal, "create state KV bucket")
		}
	}

	slog.Info("NATS state store initialized", "url", url, "kv_bucket", stateKVBucket)
	return &NATSKV{conn: conn, kv: kv}, nil
}

func (n *NATSKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := n.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, bwerrors.StorageError("get", key, err)
	}
	return entry.Value(), true, nil
}

func (n *NATSKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return bwerrors.StorageError("set", key, err)
	}
	return nil
}

func (n *NATSKV) Delete(ctx context.Context, key string) error {
	if err := n.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return bwerrors.StorageError("delete", key, err)
	}
	return nil
}

func (n *NATSKV) Close() error {
	n.conn.Close()
	return nil
}
