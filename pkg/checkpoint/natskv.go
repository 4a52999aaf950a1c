package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// KeyValue is the bucket interface used by NATSKVStore. Get returns
// nats.ErrKeyNotFound for missing keys.
type KeyValue interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// WrapNATSKeyValue adapts a nats.KeyValue bucket to the KeyValue interface.
func WrapNATSKeyValue(kv nats.KeyValue) KeyValue {
	return &natsKeyValue{kv: kv}
}

type natsKeyValue struct {
	kv nats.KeyValue
}

func (a *natsKeyValue) Get(key string) ([]byte, error) {
	entry, err := a.kv.Get(key)
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (a *natsKeyValue) Put(key string, value []byte) error {
	_, err := a.kv.Put(key, value)
	return err
}

func (a *natsKeyValue) Delete(key string) error {
	return a.kv.Delete(key)
}

// NATSKVStore keeps checkpoints in a JetStream key/value bucket.
type NATSKVStore struct {
	kv KeyValue
}

// NewNATSKVStore binds to bucket, creating it when it does not exist.
func NewNATSKVStore(conn *nats.Conn, bucket string) (*NATSKVStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "collector checkpoints",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind key/value bucket %s: %w", bucket, err)
	}
	return NewNATSKVStoreFromBucket(WrapNATSKeyValue(kv)), nil
}

// NewNATSKVStoreFromBucket wraps an already bound bucket.
func NewNATSKVStoreFromBucket(kv KeyValue) *NATSKVStore {
	return &NATSKVStore{kv: kv}
}

// kvKey maps key onto the characters NATS allows in key names. Other bytes
// are written as "=" followed by two hex digits.
func kvKey(key string) string {
	var sb strings.Builder
	for i := 0; i < len(key); i++ {
		b := key[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '/':
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "=%02X", b)
		}
	}
	return sb.String()
}

// Get implements Store.
func (s *NATSKVStore) Get(_ context.Context, key string) (map[string]any, bool, error) {
	raw, err := s.kv.Get(kvKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	content, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

// Update implements Store.
func (s *NATSKVStore) Update(_ context.Context, key string, content map[string]any) error {
	raw, err := encode(content)
	if err != nil {
		return err
	}
	if err := s.kv.Put(kvKey(key), raw); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *NATSKVStore) Delete(_ context.Context, key string) error {
	err := s.kv.Delete(kvKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}
