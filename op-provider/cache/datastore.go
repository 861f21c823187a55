package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/sync"
	leveldb "github.com/ipfs/go-ds-leveldb"
)

// Datastore persists replies in a key-value datastore.
type Datastore struct {
	store ds.Batching
}

var _ Cache = (*Datastore)(nil)

func NewDatastore(store ds.Batching) *Datastore {
	return &Datastore{store: store}
}

// NewMapDatastore is a Datastore that lives in memory only.
func NewMapDatastore() *Datastore {
	return NewDatastore(sync.MutexWrap(ds.NewMapDatastore()))
}

// OpenLevelDB opens, or creates, a LevelDB database at path.
func OpenLevelDB(path string) (*Datastore, error) {
	store, err := leveldb.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb cache at %s: %w", path, err)
	}
	return NewDatastore(store), nil
}

func datastoreKey(method string, params json.RawMessage) ds.Key {
	return ds.NewKey("/rpc").ChildString(Key(method, params))
}

func (d *Datastore) Get(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, bool, error) {
	v, err := d.store.Get(ctx, datastoreKey(method, params))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (d *Datastore) Put(ctx context.Context, method string, params json.RawMessage, value json.RawMessage) error {
	return d.store.Put(ctx, datastoreKey(method, params), value)
}

func (d *Datastore) Close() error {
	return d.store.Close()
}
