// SPDX-License-Identifier: ice License 1.0

package sandbox

import (
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// openKV keeps the namespace in memory unless a root path is configured.
func openKV(rootPath, name string) (*KV, error) {
	var db *leveldb.DB
	var err error
	if rootPath == "" {
		db, err = leveldb.Open(ldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(filepath.Join(rootPath, name), nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb for %v", name)
	}

	return &KV{db: db, name: name}, nil
}

func (kv *KV) Get(key string) (value []byte, found bool, err error) {
	value, err = kv.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get %v/%v", kv.name, key)
	}

	return value, true, nil
}

func (kv *KV) Put(key string, value []byte) error {
	return errors.Wrapf(kv.db.Put([]byte(key), value, nil), "failed to put %v/%v", kv.name, key)
}

func (kv *KV) Delete(key string) error {
	return errors.Wrapf(kv.db.Delete([]byte(key), nil), "failed to delete %v/%v", kv.name, key)
}

func (kv *KV) List(prefix string) ([]string, error) {
	iter := kv.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}

	return keys, errors.Wrapf(iter.Error(), "failed to list %v/%v*", kv.name, prefix)
}

// Update runs fn inside a leveldb transaction, so concurrent read-modify-write calls on the
// same key do not lose writes.
func (kv *KV) Update(key string, fn func(old []byte, found bool) ([]byte, error)) ([]byte, error) {
	tr, err := kv.db.OpenTransaction()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open transaction on %v", kv.name)
	}
	old, err := tr.Get([]byte(key), nil)
	found := err == nil
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		tr.Discard()

		return nil, errors.Wrapf(err, "failed to get %v/%v", kv.name, key)
	}
	updated, err := fn(old, found)
	if err != nil {
		tr.Discard()

		return nil, errors.Wrapf(err, "update of %v/%v failed", kv.name, key)
	}
	if err = tr.Put([]byte(key), updated, nil); err != nil {
		tr.Discard()

		return nil, errors.Wrapf(err, "failed to put %v/%v", kv.name, key)
	}
	if err = tr.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit %v/%v", kv.name, key)
	}

	return updated, nil
}

func (kv *KV) Close() error {
	return errors.Wrapf(kv.db.Close(), "failed to close kv namespace %v", kv.name)
}
