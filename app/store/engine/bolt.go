package engine

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/umputun/pubd/app/store"
)

// BoltDB implements engine.Interface with embedded boltdb, all records in a single
// top-level authorizations bucket, client key to json-encoded record. Thread safe.
type BoltDB struct {
	fileName string
	db       *bolt.DB
}

const authBucketName = "authorizations"

// NewBoltDB makes persistent boltdb-based engine, creates the db file and the top-level bucket
func NewBoltDB(fileName string, options bolt.Options) (*BoltDB, error) {
	log.Printf("[INFO] bolt store %s, options %+v", fileName, options)
	if err := os.MkdirAll(filepath.Dir(fileName), 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to make directory for %s", fileName)
	}
	db, err := bolt.Open(fileName, 0o600, &options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to make boltdb for %s", fileName)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(authBucketName))
		return errors.Wrapf(e, "failed to create top level bucket %s", authBucketName)
	})
	if err != nil {
		return nil, err
	}
	return &BoltDB{fileName: fileName, db: db}, nil
}

// Get loads the record for the given key
func (b *BoltDB) Get(key string) (store.AuthRecord, error) {
	rec := store.AuthRecord{}
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(authBucketName)).Get([]byte(key))
		if data == nil {
			return errors.Wrapf(store.ErrUnknownClient, "no record for %q", key)
		}
		return errors.Wrapf(json.Unmarshal(data, &rec), "can't decode record for %q", key)
	})
	return rec, err
}

// Put saves the record for the given key, overwriting the previous one
func (b *BoltDB) Put(key string, rec store.AuthRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "can't encode record for %q", key)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(authBucketName)).Put([]byte(key), data)
	})
	return errors.Wrapf(err, "failed to save record for %q", key)
}

// Exists checks if a record stored for the given key
func (b *BoltDB) Exists(key string) (exists bool, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(authBucketName)).Get([]byte(key)) != nil
		return nil
	})
	return exists, errors.Wrapf(err, "failed to check record for %q", key)
}

// List returns all stored records, skipping the ones failing to decode
func (b *BoltDB) List() (res []store.AuthRecord, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(authBucketName)).ForEach(func(k, v []byte) error {
			rec := store.AuthRecord{}
			if e := json.Unmarshal(v, &rec); e != nil {
				log.Printf("[WARN] skip broken record %s, %v", string(k), e)
				return nil
			}
			res = append(res, rec)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	return res, nil
}

// Close boltdb store
func (b *BoltDB) Close() error {
	return errors.Wrapf(b.db.Close(), "can't close %s", b.fileName)
}
