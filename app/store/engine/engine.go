// Package engine defines the key-value storage each supported backend should implement
// to keep authorization records. Local files, boltdb and redis engines provided.
package engine

import (
	"github.com/umputun/pubd/app/store"
)

// Interface defines methods provided by low-level storage engine.
// Records are keyed by the resolved client key (host).
type Interface interface {
	Get(key string) (store.AuthRecord, error)   // get record by client key, store.ErrUnknownClient if absent
	Put(key string, rec store.AuthRecord) error // create or fully overwrite record
	Exists(key string) (bool, error)            // check if a record exists for the key
	List() ([]store.AuthRecord, error)          // all records, best-effort, broken records skipped
	Close() error                               // close/stop engine
}
