package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/umputun/pubd/app/store"
)

// LocalFS implements engine.Interface with a file per client, named by the client key,
// under the authorizations directory. The directory created on the first write.
// Writes go to a temp file in the same directory followed by rename, so a concurrent
// reader never observes a partially written record.
type LocalFS struct {
	location string
}

const authDirName = "authorizations"

// NewLocalFS makes file-based engine with the authorizations directory under location
func NewLocalFS(location string) *LocalFS {
	log.Printf("[INFO] local fs store at %s", filepath.Join(location, authDirName))
	return &LocalFS{location: location}
}

// Get reads and decodes the record for the given key
func (l *LocalFS) Get(key string) (store.AuthRecord, error) {
	rec := store.AuthRecord{}
	if err := checkKey(key); err != nil {
		return rec, err
	}
	data, err := os.ReadFile(l.fileName(key))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, errors.Wrapf(store.ErrUnknownClient, "no record for %q", key)
		}
		return rec, errors.Wrapf(err, "can't read record for %q", key)
	}
	if err = json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "can't decode record for %q", key)
	}
	return rec, nil
}

// Put writes the record for the given key, overwriting the previous one
func (l *LocalFS) Put(key string, rec store.AuthRecord) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir(), 0o700); err != nil {
		return errors.Wrapf(err, "can't make authorizations directory %s", l.dir())
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "can't encode record for %q", key)
	}

	// temp files start with a dot to keep List from picking them up
	tmp, err := os.CreateTemp(l.dir(), "."+key+".*")
	if err != nil {
		return errors.Wrapf(err, "can't make temp file for %q", key)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "can't write record for %q", key)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "can't close temp file for %q", key)
	}
	if err = os.Rename(tmp.Name(), l.fileName(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "can't rename temp file for %q", key)
	}
	return nil
}

// Exists checks if a record stored for the given key
func (l *LocalFS) Exists(key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fileName(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "can't check record for %q", key)
}

// List returns all stored records. Files failing to read or decode are skipped
// with a warning, one broken record should not deny service to all clients.
func (l *LocalFS) List() ([]store.AuthRecord, error) {
	entries, err := os.ReadDir(l.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "can't list authorizations directory %s", l.dir())
	}

	res := []store.AuthRecord{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir(), entry.Name()))
		if err != nil {
			log.Printf("[WARN] can't read record %s, %v", entry.Name(), err)
			continue
		}
		rec := store.AuthRecord{}
		if err = json.Unmarshal(data, &rec); err != nil {
			log.Printf("[WARN] skip broken record %s, %v", entry.Name(), err)
			continue
		}
		res = append(res, rec)
	}
	return res, nil
}

// Close is a noop for file-based engine
func (l *LocalFS) Close() error { return nil }

func (l *LocalFS) dir() string { return filepath.Join(l.location, authDirName) }

func (l *LocalFS) fileName(key string) string { return filepath.Join(l.dir(), key) }

// checkKey rejects keys that can escape the authorizations directory or collide
// with temp files. Keys are host names and never legitimately contain separators.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
		return errors.Errorf("invalid storage key %q", key)
	}
	return nil
}
