// Package posts keeps accepted micropub entries. This is the collaborator behind
// the posting endpoint, the endpoint itself only decides if an entry is accepted.
// No rendering here, entries land as plain json files picked up by the blog pipeline.
package posts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/umputun/pubd/app/store"
)

// Store defines the sink for accepted entries
type Store interface {
	Save(entry store.Entry) error
}

// FileStore keeps each accepted entry as an indented json file under Location,
// named <yyyymmdd>-<uuid>.json. Writes go through a temp file plus rename.
type FileStore struct {
	Location string
}

// NewFileStore makes the sink and its directory
func NewFileStore(location string) (*FileStore, error) {
	if err := os.MkdirAll(location, 0o700); err != nil {
		return nil, errors.Wrapf(err, "can't make posts directory %s", location)
	}
	log.Printf("[INFO] posts store at %s", location)
	return &FileStore{Location: location}, nil
}

// Save writes the entry to its own file
func (f *FileStore) Save(entry store.Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return errors.Wrap(err, "can't encode entry")
	}

	name := fmt.Sprintf("%s-%s.json", entry.Published.Format("20060102"), uuid.New().String())
	tmp, err := os.CreateTemp(f.Location, ".entry-*")
	if err != nil {
		return errors.Wrap(err, "can't make temp file for entry")
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "can't write entry")
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "can't close entry file")
	}
	if err = os.Rename(tmp.Name(), filepath.Join(f.Location, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "can't rename entry file to %s", name)
	}

	log.Printf("[INFO] entry saved to %s", name)
	return nil
}
