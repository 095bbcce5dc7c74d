package media

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Bolt provides media Store with embedded boltdb, file bytes in the media bucket
// and a small json meta (name, size, timestamp) in the meta bucket.
type Bolt struct {
	fileName string
	db       *bolt.DB
	MaxSize  int
}

const mediaBktName = "media"
const metaBktName = "meta"

type boltMeta struct {
	Name string    `json:"name"`
	Size int       `json:"size"`
	TS   time.Time `json:"ts"`
}

// NewBoltStorage makes boltdb-based media store
func NewBoltStorage(fileName string, maxSize int, options bolt.Options) (*Bolt, error) {
	db, err := bolt.Open(fileName, 0o600, &options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to make boltdb for %s", fileName)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists([]byte(mediaBktName)); e != nil {
			return errors.Wrapf(e, "failed to create top level bucket %s", mediaBktName)
		}
		if _, e := tx.CreateBucketIfNotExists([]byte(metaBktName)); e != nil {
			return errors.Wrapf(e, "failed to create top level bucket %s", metaBktName)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize boltdb %q buckets", fileName)
	}
	return &Bolt{db: db, fileName: fileName, MaxSize: maxSize}, nil
}

// Save reads the file content and puts it to the media bucket under a fresh id
func (b *Bolt) Save(fileName string, r io.Reader) (id string, err error) {
	data, err := readAndValidate(r, b.MaxSize)
	if err != nil {
		return "", errors.Wrapf(err, "can't save media file %s", fileName)
	}

	id = makeID(fileName)
	meta, err := json.Marshal(boltMeta{Name: fileName, Size: len(data), TS: time.Now()})
	if err != nil {
		return "", errors.Wrap(err, "can't encode media meta")
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket([]byte(mediaBktName)).Put([]byte(id), data); e != nil {
			return errors.Wrapf(e, "can't put media file %s", id)
		}
		if e := tx.Bucket([]byte(metaBktName)).Put([]byte(id), meta); e != nil {
			return errors.Wrapf(e, "can't put media meta %s", id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[DEBUG] media file %s saved as %s, size=%d", fileName, id, len(data))
	return id, nil
}

// Load media file from boltdb
func (b *Bolt) Load(id string) (io.ReadCloser, int64, error) {
	if err := checkID(id); err != nil {
		return nil, 0, err
	}

	buf := &bytes.Buffer{}
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(mediaBktName)).Get([]byte(id))
		if data == nil {
			return errors.Errorf("can't load media file %s", id)
		}
		_, e := buf.Write(data)
		return errors.Wrapf(e, "failed to copy media file %s", id)
	})
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(buf), int64(buf.Len()), nil
}
