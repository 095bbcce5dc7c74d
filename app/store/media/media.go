// Package media provides stores for files uploaded to the media endpoint.
// The core only needs Save returning a storage id and Load streaming it back,
// what actually happens to the bytes is up to the implementation.
package media

import (
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Store defines the media persistence interface used by the upload and serve endpoints
type Store interface {
	Save(fileName string, r io.Reader) (id string, err error)
	Load(id string) (io.ReadCloser, int64, error)
}

var reValidExt = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,9}$`)

// guid makes a globally unique id
func guid() string { return xid.New().String() }

// makeID builds the storage id from a fresh guid plus the original file extension,
// the extension dropped if it smells fishy
func makeID(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !reValidExt.MatchString(ext) {
		return guid()
	}
	return guid() + ext
}

// checkID rejects ids that can escape the media location
func checkID(id string) error {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return errors.Errorf("invalid media id %q", id)
	}
	return nil
}

// readAndValidate reads the file content enforcing the size limit and rejecting empty files
func readAndValidate(r io.Reader, maxSize int) ([]byte, error) {
	lr := io.LimitReader(r, int64(maxSize)+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, errors.Wrap(err, "can't read media file")
	}
	if len(data) > maxSize {
		return nil, errors.Errorf("media file size %d exceeds allowed %d", len(data), maxSize)
	}
	if len(data) == 0 {
		return nil, errors.New("empty media file")
	}
	return data, nil
}
