package media

import (
	"fmt"
	"hash/crc64"
	"io"
	"math"
	"os"
	"path"
	"strconv"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
)

// FileSystem provides media Store on local files. Saves and loads files from Location,
// restricts max size. Files partitioned across subdirectories to avoid too many files
// in a single place, the partition picked by the id's crc.
type FileSystem struct {
	Location   string
	MaxSize    int
	Partitions int

	crc struct {
		*crc64.Table
		sync.Once
		mask    string
		divider uint64
	}
}

// Save data from a reader to the partitioned location. Returns the generated id,
// the original file name only contributes its extension.
func (f *FileSystem) Save(fileName string, r io.Reader) (id string, err error) {
	data, err := readAndValidate(r, f.MaxSize)
	if err != nil {
		return "", errors.Wrapf(err, "can't save media file %s", fileName)
	}

	id = makeID(fileName)
	dst := f.location(id)

	if err = os.MkdirAll(path.Dir(dst), 0o700); err != nil {
		return "", errors.Wrap(err, "can't make media directory")
	}
	if err = os.WriteFile(dst, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "can't write media file %s", dst)
	}

	log.Printf("[DEBUG] media file %s saved for %s, size=%d", dst, fileName, len(data))
	return id, nil
}

// Load media file from the partitioned location. Uses id to get the partition
// subdirectory. Returns ReadCloser and caller should call close after processing completed.
func (f *FileSystem) Load(id string) (io.ReadCloser, int64, error) {
	if err := checkID(id); err != nil {
		return nil, 0, err
	}

	file := f.location(id)
	st, err := os.Stat(file)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "can't get media file info for %s", id)
	}
	fh, err := os.Open(file) //nolint:gosec // file path built from the validated id
	if err != nil {
		return nil, 0, errors.Wrapf(err, "can't load media file %s", id)
	}
	return fh, st.Size(), nil
}

// location gets full path for id by adding partition to the final path in order
// to keep files in different subdirectories. Number of partitions defined by
// FileSystem.Partitions, 0 puts everything in a flat directory.
func (f *FileSystem) location(id string) string {
	if f.Partitions == 0 {
		return path.Join(f.Location, id)
	}

	partition := func(id string) string {
		f.crc.Do(func() {
			f.crc.Table = crc64.MakeTable(crc64.ECMA)
			p := int(math.Round(math.Log10(float64(f.Partitions))))
			f.crc.mask = "%0" + strconv.Itoa(p) + "d"
			f.crc.divider = uint64(math.Pow(10, float64(p)))
		})
		checksum64 := crc64.Checksum([]byte(id), f.crc.Table)
		return fmt.Sprintf(f.crc.mask, checksum64%f.crc.divider)
	}

	return path.Join(f.Location, partition(id), id)
}
