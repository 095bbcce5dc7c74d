package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// BackupCommand set of flags and command for authorization records export.
// Path used as a separate element to leverage BACKUP_PATH. If File has a path (i.e. with /) Path ignored.
type BackupCommand struct {
	Store StoreGroup `group:"store" namespace:"store" env-namespace:"STORE"`

	Path string `short:"p" long:"path" env:"BACKUP_PATH" default:"./var/backup" description:"export path"`
	File string `short:"f" long:"file" env:"BACKUP_FILE" default:"authbackup-{{.TS}}.jsonl" description:"file name"`

	CommonOpts
}

// Execute dumps all authorization records to a file as json lines, entry point for "backup" command.
// Records failing to encode are skipped, all such failures aggregated into the returned error.
func (b *BackupCommand) Execute(_ []string) error {
	resetEnv("STORE_REDIS_PASSWORD")

	fp := fileParser{path: b.Path, file: b.File}
	fname, err := fp.parse(time.Now())
	if err != nil {
		return err
	}
	log.Printf("[INFO] export authorization records to %s", fname)

	if err = makeDirs(filepath.Dir(fname)); err != nil {
		return err
	}

	eng, err := b.Store.makeEngine()
	if err != nil {
		return errors.Wrap(err, "failed to make authorization store engine")
	}
	defer func() {
		if e := eng.Close(); e != nil {
			log.Printf("[WARN] failed to close engine, %s", e)
		}
	}()

	records, err := eng.List()
	if err != nil {
		return errors.Wrap(err, "failed to list authorization records")
	}

	fh, err := os.Create(fname) //nolint:gosec // the name comes from the operator
	if err != nil {
		return errors.Wrapf(err, "can't create backup file %s", fname)
	}

	var result error
	enc := json.NewEncoder(fh)
	exported := 0
	for _, rec := range records {
		if e := enc.Encode(rec); e != nil {
			result = multierror.Append(result, errors.Wrapf(e, "can't encode record for %s", rec.ClientID))
			continue
		}
		exported++
	}
	if e := fh.Close(); e != nil {
		result = multierror.Append(result, errors.Wrapf(e, "can't close backup file %s", fname))
	}

	log.Printf("[INFO] exported %d records", exported)
	return result
}
