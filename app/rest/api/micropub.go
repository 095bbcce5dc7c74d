package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	R "github.com/go-pkgz/rest"
	"github.com/pkg/errors"

	"github.com/umputun/pubd/app/notify"
	"github.com/umputun/pubd/app/rest"
	"github.com/umputun/pubd/app/store"
)

// configCtrl handles GET /micropub - endpoint discovery. Only the content query
// is answered, pointing the client at the media endpoint. Anything else gets
// an empty 200 body.
func (s *Rest) configCtrl(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("q") != "content" {
		w.WriteHeader(http.StatusOK)
		return
	}
	render.JSON(w, r, R.JSON{"media-endpoint": s.PubURL + "/micropub/media"})
}

// postCtrl handles POST /micropub - accepts an h=entry post, sanitizes it and
// hands it off to the posts store
func (s *Rest) postCtrl(w http.ResponseWriter, r *http.Request) {
	entry, err := parseEntry(r)
	if err != nil {
		if errors.Is(err, store.ErrUnsupportedHProperty) {
			rest.SendErrorJSON(w, r, http.StatusBadRequest, err, "unsupported entry type", rest.ErrUnsupportedEntry)
			return
		}
		rest.SendErrorJSON(w, r, http.StatusBadRequest, err, "can't parse entry", rest.ErrDecode)
		return
	}

	entry.Sanitize()
	if entry.Published.IsZero() {
		entry.Published = time.Now()
	}

	if err := s.PostsStore.Save(entry); err != nil {
		rest.SendErrorJSON(w, r, http.StatusInternalServerError, err, "can't save entry", rest.ErrPostRejected)
		return
	}

	log.Printf("[INFO] accepted entry %q", entry.Snippet(50))
	s.Notifier.Submit(notify.Request{Entry: &entry})
	w.WriteHeader(http.StatusCreated)
}

// parseEntry gets the h-entry from the request body, json or form encoded
func parseEntry(r *http.Request) (store.Entry, error) {
	ct := r.Header.Get("Content-Type")

	if strings.Contains(ct, "application/json") {
		return store.EntryFromJSON(r.Body)
	}

	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAuthFormMemory); err != nil {
			return store.Entry{}, errors.Wrap(err, "can't parse multipart form")
		}
		return store.EntryFromForm(r.PostForm)
	}

	if err := r.ParseForm(); err != nil {
		return store.Entry{}, errors.Wrap(err, "can't parse form")
	}
	return store.EntryFromForm(r.PostForm)
}

// uploadMediaCtrl handles POST /micropub/media - stores the uploaded "file" part
// and responds 201 with the location it was stored under
func (s *Rest) uploadMediaCtrl(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		rest.SendErrorJSON(w, r, http.StatusBadRequest, err, "can't get uploaded file", rest.ErrDecode)
		return
	}
	defer func() {
		if e := file.Close(); e != nil {
			log.Printf("[WARN] can't close uploaded file, %s", e)
		}
	}()

	id, err := s.MediaStore.Save(header.Filename, file)
	if err != nil {
		rest.SendErrorJSON(w, r, http.StatusInternalServerError, err, "can't save media file", rest.ErrMediaRejected)
		return
	}

	location := s.PubURL + "/micropub/media/" + id
	log.Printf("[INFO] stored media file %q as %s", header.Filename, id)
	s.Notifier.Submit(notify.Request{MediaFile: header.Filename, MediaLocation: location})

	w.Header().Set("Location", location)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, R.JSON{"Location": location})
}

// serveMediaCtrl handles GET /micropub/media/{id} - sends a previously stored file back
func (s *Rest) serveMediaCtrl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fh, size, err := s.MediaStore.Load(id)
	if err != nil {
		rest.SendErrorJSON(w, r, http.StatusNotFound, err, "can't load media file", rest.ErrAssetNotFound)
		return
	}
	defer func() {
		if e := fh.Close(); e != nil {
			log.Printf("[WARN] can't close media file %s, %s", id, e)
		}
	}()

	ctype := mime.TypeByExtension(filepath.Ext(id))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(w, fh); err != nil {
		log.Printf("[WARN] can't send media file %s, %s", id, err)
	}
}
