package api

import (
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/pubd/app/rest"
	"github.com/umputun/pubd/app/store"
)

// credSource defines where the bearer credential was found in the request
type credSource int

const (
	credNone credSource = iota
	credHeader
	credBody
)

func (c credSource) String() string {
	switch c {
	case credHeader:
		return "header"
	case credBody:
		return "body"
	}
	return "none"
}

const maxAuthFormMemory = 32 << 20

// extractCredential gets the access token from the Authorization header first,
// falling back to the access_token form field. The token is the last
// whitespace-separated element of the header, i.e. "Bearer xyz" gives xyz.
func extractCredential(r *http.Request) (string, credSource) {
	if h := r.Header.Get("Authorization"); h != "" {
		elems := strings.Fields(h)
		if len(elems) > 0 {
			return elems[len(elems)-1], credHeader
		}
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxAuthFormMemory); err != nil {
			return "", credNone
		}
	} else if err := r.ParseForm(); err != nil {
		return "", credNone
	}

	if token := r.PostForm.Get("access_token"); token != "" {
		return token, credBody
	}
	return "", credNone
}

// tokenAuth rejects requests not carrying a token issued to some authorized client.
// Parsed form data stays attached to the request for the downstream handlers.
func (s *Rest) tokenAuth(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		credential, source := extractCredential(r)
		if source == credNone {
			rest.SendErrorJSON(w, r, http.StatusUnauthorized, store.ErrAuthFailed, "no access token presented", rest.ErrNoAccess)
			return
		}

		ok, err := s.DataService.Authenticate(credential)
		if err != nil {
			rest.SendErrorJSON(w, r, http.StatusInternalServerError, err, "can't check access token", rest.ErrInternal)
			return
		}
		if !ok {
			log.Printf("[WARN] rejected access token from %s", source)
			rest.SendErrorJSON(w, r, http.StatusUnauthorized, store.ErrAuthFailed, "invalid access token", rest.ErrNoAccess)
			return
		}

		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
