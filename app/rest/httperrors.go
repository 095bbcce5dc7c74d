package rest

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
)

const (
	ErrInternal         = 0 // any internal error
	ErrDecode           = 1 // failed to unmarshal incoming request
	ErrInvalidClient    = 2 // client_id can't be resolved to a client key
	ErrUnknownClient    = 3 // no authorization record for the client
	ErrInvalidAuthCode  = 4 // presented code doesn't match the issued one
	ErrNoAccess         = 5 // rejected by token check
	ErrUnsupportedEntry = 6 // post type other than h=entry
	ErrMediaRejected    = 7 // media upload failed
	ErrPostRejected     = 8 // entry can't be stored
	ErrAssetNotFound    = 9 // requested file not found
)

// SendErrorJSON makes {error: blah, details: blah} json body and responds with error code
func SendErrorJSON(w http.ResponseWriter, r *http.Request, httpStatusCode int, err error, details string, errCode int) {
	log.Printf("[DEBUG] %s", errDetailsMsg(r, httpStatusCode, err, details, errCode))
	render.Status(r, httpStatusCode)
	render.JSON(w, r, rest.JSON{"error": err.Error(), "details": details, "code": errCode})
}

func errDetailsMsg(r *http.Request, httpStatusCode int, err error, details string, errCode int) string {
	q := r.URL.String()
	if qun, e := url.QueryUnescape(q); e == nil {
		q = qun
	}

	srcFileInfo := ""
	if pc, file, line, ok := runtime.Caller(2); ok {
		fnameElems := strings.Split(file, "/")
		funcNameElems := strings.Split(runtime.FuncForPC(pc).Name(), "/")
		srcFileInfo = fmt.Sprintf(" [caused by %s:%d %s]", strings.Join(fnameElems[len(fnameElems)-3:], "/"),
			line, funcNameElems[len(funcNameElems)-1])
	}

	remoteIP := r.RemoteAddr
	if pos := strings.Index(remoteIP, ":"); pos >= 0 {
		remoteIP = remoteIP[:pos]
	}
	return fmt.Sprintf("%s - %v - %d (%d) - %s - %s%s",
		details, err, httpStatusCode, errCode, remoteIP, q, srcFileInfo)
}
