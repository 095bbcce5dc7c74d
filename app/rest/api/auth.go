package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/umputun/pubd/app/rest"
	"github.com/umputun/pubd/app/store"
)

// authCtrl handles GET /auth - the authorization step of the flow. Makes or reuses
// the auth code for the client and redirects back with code and state attached.
// An unparsable redirect_uri degrades to an empty 200 response.
func (s *Rest) authCtrl(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	clientID := query.Get("client_id")

	redirect, err := s.DataService.Authorize(clientID, query.Get("redirect_uri"), query.Get("scope"), query.Get("state"))
	if err != nil {
		rest.SendErrorJSON(w, r, http.StatusBadRequest, err, "can't authorize client", rest.ErrInvalidClient)
		return
	}

	if redirect == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	name := clientID
	if s.ClientInfo != nil {
		name = s.ClientInfo.Name(clientID)
	}
	log.Printf("[INFO] authorization code issued for %q", name)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// tokenRequest is the exchange input, accepted as json body or form fields
type tokenRequest struct {
	ClientID string `json:"client_id"`
	Code     string `json:"code"`
	Me       string `json:"me"`
	Scope    string `json:"scope"`
}

// responseEncoding defines how the token reply is written back, picked from
// the content type the client declared on its request
type responseEncoding int

const (
	encodingJSON responseEncoding = iota
	encodingFormData
)

func requestedEncoding(r *http.Request) responseEncoding {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return encodingJSON
	}
	return encodingFormData
}

// tokenCtrl handles POST /token - exchanges an authorization code for an access token.
// The reply mirrors the request encoding, json in json out, anything else gets
// a multipart/form-data body.
func (s *Rest) tokenCtrl(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		rest.SendErrorJSON(w, r, http.StatusBadRequest, err, "can't parse token request", rest.ErrDecode)
		return
	}

	reply, err := s.DataService.Exchange(req.ClientID, req.Code, req.Scope, req.Me)
	if err != nil {
		status, code := tokenErrToHTTP(err)
		rest.SendErrorJSON(w, r, status, err, "can't exchange code for token", code)
		return
	}

	switch requestedEncoding(r) {
	case encodingJSON:
		render.JSON(w, r, reply)
	case encodingFormData:
		if err := writeFormData(w, reply); err != nil {
			rest.SendErrorJSON(w, r, http.StatusInternalServerError, err, "can't encode token reply", rest.ErrInternal)
		}
	}
}

func parseTokenRequest(r *http.Request) (tokenRequest, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		res := tokenRequest{}
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			return tokenRequest{}, errors.Wrap(err, "can't decode json body")
		}
		return res, nil
	}

	if err := r.ParseForm(); err != nil {
		return tokenRequest{}, errors.Wrap(err, "can't parse form")
	}
	return tokenRequest{
		ClientID: r.Form.Get("client_id"),
		Code:     r.Form.Get("code"),
		Me:       r.Form.Get("me"),
		Scope:    r.Form.Get("scope"),
	}, nil
}

// tokenErrToHTTP maps exchange failures to http statuses. Client resolution and
// missing records read as bad request, a code mismatch as forbidden.
func tokenErrToHTTP(err error) (status, code int) {
	switch {
	case errors.Is(err, store.ErrInvalidClient):
		return http.StatusBadRequest, rest.ErrInvalidClient
	case errors.Is(err, store.ErrUnknownClient):
		return http.StatusBadRequest, rest.ErrUnknownClient
	case errors.Is(err, store.ErrInvalidAuthCode):
		return http.StatusForbidden, rest.ErrInvalidAuthCode
	default:
		return http.StatusInternalServerError, rest.ErrInternal
	}
}

// writeFormData encodes the token reply as a multipart/form-data body with
// access_token, scope and me fields
func writeFormData(w http.ResponseWriter, reply store.TokenReply) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := []struct{ key, value string }{
		{"access_token", reply.AccessToken},
		{"scope", reply.Scope},
		{"me", reply.Me},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.key, f.value); err != nil {
			return errors.Wrapf(err, "can't write %s field", f.key)
		}
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "can't finalize form data")
	}

	w.Header().Set("Content-Type", mw.FormDataContentType())
	_, err := w.Write(body.Bytes())
	return errors.Wrap(err, "can't write response")
}
