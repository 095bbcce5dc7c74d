// Package service wraps the storage engine with the authorization flow logic:
// issuing auth codes, exchanging them for access tokens and authenticating
// bearer credentials against all issued tokens.
package service

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"

	"github.com/umputun/pubd/app/store"
	"github.com/umputun/pubd/app/store/engine"
)

// AuthStore provides the authorization operations on top of any engine.Interface.
// No in-memory state, every request goes to the engine. A race between two exchanges
// for the same client can lose one update, accepted - legitimate exchange traffic
// per client is a single browser flow.
type AuthStore struct {
	Engine engine.Interface
}

// opaque secrets (auth codes and access tokens), crypto-random, url-safe
const secretSize = 32

// Authorize creates or reuses the auth code for the client and returns the redirect
// url with code and state appended. Repeated authorization requests for the same
// client return the same code. A redirect target failing to parse yields an empty
// url with no error, the caller turns it into an empty response.
func (s *AuthStore) Authorize(clientID, redirectURI, scope, state string) (string, error) {
	key, err := store.ClientKey(clientID)
	if err != nil {
		return "", err
	}

	exists, err := s.Engine.Exists(key)
	if err != nil {
		return "", errors.Wrapf(err, "failed to check authorization for %s", key)
	}

	var rec store.AuthRecord
	if exists {
		if rec, err = s.Engine.Get(key); err != nil {
			return "", errors.Wrapf(err, "failed to load authorization for %s", key)
		}
	} else {
		code, e := randomSecret()
		if e != nil {
			return "", errors.Wrap(e, "failed to make auth code")
		}
		rec = store.AuthRecord{ClientID: key, AuthCode: code}
		if err = s.Engine.Put(key, rec); err != nil {
			return "", errors.Wrapf(err, "failed to save authorization for %s", key)
		}
		log.Printf("[INFO] new authorization for client %s, scope %q", key, scope)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		log.Printf("[WARN] malformed redirect %q from client %s", redirectURI, key)
		return "", nil
	}
	q := u.Query()
	q.Set("code", rec.AuthCode)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange validates the presented code against the stored record and mints an access
// token. The token overwrites any previously issued one, a client holds at most one
// active token. Returns the reply with the token, requested scope and me as presented.
func (s *AuthStore) Exchange(clientID, code, scope, me string) (store.TokenReply, error) {
	key, err := store.ClientKey(clientID)
	if err != nil {
		return store.TokenReply{}, err
	}

	rec, err := s.Engine.Get(key)
	if err != nil {
		return store.TokenReply{}, errors.Wrapf(err, "failed to load authorization for %s", key)
	}

	if code == "" || rec.AuthCode != code {
		return store.TokenReply{}, errors.Wrapf(store.ErrInvalidAuthCode, "code mismatch for client %s", key)
	}

	value, err := randomSecret()
	if err != nil {
		return store.TokenReply{}, errors.Wrap(err, "failed to make access token")
	}
	rec.AuthToken = &store.Token{Value: value, IssuedAt: time.Now()}
	if err = s.Engine.Put(key, rec); err != nil {
		return store.TokenReply{}, errors.Wrapf(err, "failed to save token for %s", key)
	}

	log.Printf("[INFO] token issued for client %s, scope %q", key, scope)
	return store.TokenReply{AccessToken: value, Scope: scope, Me: me}, nil
}

// Authenticate checks the presented credential against every issued token.
// Read-only scan of all records, the cost is fine for a personal deployment.
func (s *AuthStore) Authenticate(credential string) (bool, error) {
	if credential == "" {
		return false, nil
	}
	recs, err := s.Engine.List()
	if err != nil {
		return false, errors.Wrap(err, "failed to list authorizations")
	}
	for _, rec := range recs {
		if rec.HasToken() && rec.AuthToken.Value == credential {
			return true, nil
		}
	}
	return false, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read random")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
