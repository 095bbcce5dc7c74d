// Package store defines domain types for the micropub authorization flow:
// client key resolution, per-client authorization records and issued tokens.
package store

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// authorization flow errors, matched with errors.Is up the stack
var (
	ErrInvalidClient        = errors.New("invalid client")
	ErrUnknownClient        = errors.New("unknown client")
	ErrInvalidAuthCode      = errors.New("invalid auth code")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrUnsupportedHProperty = errors.New("unsupported h property")
)

// Token is an issued access token with its mint time
type Token struct {
	Value    string    `json:"value"`
	IssuedAt time.Time `json:"issued_at"`
}

// AuthRecord keeps the authorization state of a single client, one record per client key.
// AuthCode is set once when the first authorization request arrives and stays stable,
// AuthToken is set on a successful exchange and overwritten by any later exchange.
type AuthRecord struct {
	ClientID  string `json:"client_id"`
	AuthCode  string `json:"auth_code"`
	AuthToken *Token `json:"auth_token,omitempty"`
}

// HasToken returns true if a token was issued for this record
func (r AuthRecord) HasToken() bool {
	return r.AuthToken != nil && r.AuthToken.Value != ""
}

// TokenReply is the result of a successful token exchange, response-only and never persisted
type TokenReply struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope,omitempty"`
	Me          string `json:"me"`
}

// ClientKey resolves a client identifier url to the stable key used for storage lookups.
// The key is the url's host and doubles as the externally visible client id.
func ClientKey(identifier string) (string, error) {
	if identifier == "" {
		return "", errors.Wrap(ErrInvalidClient, "empty client identifier")
	}
	u, err := url.Parse(identifier)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidClient, "can't parse client identifier %q", identifier)
	}
	if u.Host == "" {
		return "", errors.Wrapf(ErrInvalidClient, "no host in client identifier %q", identifier)
	}
	return u.Host, nil
}
