package service

import (
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-pkgz/lcw"
	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
)

// ClientInfo gets the application name from a client page, cached. Micropub clients
// usually publish an h-app card on the client_id page, the html title works as a
// fallback. Used for log lines only, any failure degrades to the bare url.
type ClientInfo struct {
	client http.Client
	cache  lcw.LoadingCache
}

// NewClientInfo makes extractor with an expirable cache. If cache failed, switching to no-cache
func NewClientInfo(client http.Client, ttl time.Duration) *ClientInfo {
	res := ClientInfo{client: client}
	var err error
	res.cache, err = lcw.NewExpirableCache(lcw.MaxKeys(100), lcw.TTL(ttl))
	if err != nil {
		log.Printf("[WARN] failed to make client info cache, %v", err)
		res.cache = &lcw.Nop{}
	}
	return &res
}

// Name returns the client application name from its page
func (c *ClientInfo) Name(clientURL string) string {
	name, err := c.cache.Get(clientURL, func() (interface{}, error) {
		resp, err := c.client.Get(clientURL)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load client page %s", clientURL)
		}
		defer resp.Body.Close() //nolint
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("can't load client page %s, code %d", clientURL, resp.StatusCode)
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse client page %s", clientURL)
		}
		if appName := strings.TrimSpace(doc.Find(".h-app .p-name").First().Text()); appName != "" {
			return appName, nil
		}
		if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
			return title, nil
		}
		return nil, errors.Errorf("no name found on client page %s", clientURL)
	})

	if err != nil {
		log.Printf("[DEBUG] can't get client name for %s, %v", clientURL, err)
		return clientURL
	}
	return name.(string)
}
