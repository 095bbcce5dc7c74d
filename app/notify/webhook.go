package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	log "github.com/go-pkgz/lgr"
	ntf "github.com/go-pkgz/notify"

	"github.com/umputun/pubd/app/store"
)

// webhookDefaultTemplate posts the complete event as json
const webhookDefaultTemplate = `{{.JSON}}`

// WebhookParams contain settings for webhook destination
type WebhookParams struct {
	URL      string
	Template string        // payload template, receives webhookPayload
	Headers  []string      // headers in "Header:Value" form
	Timeout  time.Duration // http timeout
}

// Webhook implements notify.Destination for a generic webhook, posting
// the event payload to the configured url. Used to kick site rebuilds.
type Webhook struct {
	*ntf.Webhook

	url      string
	template *template.Template
}

// webhookPayload is the data exposed to the webhook template
type webhookPayload struct {
	Title    string
	Text     string
	File     string
	Location string
	JSON     string // full event serialized to json
}

// NewWebhook makes webhook destination
func NewWebhook(params WebhookParams) (*Webhook, error) {
	res := &Webhook{
		Webhook: ntf.NewWebhook(ntf.WebhookParams{
			Timeout: params.Timeout,
			Headers: params.Headers,
		}),
		url: params.URL,
	}

	if res.url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	if params.Template == "" {
		params.Template = webhookDefaultTemplate
	}

	payloadTmpl, err := template.New("webhook").Parse(params.Template)
	if err != nil {
		return nil, fmt.Errorf("unable to parse webhook template: %w", err)
	}
	res.template = payloadTmpl

	log.Printf("[DEBUG] create new webhook destination for %s", res.url)
	return res, nil
}

// Send makes the payload from the request and posts it to the webhook url
func (w *Webhook) Send(ctx context.Context, req Request) error {
	log.Printf("[DEBUG] send webhook notification, %s", req.summary())
	payload, err := w.makePayload(req)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	if err := w.template.Execute(&body, payload); err != nil {
		return fmt.Errorf("unable to compile webhook template: %w", err)
	}

	return w.Webhook.Send(ctx, w.url, body.String())
}

func (w *Webhook) makePayload(req Request) (webhookPayload, error) {
	event := struct {
		Entry    *store.Entry `json:"entry,omitempty"`
		File     string       `json:"file,omitempty"`
		Location string       `json:"location,omitempty"`
	}{Entry: req.Entry, File: req.MediaFile, Location: req.MediaLocation}

	b, err := json.Marshal(event)
	if err != nil {
		return webhookPayload{}, fmt.Errorf("unable to encode webhook event: %w", err)
	}

	res := webhookPayload{File: req.MediaFile, Location: req.MediaLocation, JSON: string(b)}
	if req.Entry != nil {
		res.Title = req.Entry.Name
		res.Text = req.Entry.Content
	}
	return res, nil
}

// String describes the webhook instance
func (w *Webhook) String() string {
	return fmt.Sprintf("%s to %s", w.Webhook.String(), w.url)
}
