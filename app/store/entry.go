package store

import (
	"encoding/json"
	"html/template"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
)

const snippetLen = 100

// Entry is a micropub h-entry accepted by the posting endpoint. Only the "entry"
// type is supported, anything else fails with ErrUnsupportedHProperty at parse time.
type Entry struct {
	Name       string    `json:"name,omitempty"`
	Content    string    `json:"content,omitempty"`
	Categories []string  `json:"categories,omitempty"`
	Photos     []string  `json:"photos,omitempty"`
	Slug       string    `json:"slug,omitempty"`
	Published  time.Time `json:"published"`
}

// EntryFromForm makes Entry from url-encoded form values, the classic micropub encoding.
// Both repeated keys and the php-style key[] convention are accepted for list properties.
func EntryFromForm(form url.Values) (Entry, error) {
	if h := form.Get("h"); h != "entry" {
		return Entry{}, errors.Wrapf(ErrUnsupportedHProperty, "h=%q", h)
	}
	entry := Entry{
		Name:       form.Get("name"),
		Content:    form.Get("content"),
		Categories: formList(form, "category"),
		Photos:     formList(form, "photo"),
		Slug:       form.Get("mp-slug"),
	}
	if published := form.Get("published"); published != "" {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			entry.Published = ts
		}
	}
	return entry, nil
}

// EntryFromJSON makes Entry from a json micropub payload,
// i.e. {"type": ["h-entry"], "properties": {"content": ["hello"]}}
func EntryFromJSON(r io.Reader) (Entry, error) {
	payload := struct {
		Type       []string                 `json:"type"`
		Properties map[string][]interface{} `json:"properties"`
	}{}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return Entry{}, errors.Wrap(err, "can't decode entry")
	}

	hType := ""
	if len(payload.Type) > 0 {
		hType = strings.TrimPrefix(payload.Type[0], "h-")
	}
	if hType != "entry" {
		return Entry{}, errors.Wrapf(ErrUnsupportedHProperty, "h=%q", hType)
	}

	entry := Entry{
		Name:       propFirst(payload.Properties, "name"),
		Content:    propFirst(payload.Properties, "content"),
		Categories: propAll(payload.Properties, "category"),
		Photos:     propAll(payload.Properties, "photo"),
		Slug:       propFirst(payload.Properties, "mp-slug"),
	}
	if published := propFirst(payload.Properties, "published"); published != "" {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			entry.Published = ts
		}
	}
	return entry, nil
}

// Sanitize cleans dangerous html from the entry fields
func (e *Entry) Sanitize() {
	p := bluemonday.UGCPolicy()
	e.Content = p.Sanitize(e.Content)
	e.Name = template.HTMLEscapeString(e.Name)
	e.Slug = template.HTMLEscapeString(e.Slug)
	for i, c := range e.Categories {
		e.Categories[i] = template.HTMLEscapeString(c)
	}
}

// Snippet from the entry content, name used if content is empty
func (e *Entry) Snippet(limit int) string {
	if limit <= 0 {
		limit = snippetLen
	}
	text := e.Content
	if text == "" {
		text = e.Name
	}
	cleanText := strings.ReplaceAll(text, "\n", " ")
	size := len([]rune(cleanText))
	if size < limit {
		return cleanText
	}
	snippet := []rune(cleanText)[:limit]
	// go back in snippet and find the first space
	for i := len(snippet) - 1; i >= 0; i-- {
		if snippet[i] == ' ' {
			snippet = snippet[:i]
			break
		}
	}
	return string(snippet) + " ..."
}

// formList collects values for both the repeated key and the key[] convention
func formList(form url.Values, key string) []string {
	res := append([]string{}, form[key]...)
	res = append(res, form[key+"[]"]...)
	if len(res) == 0 {
		return nil
	}
	return res
}

// propFirst returns the first string value of a json micropub property. Content may
// arrive as an object with html or value keys, both accepted.
func propFirst(props map[string][]interface{}, key string) string {
	for _, v := range props[key] {
		switch val := v.(type) {
		case string:
			return val
		case map[string]interface{}:
			if s, ok := val["html"].(string); ok {
				return s
			}
			if s, ok := val["value"].(string); ok {
				return s
			}
		}
	}
	return ""
}

// propAll returns all plain string values of a json micropub property
func propAll(props map[string][]interface{}, key string) []string {
	var res []string
	for _, v := range props[key] {
		if s, ok := v.(string); ok {
			res = append(res, s)
		}
	}
	return res
}
