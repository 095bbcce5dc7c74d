package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/pubd/app/store"
	"github.com/umputun/pubd/app/store/posts"
)

func TestRest_MicropubConfig(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	body, code := getWithToken(t, ts.URL+"/micropub?q=content", token)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"media-endpoint": "https://pub.example.com/micropub/media"}`, body)

	body, code = getWithToken(t, ts.URL+"/micropub", token)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)

	body, code = getWithToken(t, ts.URL+"/micropub?q=source", token)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)
}

func TestRest_MicropubRejectsAnonymous(t *testing.T) {
	ts, _, teardown := startupT(t)
	defer teardown()

	body, code := get(t, ts.URL+"/micropub?q=content")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, body, "no access token presented")

	body, code = getWithToken(t, ts.URL+"/micropub?q=content", "bad-token")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, body, "invalid access token")

	resp, err := post(t, ts.URL+"/micropub", "", "application/x-www-form-urlencoded", "h=entry&content=anon")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRest_MicropubPostForm(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	form := url.Values{
		"h":          {"entry"},
		"name":       {"First Post"},
		"content":    {"<p>hello <b>world</b></p><script>alert(1)</script>"},
		"category":   {"go"},
		"category[]": {"blog"},
		"mp-slug":    {"first-post"},
	}
	resp, err := post(t, ts.URL+"/micropub", token, "application/x-www-form-urlencoded", form.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	entry := loadSavedEntry(t, srv)
	assert.Equal(t, "First Post", entry.Name)
	assert.Contains(t, entry.Content, "<b>world</b>")
	assert.NotContains(t, entry.Content, "script", "dangerous html dropped")
	assert.Equal(t, []string{"go", "blog"}, entry.Categories)
	assert.Equal(t, "first-post", entry.Slug)
	assert.False(t, entry.Published.IsZero(), "published set on accept")
}

func TestRest_MicropubPostJSON(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	body := `{"type": ["h-entry"], "properties": {"name": ["Json Post"], "content": ["some content"], "category": ["a", "b"]}}`
	resp, err := post(t, ts.URL+"/micropub", token, "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	entry := loadSavedEntry(t, srv)
	assert.Equal(t, "Json Post", entry.Name)
	assert.Equal(t, "some content", entry.Content)
	assert.Equal(t, []string{"a", "b"}, entry.Categories)
}

func TestRest_MicropubPostRejected(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	tbl := []struct {
		contentType string
		body        string
		details     string
	}{
		{"application/x-www-form-urlencoded", "h=event&content=a+party", "unsupported entry type"},
		{"application/x-www-form-urlencoded", "content=no+h+at+all", "unsupported entry type"},
		{"application/json", `{"type": ["h-event"], "properties": {}}`, "unsupported entry type"},
		{"application/json", "not a json", "can't parse entry"},
	}

	for n, tt := range tbl {
		resp, err := post(t, ts.URL+"/micropub", token, tt.contentType, tt.body)
		require.NoError(t, err, "check #%d", n)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "check #%d", n)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "check #%d", n)
		assert.Contains(t, string(b), tt.details, "check #%d", n)
	}
}

func TestRest_MicropubPostBodyToken(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	form := url.Values{
		"h":            {"entry"},
		"content":      {"token in the body"},
		"access_token": {token},
	}
	resp, err := post(t, ts.URL+"/micropub", "", "application/x-www-form-urlencoded", form.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	entry := loadSavedEntry(t, srv)
	assert.Equal(t, "token in the body", entry.Content)
}

func TestRest_MediaUpload(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	ct, payload := multipartFile(t, "pic.png", "fake png content")
	resp, err := post(t, ts.URL+"/micropub/media", token, ct, payload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	reply := struct {
		Location string `json:"Location"`
	}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.True(t, strings.HasPrefix(reply.Location, "https://pub.example.com/micropub/media/"), reply.Location)
	assert.True(t, strings.HasSuffix(reply.Location, ".png"), reply.Location)
	assert.Equal(t, reply.Location, resp.Header.Get("Location"))

	// stored file served back on the public route, no token needed
	id := strings.TrimPrefix(reply.Location, "https://pub.example.com/micropub/media/")
	r, err := http.Get(ts.URL + "/micropub/media/" + id)
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, "fake png content", string(data))
}

func TestRest_MediaNotFound(t *testing.T) {
	ts, _, teardown := startupT(t)
	defer teardown()

	body, code := get(t, ts.URL+"/micropub/media/nothing-here.png")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "can't load media file")
}

func TestRest_MediaUploadRejected(t *testing.T) {
	ts, srv, teardown := startupT(t)
	defer teardown()

	token := issueToken(t, srv, "https://client.example/app")

	// no token
	ct, payload := multipartFile(t, "pic.png", "data")
	resp, err := post(t, ts.URL+"/micropub/media", "", ct, payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// no file part
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("something", "else"))
	require.NoError(t, mw.Close())
	resp, err = post(t, ts.URL+"/micropub/media", token, mw.FormDataContentType(), body.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// over the size limit set in startupT
	ct, payload = multipartFile(t, "big.png", strings.Repeat("x", 20000))
	resp, err = post(t, ts.URL+"/micropub/media", token, ct, payload)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(b), "can't save media file")
}

// loadSavedEntry expects exactly one saved entry in the posts location and reads it back
func loadSavedEntry(t *testing.T, srv *Rest) store.Entry {
	fs, ok := srv.PostsStore.(*posts.FileStore)
	require.True(t, ok)
	files, err := filepath.Glob(filepath.Join(fs.Location, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	entry := store.Entry{}
	require.NoError(t, json.Unmarshal(data, &entry))
	return entry
}

// multipartFile builds a multipart body with a single file part, returns content type and body
func multipartFile(t *testing.T, name, content string) (contentType, body string) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.Copy(fw, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), buf.String()
}
