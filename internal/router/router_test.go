package router

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/db/dbtest"
	"memoria/internal/events"
	"memoria/internal/logging"
	"memoria/internal/services"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	uploads := filepath.Join(t.TempDir(), "uploads")
	store, err := storage.NewLocal(uploads, "/uploads")
	require.NoError(t, err)
	cache, err := utils.NewCountCache(64, time.Minute)
	require.NoError(t, err)
	dispatcher := services.NewDispatcher(events.Nop{}, logging.Discard())
	t.Cleanup(dispatcher.Close)

	svc := services.New(services.Deps{
		DB:      dbtest.New(t),
		Cache:   cache,
		Storage: store,
		Events:  dispatcher,
		Log:     logging.Discard(),
	})
	engine := New(svc, Options{
		SessionSecret: "test-secret-test-secret-test-sec",
		CookieName:    "memoria_session",
		MaxUploadSize: 1 << 20,
		UploadDir:     uploads,
		UploadURL:     "/uploads",
	}, logging.Discard())

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) send(req *http.Request) (int, []byte) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func (c *client) json(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	status, data := c.send(req)

	out := map[string]any{}
	if len(data) > 0 && data[0] == '{' {
		require.NoError(c.t, json.Unmarshal(data, &out))
	}
	return status, out
}

func (c *client) list(path string) []any {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	require.NoError(c.t, err)
	status, data := c.send(req)
	require.Equal(c.t, http.StatusOK, status, string(data))
	var out []any
	require.NoError(c.t, json.Unmarshal(data, &out))
	return out
}

func (c *client) upload(path, field string, file []byte, fields map[string]string) (int, map[string]any) {
	c.t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(c.t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile(field, "upload.bin")
		require.NoError(c.t, err)
		_, err = part.Write(file)
		require.NoError(c.t, err)
	}
	require.NoError(c.t, w.Close())

	req, err := http.NewRequest(http.MethodPost, c.base+path, &body)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	status, data := c.send(req)

	out := map[string]any{}
	require.NoError(c.t, json.Unmarshal(data, &out), string(data))
	return status, out
}

func signUp(t *testing.T, srv *httptest.Server, username string) *client {
	c := newClient(t, srv)
	status, body := c.json(http.MethodPost, "/api/auth/signup", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return c
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	status, body := newClient(t, srv).json(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthFlow(t *testing.T) {
	srv := newServer(t)
	alice := signUp(t, srv, "alice")

	status, body := alice.json(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["user"].(map[string]any)["username"])
	assert.NotContains(t, body["user"], "password")

	status, _ = alice.json(http.MethodPost, "/api/auth/signout", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = alice.json(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", body["code"])

	status, body = alice.json(http.MethodPost, "/api/auth/signin", map[string]string{"login": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid email or password", body["error"])

	status, _ = alice.json(http.MethodPost, "/api/auth/signin", map[string]string{"login": "alice@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusOK, status)
	status, _ = alice.json(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = newClient(t, srv).json(http.MethodPost, "/api/auth/signup", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid", body["code"])
}

func TestToggleEndpoints(t *testing.T) {
	srv := newServer(t)
	alice, bob := signUp(t, srv, "alice"), signUp(t, srv, "bob")

	status, post := alice.json(http.MethodPost, "/api/posts", map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, status, post)
	id := int(post["id"].(float64))
	likePath := "/api/posts/" + strconv.Itoa(id) + "/like"

	status, body := bob.json(http.MethodPost, likePath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, float64(1), body["count"])

	status, body = bob.json(http.MethodPost, likePath, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["applied"])
	assert.Equal(t, float64(0), body["count"])

	status, body = bob.json(http.MethodPost, "/api/users/alice/follow", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["applied"])

	status, body = alice.json(http.MethodPost, "/api/users/alice/follow", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "cannot follow yourself", body["error"])

	status, body = bob.json(http.MethodPost, "/api/posts/999/bookmark", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	followers := alice.list("/api/users/alice/followers")
	require.Len(t, followers, 1)
	assert.Equal(t, "bob", followers[0].(map[string]any)["username"])

	notes := alice.list("/api/notifications")
	assert.Len(t, notes, 2)
}

func TestPostOwnershipOverHTTP(t *testing.T) {
	srv := newServer(t)
	alice, bob := signUp(t, srv, "alice"), signUp(t, srv, "bob")

	status, body := newClient(t, srv).json(http.MethodPost, "/api/posts", map[string]string{"content": "anon"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", body["code"])

	_, post := alice.json(http.MethodPost, "/api/posts", map[string]string{"content": "mine"})
	path := "/api/posts/" + strconv.Itoa(int(post["id"].(float64)))

	status, body = bob.json(http.MethodPatch, path, map[string]string{"content": "theirs"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["code"])

	status, _ = bob.json(http.MethodPost, path+"/comments", map[string]string{"content": "nice"})
	assert.Equal(t, http.StatusCreated, status)

	status, _ = alice.json(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = alice.json(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = alice.json(http.MethodGet, "/api/posts/abc", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMemorialFlow(t *testing.T) {
	srv := newServer(t)
	alice, bob := signUp(t, srv, "alice"), signUp(t, srv, "bob")

	status, page := alice.json(http.MethodPost, "/api/memorials", map[string]string{
		"name":         "Jane Doe",
		"birth_date":   "1931-04-02",
		"passing_date": "2020-11-30",
	})
	require.Equal(t, http.StatusCreated, status, page)
	assert.Equal(t, "jane-doe", page["slug"])

	status, page2 := alice.json(http.MethodPost, "/api/memorials", map[string]string{"name": "Jane Doe"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "jane-doe-1", page2["slug"])

	status, body := alice.json(http.MethodPost, "/api/memorials", map[string]string{"name": "Third"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "quota_exceeded", body["code"])
	assert.Equal(t, "upgrade required", body["error"])

	status, _ = alice.json(http.MethodPost, "/api/memorials", map[string]string{"name": "X", "birth_date": "April"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = bob.json(http.MethodPatch, "/api/memorials/jane-doe", map[string]string{"bio": "mine now"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = alice.upload("/api/memorials/jane-doe/avatar", "image", pngBytes, nil)
	require.Equal(t, http.StatusOK, status, body)
	avatar := body["avatar_url"].(string)
	assert.True(t, strings.HasPrefix(avatar, "/uploads/memorials/"))
	resp, err := http.Get(srv.URL + avatar)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body = alice.upload("/api/memorials/jane-doe/avatar", "image", []byte("plain text, not an image"), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid", body["code"])

	status, memory := bob.upload("/api/memorials/jane-doe/memories", "image", pngBytes, map[string]string{"content": "She loved roses"})
	require.Equal(t, http.StatusCreated, status, memory)

	status, body = bob.json(http.MethodPost, "/api/memorials/jane-doe/flowers", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["applied"])

	status, view := bob.json(http.MethodGet, "/api/memorials/jane-doe", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), view["flower_count"])
	assert.Equal(t, true, view["flower_given"])
	assert.Len(t, view["memories"], 1)

	memoryPath := "/api/memories/" + strconv.Itoa(int(memory["id"].(float64)))
	status, _ = alice.json(http.MethodDelete, memoryPath, nil)
	assert.Equal(t, http.StatusNoContent, status)
}
