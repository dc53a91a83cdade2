package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"memoria/internal/db/dbtest"
	"memoria/internal/logging"
	"memoria/internal/models"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

// recorder is a publisher that remembers subjects.
type recorder struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (r *recorder) Publish(_ context.Context, subject string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}

// memStore keeps objects in memory and remembers deletions.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ string) (*storage.Object, error) {
	if m.failPut {
		return nil, fmt.Errorf("storage unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return &storage.Object{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type testEnv struct {
	db     *gorm.DB
	svc    *Services
	store  *memStore
	cache  *utils.CountCache
	pub    *recorder
	events *Dispatcher
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := dbtest.New(t)
	cache, err := utils.NewCountCache(128, time.Minute)
	require.NoError(t, err)

	env := &testEnv{db: gdb, store: newMemStore(), cache: cache, pub: &recorder{}}
	env.events = NewDispatcher(env.pub, logging.Discard())
	t.Cleanup(env.events.Close)

	env.svc = New(Deps{
		DB:      gdb,
		Cache:   cache,
		Storage: env.store,
		Events:  env.events,
		Log:     logging.Discard(),
	})
	return env
}

// flush waits for queued events to be published.
func (e *testEnv) flush() {
	e.events.Close()
}

func (e *testEnv) user(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.svc.Users.SignUp(context.Background(), SignUpInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) post(t *testing.T, owner uint, content string) *PostView {
	t.Helper()
	p, err := e.svc.Posts.Create(context.Background(), owner, PostInput{Content: content})
	require.NoError(t, err)
	return p
}

func (e *testEnv) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngUpload() *storage.Upload {
	return &storage.Upload{
		Reader:      bytes.NewReader(pngBytes),
		ContentType: "image/png",
		Ext:         ".png",
		Size:        int64(len(pngBytes)),
	}
}
