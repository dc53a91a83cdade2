// Package services holds the application logic. Handlers translate HTTP to
// calls on these types; nothing here knows about gin or sessions.
package services

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	DB      *gorm.DB
	Cache   *utils.CountCache
	Storage storage.Provider
	Events  *Dispatcher
	Log     *slog.Logger
}

// Services is the application container built once at start-up.
type Services struct {
	Relations     *RelationService
	Notifications *NotificationService
	Users         *UserService
	Posts         *PostService
	Memorials     *MemorialService
}

func New(d Deps) *Services {
	notes := NewNotificationService(d.DB, d.Log)
	relations := NewRelationService(d.DB, d.Cache, notes, d.Events, d.Log)
	media := mediaStore{store: d.Storage, log: d.Log.With("component", "media")}
	posts := NewPostService(d.DB, relations, notes, media, d.Events, d.Log)

	return &Services{
		Relations:     relations,
		Notifications: notes,
		Users:         NewUserService(d.DB, relations, posts, media, d.Log),
		Posts:         posts,
		Memorials:     NewMemorialService(d.DB, relations, notes, media, d.Events, d.Log),
	}
}

// mediaStore wraps the object store with the upload-then-compensate steps
// every image field shares.
type mediaStore struct {
	store storage.Provider
	log   *slog.Logger
}

func (m mediaStore) put(ctx context.Context, kind string, ownerID uint, up *storage.Upload) (*storage.Object, error) {
	obj, err := m.store.Put(ctx, storage.Key(kind, ownerID, up.Ext), up.Reader, up.ContentType)
	if err != nil {
		return nil, errs.Upstreamf(err, "store %s image", kind)
	}
	return obj, nil
}

// discard deletes an object best-effort. Used both to undo an upload whose
// row update failed and to drop an image that is no longer referenced.
func (m mediaStore) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		m.log.Warn("delete stored object", "key", key, "error", err)
	}
}

// cleanText trims s and checks it is present and not longer than max runes.
func cleanText(field, s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errs.Errorf(errs.Invalid, "%s required", field)
	}
	if utf8.RuneCountInString(s) > max {
		return "", errs.Errorf(errs.Invalid, "%s must be at most %d characters", field, max)
	}
	return s, nil
}

// Page bounds list reads.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
