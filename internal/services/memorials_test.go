package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/events"
	"memoria/internal/models"
)

func TestCreateMemorialAllocatesSlugs(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	p1, err := env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, "jane-doe", p1.Slug)

	p2, err := env.svc.Memorials.Create(ctx, bob.ID, MemorialInput{Name: "jane   DOE!"})
	require.NoError(t, err)
	assert.Equal(t, "jane-doe-1", p2.Slug)

	p3, err := env.svc.Memorials.Create(ctx, bob.ID, MemorialInput{Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, "jane-doe-2", p3.Slug)

	_, err = env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: "***"})
	assert.True(t, errs.Is(err, errs.Invalid))

	env.flush()
	assert.Equal(t, []string{
		events.SubjectMemorialCreated,
		events.SubjectMemorialCreated,
		events.SubjectMemorialCreated,
	}, env.pub.Subjects())
}

func TestCreateMemorialValidation(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	_, err := env.svc.Memorials.Create(ctx, 0, MemorialInput{Name: "X"})
	assert.True(t, errs.Is(err, errs.Unauthenticated))

	birth := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	passing := time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: "X", BirthDate: &birth, PassingDate: &passing})
	assert.True(t, errs.Is(err, errs.Invalid))
}

func TestMemorialQuota(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	for _, name := range []string{"First", "Second"} {
		_, err := env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: name})
		require.NoError(t, err)
	}

	_, err := env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: "Third"})
	assert.True(t, errs.Is(err, errs.QuotaExceeded))
	assert.Equal(t, "upgrade required", errs.Public(err))
	assert.Equal(t, int64(2), env.count(t, &models.MemorialPage{}, "creator_id = ?", alice.ID))

	_, err = env.svc.Users.SetPremium(ctx, "alice", true)
	require.NoError(t, err)
	third, err := env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: "Third"})
	require.NoError(t, err)
	assert.Equal(t, "third", third.Slug)
}

func TestCreateMemorialLongNameKeepsSlugInColumn(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.user(t, "alice")
	alice, err := env.svc.Users.SetPremium(ctx, "alice", true)
	require.NoError(t, err)

	name := strings.Repeat("a", maxMemorialNameLength)
	for _, want := range []string{
		name,
		strings.Repeat("a", MaxSlugLength-2) + "-1",
		strings.Repeat("a", MaxSlugLength-2) + "-2",
	} {
		page, err := env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: name})
		require.NoError(t, err)
		assert.Equal(t, want, page.Slug)
		assert.LessOrEqual(t, len(page.Slug), MaxSlugLength)
	}
}

func TestCreateMemorialRetriesOnDuplicateSlug(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	// Simulate a concurrent creator: the first insert attempt finds its
	// slug taken by a row committed after the probe.
	raced := false
	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("test:race", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*models.MemorialPage); !ok || raced {
			return
		}
		raced = true
		tx.AddError(gorm.ErrDuplicatedKey)
	}))

	page, err := env.svc.Memorials.Create(ctx, alice.ID, MemorialInput{Name: "Jane Doe"})
	require.NoError(t, err)
	assert.True(t, raced)
	assert.Equal(t, "jane-doe", page.Slug)
	assert.Equal(t, int64(1), env.count(t, &models.MemorialPage{}, "slug = ?", "jane-doe"))

	// Every attempt losing the race surfaces as a conflict.
	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("test:always_race", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*models.MemorialPage); ok {
			tx.AddError(gorm.ErrDuplicatedKey)
		}
	}))
	_, err = env.svc.Memorials.Create(ctx, bob.ID, MemorialInput{Name: "Jane Doe"})
	assert.True(t, errs.Is(err, errs.Conflict))
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
}

func TestGetMemorial(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	creator, visitor := env.user(t, "creator"), env.user(t, "visitor")

	page, err := env.svc.Memorials.Create(ctx, creator.ID, MemorialInput{Name: "Grandpa Joe", Bio: "Loved *fishing*."})
	require.NoError(t, err)

	m1, err := env.svc.Memorials.AddMemory(ctx, visitor.ID, page.Slug, "He taught me to cast", pngUpload())
	require.NoError(t, err)
	assert.NotEmpty(t, m1.ImageURL)
	_, err = env.svc.Memorials.AddMemory(ctx, creator.ID, page.Slug, "Summers at the lake", nil)
	require.NoError(t, err)
	_, err = env.svc.Relations.Toggle(ctx, visitor.ID, page.ID, KindFlower)
	require.NoError(t, err)
	_, err = env.svc.Relations.Toggle(ctx, creator.ID, m1.ID, KindMemoryLike)
	require.NoError(t, err)
	_, err = env.svc.Memorials.AddComment(ctx, visitor.ID, page.Slug, "Rest easy")
	require.NoError(t, err)

	view, err := env.svc.Memorials.Get(ctx, visitor.ID, page.Slug)
	require.NoError(t, err)
	assert.Contains(t, view.BioHTML, "<em>fishing</em>")
	assert.Equal(t, int64(1), view.FlowerCount)
	assert.True(t, view.FlowerGiven)
	assert.Equal(t, int64(1), view.CommentCount)
	require.Len(t, view.Memories, 2)
	assert.Equal(t, "Summers at the lake", view.Memories[0].Content)
	assert.Equal(t, int64(1), view.Memories[1].LikeCount)
	assert.False(t, view.Memories[1].Liked)

	_, err = env.svc.Memorials.Get(ctx, 0, "nobody")
	assert.True(t, errs.Is(err, errs.NotFound))

	list, err := env.svc.Memorials.List(ctx, creator.ID, Page{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "creator", list[0].Creator.Username)
}

func TestUpdateMemorialKeepsSlug(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	creator, other := env.user(t, "creator"), env.user(t, "other")
	page, err := env.svc.Memorials.Create(ctx, creator.ID, MemorialInput{Name: "Jane Doe"})
	require.NoError(t, err)

	name := "Jane Q. Doe"
	_, err = env.svc.Memorials.Update(ctx, other.ID, page.Slug, MemorialUpdate{Name: &name})
	assert.True(t, errs.Is(err, errs.Forbidden))

	updated, err := env.svc.Memorials.Update(ctx, creator.ID, page.Slug, MemorialUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Jane Q. Doe", updated.DisplayName)
	assert.Equal(t, "jane-doe", updated.Slug)

	empty := " "
	_, err = env.svc.Memorials.Update(ctx, creator.ID, page.Slug, MemorialUpdate{Name: &empty})
	assert.True(t, errs.Is(err, errs.Invalid))
}

func TestMemorialAvatarCompensation(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	creator, other := env.user(t, "creator"), env.user(t, "other")
	page, err := env.svc.Memorials.Create(ctx, creator.ID, MemorialInput{Name: "Rose"})
	require.NoError(t, err)

	_, err = env.svc.Memorials.SetAvatar(ctx, other.ID, page.Slug, pngUpload())
	assert.True(t, errs.Is(err, errs.Forbidden))
	assert.Empty(t, env.store.objects)

	first, err := env.svc.Memorials.SetAvatar(ctx, creator.ID, page.Slug, pngUpload())
	require.NoError(t, err)
	assert.True(t, env.store.Has(first.AvatarKey))

	second, err := env.svc.Memorials.SetAvatar(ctx, creator.ID, page.Slug, pngUpload())
	require.NoError(t, err)
	assert.False(t, env.store.Has(first.AvatarKey), "replaced avatar is deleted")
	assert.True(t, env.store.Has(second.AvatarKey))

	require.NoError(t, env.db.Callback().Update().Before("gorm:update").Register("test:fail_update", func(tx *gorm.DB) {
		tx.AddError(errors.New("write failed"))
	}))
	_, err = env.svc.Memorials.SetAvatar(ctx, creator.ID, page.Slug, pngUpload())
	assert.True(t, errs.Is(err, errs.Upstream))
	assert.Len(t, env.store.objects, 1, "failed upload is removed again")
	assert.True(t, env.store.Has(second.AvatarKey))
}

func TestMemoryPermissions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	creator, author, stranger := env.user(t, "creator"), env.user(t, "author"), env.user(t, "stranger")
	page, err := env.svc.Memorials.Create(ctx, creator.ID, MemorialInput{Name: "Rose"})
	require.NoError(t, err)

	m1, err := env.svc.Memorials.AddMemory(ctx, author.ID, page.Slug, "one", pngUpload())
	require.NoError(t, err)
	m2, err := env.svc.Memorials.AddMemory(ctx, author.ID, page.Slug, "two", nil)
	require.NoError(t, err)
	_, err = env.svc.Relations.Toggle(ctx, stranger.ID, m1.ID, KindMemoryLike)
	require.NoError(t, err)

	_, err = env.svc.Memorials.AddMemory(ctx, 0, page.Slug, "anon", nil)
	assert.True(t, errs.Is(err, errs.Unauthenticated))

	assert.True(t, errs.Is(env.svc.Memorials.DeleteMemory(ctx, stranger.ID, m1.ID), errs.Forbidden))

	require.NoError(t, env.svc.Memorials.DeleteMemory(ctx, author.ID, m1.ID))
	assert.Zero(t, env.count(t, &models.MemoryLike{}, "memory_id = ?", m1.ID))
	assert.False(t, env.store.Has(m1.ImageKey))

	require.NoError(t, env.svc.Memorials.DeleteMemory(ctx, creator.ID, m2.ID))
	assert.Zero(t, env.count(t, &models.Memory{}, "memorial_id = ?", page.ID))

	notes, err := env.svc.Notifications.List(ctx, creator.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}

func TestMemorialComments(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	creator, visitor, stranger := env.user(t, "creator"), env.user(t, "visitor"), env.user(t, "stranger")
	page, err := env.svc.Memorials.Create(ctx, creator.ID, MemorialInput{Name: "Rose"})
	require.NoError(t, err)

	c1, err := env.svc.Memorials.AddComment(ctx, visitor.ID, page.Slug, "thinking of you")
	require.NoError(t, err)
	c2, err := env.svc.Memorials.AddComment(ctx, visitor.ID, page.Slug, "again")
	require.NoError(t, err)

	list, err := env.svc.Memorials.ListComments(ctx, page.Slug)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	assert.True(t, errs.Is(env.svc.Memorials.DeleteComment(ctx, stranger.ID, c1.ID), errs.Forbidden))
	require.NoError(t, env.svc.Memorials.DeleteComment(ctx, visitor.ID, c1.ID))
	require.NoError(t, env.svc.Memorials.DeleteComment(ctx, creator.ID, c2.ID))

	_, err = env.svc.Memorials.ListComments(ctx, "missing")
	assert.True(t, errs.Is(err, errs.NotFound))
}
