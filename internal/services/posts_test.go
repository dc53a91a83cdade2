package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/events"
	"memoria/internal/models"
)

func TestCreateAndGetPost(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")

	_, err := env.svc.Posts.Create(ctx, 0, PostInput{Content: "x"})
	assert.True(t, errs.Is(err, errs.Unauthenticated))
	_, err = env.svc.Posts.Create(ctx, alice.ID, PostInput{Content: "   "})
	assert.True(t, errs.Is(err, errs.Invalid))

	post := env.post(t, alice.ID, "**first** post")
	assert.Contains(t, post.ContentHTML, "<strong>first</strong>")
	assert.Equal(t, "alice", post.User.Username)

	_, err = env.svc.Relations.Toggle(ctx, bob.ID, post.ID, KindLike)
	require.NoError(t, err)
	_, err = env.svc.Posts.AddComment(ctx, bob.ID, post.ID, "nice")
	require.NoError(t, err)

	view, err := env.svc.Posts.Get(ctx, bob.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.LikeCount)
	assert.Equal(t, int64(1), view.CommentCount)
	assert.True(t, view.Liked)
	assert.False(t, view.Bookmarked)

	anon, err := env.svc.Posts.Get(ctx, 0, post.ID)
	require.NoError(t, err)
	assert.False(t, anon.Liked)

	_, err = env.svc.Posts.Get(ctx, 0, 999)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestCreatePostWithMedia(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	post, err := env.svc.Posts.Create(ctx, alice.ID, PostInput{Media: pngUpload()})
	require.NoError(t, err)
	assert.NotEmpty(t, post.MediaURL)
	assert.True(t, env.store.Has(post.MediaKey))

	require.NoError(t, env.svc.Posts.Delete(ctx, alice.ID, post.ID))
	assert.False(t, env.store.Has(post.MediaKey))

	env.store.failPut = true
	_, err = env.svc.Posts.Create(ctx, alice.ID, PostInput{Content: "x", Media: pngUpload()})
	assert.True(t, errs.Is(err, errs.Upstream))
	assert.Zero(t, env.count(t, &models.Post{}, "user_id = ?", alice.ID))
}

func TestListPosts(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	p1 := env.post(t, alice.ID, "one")
	p2 := env.post(t, bob.ID, "two")
	p3 := env.post(t, alice.ID, "three")

	_, err := env.svc.Relations.Toggle(ctx, bob.ID, p1.ID, KindBookmark)
	require.NoError(t, err)

	all, err := env.svc.Posts.List(ctx, bob.ID, PostQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint{p3.ID, p2.ID, p1.ID}, []uint{all[0].ID, all[1].ID, all[2].ID})
	assert.True(t, all[2].Bookmarked)
	assert.Equal(t, int64(1), all[2].BookmarkCount)

	mine, err := env.svc.Posts.List(ctx, 0, PostQuery{AuthorID: alice.ID, Page: Page{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p3.ID, mine[0].ID)
}

func TestPostOwnership(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	alice, bob := env.user(t, "alice"), env.user(t, "bob")
	post := env.post(t, alice.ID, "mine")

	_, err := env.svc.Posts.Update(ctx, bob.ID, post.ID, "hijacked")
	assert.True(t, errs.Is(err, errs.Forbidden))
	assert.True(t, errs.Is(env.svc.Posts.Delete(ctx, bob.ID, post.ID), errs.Forbidden))
	assert.True(t, errs.Is(env.svc.Posts.Delete(ctx, 0, post.ID), errs.Unauthenticated))

	updated, err := env.svc.Posts.Update(ctx, alice.ID, post.ID, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)

	require.NoError(t, env.svc.Posts.Delete(ctx, alice.ID, post.ID))
	_, err = env.svc.Posts.Get(ctx, alice.ID, post.ID)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestDeletePostCascades(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	owner := env.user(t, "owner")
	post := env.post(t, owner.ID, "doomed")

	for _, name := range []string{"user1", "user2", "user3"} {
		u := env.user(t, name)
		_, err := env.svc.Posts.AddComment(ctx, u.ID, post.ID, "comment from "+name)
		require.NoError(t, err)
		_, err = env.svc.Relations.Toggle(ctx, u.ID, post.ID, KindLike)
		require.NoError(t, err)
		_, err = env.svc.Relations.Toggle(ctx, u.ID, post.ID, KindBookmark)
		require.NoError(t, err)
	}

	require.Equal(t, int64(3), env.count(t, &models.PostComment{}, "post_id = ?", post.ID))
	require.Equal(t, int64(3), env.count(t, &models.PostLike{}, "post_id = ?", post.ID))
	require.Equal(t, int64(3), env.count(t, &models.PostBookmark{}, "post_id = ?", post.ID))

	require.NoError(t, env.svc.Posts.Delete(ctx, owner.ID, post.ID))
	assert.Zero(t, env.count(t, &models.Post{}, "id = ?", post.ID))
	assert.Zero(t, env.count(t, &models.PostComment{}, "post_id = ?", post.ID))
	assert.Zero(t, env.count(t, &models.PostLike{}, "post_id = ?", post.ID))
	assert.Zero(t, env.count(t, &models.PostBookmark{}, "post_id = ?", post.ID))

	n, err := env.svc.Relations.Count(ctx, post.ID, KindLike)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.flush()
	assert.Contains(t, env.pub.Subjects(), events.SubjectPostDeleted)
}

func TestDeletePostRollsBackOnFailure(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	owner, fan := env.user(t, "owner"), env.user(t, "fan")
	post := env.post(t, owner.ID, "sturdy")
	_, err := env.svc.Posts.AddComment(ctx, fan.ID, post.ID, "hi")
	require.NoError(t, err)

	// fail the final delete of the post row
	require.NoError(t, env.db.Callback().Delete().Before("gorm:delete").Register("test:fail_post_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "posts" {
			tx.AddError(errors.New("disk full"))
		}
	}))

	err = env.svc.Posts.Delete(ctx, owner.ID, post.ID)
	assert.True(t, errs.Is(err, errs.Upstream))
	assert.Equal(t, int64(1), env.count(t, &models.PostComment{}, "post_id = ?", post.ID))
}

func TestPostComments(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	owner, fan, stranger := env.user(t, "owner"), env.user(t, "fan"), env.user(t, "stranger")
	post := env.post(t, owner.ID, "talk to me")

	c1, err := env.svc.Posts.AddComment(ctx, fan.ID, post.ID, "first")
	require.NoError(t, err)
	c2, err := env.svc.Posts.AddComment(ctx, fan.ID, post.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "fan", c1.User.Username)

	_, err = env.svc.Posts.AddComment(ctx, fan.ID, post.ID, "")
	assert.True(t, errs.Is(err, errs.Invalid))
	_, err = env.svc.Posts.AddComment(ctx, fan.ID, 999, "lost")
	assert.True(t, errs.Is(err, errs.NotFound))

	list, err := env.svc.Posts.ListComments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Content)

	assert.True(t, errs.Is(env.svc.Posts.DeleteComment(ctx, stranger.ID, c1.ID), errs.Forbidden))
	require.NoError(t, env.svc.Posts.DeleteComment(ctx, fan.ID, c1.ID))
	require.NoError(t, env.svc.Posts.DeleteComment(ctx, owner.ID, c2.ID))
	assert.True(t, errs.Is(env.svc.Posts.DeleteComment(ctx, owner.ID, c2.ID), errs.NotFound))

	notes, err := env.svc.Notifications.List(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 2)
}
