package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/events"
	"memoria/internal/models"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

const (
	maxPostLength    = 5000
	maxCommentLength = 1000
)

// PostView is a post with its counters and the viewer's own state.
type PostView struct {
	models.Post
	ContentHTML   string `json:"content_html"`
	LikeCount     int64  `json:"like_count"`
	CommentCount  int64  `json:"comment_count"`
	BookmarkCount int64  `json:"bookmark_count"`
	Liked         bool   `json:"liked"`
	Bookmarked    bool   `json:"bookmarked"`
}

type PostInput struct {
	Content string
	Media   *storage.Upload
}

type PostQuery struct {
	AuthorID uint
	Page
}

type PostService struct {
	db        *gorm.DB
	relations *RelationService
	notes     *NotificationService
	media     mediaStore
	events    *Dispatcher
	log       *slog.Logger
}

func NewPostService(db *gorm.DB, relations *RelationService, notes *NotificationService, media mediaStore, dispatcher *Dispatcher, log *slog.Logger) *PostService {
	return &PostService{
		db:        db,
		relations: relations,
		notes:     notes,
		media:     media,
		events:    dispatcher,
		log:       log.With("component", "posts"),
	}
}

func (s *PostService) load(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Preload("User").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.NotFound, "post not found")
		}
		return nil, errs.Upstreamf(err, "load post %d", id)
	}
	return &post, nil
}

// Create stores a post. When media is attached it is uploaded first and
// removed again if the row cannot be written.
func (s *PostService) Create(ctx context.Context, actorID uint, in PostInput) (*PostView, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && in.Media == nil {
		return nil, errs.Errorf(errs.Invalid, "content required")
	}
	if utf8.RuneCountInString(content) > maxPostLength {
		return nil, errs.Errorf(errs.Invalid, "content must be at most %d characters", maxPostLength)
	}

	post := models.Post{UserID: actorID, Content: content}
	if in.Media != nil {
		obj, err := s.media.put(ctx, "posts", actorID, in.Media)
		if err != nil {
			return nil, err
		}
		post.MediaURL, post.MediaKey = obj.URL, obj.Key
	}

	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.media.discard(ctx, post.MediaKey)
		return nil, errs.Upstreamf(err, "create post")
	}
	return s.Get(ctx, actorID, post.ID)
}

// Get returns one post. The counters and the viewer's flags are read
// concurrently.
func (s *PostService) Get(ctx context.Context, actorID, id uint) (*PostView, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	view := PostView{Post: *post, ContentHTML: utils.RenderMarkdown(post.Content)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		view.LikeCount, err = s.relations.Count(gctx, id, KindLike)
		return err
	})
	g.Go(func() (err error) {
		view.BookmarkCount, err = s.relations.Count(gctx, id, KindBookmark)
		return err
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.PostComment{}).Where("post_id = ?", id).Count(&view.CommentCount).Error
		if err != nil {
			return errs.Upstreamf(err, "count comments")
		}
		return nil
	})
	g.Go(func() (err error) {
		view.Liked, err = s.relations.IsApplied(gctx, actorID, id, KindLike)
		return err
	})
	g.Go(func() (err error) {
		view.Bookmarked, err = s.relations.IsApplied(gctx, actorID, id, KindBookmark)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &view, nil
}

// List returns posts newest first, optionally only those by one author.
func (s *PostService) List(ctx context.Context, actorID uint, q PostQuery) ([]PostView, error) {
	p := q.Page.normalize()
	tx := s.db.WithContext(ctx).Preload("User").Order("created_at desc, id desc").Limit(p.Limit).Offset(p.Offset)
	if q.AuthorID != 0 {
		tx = tx.Where("user_id = ?", q.AuthorID)
	}

	var posts []models.Post
	if err := tx.Find(&posts).Error; err != nil {
		return nil, errs.Upstreamf(err, "list posts")
	}
	return s.decorate(ctx, actorID, posts)
}

// ByIDs loads posts keeping the order of ids; missing ids are skipped.
func (s *PostService) ByIDs(ctx context.Context, actorID uint, ids []uint) ([]PostView, error) {
	if len(ids) == 0 {
		return []PostView{}, nil
	}
	var rows []models.Post
	if err := s.db.WithContext(ctx).Preload("User").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errs.Upstreamf(err, "load posts")
	}

	byID := make(map[uint]models.Post, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}
	posts := make([]models.Post, 0, len(rows))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			posts = append(posts, p)
		}
	}
	return s.decorate(ctx, actorID, posts)
}

func (s *PostService) decorate(ctx context.Context, actorID uint, posts []models.Post) ([]PostView, error) {
	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	var (
		likes, bookmarks, comments map[uint]int64
		liked, bookmarked          map[uint]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		likes, err = s.relations.CountMany(gctx, ids, KindLike)
		return err
	})
	g.Go(func() (err error) {
		bookmarks, err = s.relations.CountMany(gctx, ids, KindBookmark)
		return err
	})
	g.Go(func() (err error) {
		comments, err = s.commentCounts(gctx, ids)
		return err
	})
	g.Go(func() (err error) {
		liked, err = s.relations.AppliedSet(gctx, actorID, ids, KindLike)
		return err
	})
	g.Go(func() (err error) {
		bookmarked, err = s.relations.AppliedSet(gctx, actorID, ids, KindBookmark)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := make([]PostView, len(posts))
	for i, p := range posts {
		views[i] = PostView{
			Post:          p,
			ContentHTML:   utils.RenderMarkdown(p.Content),
			LikeCount:     likes[p.ID],
			CommentCount:  comments[p.ID],
			BookmarkCount: bookmarks[p.ID],
			Liked:         liked[p.ID],
			Bookmarked:    bookmarked[p.ID],
		}
	}
	return views, nil
}

func (s *PostService) commentCounts(ctx context.Context, ids []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		PostID uint
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&models.PostComment{}).
		Select("post_id, COUNT(*) AS n").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "count comments")
	}
	for _, r := range rows {
		out[r.PostID] = r.N
	}
	return out, nil
}

// Update replaces the post body. Owner only.
func (s *PostService) Update(ctx context.Context, actorID, id uint, content string) (*PostView, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := RequireOwner(actorID, post.UserID); err != nil {
		return nil, err
	}
	content, err = cleanText("content", content, maxPostLength)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(post).Update("content", content).Error; err != nil {
		return nil, errs.Upstreamf(err, "update post %d", id)
	}
	return s.Get(ctx, actorID, id)
}

// Delete removes the post with its comments, likes and bookmarks. Owner
// only. The stored media object is removed after the rows are gone.
func (s *PostService) Delete(ctx context.Context, actorID, id uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := RequireOwner(actorID, post.UserID); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return DeleteWithDependents(tx, &models.Post{}, id, postDependents...)
	})
	if err != nil {
		return err
	}

	s.relations.Forget(id, KindLike, KindBookmark)
	s.media.discard(ctx, post.MediaKey)
	s.events.Dispatch(events.SubjectPostDeleted, events.PostDeleted{ID: id, UserID: post.UserID, At: time.Now().UTC()})
	s.log.Info("post deleted", "post", id, "user", actorID)
	return nil
}

// AddComment comments on a post and notifies its author.
func (s *PostService) AddComment(ctx context.Context, actorID, postID uint, content string) (*models.PostComment, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	content, err := cleanText("comment", content, maxCommentLength)
	if err != nil {
		return nil, err
	}
	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}

	c := models.PostComment{PostID: postID, UserID: actorID, Content: content}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, errs.Upstreamf(err, "create comment")
	}
	if err := s.db.WithContext(ctx).Preload("User").First(&c, c.ID).Error; err != nil {
		return nil, errs.Upstreamf(err, "reload comment")
	}

	s.notes.Notify(ctx, post.UserID, actorID, models.NotificationTypeCommentPost, "commented on your post", postLink(postID))
	return &c, nil
}

func (s *PostService) ListComments(ctx context.Context, postID uint) ([]models.PostComment, error) {
	if _, err := s.load(ctx, postID); err != nil {
		return nil, err
	}
	var list []models.PostComment
	err := s.db.WithContext(ctx).Preload("User").
		Where("post_id = ?", postID).
		Order("created_at asc, id asc").
		Find(&list).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "list comments")
	}
	return list, nil
}

// DeleteComment is allowed for the comment author and the post owner.
func (s *PostService) DeleteComment(ctx context.Context, actorID, commentID uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	var c models.PostComment
	if err := s.db.WithContext(ctx).First(&c, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Errorf(errs.NotFound, "comment not found")
		}
		return errs.Upstreamf(err, "load comment %d", commentID)
	}
	post, err := s.load(ctx, c.PostID)
	if err != nil {
		return err
	}
	if err := RequireAnyOwner(actorID, c.UserID, post.UserID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return DeleteWithDependents(tx, &models.PostComment{}, commentID)
	})
}

func postLink(id uint) string {
	return fmt.Sprintf("/posts/%d", id)
}
