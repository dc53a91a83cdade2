package services

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"memoria/internal/errs"
	"memoria/internal/events"
	"memoria/internal/models"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

const (
	maxMemorialNameLength = 128
	maxBioLength          = 5000
	maxMemoryLength       = 5000

	// memorialCreateAttempts bounds retries when a concurrent creator wins
	// the slug between our probe and our insert.
	memorialCreateAttempts = 3
)

type MemorialInput struct {
	Name            string
	Bio             string
	BirthDate       *time.Time
	PassingDate     *time.Time
	AnniversaryDate *time.Time
}

// MemorialUpdate changes only the fields that are set. Renaming a page
// keeps its slug so existing links stay valid.
type MemorialUpdate struct {
	Name            *string
	Bio             *string
	BirthDate       *time.Time
	PassingDate     *time.Time
	AnniversaryDate *time.Time
}

type MemoryView struct {
	models.Memory
	ContentHTML string `json:"content_html"`
	LikeCount   int64  `json:"like_count"`
	Liked       bool   `json:"liked"`
}

type MemorialView struct {
	models.MemorialPage
	BioHTML      string       `json:"bio_html"`
	Memories     []MemoryView `json:"memories"`
	FlowerCount  int64        `json:"flower_count"`
	CommentCount int64        `json:"comment_count"`
	FlowerGiven  bool         `json:"flower_given"`
}

type MemorialService struct {
	db        *gorm.DB
	relations *RelationService
	notes     *NotificationService
	media     mediaStore
	events    *Dispatcher
	log       *slog.Logger
}

func NewMemorialService(db *gorm.DB, relations *RelationService, notes *NotificationService, media mediaStore, dispatcher *Dispatcher, log *slog.Logger) *MemorialService {
	return &MemorialService{
		db:        db,
		relations: relations,
		notes:     notes,
		media:     media,
		events:    dispatcher,
		log:       log.With("component", "memorials"),
	}
}

func checkDates(birth, passing *time.Time) error {
	if birth != nil && passing != nil && passing.Before(*birth) {
		return errs.Errorf(errs.Invalid, "passing date must not be before birth date")
	}
	return nil
}

// Create adds a memorial page owned by the actor. The quota check, slug
// allocation and insert share one transaction; if a concurrent creator
// takes the slug first, the unique index rejects our insert and the whole
// transaction is retried.
func (s *MemorialService) Create(ctx context.Context, actorID uint, in MemorialInput) (*models.MemorialPage, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	name, err := cleanText("name", in.Name, maxMemorialNameLength)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Bio) > maxBioLength {
		return nil, errs.Errorf(errs.Invalid, "bio must be at most %d characters", maxBioLength)
	}
	if err := checkDates(in.BirthDate, in.PassingDate); err != nil {
		return nil, err
	}

	var page models.MemorialPage
	for attempt := 1; ; attempt++ {
		page = models.MemorialPage{
			DisplayName:     name,
			Bio:             in.Bio,
			BirthDate:       in.BirthDate,
			PassingDate:     in.PassingDate,
			AnniversaryDate: in.AnniversaryDate,
			CreatorID:       actorID,
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.insert(ctx, tx, actorID, &page)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		if attempt == memorialCreateAttempts {
			return nil, errs.Wrap(errs.Conflict, err, "could not allocate unique name")
		}
		s.log.Info("memorial slug taken concurrently, retrying", "slug", page.Slug, "attempt", attempt)
	}

	s.events.Dispatch(events.SubjectMemorialCreated, events.MemorialCreated{
		ID:        page.ID,
		Slug:      page.Slug,
		CreatorID: actorID,
		At:        time.Now().UTC(),
	})
	return &page, nil
}

func (s *MemorialService) insert(ctx context.Context, tx *gorm.DB, actorID uint, page *models.MemorialPage) error {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		// serialises concurrent creates by the same user so the quota holds
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var actor models.User
	if err := q.First(&actor, actorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Errorf(errs.Unauthenticated, "sign in required")
		}
		return errs.Upstreamf(err, "load user %d", actorID)
	}

	var owned int64
	if err := tx.Model(&models.MemorialPage{}).Where("creator_id = ?", actorID).Count(&owned).Error; err != nil {
		return errs.Upstreamf(err, "count memorials")
	}
	if err := CheckMemorialQuota(&actor, owned); err != nil {
		return err
	}

	slug, err := AllocateUniqueSlug(ctx, page.DisplayName, func(_ context.Context, candidate string) (bool, error) {
		var n int64
		err := tx.Model(&models.MemorialPage{}).Where("slug = ?", candidate).Count(&n).Error
		return n > 0, err
	})
	if err != nil {
		return err
	}
	page.Slug = slug

	if err := tx.Create(page).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		return errs.Upstreamf(err, "create memorial")
	}
	return nil
}

// BySlug loads a page without its children.
func (s *MemorialService) BySlug(ctx context.Context, slug string) (*models.MemorialPage, error) {
	var page models.MemorialPage
	if err := s.db.WithContext(ctx).Preload("Creator").Where("slug = ?", slug).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.NotFound, "memorial not found")
		}
		return nil, errs.Upstreamf(err, "load memorial %q", slug)
	}
	return &page, nil
}

// Get returns the page with its memories and counters.
func (s *MemorialService) Get(ctx context.Context, actorID uint, slug string) (*MemorialView, error) {
	page, err := s.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	view := MemorialView{MemorialPage: *page, BioHTML: utils.RenderMarkdown(page.Bio)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		view.Memories, err = s.memories(gctx, actorID, page.ID)
		return err
	})
	g.Go(func() (err error) {
		view.FlowerCount, err = s.relations.Count(gctx, page.ID, KindFlower)
		return err
	})
	g.Go(func() (err error) {
		view.FlowerGiven, err = s.relations.IsApplied(gctx, actorID, page.ID, KindFlower)
		return err
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.MemorialComment{}).Where("memorial_id = ?", page.ID).Count(&view.CommentCount).Error
		if err != nil {
			return errs.Upstreamf(err, "count memorial comments")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *MemorialService) memories(ctx context.Context, actorID, memorialID uint) ([]MemoryView, error) {
	var rows []models.Memory
	err := s.db.WithContext(ctx).Preload("Author").
		Where("memorial_id = ?", memorialID).
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "list memories")
	}

	ids := make([]uint, len(rows))
	for i, m := range rows {
		ids[i] = m.ID
	}
	likes, err := s.relations.CountMany(ctx, ids, KindMemoryLike)
	if err != nil {
		return nil, err
	}
	liked, err := s.relations.AppliedSet(ctx, actorID, ids, KindMemoryLike)
	if err != nil {
		return nil, err
	}

	views := make([]MemoryView, len(rows))
	for i, m := range rows {
		views[i] = MemoryView{
			Memory:      m,
			ContentHTML: utils.RenderMarkdown(m.Content),
			LikeCount:   likes[m.ID],
			Liked:       liked[m.ID],
		}
	}
	return views, nil
}

// List returns pages newest first, optionally only those by one creator.
func (s *MemorialService) List(ctx context.Context, creatorID uint, page Page) ([]models.MemorialPage, error) {
	p := page.normalize()
	tx := s.db.WithContext(ctx).Preload("Creator").Order("created_at desc, id desc").Limit(p.Limit).Offset(p.Offset)
	if creatorID != 0 {
		tx = tx.Where("creator_id = ?", creatorID)
	}
	var list []models.MemorialPage
	if err := tx.Find(&list).Error; err != nil {
		return nil, errs.Upstreamf(err, "list memorials")
	}
	return list, nil
}

// CountOwned is the number of pages the user created.
func (s *MemorialService) CountOwned(ctx context.Context, userID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.MemorialPage{}).Where("creator_id = ?", userID).Count(&n).Error; err != nil {
		return 0, errs.Upstreamf(err, "count memorials")
	}
	return n, nil
}

func (s *MemorialService) loadOwned(ctx context.Context, actorID uint, slug string) (*models.MemorialPage, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	page, err := s.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := RequireOwner(actorID, page.CreatorID); err != nil {
		return nil, err
	}
	return page, nil
}

// Update edits the page. Creator only; the slug never changes.
func (s *MemorialService) Update(ctx context.Context, actorID uint, slug string, in MemorialUpdate) (*models.MemorialPage, error) {
	page, err := s.loadOwned(ctx, actorID, slug)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Name != nil {
		name, err := cleanText("name", *in.Name, maxMemorialNameLength)
		if err != nil {
			return nil, err
		}
		updates["display_name"] = name
	}
	if in.Bio != nil {
		if utf8.RuneCountInString(*in.Bio) > maxBioLength {
			return nil, errs.Errorf(errs.Invalid, "bio must be at most %d characters", maxBioLength)
		}
		updates["bio"] = *in.Bio
	}

	birth, passing := page.BirthDate, page.PassingDate
	if in.BirthDate != nil {
		birth = in.BirthDate
		updates["birth_date"] = in.BirthDate
	}
	if in.PassingDate != nil {
		passing = in.PassingDate
		updates["passing_date"] = in.PassingDate
	}
	if in.AnniversaryDate != nil {
		updates["anniversary_date"] = in.AnniversaryDate
	}
	if err := checkDates(birth, passing); err != nil {
		return nil, err
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(page).Updates(updates).Error; err != nil {
			return nil, errs.Upstreamf(err, "update memorial %q", slug)
		}
	}
	return s.BySlug(ctx, slug)
}

// SetAvatar uploads a new portrait for the page. If the row update fails
// the fresh upload is deleted; on success the previous image is deleted.
func (s *MemorialService) SetAvatar(ctx context.Context, actorID uint, slug string, up *storage.Upload) (*models.MemorialPage, error) {
	page, err := s.loadOwned(ctx, actorID, slug)
	if err != nil {
		return nil, err
	}
	if up == nil {
		return nil, errs.Errorf(errs.Invalid, "image required")
	}

	obj, err := s.media.put(ctx, "memorials", page.ID, up)
	if err != nil {
		return nil, err
	}
	oldKey := page.AvatarKey

	err = s.db.WithContext(ctx).Model(page).Updates(map[string]any{
		"avatar_url": obj.URL,
		"avatar_key": obj.Key,
	}).Error
	if err != nil {
		s.media.discard(ctx, obj.Key)
		return nil, errs.Upstreamf(err, "update memorial avatar")
	}
	s.media.discard(ctx, oldKey)
	return s.BySlug(ctx, slug)
}

// AddMemory leaves a memory on the page. Any signed-in user may do so; the
// page creator is notified.
func (s *MemorialService) AddMemory(ctx context.Context, actorID uint, slug, content string, up *storage.Upload) (*MemoryView, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	content, err := cleanText("memory", content, maxMemoryLength)
	if err != nil {
		return nil, err
	}
	page, err := s.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	memory := models.Memory{MemorialID: page.ID, AuthorID: actorID, Content: content}
	if up != nil {
		obj, err := s.media.put(ctx, "memories", actorID, up)
		if err != nil {
			return nil, err
		}
		memory.ImageURL, memory.ImageKey = obj.URL, obj.Key
	}

	if err := s.db.WithContext(ctx).Create(&memory).Error; err != nil {
		s.media.discard(ctx, memory.ImageKey)
		return nil, errs.Upstreamf(err, "create memory")
	}
	if err := s.db.WithContext(ctx).Preload("Author").First(&memory, memory.ID).Error; err != nil {
		return nil, errs.Upstreamf(err, "reload memory")
	}

	s.notes.Notify(ctx, page.CreatorID, actorID, models.NotificationTypeMemory, "shared a memory on "+page.DisplayName, memorialLink(page.Slug))
	return &MemoryView{Memory: memory, ContentHTML: utils.RenderMarkdown(memory.Content)}, nil
}

// DeleteMemory is allowed for the memory author and the page creator.
func (s *MemorialService) DeleteMemory(ctx context.Context, actorID, memoryID uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	var memory models.Memory
	if err := s.db.WithContext(ctx).First(&memory, memoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Errorf(errs.NotFound, "memory not found")
		}
		return errs.Upstreamf(err, "load memory %d", memoryID)
	}
	creatorID, err := s.creatorOf(ctx, memory.MemorialID)
	if err != nil {
		return err
	}
	if err := RequireAnyOwner(actorID, memory.AuthorID, creatorID); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return DeleteWithDependents(tx, &models.Memory{}, memoryID, memoryDependents...)
	})
	if err != nil {
		return err
	}
	s.relations.Forget(memoryID, KindMemoryLike)
	s.media.discard(ctx, memory.ImageKey)
	return nil
}

func (s *MemorialService) creatorOf(ctx context.Context, memorialID uint) (uint, error) {
	var page models.MemorialPage
	if err := s.db.WithContext(ctx).Select("id", "creator_id").First(&page, memorialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errs.Errorf(errs.NotFound, "memorial not found")
		}
		return 0, errs.Upstreamf(err, "load memorial %d", memorialID)
	}
	return page.CreatorID, nil
}

func (s *MemorialService) AddComment(ctx context.Context, actorID uint, slug, content string) (*models.MemorialComment, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	content, err := cleanText("comment", content, maxCommentLength)
	if err != nil {
		return nil, err
	}
	page, err := s.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	c := models.MemorialComment{MemorialID: page.ID, UserID: actorID, Content: content}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, errs.Upstreamf(err, "create memorial comment")
	}
	if err := s.db.WithContext(ctx).Preload("User").First(&c, c.ID).Error; err != nil {
		return nil, errs.Upstreamf(err, "reload memorial comment")
	}

	s.notes.Notify(ctx, page.CreatorID, actorID, models.NotificationTypeCommentMemorial, "commented on "+page.DisplayName, memorialLink(page.Slug))
	return &c, nil
}

func (s *MemorialService) ListComments(ctx context.Context, slug string) ([]models.MemorialComment, error) {
	page, err := s.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	var list []models.MemorialComment
	err = s.db.WithContext(ctx).Preload("User").
		Where("memorial_id = ?", page.ID).
		Order("created_at asc, id asc").
		Find(&list).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "list memorial comments")
	}
	return list, nil
}

// DeleteComment is allowed for the comment author and the page creator.
func (s *MemorialService) DeleteComment(ctx context.Context, actorID, commentID uint) error {
	if err := RequireActor(actorID); err != nil {
		return err
	}
	var c models.MemorialComment
	if err := s.db.WithContext(ctx).First(&c, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Errorf(errs.NotFound, "comment not found")
		}
		return errs.Upstreamf(err, "load memorial comment %d", commentID)
	}
	creatorID, err := s.creatorOf(ctx, c.MemorialID)
	if err != nil {
		return err
	}
	if err := RequireAnyOwner(actorID, c.UserID, creatorID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return DeleteWithDependents(tx, &models.MemorialComment{}, commentID)
	})
}

func memorialLink(slug string) string {
	return "/memorials/" + slug
}
