package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"memoria/internal/errs"
	"memoria/internal/events"
	"memoria/internal/models"
	"memoria/internal/utils"
)

// RelationKind names a toggleable edge between a user and a target.
type RelationKind string

const (
	KindFollow     RelationKind = "follow"
	KindLike       RelationKind = "like"
	KindBookmark   RelationKind = "bookmark"
	KindMemoryLike RelationKind = "memory_like"
	KindFlower     RelationKind = "flower"
)

// ToggleResult is the state after a toggle and the fresh count for the
// target.
type ToggleResult struct {
	Applied bool  `json:"applied"`
	Count   int64 `json:"count"`
}

type targetInfo struct {
	OwnerID uint
	Link    string
}

// relation describes the table backing one kind. Every table carries a
// unique index over (sourceCol, targetCol).
type relation struct {
	newRow     func(source, target uint) any
	sourceCol  string
	targetCol  string
	targetName string
	lookup     func(tx *gorm.DB, id uint) (targetInfo, error)
	notify     models.NotificationType
	message    string
}

var relations = map[RelationKind]relation{
	KindFollow: {
		newRow: func(s, t uint) any {
			return &models.Follow{FollowerID: s, FollowedID: t}
		},
		sourceCol:  "follower_id",
		targetCol:  "followed_id",
		targetName: "user",
		lookup: func(tx *gorm.DB, id uint) (targetInfo, error) {
			var u models.User
			if err := tx.Select("id", "username").First(&u, id).Error; err != nil {
				return targetInfo{}, err
			}
			return targetInfo{OwnerID: u.ID, Link: "/users/" + u.Username}, nil
		},
		notify:  models.NotificationTypeFollow,
		message: "started following you",
	},
	KindLike: {
		newRow: func(s, t uint) any {
			return &models.PostLike{UserID: s, PostID: t}
		},
		sourceCol:  "user_id",
		targetCol:  "post_id",
		targetName: "post",
		lookup:     lookupPost,
		notify:     models.NotificationTypeLikePost,
		message:    "liked your post",
	},
	KindBookmark: {
		newRow: func(s, t uint) any {
			return &models.PostBookmark{UserID: s, PostID: t}
		},
		sourceCol:  "user_id",
		targetCol:  "post_id",
		targetName: "post",
		lookup:     lookupPost,
	},
	KindMemoryLike: {
		newRow: func(s, t uint) any {
			return &models.MemoryLike{UserID: s, MemoryID: t}
		},
		sourceCol:  "user_id",
		targetCol:  "memory_id",
		targetName: "memory",
		lookup: func(tx *gorm.DB, id uint) (targetInfo, error) {
			var row struct {
				AuthorID uint
				Slug     string
			}
			err := tx.Table("memorial_memories").
				Select("memorial_memories.author_id, memorial_pages.slug").
				Joins("JOIN memorial_pages ON memorial_pages.id = memorial_memories.memorial_id").
				Where("memorial_memories.id = ?", id).
				Take(&row).Error
			if err != nil {
				return targetInfo{}, err
			}
			return targetInfo{OwnerID: row.AuthorID, Link: "/memorials/" + row.Slug}, nil
		},
		notify:  models.NotificationTypeLikeMemory,
		message: "liked your memory",
	},
	KindFlower: {
		newRow: func(s, t uint) any {
			return &models.Flower{UserID: s, MemorialID: t}
		},
		sourceCol:  "user_id",
		targetCol:  "memorial_id",
		targetName: "memorial",
		lookup: func(tx *gorm.DB, id uint) (targetInfo, error) {
			var p models.MemorialPage
			if err := tx.Select("id", "slug", "creator_id").First(&p, id).Error; err != nil {
				return targetInfo{}, err
			}
			return targetInfo{OwnerID: p.CreatorID, Link: "/memorials/" + p.Slug}, nil
		},
		notify:  models.NotificationTypeFlower,
		message: "left a flower on a memorial you created",
	},
}

func lookupPost(tx *gorm.DB, id uint) (targetInfo, error) {
	var p models.Post
	if err := tx.Select("id", "user_id").First(&p, id).Error; err != nil {
		return targetInfo{}, err
	}
	return targetInfo{OwnerID: p.UserID, Link: postLink(p.ID)}, nil
}

func relationFor(kind RelationKind) (relation, error) {
	rel, ok := relations[kind]
	if !ok {
		return relation{}, errs.Errorf(errs.Invalid, "unknown relationship kind %q", kind)
	}
	return rel, nil
}

// RelationService owns every follow, like, bookmark, memory-like and flower
// row.
type RelationService struct {
	db     *gorm.DB
	cache  *utils.CountCache
	notes  *NotificationService
	events *Dispatcher
	log    *slog.Logger
}

func NewRelationService(db *gorm.DB, cache *utils.CountCache, notes *NotificationService, dispatcher *Dispatcher, log *slog.Logger) *RelationService {
	return &RelationService{
		db:     db,
		cache:  cache,
		notes:  notes,
		events: dispatcher,
		log:    log.With("component", "relations"),
	}
}

// Toggle removes the (actor, target) edge if it exists and creates it
// otherwise. Delete-if-present and insert-if-absent run in one transaction
// against the unique index, so concurrent duplicate requests can never
// leave more than one row. An insert that loses the race to an identical
// concurrent insert is reported as applied.
func (s *RelationService) Toggle(ctx context.Context, actorID, targetID uint, kind RelationKind) (ToggleResult, error) {
	if err := RequireActor(actorID); err != nil {
		return ToggleResult{}, err
	}
	rel, err := relationFor(kind)
	if err != nil {
		return ToggleResult{}, err
	}
	if kind == KindFollow && actorID == targetID {
		return ToggleResult{}, errs.Errorf(errs.Invalid, "cannot follow yourself")
	}

	var (
		res     ToggleResult
		target  targetInfo
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := rel.lookup(tx, targetID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.Errorf(errs.NotFound, "%s not found", rel.targetName)
			}
			return errs.Upstreamf(err, "load %s %d", rel.targetName, targetID)
		}
		target = t

		del := tx.Where(rel.sourceCol+" = ? AND "+rel.targetCol+" = ?", actorID, targetID).
			Delete(rel.newRow(0, 0))
		if del.Error != nil {
			return errs.Upstreamf(del.Error, "delete %s", kind)
		}

		if del.RowsAffected == 0 {
			ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rel.newRow(actorID, targetID))
			if ins.Error != nil {
				return errs.Upstreamf(ins.Error, "insert %s", kind)
			}
			res.Applied = true
			created = ins.RowsAffected > 0
			if !created {
				s.log.Debug("toggle raced an identical insert", "kind", kind, "actor", actorID, "target", targetID)
			}
		}

		res.Count, err = s.count(tx, rel, targetID)
		return err
	})
	if err != nil {
		return ToggleResult{}, err
	}

	// Concurrent toggles may commit in any order, so the next Count re-reads
	// instead of trusting the count taken inside this transaction.
	s.cache.Delete(string(kind), targetID)

	if created && rel.notify != "" {
		s.notes.Notify(ctx, target.OwnerID, actorID, rel.notify, rel.message, target.Link)
	}
	s.events.Dispatch(events.SubjectRelationshipToggled, events.RelationshipToggled{
		Kind:     string(kind),
		ActorID:  actorID,
		TargetID: targetID,
		Applied:  res.Applied,
		Count:    res.Count,
		At:       time.Now().UTC(),
	})
	return res, nil
}

func (s *RelationService) count(tx *gorm.DB, rel relation, targetID uint) (int64, error) {
	var n int64
	err := tx.Model(rel.newRow(0, 0)).Where(rel.targetCol+" = ?", targetID).Count(&n).Error
	if err != nil {
		return 0, errs.Upstreamf(err, "count %s", rel.targetName)
	}
	return n, nil
}

// Count returns how many edges of kind point at target.
func (s *RelationService) Count(ctx context.Context, targetID uint, kind RelationKind) (int64, error) {
	rel, err := relationFor(kind)
	if err != nil {
		return 0, err
	}
	if n, ok := s.cache.Get(string(kind), targetID); ok {
		return n, nil
	}
	n, err := s.count(s.db.WithContext(ctx), rel, targetID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(string(kind), targetID, n)
	return n, nil
}

// Forget drops cached counts for a target that was deleted.
func (s *RelationService) Forget(targetID uint, kinds ...RelationKind) {
	for _, k := range kinds {
		s.cache.Delete(string(k), targetID)
	}
}

// IsApplied reports whether actor has an edge of kind to target. Anonymous
// actors never do.
func (s *RelationService) IsApplied(ctx context.Context, actorID, targetID uint, kind RelationKind) (bool, error) {
	if actorID == 0 {
		return false, nil
	}
	rel, err := relationFor(kind)
	if err != nil {
		return false, err
	}
	var n int64
	err = s.db.WithContext(ctx).Model(rel.newRow(0, 0)).
		Where(rel.sourceCol+" = ? AND "+rel.targetCol+" = ?", actorID, targetID).
		Count(&n).Error
	if err != nil {
		return false, errs.Upstreamf(err, "check %s", kind)
	}
	return n > 0, nil
}

// CountMany counts edges of kind for several targets in one query. Targets
// with no edges are absent from the map.
func (s *RelationService) CountMany(ctx context.Context, targetIDs []uint, kind RelationKind) (map[uint]int64, error) {
	rel, err := relationFor(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int64, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		TargetID uint
		N        int64
	}
	err = s.db.WithContext(ctx).Model(rel.newRow(0, 0)).
		Select(rel.targetCol+" AS target_id, COUNT(*) AS n").
		Where(rel.targetCol+" IN ?", targetIDs).
		Group(rel.targetCol).
		Scan(&rows).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "count %s", kind)
	}
	for _, r := range rows {
		out[r.TargetID] = r.N
	}
	return out, nil
}

// AppliedSet returns which of targetIDs the actor has an edge of kind to.
func (s *RelationService) AppliedSet(ctx context.Context, actorID uint, targetIDs []uint, kind RelationKind) (map[uint]bool, error) {
	rel, err := relationFor(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]bool)
	if actorID == 0 || len(targetIDs) == 0 {
		return out, nil
	}

	var ids []uint
	err = s.db.WithContext(ctx).Model(rel.newRow(0, 0)).
		Where(rel.sourceCol+" = ? AND "+rel.targetCol+" IN ?", actorID, targetIDs).
		Pluck(rel.targetCol, &ids).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "check %s", kind)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Sources lists who points at target, newest edge first.
func (s *RelationService) Sources(ctx context.Context, targetID uint, kind RelationKind) ([]uint, error) {
	rel, err := relationFor(kind)
	if err != nil {
		return nil, err
	}
	var ids []uint
	err = s.db.WithContext(ctx).Model(rel.newRow(0, 0)).
		Where(rel.targetCol+" = ?", targetID).
		Order("created_at desc, id desc").
		Pluck(rel.sourceCol, &ids).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "list %s sources", kind)
	}
	return ids, nil
}

// Targets lists what source points at, newest edge first.
func (s *RelationService) Targets(ctx context.Context, sourceID uint, kind RelationKind) ([]uint, error) {
	rel, err := relationFor(kind)
	if err != nil {
		return nil, err
	}
	var ids []uint
	err = s.db.WithContext(ctx).Model(rel.newRow(0, 0)).
		Where(rel.sourceCol+" = ?", sourceID).
		Order("created_at desc, id desc").
		Pluck(rel.targetCol, &ids).Error
	if err != nil {
		return nil, errs.Upstreamf(err, "list %s targets", kind)
	}
	return ids, nil
}
