package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/models"
	"memoria/internal/storage"
	"memoria/internal/utils"
)

const (
	minPasswordLength = 6
	maxBioChars       = 200
	maxDisplayName    = 64
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

type SignUpInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// ProfileUpdate changes only the fields that are set.
type ProfileUpdate struct {
	Username    *string
	DisplayName *string
	Bio         *string
}

// Profile is a user as seen by the viewer.
type Profile struct {
	models.User
	BioHTML        string `json:"bio_html"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	PostCount      int64  `json:"post_count"`
	MemorialCount  int64  `json:"memorial_count"`
	Following      bool   `json:"following"`
}

type UserService struct {
	db        *gorm.DB
	relations *RelationService
	posts     *PostService
	media     mediaStore
	log       *slog.Logger
}

func NewUserService(db *gorm.DB, relations *RelationService, posts *PostService, media mediaStore, log *slog.Logger) *UserService {
	return &UserService{
		db:        db,
		relations: relations,
		posts:     posts,
		media:     media,
		log:       log.With("component", "users"),
	}
}

func validUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !usernamePattern.MatchString(name) {
		return "", errs.Errorf(errs.Invalid, "username must be 3-32 letters, digits or underscores")
	}
	return name, nil
}

// SignUp creates an account with a bcrypt-hashed password.
func (s *UserService) SignUp(ctx context.Context, in SignUpInput) (*models.User, error) {
	username, err := validUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if at := strings.Index(email, "@"); at < 1 || at == len(email)-1 {
		return nil, errs.Errorf(errs.Invalid, "invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, errs.Errorf(errs.Invalid, "password must be at least %d characters", minPasswordLength)
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = username
	}
	if utf8.RuneCountInString(display) > maxDisplayName {
		return nil, errs.Errorf(errs.Invalid, "display name must be at most %d characters", maxDisplayName)
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, errs.Upstreamf(err, "hash password")
	}
	user := models.User{
		Username:    username,
		Email:       email,
		Password:    hash,
		DisplayName: display,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.Errorf(errs.Invalid, "username or email already registered")
		}
		return nil, errs.Upstreamf(err, "create user")
	}
	s.log.Info("user signed up", "user", user.ID)
	return &user, nil
}

// SignIn checks credentials. login may be the email or the username.
func (s *UserService) SignIn(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ? OR username = ?", strings.ToLower(login), login).
		First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Upstreamf(err, "load user")
	}
	if err != nil || !utils.CheckPasswordHash(password, user.Password) {
		return nil, errs.Errorf(errs.Unauthenticated, "invalid email or password")
	}
	return &user, nil
}

// Get loads a user by id; used to resolve the session actor.
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.NotFound, "user not found")
		}
		return nil, errs.Upstreamf(err, "load user %d", id)
	}
	return &user, nil
}

func (s *UserService) ByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.NotFound, "user not found")
		}
		return nil, errs.Upstreamf(err, "load user %q", username)
	}
	return &user, nil
}

// Profile returns the public profile with counters.
func (s *UserService) Profile(ctx context.Context, actorID uint, username string) (*Profile, error) {
	user, err := s.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	p := Profile{User: *user, BioHTML: utils.RenderMarkdown(user.Bio)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.FollowerCount, err = s.relations.Count(gctx, user.ID, KindFollow)
		return err
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.Follow{}).Where("follower_id = ?", user.ID).Count(&p.FollowingCount).Error
		return errs.Wrap(errs.Upstream, err, "count following")
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.Post{}).Where("user_id = ?", user.ID).Count(&p.PostCount).Error
		return errs.Wrap(errs.Upstream, err, "count posts")
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.MemorialPage{}).Where("creator_id = ?", user.ID).Count(&p.MemorialCount).Error
		return errs.Wrap(errs.Upstream, err, "count memorials")
	})
	g.Go(func() (err error) {
		p.Following, err = s.relations.IsApplied(gctx, actorID, user.ID, KindFollow)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile edits the actor's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, actorID uint, in ProfileUpdate) (*models.User, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Username != nil {
		name, err := validUsername(*in.Username)
		if err != nil {
			return nil, err
		}
		updates["username"] = name
	}
	if in.DisplayName != nil {
		name, err := cleanText("display name", *in.DisplayName, maxDisplayName)
		if err != nil {
			return nil, err
		}
		updates["display_name"] = name
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > maxBioChars {
			return nil, errs.Errorf(errs.Invalid, "bio must be at most %d characters", maxBioChars)
		}
		updates["bio"] = bio
	}

	if len(updates) > 0 {
		err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", actorID).Updates(updates).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.Errorf(errs.Invalid, "username already taken")
		}
		if err != nil {
			return nil, errs.Upstreamf(err, "update user %d", actorID)
		}
	}
	return s.Get(ctx, actorID)
}

// SetAvatar replaces the actor's avatar, compensating on failure like
// MemorialService.SetAvatar.
func (s *UserService) SetAvatar(ctx context.Context, actorID uint, up *storage.Upload) (*models.User, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	if up == nil {
		return nil, errs.Errorf(errs.Invalid, "image required")
	}
	user, err := s.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}

	obj, err := s.media.put(ctx, "avatars", actorID, up)
	if err != nil {
		return nil, err
	}
	// Updates writes the new key back into user
	oldKey := user.AvatarKey

	err = s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"avatar_url": obj.URL,
		"avatar_key": obj.Key,
	}).Error
	if err != nil {
		s.media.discard(ctx, obj.Key)
		return nil, errs.Upstreamf(err, "update avatar")
	}
	s.media.discard(ctx, oldKey)
	return s.Get(ctx, actorID)
}

// SetPremium flips the premium flag. Payment is handled elsewhere; this is
// the manual switch used by operators.
func (s *UserService) SetPremium(ctx context.Context, username string, premium bool) (*models.User, error) {
	user, err := s.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("premium", premium).Error; err != nil {
		return nil, errs.Upstreamf(err, "update premium flag")
	}
	return user, nil
}

func (s *UserService) Followers(ctx context.Context, username string) ([]models.User, error) {
	user, err := s.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	ids, err := s.relations.Sources(ctx, user.ID, KindFollow)
	if err != nil {
		return nil, err
	}
	return s.byIDs(ctx, ids)
}

func (s *UserService) Following(ctx context.Context, username string) ([]models.User, error) {
	user, err := s.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	ids, err := s.relations.Targets(ctx, user.ID, KindFollow)
	if err != nil {
		return nil, err
	}
	return s.byIDs(ctx, ids)
}

// Bookmarks lists the actor's bookmarked posts, most recently bookmarked
// first. Bookmarks are private.
func (s *UserService) Bookmarks(ctx context.Context, actorID uint) ([]PostView, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	ids, err := s.relations.Targets(ctx, actorID, KindBookmark)
	if err != nil {
		return nil, err
	}
	return s.posts.ByIDs(ctx, actorID, ids)
}

func (s *UserService) byIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	var rows []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errs.Upstreamf(err, "load users")
	}
	byID := make(map[uint]models.User, len(rows))
	for _, u := range rows {
		byID[u.ID] = u
	}
	out := make([]models.User, 0, len(rows))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
