package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sidequest/api/internal/auth"
	"sidequest/api/internal/authpw"
	"sidequest/api/internal/config"
	"sidequest/api/internal/imageprobe"
	"sidequest/api/internal/rbac"
	"sidequest/api/internal/store"
	"sidequest/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Admin        bool
	ContentOps   bool
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the document-store surface the service depends on. The
// Postgres adapter implements it; tests substitute a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	GetQuest(ctx context.Context, questID string) (store.Quest, error)
	ListQuests(ctx context.Context, filter store.QuestFilter) ([]store.Quest, error)
	CreateQuest(ctx context.Context, questID string, content store.QuestContent, createdBy string) (store.Quest, error)
	UpdateQuestContent(ctx context.Context, questID string, content store.QuestContent, updatedBy string) (store.Quest, error)
	SetQuestState(ctx context.Context, questID, state, updatedBy string) (store.Quest, error)
	DuplicateQuest(ctx context.Context, sourceID, newID, createdBy string) (store.Quest, error)
	ListQuestVersions(ctx context.Context, questID string) ([]store.QuestVersion, error)
	GetQuestVersion(ctx context.Context, questID, version string) (store.QuestVersion, error)

	GetVariant(ctx context.Context, variantID string) (store.MentorVariant, error)
	ListVariants(ctx context.Context) ([]store.MentorVariant, error)
	CreateVariant(ctx context.Context, v store.MentorVariant) (store.MentorVariant, error)
	UpdateVariant(ctx context.Context, variantID string, patch store.VariantPatch) (store.MentorVariant, error)
	DeleteVariant(ctx context.Context, variantID string) error
	PublishVariant(ctx context.Context, variantID string, makeActive bool, updatedBy string) (store.MentorVariant, error)
	GetMentorConfig(ctx context.Context) (store.MentorConfig, error)
	EnsureMentorConfig(ctx context.Context) error
	UpdateMentorConfig(ctx context.Context, patch store.ConfigPatch) (store.MentorConfig, error)

	InsertRun(ctx context.Context, run store.Run) error
	ForEachRun(ctx context.Context, fn func(store.Run) error) error
	ReplaceStats(ctx context.Context, stats []store.QuestStats, summary store.StatsSummary) error
	GetQuestStats(ctx context.Context, questID string) (store.QuestStats, error)
	ListQuestStats(ctx context.Context) ([]store.QuestStats, error)
	GetStatsSummary(ctx context.Context) (store.StatsSummary, error)
}

// refreshStore is the optional fast path for refresh tokens (Redis). When
// unset, refresh sessions live in the document store.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type imageProbe interface {
	Probe(ctx context.Context, imageURL string) (width, height int, err error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	probe    imageProbe
}

func New(cfg config.Config, dataStore *store.PostgresStore, probe *imageprobe.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		authpw: authpw.NewService(dataStore),
		probe:  probe,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, probe *imageprobe.Service) *Service {
	service := New(cfg, dataStore, probe)
	service.sessions = sessions
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

// Bootstrap seeds the mentor config singleton and, when configured, the
// first admin account. Safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.EnsureMentorConfig(ctx); err != nil {
		return err
	}
	if s.cfg.BootstrapPassword == "" {
		return nil
	}
	if _, err := s.store.GetUserByEmail(ctx, s.cfg.BootstrapEmail); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return s.authpw.CreateAccount(ctx, store.User{
		ID:          util.NewID("usr"),
		Email:       s.cfg.BootstrapEmail,
		DisplayName: s.cfg.BootstrapName,
		Admin:       true,
	}, s.cfg.BootstrapPassword)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var userID string
	if s.sessions != nil {
		userID, _ = s.sessions.LookupRefreshSession(ctx, tokenHash)
	} else {
		user, err := s.store.LookupRefreshSession(ctx, tokenHash)
		if err == nil {
			userID = user.ID
		}
	}
	if userID == "" {
		return Session{}, auth.ErrInvalidToken
	}

	if err := s.revokeRefresh(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.revokeRefresh(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	if session.JTI != "" {
		return s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:        user.ID,
		Name:       user.DisplayName,
		Admin:      user.Admin,
		ContentOps: user.ContentOps,
		JTI:        jti,
		Exp:        expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	tokenHash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, tokenHash, user.ID, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, tokenHash, user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Admin:        user.Admin,
		ContentOps:   user.ContentOps,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		UserID:     claims.Sub,
		UserName:   claims.Name,
		Admin:      claims.Admin,
		ContentOps: claims.ContentOps,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(session Session, action rbac.Action) bool {
	return rbac.Can(rbac.Grants{Admin: session.Admin, ContentOps: session.ContentOps}, action)
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoTimeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return isoTime(*t)
}
