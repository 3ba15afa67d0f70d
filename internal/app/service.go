package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stackd/api/internal/auth"
	"stackd/api/internal/authpw"
	"stackd/api/internal/booking"
	"stackd/api/internal/catalog"
	"stackd/api/internal/config"
	"stackd/api/internal/media"
	"stackd/api/internal/rbac"
	"stackd/api/internal/search"
	"stackd/api/internal/store"
	"stackd/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	ListAll(context.Context, catalog.Schema) ([]store.ContentItem, error)
	ListPage(context.Context, catalog.Schema, int, int) ([]store.ContentItem, int, error)
	GetContent(context.Context, catalog.Schema, string) (store.ContentItem, error)
	InsertContent(context.Context, catalog.Schema, store.ContentItem) error
	UpdateContent(context.Context, catalog.Schema, store.ContentItem) error
	UpdateRankingIndex(context.Context, catalog.Schema, string, float64) error
	DeleteContent(context.Context, catalog.Schema, string) error
	GetAdminByID(context.Context, string) (store.AdminUser, error)
	Ping(context.Context) error
}

// sessionStore holds refresh tokens and revoked access tokens. Both the
// Postgres store and session.RedisStore satisfy it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.AdminUser, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type imageStore interface {
	Upload(ctx context.Context, prefix, filename, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, publicURL string) error
}

type contentIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexContent(catalog.Schema, store.ContentItem)
	DeleteContent(collection, id string)
}

type bookingService interface {
	ParseDate(string) (time.Time, error)
	AvailableSlots(context.Context, time.Time) ([]time.Time, error)
	Create(ctx context.Context, name, email string, start time.Time) (booking.Booking, error)
}

type credentialChecker interface {
	SignIn(ctx context.Context, email, password string) (store.AdminUser, error)
}

type adminBootstrapper interface {
	EnsureAdmin(ctx context.Context, email, password string) (store.AdminUser, error)
}

// Deps are the collaborators of Service. Sessions defaults to Store and
// Booking may be nil when calendar credentials are missing.
type Deps struct {
	Store    *store.PostgresStore
	Sessions sessionStore
	Media    *media.Store
	Search   *search.Service
	Booking  *booking.Service
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	media    imageStore
	index    contentIndex
	booking  bookingService
	signIn   credentialChecker
	admins   adminBootstrapper
	logger   *zap.Logger
	now      func() time.Time

	reorderMu    sync.Mutex
	reorderLocks map[string]*sync.Mutex
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	passwords := authpw.NewService(deps.Store)
	svc := &Service{
		cfg:          cfg,
		store:        deps.Store,
		sessions:     deps.Store,
		signIn:       passwords,
		admins:       passwords,
		logger:       logger,
		now:          time.Now,
		reorderLocks: make(map[string]*sync.Mutex),
	}
	if deps.Sessions != nil {
		svc.sessions = deps.Sessions
	}
	if deps.Media != nil {
		svc.media = deps.Media
	}
	if deps.Search != nil {
		svc.index = deps.Search
	}
	if deps.Booking != nil {
		svc.booking = deps.Booking
	}
	return svc
}

// Bootstrap creates or refreshes the configured admin account.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		s.logger.Warn("no bootstrap admin configured")
		return nil
	}
	admin, err := s.admins.EnsureAdmin(ctx, s.cfg.AdminEmail, s.cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	s.logger.Info("admin account ready", zap.String("email", admin.Email))
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.signIn.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrMissingCredentials) {
			return Session{}, errInvalidCredentials
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetAdminByID(ctx, owner.ID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.AdminUser) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetAdminByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.String("jti", session.JTI), zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if q.Collection != "" {
		if _, ok := catalog.SchemaFor(q.Collection); !ok {
			return search.Response{}, unknownCollection(q.Collection)
		}
	}
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.index.Search(ctx, q), nil
}

func (s *Service) BookingEnabled() bool {
	return s.booking != nil
}

func (s *Service) AvailableSlots(ctx context.Context, date string) ([]time.Time, error) {
	if s.booking == nil {
		return nil, errBookingUnavailable
	}
	day, err := s.booking.ParseDate(date)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}
	return s.booking.AvailableSlots(ctx, day)
}

func (s *Service) CreateBooking(ctx context.Context, name, email string, start time.Time) (booking.Booking, error) {
	if s.booking == nil {
		return booking.Booking{}, errBookingUnavailable
	}
	created, err := s.booking.Create(ctx, name, email, start)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrMissingFields),
			errors.Is(err, booking.ErrInvalidEmail),
			errors.Is(err, booking.ErrPastStart):
			return booking.Booking{}, validationError(err.Error(), nil)
		}
		return booking.Booking{}, err
	}
	s.logger.Info("booking created", zap.String("event_id", created.EventID), zap.Time("start", created.StartTime))
	return created, nil
}
