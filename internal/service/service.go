package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"kudos-api/internal/auth"
	"kudos-api/internal/cache"
	"kudos-api/internal/clock"
	"kudos-api/internal/database"
	"kudos-api/internal/events"
	"kudos-api/internal/features"
	"kudos-api/internal/models"
	"kudos-api/internal/validation"
)

// DefaultStartingBalance is granted to every new user.
var DefaultStartingBalance = decimal.NewFromInt(100)

// Service provides the ledger and workflow operations.
type Service struct {
	db              *database.DB
	sink            events.Sink
	admins          auth.Capability
	clock           clock.Clock
	cache           cache.Cache
	cacheTTL        time.Duration
	boardsMu        sync.Mutex
	boardKeys       map[string]string // cache key -> generation
	features        *features.Manager
	logger          *zap.Logger
	startingBalance decimal.Decimal
}

// Option configures a Service.
type Option func(*Service)

// WithSink sets where notifications are emitted.
func WithSink(sink events.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithAdmins sets the admin capability.
func WithAdmins(admins auth.Capability) Option {
	return func(s *Service) { s.admins = admins }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCache sets the leaderboard cache and how long boards are kept.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithFeatures(f *features.Manager) Option {
	return func(s *Service) { s.features = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithStartingBalance(d decimal.Decimal) Option {
	return func(s *Service) { s.startingBalance = d }
}

// NewService creates a new service instance.
func NewService(db *database.DB, opts ...Option) *Service {
	s := &Service{
		db:              db,
		sink:            events.Discard{},
		admins:          auth.NewStaticAdmins(),
		clock:           clock.Real{},
		cache:           cache.NewInMemoryCache(),
		cacheTTL:        5 * time.Minute,
		logger:          zap.NewNop(),
		startingBalance: DefaultStartingBalance,
		boardKeys:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admins returns the admin capability in use.
func (s *Service) Admins() auth.Capability {
	return s.admins
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// GetOrCreateUser returns the user for accountID, creating it with the
// starting balance on first sight.
func (s *Service) GetOrCreateUser(ctx context.Context, accountID, username string) (models.User, error) {
	if err := validation.ValidateAccountID(accountID, "account_id"); err != nil {
		return models.User{}, err
	}
	username = strings.TrimPrefix(validation.SanitizeString(username), "@")

	user, created, err := s.db.GetOrCreateUser(ctx, accountID, username, s.startingBalance, s.clock.Now())
	if err != nil {
		return models.User{}, err
	}

	if created {
		s.logger.Info("ledger entry",
			zap.String("op", "mint"),
			zap.String("reason", "starting_balance"),
			zap.String("account_id", accountID),
			zap.String("amount", s.startingBalance.StringFixed(2)),
		)
		s.ledgerChanged(ctx)
	}
	return user, nil
}

// GetUser returns a user by account id.
func (s *Service) GetUser(ctx context.Context, accountID string) (models.User, error) {
	return s.db.GetUser(ctx, accountID)
}

// FindUserByUsername resolves a "@handle" to a user.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	username = strings.TrimPrefix(validation.SanitizeString(username), "@")
	if username == "" {
		return models.User{}, &validation.ValidationError{Field: "username", Message: "is required"}
	}
	return s.db.FindUserByUsername(ctx, username)
}

// GetBalance returns a user's balance.
func (s *Service) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return s.db.GetBalance(ctx, accountID)
}

// emit delivers notifications unless they are switched off.
func (s *Service) emit(ctx context.Context, evs ...events.Event) {
	if !s.features.IsEnabled(features.FeatureNotifications) {
		return
	}
	now := s.clock.Now()
	for _, ev := range evs {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		s.sink.Emit(ctx, ev)
	}
}

// displayName renders an account for notification text.
func (s *Service) displayName(ctx context.Context, accountID string) string {
	user, err := s.db.GetUser(ctx, accountID)
	if err != nil || user.Username == "" {
		return accountID
	}
	return "@" + user.Username
}

func formatPoints(d decimal.Decimal) string {
	return fmt.Sprintf("%s points", d.StringFixed(2))
}
