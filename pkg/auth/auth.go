package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/prototype"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

var (
	// ErrUnauthenticated is returned for missing or expired sessions and
	// bad credentials.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when a submitter's bound prototype does
	// not cover an artifact's network.
	ErrForbidden = errors.New("forbidden")

	// ErrPrototypeMissing is returned when no active prototype exists
	// for an artifact's network.
	ErrPrototypeMissing = errors.New("no active prototype for network")

	// ErrPrototypeConflictEnd is returned when an artifact's network end
	// date contradicts the active prototype.
	ErrPrototypeConflictEnd = errors.New("network end date conflicts with prototype")

	// ErrPrototypeConflictRestricted is returned when an artifact's
	// restricted flag contradicts the active prototype.
	ErrPrototypeConflictRestricted = errors.New("network restricted status conflicts with prototype")
)

// Service authenticates users and authorizes artifacts against network
// prototypes.
type Service struct {
	store      storage.Store
	registry   *prototype.Registry
	sessionTTL time.Duration
	logger     zerolog.Logger
}

// NewService creates an auth service.
func NewService(store storage.Store, registry *prototype.Registry, sessionTTL time.Duration) *Service {
	return &Service{
		store:      store,
		registry:   registry,
		sessionTTL: sessionTTL,
		logger:     log.WithComponent("auth"),
	}
}

// CreateUser registers a user with a bcrypt-hashed password. Operators
// carry the single network prototype they may submit for.
func (s *Service) CreateUser(username, password string, role types.Role, proto *types.Network) (*types.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if role == types.RoleOperator && proto == nil {
		return nil, fmt.Errorf("operators require a bound network prototype")
	}

	if _, err := s.store.GetUserByUsername(username); err == nil {
		return nil, fmt.Errorf("user %s already exists", username)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Prototype:    proto,
		Created:      time.Now().UTC(),
	}
	if err := s.store.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login exchanges credentials for a session.
func (s *Service) Login(username, password string) (*types.Session, error) {
	user, err := s.store.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, ErrUnauthenticated
	}

	now := time.Now().UTC()
	session := &types.Session{
		Token:   uuid.New().String(),
		UserID:  user.ID,
		Created: now,
		Expires: now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(session); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user", username).Msg("session created")
	return session, nil
}

// Logout invalidates a session token.
func (s *Service) Logout(token string) error {
	return s.store.DeleteSession(token)
}

// UserForToken resolves a session token to its user. Expired sessions
// are removed on lookup.
func (s *Service) UserForToken(token string) (*types.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	session, err := s.store.GetSession(token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if time.Now().After(session.Expires) {
		_ = s.store.DeleteSession(token)
		return nil, ErrUnauthenticated
	}
	return s.store.GetUser(session.UserID)
}

// Authorize checks a submitter against one artifact from a split
// submission. Admins may submit for any network; operators only for
// their bound prototype, and the artifact's end date and restricted
// flag must match the active prototype.
func (s *Service) Authorize(user *types.User, artifact *stationxml.Artifact) error {
	if user.Role == types.RoleAdmin {
		return nil
	}

	if user.Prototype == nil || user.Prototype.Key() != artifact.Network.Key() {
		return ErrForbidden
	}

	active, err := s.registry.Active(artifact.Network.Code, artifact.Network.Start)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrPrototypeMissing
		}
		return err
	}
	return CheckPrototype(artifact.Network, artifact.Restricted, active)
}

// CheckPrototype verifies an artifact's network attributes against the
// active prototype. It is shared by the authorization gate at intake and
// the daemon's re-validation step.
func CheckPrototype(network types.Network, restricted bool, proto *types.Prototype) error {
	if !equalEnd(network.End, proto.Network.End) {
		return ErrPrototypeConflictEnd
	}
	if restricted != proto.Restricted {
		return ErrPrototypeConflictRestricted
	}
	return nil
}

func equalEnd(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
