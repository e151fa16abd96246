package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/internal/events"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
	"github.com/samber/oops"
)

const (
	// MaxUsernameLength bounds usernames, counted in runes.
	MaxUsernameLength = 64

	// MaxPasswordBytes is the longest password accepted; bcrypt ignores
	// anything past 72 bytes, so longer inputs are rejected for every scheme.
	MaxPasswordBytes = 72
)

// CredentialStore persists user records. Create must enforce username
// uniqueness atomically and report violations as store.ErrDuplicateUsername;
// lookups report missing users as store.ErrNotFound.
type CredentialStore interface {
	Create(ctx context.Context, username, passwordHash string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByID(ctx context.Context, id string) (types.User, error)
}

// Options tunes the Service.
type Options struct {
	// TokenTTL is the session token lifetime; zero issues tokens that never expire.
	TokenTTL time.Duration
	// HashWorkers bounds concurrent hashing; zero selects runtime.NumCPU().
	HashWorkers int
	// PasswordMinLength is the minimum password length in runes; values below 1 are treated as 1.
	PasswordMinLength int
}

// Session is the result of a successful register or login.
type Session struct {
	User  types.PublicUser `json:"user"`
	Token string           `json:"token"`
}

// Service implements registration, login and session restoration on top of
// a CredentialStore, a PasswordHasher and a TokenCodec. It holds no
// per-session state and is safe for concurrent use.
type Service struct {
	store     CredentialStore
	hashes    *HashPool
	codec     *TokenCodec
	publisher events.Publisher
	logger    logging.Logger
	opts      Options
	dummyHash string
	now       func() time.Time
}

// NewService creates a Service. publisher and logger may be nil.
func NewService(
	credentials CredentialStore,
	hasher PasswordHasher,
	codec *TokenCodec,
	publisher events.Publisher,
	logger logging.Logger,
	opts Options,
) (*Service, error) {
	if credentials == nil || hasher == nil || codec == nil {
		return nil, errors.New("auth: store, hasher and codec are required")
	}
	if opts.TokenTTL < 0 {
		return nil, fmt.Errorf("auth: negative token ttl %s", opts.TokenTTL)
	}
	if opts.PasswordMinLength < 1 {
		opts.PasswordMinLength = 1
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	// Unknown usernames are verified against this hash so that a failed
	// lookup costs as much as a wrong password.
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").With("operation", "hash dummy password").Wrap(err)
	}

	return &Service{
		store:     credentials,
		hashes:    NewHashPool(hasher, opts.HashWorkers),
		codec:     codec,
		publisher: publisher,
		logger:    logger.With("component", "auth"),
		opts:      opts,
		dummyHash: dummyHash,
		now:       time.Now,
	}, nil
}

// Register creates an account and returns it together with a fresh session token.
func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if err := s.validate(username, password); err != nil {
		return Session{}, err
	}

	hash, err := s.hashes.Hash(ctx, password)
	if err != nil {
		return Session{}, oops.Code("REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := s.store.Create(ctx, username, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			s.logger.Info(ctx, "registration rejected", "username", username, "reason", "duplicate username")
			return Session{}, ErrDuplicateUsername
		}
		return Session{}, oops.Code("REGISTER_FAILED").
			With("operation", "create user").
			With("username", username).
			Wrap(err)
	}

	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	s.publish(ctx, events.UserRegistered, user)
	return session, nil
}

// Login authenticates a username/password pair. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)

	// Names registration would reject are never looked up.
	user, lookupErr := types.User{}, store.ErrNotFound
	if validUsername(username) {
		user, lookupErr = s.store.GetByUsername(ctx, username)
	}
	targetHash := s.dummyHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, store.ErrNotFound) {
			return Session{}, oops.Code("LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Registration never accepts passwords this long, so they cannot match.
	candidate := password
	if len(candidate) > MaxPasswordBytes {
		candidate = candidate[:MaxPasswordBytes]
		targetHash, userExists = s.dummyHash, false
	}

	valid, err := s.hashes.Verify(ctx, candidate, targetHash)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Session{}, ctxErr
		}
		if !userExists {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, oops.Code("LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(err)
	}

	if !userExists || !valid {
		s.logger.Info(ctx, "login rejected", "username", username)
		return Session{}, ErrInvalidCredentials
	}

	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	s.publish(ctx, events.UserLoggedIn, user)
	return session, nil
}

// RestoreSession resolves a session token to its user. An empty token yields
// ErrNoToken; any token that cannot be trusted, including one whose user no
// longer exists, yields an error matching ErrInvalidToken.
func (s *Service) RestoreSession(ctx context.Context, token string) (types.PublicUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.PublicUser{}, ErrNoToken
	}

	claims, err := s.codec.Decode(token)
	if err != nil {
		s.logger.Debug(ctx, "session token rejected", "reason", err.Error())
		return types.PublicUser{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := s.store.GetByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info(ctx, "session token for missing user", "user_id", claims.SubjectID)
			return types.PublicUser{}, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		return types.PublicUser{}, oops.Code("RESTORE_SESSION_FAILED").
			With("operation", "get user by id").
			With("user_id", claims.SubjectID).
			Wrap(err)
	}

	return user.Public(), nil
}

func (s *Service) validate(username, password string) error {
	switch {
	case username == "":
		return fmt.Errorf("%w: username is required", ErrValidation)
	case !validUsername(username):
		return fmt.Errorf("%w: username must be valid UTF-8 without control characters", ErrValidation)
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		return fmt.Errorf("%w: username must be at most %d characters", ErrValidation, MaxUsernameLength)
	case password == "":
		return fmt.Errorf("%w: password is required", ErrValidation)
	case len(password) > MaxPasswordBytes:
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidation, MaxPasswordBytes)
	case utf8.RuneCountInString(password) < s.opts.PasswordMinLength:
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, s.opts.PasswordMinLength)
	}
	return nil
}

func validUsername(username string) bool {
	return utf8.ValidString(username) && strings.IndexFunc(username, unicode.IsControl) < 0
}

func (s *Service) issue(user types.User) (Session, error) {
	now := s.now()
	claims := Claims{
		SubjectID: user.ID,
		TokenID:   uuid.NewString(),
		IssuedAt:  now,
	}
	if s.opts.TokenTTL > 0 {
		claims.ExpiresAt = now.Add(s.opts.TokenTTL)
	}

	token, err := s.codec.Encode(claims)
	if err != nil {
		return Session{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("user_id", user.ID).
			Wrap(err)
	}
	return Session{User: user.Public(), Token: token}, nil
}

func (s *Service) publish(ctx context.Context, eventType events.Type, user types.User) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		UserID:     user.ID,
		Username:   user.Username,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn(ctx, "event publish failed", "event_type", string(eventType), "user_id", user.ID, "error", err)
	}
}
