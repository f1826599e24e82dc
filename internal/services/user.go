package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vidstream/apiserver/internal/events"
	"github.com/vidstream/apiserver/internal/store"
	"github.com/vidstream/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRefreshToken(ctx context.Context, id, token string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateAvatar(ctx context.Context, id, avatarURL string) error
}

// RegisterInput carries the fields required to create an account. The avatar
// and cover paths point at local temporary files owned by the caller.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// UserService implements the account and session lifecycle: registration,
// login, refresh-token rotation, logout, and profile mutations. The refresh
// token is stored in a single slot on the user record, so each user has at
// most one active session; issuing a new pair invalidates the previous
// refresh token even before its signed expiry.
type UserService struct {
	repo       UserRepository
	tokens     *TokenService
	uploader   Uploader
	publisher  *events.Publisher
	bcryptCost int
	logger     *slog.Logger
}

// NewUserService constructs a UserService. publisher may be nil to disable
// account events; a bcryptCost of 0 selects bcrypt.DefaultCost.
func NewUserService(
	repo UserRepository,
	tokens *TokenService,
	uploader Uploader,
	publisher *events.Publisher,
	bcryptCost int,
	logger *slog.Logger,
) *UserService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		repo:       repo,
		tokens:     tokens,
		uploader:   uploader,
		publisher:  publisher,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Register creates a new account. The avatar is required; the cover image is
// optional and its upload failure is tolerated. Username and email are
// stored lowercase.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (types.User, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.FullName == "" || input.Email == "" || input.Username == "" || input.Password == "" {
		return types.User{}, fmt.Errorf("%w: all fields are required", ErrValidation)
	}
	if input.AvatarPath == "" {
		return types.User{}, fmt.Errorf("%w: avatar file is required", ErrValidation)
	}

	for _, identifier := range []string{input.Username, input.Email} {
		if _, err := s.repo.GetByIdentifier(ctx, identifier); err == nil {
			return types.User{}, fmt.Errorf("%w: user with email or username already exists", ErrConflict)
		} else if !errors.Is(err, store.ErrNotFound) {
			return types.User{}, err
		}
	}

	passwordHash, err := s.hashPassword(input.Password)
	if err != nil {
		return types.User{}, err
	}

	avatarURL, err := s.uploader.Upload(ctx, input.AvatarPath)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: avatar", ErrUploadFailed)
	}

	var coverImageURL string
	if input.CoverImagePath != "" {
		coverImageURL, err = s.uploader.Upload(ctx, input.CoverImagePath)
		if err != nil {
			// Optional asset; registration proceeds without it.
			s.logger.Warn("cover image upload failed", "error", err)
			coverImageURL = ""
		}
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:      input.Username,
		Email:         input.Email,
		FullName:      input.FullName,
		AvatarURL:     avatarURL,
		CoverImageURL: coverImageURL,
		PasswordHash:  passwordHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fmt.Errorf("%w: user with email or username already exists", ErrConflict)
		}
		return types.User{}, err
	}

	s.publish(ctx, events.UserRegistered, user)
	return user.Sanitized(), nil
}

// Login verifies credentials and starts a session. The identifier matches
// either username or email; a lookup miss yields one message that does not
// reveal which of the two was wrong.
func (s *UserService) Login(ctx context.Context, identifier, password string) (types.User, string, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return types.User{}, "", "", fmt.Errorf("%w: username or email and password are required", ErrValidation)
	}

	user, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, "", "", ErrNotFound
		}
		return types.User{}, "", "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return types.User{}, "", "", ErrInvalidCredentials
	}

	access, refresh, err := s.issuePair(ctx, user)
	if err != nil {
		return types.User{}, "", "", err
	}
	return user.Sanitized(), access, refresh, nil
}

// Refresh exchanges a valid refresh token for a new pair, rotating the
// stored slot. The presented token must verify and exactly match the slot;
// a mismatch means it was already rotated away or the user logged out.
func (s *UserService) Refresh(ctx context.Context, presented string) (string, string, error) {
	if strings.TrimSpace(presented) == "" {
		return "", "", ErrUnauthorized
	}

	userID, err := s.tokens.VerifyRefreshToken(presented)
	if err != nil {
		s.logger.Info("refresh token rejected", "reason", err)
		return "", "", ErrInvalidToken
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrInvalidToken
		}
		return "", "", err
	}

	if user.RefreshToken == "" || user.RefreshToken != presented {
		return "", "", ErrTokenRevoked
	}

	return s.issuePair(ctx, user)
}

// Logout clears the user's refresh-token slot. Idempotent; logging out a
// user with no active session succeeds.
func (s *UserService) Logout(ctx context.Context, userID string) error {
	err := s.repo.UpdateRefreshToken(ctx, userID, "")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	s.publish(ctx, events.UserLoggedOut, types.User{ID: userID})
	return nil
}

// ChangePassword verifies the old password and stores a hash of the new one.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrValidation)
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}

	passwordHash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return err
	}

	s.publish(ctx, events.PasswordChanged, user)
	return nil
}

// UpdateAvatar uploads a replacement avatar and persists its hosted URL.
func (s *UserService) UpdateAvatar(ctx context.Context, userID, localPath string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}

	avatarURL, err := s.uploader.Upload(ctx, localPath)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: avatar", ErrUploadFailed)
	}
	if err := s.repo.UpdateAvatar(ctx, userID, avatarURL); err != nil {
		return types.User{}, err
	}

	user.AvatarURL = avatarURL
	s.publish(ctx, events.AvatarUpdated, user)
	return user.Sanitized(), nil
}

// GetByID returns the sanitized user with the given ID.
func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user.Sanitized(), nil
}

// issuePair mints a fresh access/refresh pair and overwrites the stored
// refresh-token slot. Concurrent calls for the same user are last-writer-wins.
func (s *UserService) issuePair(ctx context.Context, user types.User) (string, string, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return "", "", err
	}
	if err := s.repo.UpdateRefreshToken(ctx, user.ID, refresh); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// hashPassword is the only place plaintext passwords are transformed; it is
// called from Register and ChangePassword and never from generic updates.
func (s *UserService) hashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *UserService) publish(ctx context.Context, name string, user types.User) {
	if s.publisher == nil {
		return
	}
	event := events.AccountEvent{
		Event:    name,
		UserID:   user.ID,
		Username: user.Username,
	}
	if _, err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("account event publish failed", "event", name, "error", err)
	}
}
