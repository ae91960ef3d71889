// Package account handles registration, login and profile pictures.
package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/apperr"
	"liveclass/internal/auth"
	"liveclass/internal/cloudinary"
	"liveclass/internal/model"
	"liveclass/internal/store"
)

var (
	ErrMissingFields      = apperr.New(apperr.KindInvalidInput, "missing_fields", "Name, email, password and role are required")
	ErrInvalidEmail       = apperr.New(apperr.KindInvalidInput, "invalid_email", "Email address is not valid")
	ErrInvalidRole        = apperr.New(apperr.KindInvalidInput, "invalid_role", "Role must be TEACHER or STUDENT")
	ErrUserExists         = apperr.New(apperr.KindInvalidInput, "user_exists", "User already exists")
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthenticated, "invalid_credentials", "Invalid Credentials")
	ErrUnauthenticated    = apperr.New(apperr.KindUnauthenticated, "unauthenticated", "Unauthorized")
	ErrEmptyImage         = apperr.New(apperr.KindInvalidInput, "image_required", "An image file or data URL is required")
	ErrAvatarsDisabled    = apperr.New(apperr.KindUnavailable, "image_storage_unavailable", "Image storage not configured")
	ErrUploadFailed       = apperr.New(apperr.KindBadGateway, "image_upload_failed", "Image upload failed")
	ErrInternal           = apperr.New(apperr.KindInternal, "internal", "Internal server error")
)

// UserStore persists accounts. Lookups return nil, nil when nothing matches.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetProfilePicture(ctx context.Context, userID, url string) error
}

// AvatarUploader stores an image and returns its public URL. *cloudinary.Client satisfies it.
type AvatarUploader interface {
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
	UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// TokenConfig controls session credentials.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	TTL        time.Duration
}

// Service implements account operations.
type Service struct {
	users   UserStore
	avatars AvatarUploader
	tokens  TokenConfig
	logger  *zap.Logger
}

// NewService wires the service. avatars may be nil to disable uploads.
func NewService(users UserStore, avatars AvatarUploader, tokens TokenConfig, logger *zap.Logger) *Service {
	if tokens.TTL <= 0 {
		tokens.TTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, avatars: avatars, tokens: tokens, logger: logger}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     model.Role
}

// Session is an authenticated user with a fresh credential.
type Session struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" || in.Role == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	role := model.Role(strings.ToUpper(string(in.Role)))
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, s.internal("lookup user", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, s.internal("hash password", err)
	}
	u := &model.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, s.internal("create user", err)
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return s.signIn(u)
}

// Login verifies credentials. Unknown emails and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, s.internal("lookup user", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.signIn(u)
}

// Me returns the caller.
func (s *Service) Me(caller *model.User) (*model.User, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	return caller, nil
}

// Image is an avatar upload: either raw bytes with a filename or a data URL.
type Image struct {
	Data     []byte
	Filename string
	DataURL  string
}

// AvatarsEnabled reports whether an uploader is configured.
func (s *Service) AvatarsEnabled() bool { return s.avatars != nil }

// SetProfilePicture uploads img and stores its URL on the caller.
func (s *Service) SetProfilePicture(ctx context.Context, caller *model.User, img Image) (*model.User, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	if s.avatars == nil {
		return nil, ErrAvatarsDisabled
	}
	var (
		res *cloudinary.UploadResult
		err error
	)
	switch {
	case len(img.Data) > 0:
		filename := img.Filename
		if filename == "" {
			filename = caller.ID
		}
		res, err = s.avatars.UploadBytes(ctx, img.Data, filename)
	case strings.TrimSpace(img.DataURL) != "":
		res, err = s.avatars.UploadBase64(ctx, img.DataURL)
	default:
		return nil, ErrEmptyImage
	}
	if err != nil {
		s.logger.Error("avatar upload failed", zap.String("user_id", caller.ID), zap.Error(err))
		return nil, ErrUploadFailed.Wrap(err)
	}
	if err := s.users.SetProfilePicture(ctx, caller.ID, res.SecureURL); err != nil {
		return nil, s.internal("set profile picture", err)
	}
	updated := *caller
	updated.ProfilePicture = &res.SecureURL
	return &updated, nil
}

func (s *Service) signIn(u *model.User) (*Session, error) {
	tok, err := auth.Issue(u.ID, string(u.Role), s.tokens.Issuer, s.tokens.SigningKey, s.tokens.TTL)
	if err != nil {
		return nil, s.internal("issue token", err)
	}
	return &Session{User: u, Token: tok.Value}, nil
}

func (s *Service) internal(op string, err error) error {
	s.logger.Error("account operation failed", zap.String("op", op), zap.Error(err))
	return ErrInternal.Wrap(err)
}
