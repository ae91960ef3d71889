package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveclass/internal/auth"
	"liveclass/internal/classroom/classroomtest"
	"liveclass/internal/cloudinary"
	"liveclass/internal/model"
)

type stubUploader struct {
	fail     bool
	gotBytes []byte
	gotURL   string
}

func (s *stubUploader) UploadBase64(_ context.Context, data string) (*cloudinary.UploadResult, error) {
	if s.fail {
		return nil, errors.New("cloudinary down")
	}
	s.gotURL = data
	return &cloudinary.UploadResult{SecureURL: "https://cdn.example.com/b64.png"}, nil
}

func (s *stubUploader) UploadBytes(_ context.Context, data []byte, _ string) (*cloudinary.UploadResult, error) {
	if s.fail {
		return nil, errors.New("cloudinary down")
	}
	s.gotBytes = data
	return &cloudinary.UploadResult{SecureURL: "https://cdn.example.com/file.png"}, nil
}

var testTokens = TokenConfig{Issuer: "liveclass", SigningKey: "secret", TTL: time.Hour}

func TestRegisterAndLogin(t *testing.T) {
	users := classroomtest.NewStore()
	svc := NewService(users, nil, testTokens, nil)
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterInput{Name: "Ada", Email: "  Ada@Example.com ", Password: "hunter22", Role: "student"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.User.Email != "ada@example.com" || sess.User.Role != model.RoleStudent || sess.User.PasswordHash == "hunter22" {
		t.Fatalf("unexpected user %+v", sess.User)
	}
	claims, err := auth.Parse(sess.Token, "secret", "liveclass")
	if err != nil || claims.Subject != sess.User.ID || claims.Role != "STUDENT" {
		t.Fatalf("unexpected token claims %+v err=%v", claims, err)
	}

	if _, err := svc.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: "x", Role: model.RoleStudent}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected user exists, got %v", err)
	}

	if _, err := svc.Login(ctx, "ADA@example.com", "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(classroomtest.NewStore(), nil, testTokens, nil)
	ctx := context.Background()
	cases := []struct {
		in   RegisterInput
		want error
	}{
		{RegisterInput{Email: "a@b.c", Password: "p", Role: model.RoleTeacher}, ErrMissingFields},
		{RegisterInput{Name: "A", Email: "not-an-email", Password: "p", Role: model.RoleTeacher}, ErrInvalidEmail},
		{RegisterInput{Name: "A", Email: "a@b.c", Password: "p", Role: "ADMIN"}, ErrInvalidRole},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("input %+v: expected %v, got %v", tc.in, tc.want, err)
		}
	}
}

func TestSetProfilePicture(t *testing.T) {
	users := classroomtest.NewStore()
	u := users.AddUser(model.User{Name: "Ada", Email: "ada@example.com", Role: model.RoleStudent})
	ctx := context.Background()

	if _, err := NewService(users, nil, testTokens, nil).SetProfilePicture(ctx, u, Image{DataURL: "data:x"}); !errors.Is(err, ErrAvatarsDisabled) {
		t.Fatalf("expected avatars disabled, got %v", err)
	}

	up := &stubUploader{}
	svc := NewService(users, up, testTokens, nil)
	if _, err := svc.SetProfilePicture(ctx, u, Image{}); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected empty image, got %v", err)
	}
	updated, err := svc.SetProfilePicture(ctx, u, Image{Data: []byte{0x89, 0x50}, Filename: "me.png"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if updated.ProfilePicture == nil || *updated.ProfilePicture != "https://cdn.example.com/file.png" {
		t.Fatalf("unexpected profile picture %v", updated.ProfilePicture)
	}
	stored, _ := users.GetUserByID(ctx, u.ID)
	if stored.ProfilePicture == nil || *stored.ProfilePicture != "https://cdn.example.com/file.png" {
		t.Fatalf("profile picture not stored: %+v", stored)
	}

	up.fail = true
	if _, err := svc.SetProfilePicture(ctx, u, Image{DataURL: "data:image/png;base64,AAAA"}); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected upload failure, got %v", err)
	}
}
