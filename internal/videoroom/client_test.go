package videoroom

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/livekit"
)

const (
	testKey    = "APIdevkey"
	testSecret = "0123456789abcdef0123456789abcdef"
)

func parseGrant(t *testing.T, token string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return claims
}

func TestMintTokenCarriesGrantAndIdentity(t *testing.T) {
	c := New("http://localhost:7880", testKey, testSecret)
	token, err := c.MintToken(TokenRequest{
		Identity: `{"userId":"s1"}`,
		Name:     "Student One",
		Metadata: `{"userId":"s1","isTeacher":false}`,
		Grant:    Grant{Room: "session-abc", CanPublish: false, CanSubscribe: true, CanPublishData: true},
	})
	if err != nil {
		t.Fatalf("mint error: %v", err)
	}

	claims := parseGrant(t, token)
	if claims["iss"] != testKey {
		t.Fatalf("expected issuer %s, got %v", testKey, claims["iss"])
	}
	if claims["sub"] != `{"userId":"s1"}` {
		t.Fatalf("unexpected identity %v", claims["sub"])
	}
	if claims["name"] != "Student One" {
		t.Fatalf("unexpected name %v", claims["name"])
	}
	video, ok := claims["video"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing video grant: %v", claims)
	}
	if video["room"] != "session-abc" || video["roomJoin"] != true {
		t.Fatalf("unexpected room grant %v", video)
	}
	if video["canPublish"] != false || video["canSubscribe"] != true || video["canPublishData"] != true {
		t.Fatalf("unexpected capabilities %v", video)
	}
}

func TestMintTokenHonoursTTL(t *testing.T) {
	c := New("http://localhost:7880", testKey, testSecret)
	token, err := c.MintToken(TokenRequest{
		Identity: "teacher",
		Grant:    Grant{Room: "session-abc", CanPublish: true, CanSubscribe: true, CanPublishData: true},
		TTL:      5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("mint error: %v", err)
	}
	claims := parseGrant(t, token)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		t.Fatalf("missing exp: %v", err)
	}
	if d := time.Until(exp.Time); d > 5*time.Minute+time.Second || d < 4*time.Minute {
		t.Fatalf("expected ~5m validity, got %s", d)
	}
}

func TestMintTokenRequiresIdentity(t *testing.T) {
	c := New("http://localhost:7880", testKey, testSecret)
	if _, err := c.MintToken(TokenRequest{Grant: Grant{Room: "r"}}); err == nil {
		t.Fatalf("expected error without identity")
	}
}

func TestFromProto(t *testing.T) {
	r := fromProto(&livekit.Room{
		Name:            "session-1",
		Sid:             "RM_x",
		EmptyTimeout:    600,
		MaxParticipants: 100,
		NumParticipants: 3,
		CreationTime:    1700000000,
	})
	if r.EmptyTimeout != 10*time.Minute {
		t.Fatalf("expected 10m empty timeout, got %s", r.EmptyTimeout)
	}
	if r.CreationTime.Unix() != 1700000000 || r.NumParticipants != 3 {
		t.Fatalf("unexpected conversion %+v", r)
	}
}

func TestFromProtoWithoutCreationTime(t *testing.T) {
	r := fromProto(&livekit.Room{Name: "session-1"})
	if !r.CreationTime.IsZero() {
		t.Fatalf("expected zero creation time, got %s", r.CreationTime)
	}
}
