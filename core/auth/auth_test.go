package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("s3cret", "booth", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken("s3cret", token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Operator != "booth" || claims.Subject != "booth" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	valid, err := GenerateToken("s3cret", "booth", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := GenerateToken("s3cret", "booth", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		secret string
		token  string
		want   error
	}{
		{"wrong secret", "other", valid, ErrInvalidToken},
		{"expired", "s3cret", expired, ErrInvalidToken},
		{"garbage", "s3cret", "not.a.token", ErrInvalidToken},
		{"no secret", "", valid, ErrNoSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.secret, tt.token); !errors.Is(err, tt.want) {
				t.Errorf("ParseToken = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateTokenNeedsSecret(t *testing.T) {
	if _, err := GenerateToken("", "booth", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("GenerateToken without secret = %v", err)
	}
}
