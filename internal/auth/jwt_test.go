package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc := NewJWTService("s3cret", time.Hour)

	token, issued, err := svc.Generate("DOC-001", RoleDoctor)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.SubjectID != "DOC-001" || claims.Role != RoleDoctor || claims.ID != issued.ID {
		t.Errorf("claims = %+v", claims)
	}

	ctx := WithClaims(context.Background(), claims)
	if got, ok := FromContext(ctx); !ok || got.SubjectID != "DOC-001" {
		t.Errorf("FromContext = %+v, %v", got, ok)
	}
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("s3cret", time.Hour)
	token, _, err := svc.Generate("DOC-001", RoleDoctor)
	if err != nil {
		t.Fatal(err)
	}

	other := NewJWTService("different", time.Hour)
	if _, err := other.Validate(token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("wrong secret: err = %v", err)
	}

	expired := NewJWTService("s3cret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Generate("DOC-001", RoleDoctor)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Validate(old); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expired: err = %v", err)
	}

	if _, err := svc.Validate("not-a-token"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("garbage: err = %v", err)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context has an identity")
	}
}
