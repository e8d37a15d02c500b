package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/auth"
)

type fakeSessions struct{ active map[string]bool }

func (f *fakeSessions) Create(_ context.Context, c *auth.Claims) error {
	f.active[c.ID] = true
	return nil
}

func (f *fakeSessions) Active(_ context.Context, id string) (bool, error) { return f.active[id], nil }

func (f *fakeSessions) Revoke(_ context.Context, id string) error {
	delete(f.active, id)
	return nil
}

func TestSessionAuth(t *testing.T) {
	tokens := auth.NewJWTService("s3cret", time.Hour)
	sessions := &fakeSessions{active: map[string]bool{}}
	token, claims, err := tokens.Generate("DOC-001", auth.RoleDoctor)
	if err != nil {
		t.Fatal(err)
	}
	sessions.Create(context.Background(), claims)

	var subject string
	h := SessionAuth(tokens, sessions, "jwt", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = GetSubjectID(r.Context())
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: token}) }, http.StatusOK},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && subject != "DOC-001" {
				t.Errorf("subject = %q", subject)
			}
		})
	}

	sessions.Revoke(context.Background(), claims.ID)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked session: status = %d", rec.Code)
	}
}

func TestRecoverReturnsGenericError(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body != "{\"error\":\"internal server error\"}\n" {
		t.Errorf("body = %q", body)
	}
}
