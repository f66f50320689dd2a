package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/memory"
)

type fakeSessions struct {
	session *model.Session
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*model.Session, error) {
	if f.session != nil && f.session.ID == id {
		return f.session, nil
	}
	return nil, fmt.Errorf("not found")
}

func (f *fakeSessions) UpdateLastSeen(context.Context, string, time.Time) error { return nil }

func sign(secret []byte, method, path, body, timestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method + path + body + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

func setupAuth(t *testing.T) (http.Handler, []byte, string) {
	t.Helper()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand: %v", err)
	}
	store := memory.New()
	const sessionID = "sess-1"
	if err := store.SetSessionSecret(context.Background(), sessionID, base64.StdEncoding.EncodeToString(secret)); err != nil {
		t.Fatalf("store secret: %v", err)
	}
	sessions := &fakeSessions{session: &model.Session{ID: sessionID, UserHandle: "alice"}}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(GetUserHandle(r.Context())))
	})
	return SessionAuth(sessions, store)(inner), secret, sessionID
}

func TestSessionAuthAcceptsValidSignature(t *testing.T) {
	handler, secret, sessionID := setupAuth(t)

	body := `{"other_user_id":"u2"}`
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(body))
	req.Header.Set("X-Session-Id", sessionID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sign(secret, http.MethodPost, "/api/conversations", body, ts))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "alice" {
		t.Fatalf("resolved handle = %q, want alice", rec.Body.String())
	}
}

func TestSessionAuthAcceptsQueryParams(t *testing.T) {
	handler, secret, sessionID := setupAuth(t)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := sign(secret, http.MethodGet, "/api/ws", "", ts)
	req := httptest.NewRequest(http.MethodGet,
		"/api/ws?session_id="+sessionID+"&timestamp="+ts+"&signature="+sig, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSessionAuthRejectsBadSignature(t *testing.T) {
	handler, _, sessionID := setupAuth(t)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Session-Id", sessionID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", strings.Repeat("ab", 32))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSessionAuthRejectsStaleTimestamp(t *testing.T) {
	handler, secret, sessionID := setupAuth(t)

	ts := fmt.Sprintf("%d", time.Now().Add(-2*TimestampSkew).Unix())
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Session-Id", sessionID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sign(secret, http.MethodGet, "/api/users", "", ts))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSessionAuthRejectsMissingHeaders(t *testing.T) {
	handler, _, _ := setupAuth(t)
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSessionAuthRejectsUnknownSession(t *testing.T) {
	handler, secret, _ := setupAuth(t)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Session-Id", "sess-unknown")
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sign(secret, http.MethodGet, "/api/users", "", ts))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMaskSessionID(t *testing.T) {
	if got := MaskSessionID("abcdef123456"); got != "abcd***" {
		t.Fatalf("MaskSessionID = %q", got)
	}
	if got := MaskSessionID("ab"); got != "****" {
		t.Fatalf("short MaskSessionID = %q", got)
	}
}
