package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/taskdeck/internal/model"
)

// mockSessionFinder はSessionFinderのモック実装。
type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

var _ SessionFinder = (*mockSessionFinder)(nil)

// nextSpy は後続ハンドラーが実行されたかどうかを記録する。
type nextSpy struct {
	called bool
	userID string
	err    error
}

func (s *nextSpy) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.called = true
		s.userID, s.err = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddleware_ValidSession_InjectsUserID(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "sess-abc" {
				t.Errorf("session id = %q, want sess-abc", id)
			}
			return &model.Session{
				ID:        id,
				UserID:    "user-123",
				ExpiresAt: time.Now().Add(1 * time.Hour),
			}, nil
		},
	}

	spy := &nextSpy{}
	mw := NewSessionMiddleware(finder)(spy.handler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-abc"})
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !spy.called {
		t.Fatal("expected next handler to be called")
	}
	if spy.err != nil {
		t.Fatalf("UserIDFromContext returned error: %v", spy.err)
	}
	if spy.userID != "user-123" {
		t.Errorf("userID in context = %q, want user-123", spy.userID)
	}
}

func TestSessionMiddleware_NoCookie_ReturnsUnauthorized(t *testing.T) {
	spy := &nextSpy{}
	mw := NewSessionMiddleware(&mockSessionFinder{})(spy.handler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, req)

	assertUnauthorizedBody(t, w)
	if spy.called {
		t.Error("next handler should not be called without a cookie")
	}
}

func TestSessionMiddleware_EmptyCookie_ReturnsUnauthorized(t *testing.T) {
	spy := &nextSpy{}
	mw := NewSessionMiddleware(&mockSessionFinder{})(spy.handler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: ""})
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, req)

	assertUnauthorizedBody(t, w)
	if spy.called {
		t.Error("next handler should not be called with an empty cookie")
	}
}

func TestSessionMiddleware_SessionNotFound_ReturnsUnauthorized(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil
		},
	}

	spy := &nextSpy{}
	mw := NewSessionMiddleware(finder)(spy.handler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "expired-or-unknown"})
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, req)

	assertUnauthorizedBody(t, w)
	if spy.called {
		t.Error("next handler should not be called for an unknown session")
	}
}

func TestSessionMiddleware_StoreError_ReturnsUnauthorized(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}

	spy := &nextSpy{}
	mw := NewSessionMiddleware(finder)(spy.handler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-abc"})
	w := httptest.NewRecorder()

	mw.ServeHTTP(w, req)

	assertUnauthorizedBody(t, w)
	if spy.called {
		t.Error("next handler should not be called when the store fails")
	}
}

// assertUnauthorizedBody は401ステータスと統一エラーフォーマットを検証する。
func assertUnauthorizedBody(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeUnauthorized {
		t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
	}
}

func TestUserIDFromContext_MissingValue_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for a context without a user ID")
	}
}

func TestContextWithUserID_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-999")

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-999" {
		t.Errorf("userID = %q, want user-999", userID)
	}
}
