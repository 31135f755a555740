package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqlcoord/sessioncore/session"
)

func newTestRouter(t *testing.T, verifier Verifier) (*Router, *session.Directory) {
	t.Helper()
	dir := session.NewDirectory()
	r := New(Options{Directory: dir, Verifier: verifier})
	return r, dir
}

func (r *Router) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.engine.ServeHTTP(w, req)
	return w
}

func TestListSessionsEmpty(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := r.serve(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no sessions, got %d", len(got))
	}
}

func TestGetSessionFound(t *testing.T) {
	r, dir := newTestRouter(t, nil)
	s := session.New(session.Options{User: "alice", Directory: dir})
	defer s.Close()

	w := r.serve(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+s.ID().String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.User != "alice" {
		t.Fatalf("expected user alice, got %q", got.User)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := r.serve(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/00000000-0000-0000-0000-000000000000", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestKillSessionRequiresAuthWhenVerifierSet(t *testing.T) {
	r, dir := newTestRouter(t, fakeVerifier{err: errUnauthorized})
	s := session.New(session.Options{Directory: dir})
	defer func() {
		if _, found := dir.Get(s.ID()); found {
			s.Close()
		}
	}()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+s.ID().String(), nil)
	w := r.serve(req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", w.Code)
	}
}

func TestKillSessionSucceedsWithValidToken(t *testing.T) {
	r, dir := newTestRouter(t, fakeVerifier{})
	s := session.New(session.Options{Directory: dir})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+s.ID().String(), nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := r.serve(req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, found := dir.Get(s.ID()); found {
		t.Fatalf("expected session removed from directory after kill")
	}
}

type fakeVerifier struct{ err error }

func (f fakeVerifier) Verify(token string) error { return f.err }

var errUnauthorized = fakeError("invalid token")

type fakeError string

func (e fakeError) Error() string { return string(e) }
