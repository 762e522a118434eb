package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/testutil"
)

// testEnv sets up a temp vault, catalog, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*noteservice.Service, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*noteservice.Service, http.Handler) {
	t.Helper()
	env := testutil.NewEnv(t)
	svc := noteservice.NewService(env.Store, env.Notes, env.Catalog)
	return svc, NewRouter(svc, authEnabled, authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func create(t *testing.T, router http.Handler, path, content string) NoteDetail {
	t.Helper()
	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": path, "content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s = %d, body = %s", path, w.Code, w.Body.String())
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	return note
}

func refresh(t *testing.T, router http.Handler) int {
	t.Helper()
	w := do(t, router, http.MethodPost, "/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RefreshResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Notes
}

func TestCreateAndGetNote(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "hello.md", "# Hello\nWorld")

	w := do(t, router, http.MethodGet, "/notes/hello.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if note.Path != "hello.md" {
		t.Errorf("path = %q", note.Path)
	}
	if note.Title != "Hello" {
		t.Errorf("title = %q, want Hello", note.Title)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+note.Checksum+`"` {
		t.Errorf("ETag = %q", etag)
	}
}

func TestGetNote_EncodedSlash(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "topics/deep.md", "# Deep")

	w := do(t, router, http.MethodGet, "/notes/topics%2Fdeep.md", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded get = %d", w.Code)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "dup.md", "a")

	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": "dup.md", "content": "a"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateUnsupportedPath(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/notes", map[string]string{"path": "image.png", "content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unsupported create = %d, want 400", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router := testEnv(t, "")
	created := create(t, router, "lock.md", "v1")

	updateBody, _ := json.Marshal(map[string]string{"content": "v2"})
	req := httptest.NewRequest(http.MethodPut, "/notes/lock.md", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", `"`+created.Checksum+`"`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update with correct checksum = %d, body = %s", w.Code, w.Body.String())
	}

	// Stale checksum now.
	req = httptest.NewRequest(http.MethodPut, "/notes/lock.md", bytes.NewReader(updateBody))
	req.Header.Set("If-Match", created.Checksum)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("update with stale checksum = %d, want 409", w.Code)
	}
}

func TestUpdateWithoutIfMatch(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "nolock.md", "v1")

	w := do(t, router, http.MethodPut, "/notes/nolock.md", map[string]string{"content": "v2"})
	if w.Code != http.StatusOK {
		t.Errorf("update without If-Match = %d, want 200", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "bye.md", "gone")

	if w := do(t, router, http.MethodDelete, "/notes/bye.md", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/notes/bye.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/notes/bye.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestMoveNote(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "inbox/idea.md", "# Idea")
	create(t, router, "taken.md", "x")

	w := do(t, router, http.MethodPost, "/notes/move", map[string]string{"from": "inbox/idea.md", "to": "taken.md"})
	if w.Code != http.StatusConflict {
		t.Errorf("move onto existing = %d, want 409", w.Code)
	}
	w = do(t, router, http.MethodPost, "/notes/move", map[string]string{"from": "inbox/idea.md", "to": "projects/idea.md"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/notes/projects/idea.md", nil); w.Code != http.StatusOK {
		t.Errorf("get moved = %d", w.Code)
	}
	w = do(t, router, http.MethodPost, "/notes/move", map[string]string{"from": "ghost.md", "to": "x.md"})
	if w.Code != http.StatusNotFound {
		t.Errorf("move missing = %d, want 404", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	_, router := testEnv(t, "")
	for _, name := range []string{"a.md", "b.md"} {
		create(t, router, name, "# "+name)
	}
	if n := refresh(t, router); n != 2 {
		t.Fatalf("refresh = %d notes, want 2", n)
	}

	w := do(t, router, http.MethodGet, "/notes?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Notes) != 2 || resp.Notes[0].Path != "a.md" {
		t.Errorf("list = %+v", resp)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "find.md", "uniquetoken here")
	refresh(t, router)

	w := do(t, router, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Path != "find.md" {
		t.Errorf("search results = %+v, want 1 hit", resp.Results)
	}
}

func TestBacklinksEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	create(t, router, "a.md", "links to [[b]]")
	create(t, router, "c.md", "links to [[b|Bee]]")
	create(t, router, "b.md", "target")
	refresh(t, router)

	w := do(t, router, http.MethodGet, "/backlinks/b.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks = %d", w.Code)
	}
	var resp BacklinksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Backlinks) != 2 || resp.Backlinks[0] != "a.md" || resp.Backlinks[1] != "c.md" {
		t.Errorf("backlinks = %+v", resp)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"path": "auth.md", "content": "test"})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/notes", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	_, router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/notes?access_token=secret123", nil); w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/notes?access_token=nope", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad query token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/notes", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/notes/nope.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing note = %d, want 404", w.Code)
	}
}

func TestUpdateNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodPut, "/notes/ghost.md", map[string]string{"content": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d, want 404", w.Code)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestUnavailableWithoutVault(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := noteservice.NewService(nil, env.Notes, env.Catalog)
	router := NewRouter(svc, false, "", nil)
	if w := do(t, router, http.MethodGet, "/notes/a.md", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no vault = %d, want 503", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes stream headers and blocks until the client goes away.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvFull(t, true, "secret", blockingSSE)
	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	_, router := testEnvFull(t, false, "", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvFull(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
