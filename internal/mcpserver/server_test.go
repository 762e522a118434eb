package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/testutil"
)

func testServer(t *testing.T) (*Server, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t)
	svc := noteservice.NewService(env.Store, env.Notes, env.Catalog)
	return New(svc, "test"), env
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "get_note_contract":
		result, err = srv.getNoteContract(ctx, req)
	case "refresh_index":
		result, err = srv.refreshIndex(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadNote(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"path":    "test.md",
		"content": "# Test\nHello",
	})
	if text := resultText(r); text != "created: test.md" {
		t.Errorf("create result = %q", text)
	}

	// Not yet reconciled into the index; read falls through to disk.
	r = callTool(t, srv, "read_note", map[string]interface{}{"path": "test.md"})
	if text := resultText(r); text != "# Test\nHello" {
		t.Errorf("read result = %q", text)
	}

	r = callTool(t, srv, "create_note", map[string]interface{}{
		"path":    "test.md",
		"content": "again",
	})
	if !r.IsError {
		t.Error("expected error for duplicate note")
	}
}

func TestCreateNote_NotANotePath(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "create_note", map[string]interface{}{
		"path":    "image.png",
		"content": "x",
	})
	if !r.IsError {
		t.Fatal("expected error for unsupported path")
	}
	if !strings.Contains(resultText(r), "not a note path") {
		t.Errorf("error = %q", resultText(r))
	}
}

func TestListNotes(t *testing.T) {
	srv, env := testServer(t)
	testutil.WriteFile(t, env.Dir, "a.md", "a")
	testutil.WriteFile(t, env.Dir, "b.md", "b")
	testutil.WriteFile(t, env.Dir, "sub/c.md", "c")
	testutil.WriteFile(t, env.Dir, "sub/skip.txt", "x")

	r := callTool(t, srv, "refresh_index", map[string]interface{}{})
	if text := resultText(r); text != "indexed 3 notes" {
		t.Errorf("refresh = %q", text)
	}

	r = callTool(t, srv, "list_notes", map[string]interface{}{})
	if text := resultText(r); text != "a.md\nb.md\nsub/c.md" {
		t.Errorf("list = %q", text)
	}

	r = callTool(t, srv, "list_notes", map[string]interface{}{"folder": "sub"})
	if text := resultText(r); text != "sub/c.md" {
		t.Errorf("list sub = %q", text)
	}

	r = callTool(t, srv, "list_notes", map[string]interface{}{"folder": "nope"})
	if text := resultText(r); text != "no notes found" {
		t.Errorf("list nope = %q", text)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, env := testServer(t)
	_ = callTool(t, srv, "create_note", map[string]interface{}{
		"path":    "a.md",
		"content": "links to [[b]]",
	})
	env.Refresh(t)

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"path": "b"})
	if text := resultText(r); text != "a.md" {
		t.Errorf("backlinks = %q, want a.md", text)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"path": "zzz"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestSearchNotes(t *testing.T) {
	srv, env := testServer(t)
	testutil.WriteFile(t, env.Dir, "go.md", "---\ntitle: Go Notes\n---\nGoroutines and channels")
	env.Refresh(t)

	r := callTool(t, srv, "search_notes", map[string]interface{}{"query": "Goroutines"})
	if r.IsError {
		t.Fatalf("search error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "go.md") {
		t.Errorf("search = %q", resultText(r))
	}

	r = callTool(t, srv, "search_notes", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error without query")
	}
}

func TestGetNoteContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_note_contract", map[string]interface{}{})
	if text := resultText(r); text != NoteFormatContract {
		t.Error("contract text mismatch")
	}

	res, err := srv.readNoteFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("resources = %d", len(res))
	}
	tc, ok := res[0].(mcp.TextResourceContents)
	if !ok || tc.URI != contractURI {
		t.Errorf("resource = %#v", res[0])
	}
}

func TestNoteFormatContract_DescribesIndexing(t *testing.T) {
	for _, want := range []string{"**/*.md", "identified by its path", "first level-1 heading", "code blocks", "rename"} {
		if !strings.Contains(NoteFormatContract, want) {
			t.Errorf("contract missing %q", want)
		}
	}
	for _, stale := range []string{"graph", "sidebar", "MUST follow"} {
		if strings.Contains(NoteFormatContract, stale) {
			t.Errorf("contract still mentions %q", stale)
		}
	}
}
