package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/marginalia/internal/marginalia"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/testutil"
)

func testServer(t *testing.T, docs map[string]string) (*Server, storage.Provider) {
	t.Helper()
	store := testutil.MemVault(t, docs)
	db := testutil.TestDB(t)
	svc := marginalia.New(store, testutil.Logger(),
		marginalia.WithReviewStore(db.Reviews()),
		marginalia.WithStatsStore(db))
	return New(svc), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"search_annotations": srv.searchAnnotations,
		"list_flashcards":    srv.listFlashcards,
		"get_backlinks":      srv.getBacklinks,
		"stitch_annotations": srv.stitchAnnotations,
		"grade_card":         srv.gradeCard,
		"due_cards":          srv.dueCards,
		"capture_annotation": srv.captureAnnotation,
		"upload_asset":       srv.uploadAsset,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
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

func TestSearchAnnotations(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"a.md": "%%> ocean tides %%"})

	r := callTool(t, srv, "search_annotations", map[string]any{"query": "tides"})
	if r.IsError || !strings.Contains(resultText(r), `"document": "a.md"`) {
		t.Errorf("search result = %q", resultText(r))
	}

	r = callTool(t, srv, "search_annotations", map[string]any{"query": "volcano"})
	if resultText(r) != "no annotations found" {
		t.Errorf("empty search = %q", resultText(r))
	}

	r = callTool(t, srv, "search_annotations", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing query")
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"D1.md": "%%> idea %% ^ab12cd",
		"D2.md": "%%> see [[D1#^ab12cd]] %%",
	})

	r := callTool(t, srv, "get_backlinks", map[string]any{"key": "ab12cd"})
	if got := resultText(r); got != "D2.md:1 see" {
		t.Errorf("backlinks = %q", got)
	}

	r = callTool(t, srv, "get_backlinks", map[string]any{"key": "missing"})
	if !r.IsError {
		t.Error("expected error for unknown key")
	}
}

func TestStitchAnnotations_Confirmation(t *testing.T) {
	srv, store := testServer(t, map[string]string{
		"s.md": "%%> one %%\n%%> two %%",
		"t.md": "%%> target %% ^tgt1",
	})

	args := map[string]any{"sources": "s.md-0, s.md-1", "targets": "tgt1"}
	r := callTool(t, srv, "stitch_annotations", args)
	if !r.IsError || !strings.Contains(resultText(r), "confirmation required") {
		t.Fatalf("unconfirmed = %q", resultText(r))
	}

	args["confirm"] = true
	r = callTool(t, srv, "stitch_annotations", args)
	if r.IsError {
		t.Fatalf("confirmed = %q", resultText(r))
	}
	var report struct {
		Linked int `json:"linked"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatal(err)
	}
	if report.Linked != 2 {
		t.Errorf("linked = %d, want 2", report.Linked)
	}

	data, err := store.Read("s.md")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "[[t#^tgt1]]") != 2 {
		t.Errorf("s.md = %q", data)
	}
}

func TestGradeAndDueCards(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"a.md": "%%> q1;; %% ^q1"})

	r := callTool(t, srv, "list_flashcards", nil)
	if !strings.Contains(resultText(r), `"class": "never reviewed"`) {
		t.Errorf("flashcards = %q", resultText(r))
	}

	r = callTool(t, srv, "grade_card", map[string]any{"id": "q1", "grade": "easy"})
	if r.IsError {
		t.Fatalf("grade = %q", resultText(r))
	}

	r = callTool(t, srv, "due_cards", nil)
	if resultText(r) != "nothing due" {
		t.Errorf("due after grading = %q", resultText(r))
	}

	r = callTool(t, srv, "grade_card", map[string]any{"id": "q1", "grade": "perfect"})
	if !r.IsError {
		t.Error("expected error for invalid grade")
	}
}

func TestCaptureAnnotation(t *testing.T) {
	srv, store := testServer(t, nil)

	r := callTool(t, srv, "capture_annotation", map[string]any{
		"note":        "check this",
		"context":     "page 12",
		"destination": "Reading",
	})
	if r.IsError {
		t.Fatalf("capture = %q", resultText(r))
	}
	data, err := store.Read("Reading.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "page 12%%> check this%%") {
		t.Errorf("Reading.md = %q", data)
	}
}

func TestUploadAsset_DataURI(t *testing.T) {
	srv, store := testServer(t, nil)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake")
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	r := callTool(t, srv, "upload_asset", map[string]any{"url": uri, "filename": "sketch.png"})
	if r.IsError {
		t.Fatalf("upload = %q", resultText(r))
	}
	var res uploadResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.SavedPath != "attachments/sketch.png" || res.Annotation != "%%> img:[[sketch.png]]%%" {
		t.Errorf("result = %+v", res)
	}
	if _, err := store.Read("attachments/sketch.png"); err != nil {
		t.Errorf("attachment not stored: %v", err)
	}
}

func TestUploadAsset_Rejects(t *testing.T) {
	srv, _ := testServer(t, nil)
	for _, uri := range []string{
		"data:text/plain;base64,aGVsbG8=",
		"http://127.0.0.1/x.png",
		"ftp://example.com/x.png",
	} {
		if r := callTool(t, srv, "upload_asset", map[string]any{"url": uri}); !r.IsError {
			t.Errorf("%s: expected error", uri)
		}
	}
}

func TestSyntaxResource(t *testing.T) {
	srv, _ := testServer(t, nil)
	contents, err := srv.readSyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != syntaxURI || !strings.Contains(tc.Text, ";;") {
		t.Errorf("resource = %+v", contents[0])
	}
}
