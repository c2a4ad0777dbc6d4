package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

type fakeTool struct {
	name    string
	version string
	params  map[string]interface{}
	execute func(ctx context.Context, args map[string]interface{}) (ToolResult, error)
}

func (f *fakeTool) Info() ToolInfo {
	return ToolInfo{Name: f.name, Version: f.version, Parameters: f.params}
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, args)
	}
	return ToolResult{Content: "ok"}, nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(nil, nil)
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Execute(context.Background(), "no_such_tool", nil)
	if KindOf(err) != KindUnknownTool {
		t.Errorf("KindOf(err) = %s, want %s", KindOf(err), KindUnknownTool)
	}
}

func TestRegistry_SchemaValidation(t *testing.T) {
	r := testRegistry(t)
	r.Register(&fakeTool{
		name:    "echo",
		version: "1",
		params: objectSchema(map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		}, "text"),
	})

	// Missing required argument.
	_, err := r.Execute(context.Background(), "echo", map[string]interface{}{})
	if KindOf(err) != KindInvalidArgs {
		t.Errorf("missing arg: kind = %s, want %s", KindOf(err), KindInvalidArgs)
	}

	// Wrong type.
	_, err = r.Execute(context.Background(), "echo", map[string]interface{}{"text": 42})
	if KindOf(err) != KindInvalidArgs {
		t.Errorf("wrong type: kind = %s, want %s", KindOf(err), KindInvalidArgs)
	}

	// Valid arguments pass through.
	if _, err := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"}); err != nil {
		t.Errorf("valid args: error = %v", err)
	}
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := testRegistry(t)

	a := &fakeTool{name: "t", version: "1"}
	if err := r.Register(a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	// Same version re-registration is a no-op.
	if err := r.Register(&fakeTool{name: "t", version: "1"}); err != nil {
		t.Errorf("same-version Register() error = %v", err)
	}
	// New version replaces.
	if err := r.Register(&fakeTool{name: "t", version: "2"}); err != nil {
		t.Errorf("new-version Register() error = %v", err)
	}
	infos := r.List()
	if len(infos) != 1 || infos[0].Version != "2" {
		t.Errorf("List() = %+v, want single tool at version 2", infos)
	}
}

func TestRegistry_DeadlineBecomesTimeout(t *testing.T) {
	r := testRegistry(t)
	r.Register(&fakeTool{
		name:    "slow",
		version: "1",
		execute: func(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
			<-ctx.Done()
			return ToolResult{}, ctx.Err()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, "slow", nil)
	if KindOf(err) != KindToolTimeout {
		t.Errorf("kind = %s, want %s", KindOf(err), KindToolTimeout)
	}
}

func TestRegistry_DefinitionsAllowlist(t *testing.T) {
	r := testRegistry(t)
	r.Register(&fakeTool{name: "b", version: "1"})
	r.Register(&fakeTool{name: "a", version: "1"})

	defs := r.Definitions(nil)
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Errorf("Definitions(nil) = %v, want [a b]", defs)
	}

	defs = r.Definitions([]string{"b", "missing"})
	if len(defs) != 1 || defs[0].Name != "b" {
		t.Errorf("Definitions(allowlist) = %v, want [b]", defs)
	}
}

func fsTools(t *testing.T, root string) (read, list, write Tool) {
	t.Helper()
	tools, err := NewFilesystemTools(config.FilesystemToolConfig{
		AllowedRoots:  []string{root},
		MaxReadBytes:  1 << 20,
		MaxWriteBytes: 64,
	})
	if err != nil {
		t.Fatalf("NewFilesystemTools() error = %v", err)
	}
	return tools[0], tools[1], tools[2]
}

func TestFileRead_WithinRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	os.WriteFile(path, []byte("hello"), 0644)

	read, _, _ := fsTools(t, root)
	result, err := read.Execute(context.Background(), map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want hello", result.Content)
	}
}

func TestFileRead_OutsideRootDenied(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0644)

	read, _, _ := fsTools(t, root)

	for _, path := range []string{
		filepath.Join(outside, "secret"),
		filepath.Join(root, "..", filepath.Base(outside), "secret"),
	} {
		_, err := read.Execute(context.Background(), map[string]interface{}{"path": path})
		if KindOf(err) != KindPolicyDenied {
			t.Errorf("read %s: kind = %s, want %s", path, KindOf(err), KindPolicyDenied)
		}
	}
}

func TestFileRead_SymlinkEscapeDenied(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0644)

	link := filepath.Join(root, "link")
	if err := os.Symlink(filepath.Join(outside, "secret"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	read, _, _ := fsTools(t, root)
	_, err := read.Execute(context.Background(), map[string]interface{}{"path": link})
	if KindOf(err) != KindPolicyDenied {
		t.Errorf("kind = %s, want %s", KindOf(err), KindPolicyDenied)
	}
}

func TestFileList(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(root, "sub"), 0755)

	_, list, _ := fsTools(t, root)
	result, err := list.Execute(context.Background(), map[string]interface{}{"path": root})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "b.txt\nsub/" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestFileWrite_AtomicAndCapped(t *testing.T) {
	root := t.TempDir()
	_, _, write := fsTools(t, root)

	path := filepath.Join(root, "new", "out.txt")
	if _, err := write.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": "written",
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "written" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}

	// Over the write cap.
	_, err = write.Execute(context.Background(), map[string]interface{}{
		"path": path, "content": strings.Repeat("x", 100),
	})
	if KindOf(err) != KindPolicyDenied {
		t.Errorf("oversized write: kind = %s, want %s", KindOf(err), KindPolicyDenied)
	}
}

func TestCommandTool_AllowlistDenied(t *testing.T) {
	tool := NewCommandTool(config.CommandToolConfig{
		AllowedCommands: []string{"echo"},
		TimeoutSeconds:  5,
		MaxOutputBytes:  1024,
	})

	_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "rm"})
	if KindOf(err) != KindPolicyDenied {
		t.Errorf("kind = %s, want %s", KindOf(err), KindPolicyDenied)
	}
}

func TestCommandTool_RunsAndTruncates(t *testing.T) {
	tool := NewCommandTool(config.CommandToolConfig{
		AllowedCommands: []string{"echo"},
		TimeoutSeconds:  5,
		MaxOutputBytes:  8,
	})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo",
		"args":    []interface{}{"this is a long line of output"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if truncated, _ := result.Metadata["truncated"].(bool); !truncated {
		t.Error("output should be truncated")
	}
	if !strings.Contains(result.Content, "exit code: 0") {
		t.Errorf("Content = %q, want exit code 0", result.Content)
	}
}

func TestCommandTool_Timeout(t *testing.T) {
	tool := NewCommandTool(config.CommandToolConfig{
		AllowedCommands: []string{"sleep"},
		TimeoutSeconds:  1,
		MaxOutputBytes:  1024,
	})

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "sleep",
		"args":    []interface{}{"5"},
	})
	if KindOf(err) != KindToolTimeout {
		t.Errorf("kind = %s, want %s", KindOf(err), KindToolTimeout)
	}
}

func TestWebFetch_Truncation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	tools := NewWebTools(config.WebToolConfig{TimeoutSeconds: 5, MaxResponseBytes: 10})
	fetch := tools[0]

	result, err := fetch.Execute(context.Background(), map[string]interface{}{"url": server.URL})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Content) != 10 {
		t.Errorf("len(Content) = %d, want 10", len(result.Content))
	}
	if truncated, _ := result.Metadata["truncated"].(bool); !truncated {
		t.Error("response should be marked truncated")
	}
}

func TestWebFetch_InvalidURL(t *testing.T) {
	tools := NewWebTools(config.WebToolConfig{TimeoutSeconds: 5, MaxResponseBytes: 1024})
	fetch := tools[0]

	for _, raw := range []string{"not a url", "ftp://example.com/x", "/relative"} {
		_, err := fetch.Execute(context.Background(), map[string]interface{}{"url": raw})
		if KindOf(err) != KindInvalidArgs {
			t.Errorf("url %q: kind = %s, want %s", raw, KindOf(err), KindInvalidArgs)
		}
	}
}

func TestWebSearch_FormatsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "golang" {
			t.Errorf("query = %q, want golang", r.URL.Query().Get("q"))
		}
		w.Write([]byte(`{"results":[{"title":"Go","url":"https://go.dev","content":"The Go site"}]}`))
	}))
	defer server.Close()

	tools := NewWebTools(config.WebToolConfig{
		TimeoutSeconds: 5, MaxResponseBytes: 1024, SearchEndpoint: server.URL,
	})
	if len(tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(tools))
	}

	result, err := tools[1].Execute(context.Background(), map[string]interface{}{"query": "golang"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Content, "https://go.dev") {
		t.Errorf("Content = %q, want result URL present", result.Content)
	}
}

func TestCheckParameterized(t *testing.T) {
	cases := []struct {
		statement string
		wantKind  Kind
	}{
		{"SELECT name FROM users WHERE id = ?", ""},
		{"SELECT name FROM users WHERE name = 'bob'", KindPolicyDenied},
		{`SELECT "name" FROM users`, KindPolicyDenied},
		{"SELECT 1; DROP TABLE users", KindPolicyDenied},
		{"", KindInvalidArgs},
	}
	for _, tc := range cases {
		err := checkParameterized("db_query", tc.statement)
		if tc.wantKind == "" {
			if err != nil {
				t.Errorf("%q: error = %v, want nil", tc.statement, err)
			}
			continue
		}
		if KindOf(err) != tc.wantKind {
			t.Errorf("%q: kind = %s, want %s", tc.statement, KindOf(err), tc.wantKind)
		}
	}
}

func TestDatabaseTools_Sqlite(t *testing.T) {
	dbTools, db, err := NewDatabaseTools(config.DatabaseToolConfig{
		Driver: "sqlite3", DSN: ":memory:", MaxRows: 2, TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("NewDatabaseTools() error = %v", err)
	}
	defer db.Close()
	query, execTool := dbTools[0], dbTools[1]

	if _, err := db.Exec("CREATE TABLE users (id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	_, err = execTool.Execute(context.Background(), map[string]interface{}{
		"statement": "INSERT INTO users (id, name) VALUES (?, ?)",
		"params":    []interface{}{1, "ada"},
	})
	if err != nil {
		t.Fatalf("db_execute error = %v", err)
	}

	result, err := query.Execute(context.Background(), map[string]interface{}{
		"statement": "SELECT name FROM users WHERE id = ?",
		"params":    []interface{}{1},
	})
	if err != nil {
		t.Fatalf("db_query error = %v", err)
	}
	if !strings.Contains(result.Content, "ada") {
		t.Errorf("Content = %q, want row with ada", result.Content)
	}

	// Writes through the query tool are denied.
	_, err = query.Execute(context.Background(), map[string]interface{}{
		"statement": "DELETE FROM users WHERE id = ?",
		"params":    []interface{}{1},
	})
	if KindOf(err) != KindPolicyDenied {
		t.Errorf("delete via db_query: kind = %s, want %s", KindOf(err), KindPolicyDenied)
	}
}

func TestDatabaseTools_RowCap(t *testing.T) {
	dbTools, db, err := NewDatabaseTools(config.DatabaseToolConfig{
		Driver: "sqlite3", DSN: ":memory:", MaxRows: 2, TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("NewDatabaseTools() error = %v", err)
	}
	defer db.Close()

	db.Exec("CREATE TABLE n (v INTEGER)")
	for i := 0; i < 5; i++ {
		db.Exec("INSERT INTO n (v) VALUES (?)", i)
	}

	result, err := dbTools[0].Execute(context.Background(), map[string]interface{}{
		"statement": "SELECT v FROM n",
	})
	if err != nil {
		t.Fatalf("db_query error = %v", err)
	}
	if rows, _ := result.Metadata["rows"].(int); rows != 2 {
		t.Errorf("rows = %d, want 2", rows)
	}
	if truncated, _ := result.Metadata["truncated"].(bool); !truncated {
		t.Error("result should be truncated at the row cap")
	}
}

func TestToolError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewToolError(KindToolError, "t", "failed", inner)
	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
}
