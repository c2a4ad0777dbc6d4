package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

// pathPolicy confines filesystem tools to the configured roots. Paths are
// resolved through symlinks before the containment check, so a link pointing
// outside a root is denied.
type pathPolicy struct {
	roots []string
}

func newPathPolicy(roots []string) (*pathPolicy, error) {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed root %q: %w", root, err)
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		resolved = append(resolved, abs)
	}
	return &pathPolicy{roots: resolved}, nil
}

// resolve returns the canonical path if it lies under an allowed root. For
// paths that do not exist yet (writes), the deepest existing ancestor is
// resolved instead.
func (p *pathPolicy) resolve(tool, path string) (string, error) {
	if len(p.roots) == 0 {
		return "", NewToolError(KindPolicyDenied, tool, "no filesystem roots are configured", nil)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", NewToolError(KindPolicyDenied, tool, fmt.Sprintf("invalid path %q", path), err)
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", NewToolError(KindPolicyDenied, tool, fmt.Sprintf("cannot resolve path %q", path), err)
	}

	for _, root := range p.roots {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", NewToolError(KindPolicyDenied, tool,
		fmt.Sprintf("path %q resolves outside the allowed roots", path), nil)
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-joins the remainder.
func resolveExisting(abs string) (string, error) {
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// FileReadTool reads a file within the allowed roots.
type FileReadTool struct {
	policy  *pathPolicy
	maxRead int64
}

// FileListTool lists a directory within the allowed roots.
type FileListTool struct {
	policy *pathPolicy
}

// FileWriteTool writes a file within the allowed roots. Writes go to a
// temporary file in the target directory and are renamed into place, so a
// failed write never leaves a partial file.
type FileWriteTool struct {
	policy   *pathPolicy
	maxWrite int64
}

// NewFilesystemTools builds the three filesystem tools sharing one policy.
func NewFilesystemTools(cfg config.FilesystemToolConfig) ([]Tool, error) {
	policy, err := newPathPolicy(cfg.AllowedRoots)
	if err != nil {
		return nil, err
	}
	return []Tool{
		&FileReadTool{policy: policy, maxRead: cfg.MaxReadBytes},
		&FileListTool{policy: policy},
		&FileWriteTool{policy: policy, maxWrite: cfg.MaxWriteBytes},
	}, nil
}

func (t *FileReadTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "read_file",
		Description: "Read a text file from the allowed directories.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to read.",
			},
		}, "path"),
	}
}

func (t *FileReadTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	path, _ := args["path"].(string)
	resolved, err := t.policy.resolve("read_file", path)
	if err != nil {
		return ToolResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "read_file", fmt.Sprintf("cannot stat %q", path), err)
	}
	if info.IsDir() {
		return ToolResult{}, NewToolError(KindToolError, "read_file", fmt.Sprintf("%q is a directory", path), nil)
	}
	if info.Size() > t.maxRead {
		return ToolResult{}, NewToolError(KindPolicyDenied, "read_file",
			fmt.Sprintf("file is %d bytes, read cap is %d", info.Size(), t.maxRead), nil)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "read_file", fmt.Sprintf("cannot read %q", path), err)
	}

	return ToolResult{
		Content:  string(data),
		Metadata: map[string]interface{}{"path": resolved, "bytes": len(data)},
	}, nil
}

func (t *FileListTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "list_directory",
		Description: "List the entries of a directory within the allowed roots.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list.",
			},
		}, "path"),
	}
}

func (t *FileListTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	path, _ := args["path"].(string)
	resolved, err := t.policy.resolve("list_directory", path)
	if err != nil {
		return ToolResult{}, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "list_directory", fmt.Sprintf("cannot list %q", path), err)
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)

	return ToolResult{
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]interface{}{"path": resolved, "entries": len(lines)},
	}, nil
}

func (t *FileWriteTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "write_file",
		Description: "Write content to a file within the allowed roots. The write is atomic.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Destination file path.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write.",
			},
		}, "path", "content"),
	}
}

func (t *FileWriteTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	if int64(len(content)) > t.maxWrite {
		return ToolResult{}, NewToolError(KindPolicyDenied, "write_file",
			fmt.Sprintf("content is %d bytes, write cap is %d", len(content), t.maxWrite), nil)
	}

	resolved, err := t.policy.resolve("write_file", path)
	if err != nil {
		return ToolResult{}, err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ToolResult{}, NewToolError(KindToolError, "write_file", "cannot create parent directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".hivemind-write-*")
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "write_file", "cannot create temporary file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ToolResult{}, NewToolError(KindToolError, "write_file", "write failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ToolResult{}, NewToolError(KindToolError, "write_file", "close failed", err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return ToolResult{}, NewToolError(KindToolError, "write_file", "rename failed", err)
	}

	return ToolResult{
		Content:  fmt.Sprintf("wrote %d bytes to %s", len(content), resolved),
		Metadata: map[string]interface{}{"path": resolved, "bytes": len(content)},
	}, nil
}
