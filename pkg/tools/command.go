package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hivemind-ai/hivemind/pkg/config"
)

// CommandTool runs an allowlisted command in an isolated subprocess. Only
// argv-form invocation is supported; arguments are never joined into a shell
// string. Each invocation gets a fresh temporary working directory that is
// removed on every exit path.
type CommandTool struct {
	allowed   map[string]bool
	timeout   time.Duration
	maxOutput int
}

func NewCommandTool(cfg config.CommandToolConfig) *CommandTool {
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[c] = true
	}
	return &CommandTool{
		allowed:   allowed,
		timeout:   cfg.CommandTimeout(),
		maxOutput: cfg.MaxOutputBytes,
	}
}

func (t *CommandTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "execute_command",
		Description: "Run an allowlisted command with argv-form arguments in an isolated working directory.",
		Version:     "1",
		Parameters: objectSchema(map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Command name. Must be on the configured allowlist.",
			},
			"args": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Arguments passed verbatim as argv entries.",
			},
		}, "command"),
	}
}

func (t *CommandTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return ToolResult{}, NewToolError(KindInvalidArgs, "execute_command", "command is required", nil)
	}
	if !t.allowed[command] {
		return ToolResult{}, NewToolError(KindPolicyDenied, "execute_command",
			fmt.Sprintf("command %q is not on the allowlist", command), nil)
	}

	argv := argvStrings(args["args"])

	workDir, err := os.MkdirTemp("", "hivemind-cmd-*")
	if err != nil {
		return ToolResult{}, NewToolError(KindToolError, "execute_command", "cannot create work directory", err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, argv...)
	cmd.Dir = workDir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	text := output.String()
	truncated := false
	if len(text) > t.maxOutput {
		text = text[:t.maxOutput]
		truncated = true
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return ToolResult{}, NewToolError(KindToolTimeout, "execute_command",
			fmt.Sprintf("command %q exceeded the %s timeout", command, t.timeout), runCtx.Err())
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ToolResult{}, NewToolError(KindToolError, "execute_command",
				fmt.Sprintf("command %q failed to start", command), runErr)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", exitCode)
	if truncated {
		fmt.Fprintf(&b, "output (truncated to %d bytes):\n", t.maxOutput)
	} else {
		b.WriteString("output:\n")
	}
	b.WriteString(text)

	return ToolResult{
		Content: b.String(),
		Metadata: map[string]interface{}{
			"exit_code":   exitCode,
			"duration_ms": elapsed.Milliseconds(),
			"truncated":   truncated,
		},
	}, nil
}

func argvStrings(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
