package config

import (
	"fmt"
	"time"
)

// ToolsConfig configures the tool host. Each entry names one tool (or one
// MCP source contributing several tools) with its policy caps.
type ToolsConfig struct {
	// Filesystem configures the read_file / list_directory / write_file tools.
	Filesystem FilesystemToolConfig `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`

	// Command configures the execute_command tool.
	Command CommandToolConfig `yaml:"command,omitempty" json:"command,omitempty"`

	// Web configures the web_fetch / web_search tools.
	Web WebToolConfig `yaml:"web,omitempty" json:"web,omitempty"`

	// Database configures the db_query / db_execute tools.
	Database DatabaseToolConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// MCP lists external MCP servers whose tools are discovered at startup.
	MCP []MCPServerConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`
}

// FilesystemToolConfig restricts filesystem tools to allowed roots.
type FilesystemToolConfig struct {
	// AllowedRoots lists directories under which paths must resolve.
	// Symlink escapes are denied.
	AllowedRoots []string `yaml:"allowed_roots,omitempty" json:"allowed_roots,omitempty"`

	// MaxReadBytes caps a single read.
	MaxReadBytes int64 `yaml:"max_read_bytes,omitempty" json:"max_read_bytes,omitempty" jsonschema:"default=1048576"`

	// MaxWriteBytes caps a single write.
	MaxWriteBytes int64 `yaml:"max_write_bytes,omitempty" json:"max_write_bytes,omitempty" jsonschema:"default=1048576"`
}

// CommandToolConfig restricts subprocess execution.
type CommandToolConfig struct {
	// AllowedCommands is the argv-0 allowlist. Empty denies everything.
	AllowedCommands []string `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`

	// TimeoutSeconds is the wall-clock cap per invocation.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"default=30"`

	// MaxOutputBytes truncates combined stdout/stderr.
	MaxOutputBytes int `yaml:"max_output_bytes,omitempty" json:"max_output_bytes,omitempty" jsonschema:"default=65536"`
}

// WebToolConfig restricts outbound HTTP tools.
type WebToolConfig struct {
	// TimeoutSeconds is the per-call cap.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"default=20"`

	// MaxResponseBytes truncates fetched bodies.
	MaxResponseBytes int64 `yaml:"max_response_bytes,omitempty" json:"max_response_bytes,omitempty" jsonschema:"default=1048576"`

	// SearchEndpoint is the URL of the search service (SearxNG-compatible).
	SearchEndpoint string `yaml:"search_endpoint,omitempty" json:"search_endpoint,omitempty"`
}

// DatabaseToolConfig restricts database tools to parameterized statements.
type DatabaseToolConfig struct {
	// Driver is one of sqlite3, postgres, mysql.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=sqlite3,enum=postgres,enum=mysql"`

	// DSN is the connection string. Supports ${VAR} expansion.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// MaxRows caps rows returned per query.
	MaxRows int `yaml:"max_rows,omitempty" json:"max_rows,omitempty" jsonschema:"default=500"`

	// TimeoutSeconds is the per-call cap.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"default=10"`
}

// MCPServerConfig names one external MCP server. Either URL (streamable
// HTTP) or Command (stdio subprocess) must be set.
type MCPServerConfig struct {
	// Name labels the source in logs and tool listings.
	Name string `yaml:"name" json:"name"`

	// URL is the MCP server endpoint (streamable HTTP).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Command launches the MCP server as a subprocess over stdio.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// TimeoutSeconds is the per-call cap for tools from this server.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"default=30"`
}

// SetDefaults applies tool policy defaults.
func (c *ToolsConfig) SetDefaults() {
	if c.Filesystem.MaxReadBytes == 0 {
		c.Filesystem.MaxReadBytes = 1 << 20
	}
	if c.Filesystem.MaxWriteBytes == 0 {
		c.Filesystem.MaxWriteBytes = 1 << 20
	}
	if c.Command.TimeoutSeconds == 0 {
		c.Command.TimeoutSeconds = 30
	}
	if c.Command.MaxOutputBytes == 0 {
		c.Command.MaxOutputBytes = 64 << 10
	}
	if c.Web.TimeoutSeconds == 0 {
		c.Web.TimeoutSeconds = 20
	}
	if c.Web.MaxResponseBytes == 0 {
		c.Web.MaxResponseBytes = 1 << 20
	}
	if c.Database.MaxRows == 0 {
		c.Database.MaxRows = 500
	}
	if c.Database.TimeoutSeconds == 0 {
		c.Database.TimeoutSeconds = 10
	}
	for i := range c.MCP {
		if c.MCP[i].TimeoutSeconds == 0 {
			c.MCP[i].TimeoutSeconds = 30
		}
	}
}

// Validate checks tool configuration.
func (c *ToolsConfig) Validate() error {
	if c.Database.DSN != "" {
		switch c.Database.Driver {
		case "sqlite3", "postgres", "mysql":
		default:
			return fmt.Errorf("database driver must be sqlite3, postgres or mysql, got %q", c.Database.Driver)
		}
	}
	for _, srv := range c.MCP {
		if srv.Name == "" {
			return fmt.Errorf("mcp server entry missing name")
		}
		if srv.URL == "" && srv.Command == "" {
			return fmt.Errorf("mcp server %q needs a url or a command", srv.Name)
		}
	}
	return nil
}

// CommandTimeout returns the command wall-clock cap.
func (c *CommandToolConfig) CommandTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebTimeout returns the web-call cap.
func (c *WebToolConfig) WebTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QueryTimeout returns the database-call cap.
func (c *DatabaseToolConfig) QueryTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
