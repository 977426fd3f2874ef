package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	version string
	mcp     bool
	stdin   io.Reader
	stdout  io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithMCP serves MCP tools over in and out. Nil streams mean stdin and
// stdout.
func WithMCP(in io.Reader, out io.Writer) Option {
	return func(a *application) {
		a.mcp = true
		a.stdin = in
		a.stdout = out
	}
}
