package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const exampleConfig = `# Seneschal configuration.
#
# ${VAR} references are expanded from the environment at load time.

listen:
  address: "127.0.0.1"
  port: 8118

# Where the provider event journal (SQLite) lives. Comment out to
# disable journaling.
data_dir: "./data"

log_level: "info"

providers:
  # A required provider: if it fails to start, seneschal refuses to
  # come up. Use this for capabilities the deployment cannot function
  # without.
  - name: "db"
    transport: "stdio"
    command: "mcp-sqlite-server"
    args: ["--db", "./data/app.db"]
    policy: "required"

  # An optional provider: a startup failure is logged and its tools
  # are omitted from the merged set until the next bootstrap.
  - name: "search"
    transport: "stdio"
    command: "mcp-search-server"
    env:
      SEARCH_API_KEY: "${SEARCH_API_KEY}"
    required_env: ["SEARCH_API_KEY"]
    policy: "optional"

  # A remote provider over streamable HTTP.
  # - name: "docs"
  #   transport: "http"
  #   url: "https://docs.example.com/mcp"
  #   headers:
  #     Authorization: "Bearer ${DOCS_TOKEN}"
  #   policy: "optional"
`

// runInit sets up a fresh working directory: a commented example config
// plus the data directory the config points at. Existing files are
// never overwritten.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, "seneschal.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", cfgPath)
	}

	if err := os.WriteFile(cfgPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	fmt.Fprintf(stdout, "Initialized %s\n", dir)
	fmt.Fprintf(stdout, "  %s\n", cfgPath)
	fmt.Fprintf(stdout, "  %s\n", filepath.Join(dir, "data"))
	fmt.Fprintln(stdout, "\nEdit the config to point at your MCP provider binaries, then run:")
	fmt.Fprintf(stdout, "  seneschal -config %s serve\n", cfgPath)
	return nil
}
