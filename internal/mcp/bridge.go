package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/parlane/seneschal/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// BridgeTools registers a connected client's tool catalog on the given
// registry. Tool names are namespaced as "{providerName}_{toolName}" so
// two providers exporting the same tool name cannot collide at the
// agent-facing surface.
//
// The include and exclude lists control which tools are bridged, matched
// against the provider-side tool names:
//   - If include is non-empty, only listed tools are registered.
//   - If exclude is non-empty, listed tools are skipped.
//   - If both are empty, the whole catalog is registered.
//
// BridgeTools returns the number of tools registered.
func BridgeTools(client *Client, providerName string, registry *tools.Registry, include, exclude []string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	count := 0
	for _, td := range client.Tools() {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}

		name := ToolName(providerName, td.Name)
		registry.Register(bridgeTool(client, name, td))
		count++

		logger.Debug("bridged provider tool",
			"provider_name", td.Name,
			"bridged_name", name,
			"provider", providerName,
		)
	}

	return count
}

// ToolName generates a namespaced registry name from a provider name and
// tool name. Both components are sanitized to contain only lowercase
// alphanumeric characters and underscores.
func ToolName(providerName, toolName string) string {
	return fmt.Sprintf("%s_%s", sanitize(providerName), sanitize(toolName))
}

// bridgeTool creates a registry tool that proxies calls to a provider.
func bridgeTool(client *Client, name string, td ToolDefinition) *tools.Tool {
	// Capture the provider-side tool name for the call.
	providerName := td.Name

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  td.InputSchema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return client.CallTool(ctx, providerName, args)
		},
	}
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
