package bootstrap

import (
	"errors"
	"testing"
	"time"

	"github.com/parlane/seneschal/internal/config"
)

func TestNewSpec(t *testing.T) {
	tests := []struct {
		name     string
		provider config.Provider
		wantErr  bool
	}{
		{
			name:     "valid stdio",
			provider: config.Provider{Name: "db", Transport: "stdio", Command: "mcp-db"},
		},
		{
			name:     "valid http",
			provider: config.Provider{Name: "docs", Transport: "http", URL: "https://example.com/mcp"},
		},
		{
			name:     "transport defaults to stdio",
			provider: config.Provider{Name: "db", Command: "mcp-db"},
		},
		{
			name:     "missing name",
			provider: config.Provider{Transport: "stdio", Command: "mcp-db"},
			wantErr:  true,
		},
		{
			name:     "stdio without command",
			provider: config.Provider{Name: "db", Transport: "stdio"},
			wantErr:  true,
		},
		{
			name:     "http without url",
			provider: config.Provider{Name: "docs", Transport: "http"},
			wantErr:  true,
		},
		{
			name:     "unknown transport",
			provider: config.Provider{Name: "db", Transport: "carrier-pigeon", Command: "x"},
			wantErr:  true,
		},
		{
			name:     "unknown policy",
			provider: config.Provider{Name: "db", Command: "mcp-db", Policy: "mandatory"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := NewSpec(tt.provider)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("err = %T, want *ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSpec: %v", err)
			}
			if spec.Name != tt.provider.Name {
				t.Errorf("Name = %q, want %q", spec.Name, tt.provider.Name)
			}
		})
	}
}

func TestNewSpec_Policy(t *testing.T) {
	spec, err := NewSpec(config.Provider{Name: "db", Command: "x", Policy: "required"})
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}
	if spec.Policy != PolicyRequired {
		t.Errorf("Policy = %v, want PolicyRequired", spec.Policy)
	}

	// Empty policy means optional: degrading is the safe default.
	spec, err = NewSpec(config.Provider{Name: "db", Command: "x"})
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}
	if spec.Policy != PolicyOptional {
		t.Errorf("Policy = %v, want PolicyOptional", spec.Policy)
	}
}

func TestNewSpec_RequiredEnv(t *testing.T) {
	t.Run("satisfied by env map", func(t *testing.T) {
		_, err := NewSpec(config.Provider{
			Name:        "search",
			Command:     "mcp-search",
			Env:         map[string]string{"SEARCH_API_KEY": "abc"},
			RequiredEnv: []string{"SEARCH_API_KEY"},
		})
		if err != nil {
			t.Errorf("NewSpec: %v", err)
		}
	})

	t.Run("satisfied by process env", func(t *testing.T) {
		t.Setenv("SENESCHAL_TEST_KEY", "abc")
		_, err := NewSpec(config.Provider{
			Name:        "search",
			Command:     "mcp-search",
			RequiredEnv: []string{"SENESCHAL_TEST_KEY"},
		})
		if err != nil {
			t.Errorf("NewSpec: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := NewSpec(config.Provider{
			Name:        "search",
			Command:     "mcp-search",
			RequiredEnv: []string{"SENESCHAL_DEFINITELY_UNSET"},
		})
		if err == nil {
			t.Fatal("expected error for missing required env, got nil")
		}
	})
}

func TestNewSpec_HandshakeTimeout(t *testing.T) {
	spec, err := NewSpec(config.Provider{Name: "db", Command: "x", HandshakeTimeoutSec: 5})
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}
	if spec.HandshakeTimeout != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", spec.HandshakeTimeout)
	}

	spec, err = NewSpec(config.Provider{Name: "db", Command: "x"})
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}
	if spec.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want default %v", spec.HandshakeTimeout, DefaultHandshakeTimeout)
	}
}
