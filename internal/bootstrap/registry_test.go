package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parlane/seneschal/internal/mcp"
)

func managerWithTools(name string, policy FaultPolicy, tools ...mcp.ToolDefinition) *Manager {
	return NewManager(testSpec(name, policy), discardLogger(),
		WithTransportFunc(func() mcp.Transport {
			return &fakeTransport{tools: tools}
		}))
}

func failingManager(name string, policy FaultPolicy) *Manager {
	return NewManager(testSpec(name, policy), discardLogger(),
		WithTransportFunc(func() mcp.Transport {
			return &fakeTransport{connectErr: errors.New("connect refused")}
		}))
}

func TestRegistry_Register_DuplicateName(t *testing.T) {
	r := NewRegistry(discardLogger())
	if err := r.Register(managerWithTools("db", PolicyRequired)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(managerWithTools("db", PolicyOptional))
	if err == nil {
		t.Fatal("expected error for duplicate name, got nil")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("err = %T, want *ConfigError", err)
	}
}

func TestRegistry_BootstrapAll_AllSucceed(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired, mcp.ToolDefinition{Name: "query"}))
	r.Register(managerWithTools("search", PolicyOptional, mcp.ToolDefinition{Name: "web_search"}))

	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}

	for _, st := range r.Statuses() {
		if st.State != StateSuccess {
			t.Errorf("provider %s state = %v, want %v", st.Name, st.State, StateSuccess)
		}
	}
	if !r.Ready() {
		t.Error("Ready() = false, want true")
	}
}

func TestRegistry_BootstrapAll_RequiredFailureAborts(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(failingManager("db", PolicyRequired))
	r.Register(managerWithTools("search", PolicyOptional, mcp.ToolDefinition{Name: "web_search"}))

	err := r.BootstrapAll(context.Background())
	if err == nil {
		t.Fatal("expected error when a required provider fails")
	}
	if !IsUnavailable(err) {
		t.Errorf("err = %v, want *UnavailableError", err)
	}
	if r.Ready() {
		t.Error("Ready() = true with failed required provider")
	}
}

func TestRegistry_BootstrapAll_OptionalFailureDegrades(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired, mcp.ToolDefinition{Name: "query"}))
	r.Register(failingManager("search", PolicyOptional))

	// The host comes up; the optional provider is simply absent.
	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}
	if !r.Ready() {
		t.Error("Ready() = false, want true (optional failures do not gate readiness)")
	}

	m, _ := r.Manager("search")
	if st := m.Status(); st.State != StateFailed {
		t.Errorf("search state = %v, want %v", st.State, StateFailed)
	}
}

func TestRegistry_MergedTools(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired,
		mcp.ToolDefinition{Name: "query", Description: "from db"},
		mcp.ToolDefinition{Name: "status", Description: "from db"},
	))
	r.Register(managerWithTools("search", PolicyOptional,
		mcp.ToolDefinition{Name: "web_search", Description: "from search"},
		mcp.ToolDefinition{Name: "status", Description: "from search"}, // collides
	))

	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}

	merged, err := r.MergedTools(context.Background())
	if err != nil {
		t.Fatalf("MergedTools: %v", err)
	}

	if len(merged) != 3 {
		t.Fatalf("merged %d tools, want 3", len(merged))
	}

	// Registration order resolves the collision: db registered first,
	// so its "status" wins.
	byName := make(map[string]mcp.ToolDefinition)
	for _, td := range merged {
		byName[td.Name] = td
	}
	if got := byName["status"].Description; got != "from db" {
		t.Errorf("status owned by %q, want %q", got, "from db")
	}
}

func TestRegistry_MergedTools_OmitsUnavailable(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired, mcp.ToolDefinition{Name: "query"}))
	r.Register(failingManager("search", PolicyOptional))

	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}

	merged, err := r.MergedTools(context.Background())
	if err != nil {
		t.Fatalf("MergedTools: %v", err)
	}
	if len(merged) != 1 || merged[0].Name != "query" {
		t.Errorf("merged = %v, want only db's query", merged)
	}
}

func TestRegistry_MergedTools_NotBootstrappedIsError(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired, mcp.ToolDefinition{Name: "query"}))

	// Skipping Bootstrap is host misuse, not provider degradation.
	_, err := r.MergedTools(context.Background())
	if !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("err = %v, want ErrNotBootstrapped", err)
	}
}

func TestRegistry_ProviderRecovery(t *testing.T) {
	// search fails on the first attempt and succeeds on the second,
	// simulating an operator fixing the environment and re-bootstrapping.
	attempts := 0
	search := NewManager(testSpec("search", PolicyOptional), discardLogger(),
		WithTransportFunc(func() mcp.Transport {
			attempts++
			if attempts == 1 {
				return &fakeTransport{connectErr: errors.New("missing credentials")}
			}
			return &fakeTransport{tools: []mcp.ToolDefinition{{Name: "web_search"}}}
		}))

	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired, mcp.ToolDefinition{Name: "query"}))
	r.Register(search)

	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}

	merged, err := r.MergedTools(context.Background())
	if err != nil {
		t.Fatalf("MergedTools: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("merged %d tools before recovery, want 1", len(merged))
	}

	// Recover the failed provider and merge again.
	if err := search.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := search.Bootstrap(context.Background()); err != nil {
		t.Fatalf("re-Bootstrap: %v", err)
	}

	merged, err = r.MergedTools(context.Background())
	if err != nil {
		t.Fatalf("MergedTools after recovery: %v", err)
	}
	if len(merged) != 2 {
		t.Errorf("merged %d tools after recovery, want 2", len(merged))
	}
}

func TestRegistry_ShutdownAll(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Register(managerWithTools("db", PolicyRequired))
	r.Register(managerWithTools("search", PolicyOptional))

	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}

	r.ShutdownAll()

	for _, st := range r.Statuses() {
		if st.State != StateNotStarted {
			t.Errorf("provider %s state = %v, want %v", st.Name, st.State, StateNotStarted)
		}
	}

	// A full restart works after a full shutdown.
	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll after ShutdownAll: %v", err)
	}
}

// TestRegistry_StdioScenario exercises the real stdio transport end to
// end: a required provider backed by a working subprocess and an
// optional one whose binary does not exist. The host must come up with
// only the required provider's tools.
func TestRegistry_StdioScenario(t *testing.T) {
	dbSpec := Spec{
		Name:      "db",
		Transport: TransportStdio,
		Command:   "/bin/sh",
		Args: []string{"-c", `read line
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","serverInfo":{"name":"db","version":"1.0"}}}\n'
read line
printf '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"query","description":"Run a query","inputSchema":{"type":"object"}}]}}\n'
read line || exit 0`},
		Policy:           PolicyRequired,
		HandshakeTimeout: 10 * time.Second,
	}
	searchSpec := Spec{
		Name:             "search",
		Transport:        TransportStdio,
		Command:          "/nonexistent-provider-binary",
		Policy:           PolicyOptional,
		HandshakeTimeout: 5 * time.Second,
	}

	r := NewRegistry(discardLogger())
	r.Register(NewManager(dbSpec, discardLogger()))
	r.Register(NewManager(searchSpec, discardLogger()))
	defer r.ShutdownAll()

	if err := r.BootstrapAll(context.Background()); err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}

	merged, err := r.MergedTools(context.Background())
	if err != nil {
		t.Fatalf("MergedTools: %v", err)
	}
	if len(merged) != 1 || merged[0].Name != "query" {
		t.Fatalf("merged = %v, want only db's query", merged)
	}

	db, _ := r.Manager("db")
	client, err := db.Client(context.Background())
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if name, _ := client.ServerInfo(); name != "db" {
		t.Errorf("server name = %q, want %q", name, "db")
	}
}
