package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parlane/seneschal/internal/mcp"
)

// fakeTransport is an in-memory provider that completes the MCP
// handshake without any subprocess. The gate channel, if set, blocks
// initialize until closed, letting tests hold a bootstrap attempt open.
type fakeTransport struct {
	tools      []mcp.ToolDefinition
	connectErr error
	gate       chan struct{}

	mu       sync.Mutex
	closed   bool
	sent     []string
	notified []string
}

func (f *fakeTransport) Send(ctx context.Context, req *mcp.Request) (*mcp.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req.Method)
	f.mu.Unlock()

	if req.Method == "initialize" {
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if f.connectErr != nil {
			return nil, f.connectErr
		}
		return &mcp.Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"0.1.0"}}`),
		}, nil
	}

	var result any
	switch req.Method {
	case "tools/list":
		result = map[string]any{"tools": f.tools}
	case "ping":
		result = map[string]any{}
	case "tools/call":
		result = map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
		}
	}

	data, _ := json.Marshal(result)
	return &mcp.Response{JSONRPC: "2.0", ID: req.ID, Result: data}, nil
}

func (f *fakeTransport) Notify(_ context.Context, notif *mcp.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, notif.Method)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec(name string, policy FaultPolicy) Spec {
	return Spec{
		Name:             name,
		Transport:        TransportStdio,
		Command:          "fake-provider",
		Policy:           policy,
		HandshakeTimeout: 5 * time.Second,
	}
}

// countingFactory returns a transport factory that counts invocations.
// Every invocation corresponds to one real spawn attempt.
func countingFactory(build func() *fakeTransport) (func() mcp.Transport, *atomic.Int32) {
	var spawns atomic.Int32
	return func() mcp.Transport {
		spawns.Add(1)
		return build()
	}, &spawns
}

func TestManager_ConcurrentBootstrap_SingleAttempt(t *testing.T) {
	factory, spawns := countingFactory(func() *fakeTransport {
		return &fakeTransport{
			tools: []mcp.ToolDefinition{{Name: "query"}},
		}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Bootstrap(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Bootstrap returned %v, want nil", i, err)
		}
	}
	if got := spawns.Load(); got != 1 {
		t.Errorf("spawned %d times, want exactly 1", got)
	}
	if st := m.Status(); st.State != StateSuccess {
		t.Errorf("state = %v, want %v", st.State, StateSuccess)
	}
}

func TestManager_Bootstrap_SecondCallIsNoop(t *testing.T) {
	factory, spawns := countingFactory(func() *fakeTransport { return &fakeTransport{} })
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if got := spawns.Load(); got != 1 {
		t.Errorf("spawned %d times, want 1", got)
	}
}

func TestManager_Client_AwaitsInflightBootstrap(t *testing.T) {
	gate := make(chan struct{})
	factory, _ := countingFactory(func() *fakeTransport {
		return &fakeTransport{
			gate:  gate,
			tools: []mcp.ToolDefinition{{Name: "query"}},
		}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	bootDone := make(chan error, 1)
	go func() { bootDone <- m.Bootstrap(context.Background()) }()

	// Wait until the attempt is actually in flight.
	waitForState(t, m, StateInProgress)

	clientDone := make(chan error, 1)
	go func() {
		_, err := m.Client(context.Background())
		clientDone <- err
	}()

	// The client call must be parked on the attempt, not failing fast.
	select {
	case err := <-clientDone:
		t.Fatalf("Client returned early with %v, want it to wait", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)

	if err := <-bootDone; err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := <-clientDone; err != nil {
		t.Fatalf("Client after bootstrap settled: %v", err)
	}
}

func TestManager_Client_NotBootstrapped(t *testing.T) {
	m := NewManager(testSpec("db", PolicyRequired), discardLogger())

	_, err := m.Client(context.Background())
	if !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("err = %v, want ErrNotBootstrapped", err)
	}
	// Misuse must be distinguishable from provider unavailability.
	if IsUnavailable(err) {
		t.Error("ErrNotBootstrapped should not classify as unavailable")
	}
}

func TestManager_Client_CancelledWaitLeavesAttemptRunning(t *testing.T) {
	gate := make(chan struct{})
	factory, spawns := countingFactory(func() *fakeTransport {
		return &fakeTransport{gate: gate}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	bootDone := make(chan error, 1)
	go func() { bootDone <- m.Bootstrap(context.Background()) }()
	waitForState(t, m, StateInProgress)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Client(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Client with cancelled ctx: err = %v, want context.Canceled", err)
	}

	// The waiter gave up; the attempt itself must still complete.
	close(gate)
	if err := <-bootDone; err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if st := m.Status(); st.State != StateSuccess {
		t.Errorf("state = %v, want %v", st.State, StateSuccess)
	}
	if got := spawns.Load(); got != 1 {
		t.Errorf("spawned %d times, want 1", got)
	}
}

func TestManager_RequiredFailure(t *testing.T) {
	factory, spawns := countingFactory(func() *fakeTransport {
		return &fakeTransport{connectErr: errors.New("spawn failed")}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	err := m.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected error for required provider, got nil")
	}
	if !IsUnavailable(err) {
		t.Errorf("err = %v, want *UnavailableError", err)
	}
	if st := m.Status(); st.State != StateFailed {
		t.Errorf("state = %v, want %v", st.State, StateFailed)
	}

	// Failure is sticky: no retry without an explicit shutdown.
	if err := m.Bootstrap(context.Background()); err == nil {
		t.Fatal("second Bootstrap after failure should also report the error")
	}
	if got := spawns.Load(); got != 1 {
		t.Errorf("spawned %d times after repeated bootstrap, want 1", got)
	}

	if _, err := m.Client(context.Background()); !IsUnavailable(err) {
		t.Errorf("Client err = %v, want *UnavailableError", err)
	}
}

func TestManager_OptionalFailureIsAbsorbed(t *testing.T) {
	factory, _ := countingFactory(func() *fakeTransport {
		return &fakeTransport{connectErr: errors.New("no api key")}
	})
	m := NewManager(testSpec("search", PolicyOptional), discardLogger(), WithTransportFunc(factory))

	// The caller sees success; only the status betrays the failure.
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("optional provider failure should be absorbed, got %v", err)
	}

	st := m.Status()
	if st.State != StateFailed {
		t.Errorf("state = %v, want %v", st.State, StateFailed)
	}
	if st.Available {
		t.Error("Available = true for failed provider")
	}
	if st.LastError == "" {
		t.Error("LastError is empty, want the connect error")
	}

	// Client still reports unavailability so merged views can skip it.
	if _, err := m.Client(context.Background()); !IsUnavailable(err) {
		t.Errorf("Client err = %v, want *UnavailableError", err)
	}
}

func TestManager_Shutdown_Idempotent(t *testing.T) {
	var last *fakeTransport
	factory, _ := countingFactory(func() *fakeTransport {
		last = &fakeTransport{}
		return last
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if !last.isClosed() {
		t.Error("transport was not closed")
	}
	if st := m.Status(); st.State != StateNotStarted {
		t.Errorf("state = %v, want %v", st.State, StateNotStarted)
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestManager_Shutdown_BeforeBootstrap(t *testing.T) {
	m := NewManager(testSpec("db", PolicyRequired), discardLogger())
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown on fresh manager: %v", err)
	}
}

func TestManager_ShutdownThenRebootstrap(t *testing.T) {
	factory, spawns := countingFactory(func() *fakeTransport {
		return &fakeTransport{tools: []mcp.ToolDefinition{{Name: "query"}}}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// A fresh bootstrap triggers a fresh spawn.
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("re-Bootstrap: %v", err)
	}
	if got := spawns.Load(); got != 2 {
		t.Errorf("spawned %d times, want 2", got)
	}
	if _, err := m.Client(context.Background()); err != nil {
		t.Errorf("Client after re-bootstrap: %v", err)
	}
}

func TestManager_ShutdownClearsFailure(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	factory, _ := countingFactory(func() *fakeTransport {
		if fail.Load() {
			return &fakeTransport{connectErr: errors.New("transient")}
		}
		return &fakeTransport{}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	if err := m.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected bootstrap failure")
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown after failure: %v", err)
	}
	if st := m.Status(); st.LastError != "" {
		t.Errorf("LastError = %q after shutdown, want empty", st.LastError)
	}

	// Recovery path: shutdown + bootstrap with the fault cleared.
	fail.Store(false)
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap after recovery: %v", err)
	}
	if st := m.Status(); st.State != StateSuccess {
		t.Errorf("state = %v, want %v", st.State, StateSuccess)
	}
}

func TestManager_Shutdown_WaitsForInflight(t *testing.T) {
	gate := make(chan struct{})
	factory, _ := countingFactory(func() *fakeTransport {
		return &fakeTransport{gate: gate}
	})
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(), WithTransportFunc(factory))

	bootDone := make(chan error, 1)
	go func() { bootDone <- m.Bootstrap(context.Background()) }()
	waitForState(t, m, StateInProgress)

	shutDone := make(chan error, 1)
	go func() { shutDone <- m.Shutdown() }()

	// Shutdown must not race the spawn; it parks until the attempt
	// settles.
	select {
	case err := <-shutDone:
		t.Fatalf("Shutdown returned %v while bootstrap in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-bootDone
	if err := <-shutDone; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if st := m.Status(); st.State != StateNotStarted {
		t.Errorf("state = %v, want %v", st.State, StateNotStarted)
	}
}

// captureRecorder collects lifecycle events for assertions.
type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureRecorder) Record(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestManager_RecordsLifecycleEvents(t *testing.T) {
	rec := &captureRecorder{}
	factory, _ := countingFactory(func() *fakeTransport { return &fakeTransport{} })
	m := NewManager(testSpec("db", PolicyRequired), discardLogger(),
		WithTransportFunc(factory), WithRecorder(rec))

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{EventBootstrapStarted, EventBootstrapSucceeded, EventShutdown}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, ev := range rec.events {
		if ev.Provider != "db" {
			t.Errorf("event provider = %q, want %q", ev.Provider, "db")
		}
	}
}

// waitForState polls until the manager reaches the given state. Fails
// the test after a generous deadline.
func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("manager never reached state %v (now %v)", want, m.Status().State)
}
