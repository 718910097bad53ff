package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parlane/seneschal/internal/mcp"
)

// attempt is one in-flight bootstrap. Every concurrent caller that
// arrives while the attempt runs waits on done; err is written exactly
// once, before done is closed, so waiters read it safely afterwards.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns the lifecycle of exactly one provider. It is constructed
// once at host startup and shared; all methods are safe for concurrent
// use. The state and in-flight reference are mutated only under m.mu and
// only by this manager.
type Manager struct {
	spec         Spec
	logger       *slog.Logger
	recorder     Recorder
	newTransport func() mcp.Transport

	mu       sync.Mutex
	state    State
	inflight *attempt
	client   *mcp.Client
	lastErr  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder attaches a lifecycle event recorder (the journal).
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithTransportFunc overrides how the manager builds a transport for
// each bootstrap attempt. Tests use this to substitute a fake provider.
func WithTransportFunc(fn func() mcp.Transport) Option {
	return func(m *Manager) { m.newTransport = fn }
}

// NewManager creates the manager for one provider spec.
func NewManager(spec Spec, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		spec:   spec,
		logger: logger.With("provider", spec.Name),
		state:  StateNotStarted,
	}
	for _, o := range opts {
		o(m)
	}
	if m.newTransport == nil {
		m.newTransport = m.specTransport
	}
	return m
}

// Name returns the provider name.
func (m *Manager) Name() string {
	return m.spec.Name
}

// Spec returns the provider spec bound at construction.
func (m *Manager) Spec() Spec {
	return m.spec
}

// specTransport builds the transport described by the spec.
func (m *Manager) specTransport() mcp.Transport {
	if m.spec.Transport == TransportHTTP {
		return mcp.NewHTTPTransport(mcp.HTTPConfig{
			URL:     m.spec.URL,
			Headers: m.spec.Headers,
			Logger:  m.logger,
		})
	}
	return mcp.NewStdioTransport(mcp.StdioConfig{
		Command: m.spec.Command,
		Args:    m.spec.Args,
		Env:     m.spec.Env,
		Logger:  m.logger,
	})
}

// Bootstrap initializes the provider. The first caller on a fresh
// manager starts the single spawn-and-handshake attempt; every caller
// that arrives while it runs waits on the same attempt instead of
// starting a second spawn. Once the manager is in a terminal state,
// Bootstrap returns that outcome without touching the provider again.
//
// A failed required provider returns *UnavailableError so host startup
// can abort; an optional provider's failure is absorbed (logged, state
// Failed) and Bootstrap returns nil.
//
// The attempt itself runs under its own context bounded by the spec's
// handshake timeout — a waiter's ctx cancels only that waiter's wait,
// never the attempt.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateSuccess:
		m.mu.Unlock()
		return nil

	case StateFailed:
		err := m.lastErr
		m.mu.Unlock()
		return m.applyPolicy(err)

	case StateInProgress:
		a := m.inflight
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
		}
		return m.applyPolicy(a.err)
	}

	// NotStarted: this caller owns the attempt.
	a := &attempt{done: make(chan struct{})}
	m.state = StateInProgress
	m.inflight = a
	m.mu.Unlock()

	m.record(EventBootstrapStarted, "")
	m.logger.Info("bootstrapping provider",
		"transport", string(m.spec.Transport),
		"policy", m.spec.Policy.String(),
	)

	start := time.Now()
	client, err := m.connect()

	m.mu.Lock()
	if err != nil {
		m.state = StateFailed
		m.lastErr = err
	} else {
		m.state = StateSuccess
		m.client = client
	}
	m.inflight = nil
	m.mu.Unlock()

	a.err = err
	close(a.done)

	if err != nil {
		m.record(EventBootstrapFailed, err.Error())
		m.logger.Error("provider bootstrap failed",
			"error", err,
			"elapsed", time.Since(start),
			"policy", m.spec.Policy.String(),
		)
	} else {
		m.record(EventBootstrapSucceeded, fmt.Sprintf("%d tools", len(client.Tools())))
		m.logger.Info("provider bootstrapped",
			"tools", len(client.Tools()),
			"elapsed", time.Since(start),
		)
	}

	return m.applyPolicy(err)
}

// connect runs one spawn-and-handshake attempt. It deliberately uses a
// fresh context derived from Background: once started, an attempt always
// runs to Success or Failed regardless of what its waiters do.
func (m *Manager) connect() (*mcp.Client, error) {
	transport := m.newTransport()
	client := mcp.NewClient(m.spec.Name, transport, m.logger)

	ctx, cancel := context.WithTimeout(context.Background(), m.spec.handshakeTimeout())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		// Best-effort teardown of whatever the transport spawned.
		if closeErr := client.Close(); closeErr != nil {
			m.logger.Debug("close after failed connect", "error", closeErr)
		}
		return nil, err
	}
	return client, nil
}

func (s Spec) handshakeTimeout() time.Duration {
	if s.HandshakeTimeout > 0 {
		return s.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

// applyPolicy converts an attempt outcome into the caller-visible result.
func (m *Manager) applyPolicy(err error) error {
	if err == nil {
		return nil
	}
	if m.spec.Policy == PolicyRequired {
		return &UnavailableError{Provider: m.spec.Name, Err: err}
	}
	return nil
}

// Client returns the provider's connected client.
//
//   - Success: the client, immediately.
//   - InProgress: waits for the in-flight bootstrap to settle, then
//     returns its outcome — never a stale result, never a second spawn.
//   - Failed: *UnavailableError; callers drop the provider from merged
//     results instead of failing the request.
//   - NotStarted: ErrNotBootstrapped — the host never called Bootstrap,
//     which is a wiring bug, not a provider failure.
func (m *Manager) Client(ctx context.Context) (*mcp.Client, error) {
	m.mu.Lock()
	switch m.state {
	case StateSuccess:
		c := m.client
		m.mu.Unlock()
		return c, nil

	case StateInProgress:
		a := m.inflight
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.done:
		}
		// Re-read under the lock: the attempt may have failed, or a
		// concurrent shutdown may have already torn the client down.
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateSuccess {
			return m.client, nil
		}
		err := m.lastErr
		if err == nil {
			err = a.err
		}
		if err == nil {
			err = errors.New("shut down during bootstrap")
		}
		return nil, &UnavailableError{Provider: m.spec.Name, Err: err}

	case StateFailed:
		err := m.lastErr
		m.mu.Unlock()
		return nil, &UnavailableError{Provider: m.spec.Name, Err: err}

	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("provider %s: %w", m.spec.Name, ErrNotBootstrapped)
	}
}

// Status returns a non-blocking snapshot for health reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Name:      m.spec.Name,
		State:     m.state,
		Available: m.state == StateSuccess,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Shutdown tears the provider down and resets the manager to NotStarted
// so it can be bootstrapped again. If a bootstrap is in flight, Shutdown
// waits for it to settle first — tearing a client down while its
// subprocess is still being created would race spawn against kill.
//
// The state reset is unconditional: even if closing the transport fails,
// this manager ends up NotStarted and the error is only reported, so one
// provider's close failure cannot block sibling shutdowns. Shutdown on a
// manager that never realized a client is a no-op.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	for m.inflight != nil {
		a := m.inflight
		m.mu.Unlock()
		<-a.done
		m.mu.Lock()
	}

	client := m.client
	hadState := m.state
	m.state = StateNotStarted
	m.client = nil
	m.lastErr = nil
	m.mu.Unlock()

	if client == nil {
		// Never realized a client (NotStarted, Failed, or already shut
		// down): nothing to release.
		return nil
	}

	m.record(EventShutdown, "")
	err := client.Close()
	if err != nil {
		m.logger.Warn("provider shutdown reported error", "error", err, "prior_state", hadState.String())
	} else {
		m.logger.Info("provider shut down")
	}
	return err
}

// record emits a lifecycle event to the recorder, if one is attached.
func (m *Manager) record(eventType, detail string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(context.Background(), Event{
		Provider: m.spec.Name,
		Type:     eventType,
		Detail:   detail,
		Time:     time.Now().UTC(),
	})
}
