package bootstrap

import (
	"os"
	"time"

	"github.com/parlane/seneschal/internal/config"
)

// DefaultHandshakeTimeout bounds a bootstrap attempt when the spec does
// not set its own. A provider that hangs during spawn or handshake fails
// the attempt instead of blocking every waiter indefinitely.
const DefaultHandshakeTimeout = 30 * time.Second

// FaultPolicy decides what a provider's bootstrap failure does to the host.
type FaultPolicy int

const (
	// PolicyOptional providers degrade silently: a failure is logged,
	// the provider's tools are omitted from the merged set, and startup
	// continues.
	PolicyOptional FaultPolicy = iota

	// PolicyRequired providers escalate: a bootstrap failure propagates
	// through BootstrapAll and aborts host startup.
	PolicyRequired
)

// String returns the policy name as used in configuration.
func (p FaultPolicy) String() string {
	if p == PolicyRequired {
		return "required"
	}
	return "optional"
}

// TransportKind selects how a provider is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// Spec is the immutable description of one provider: how to reach it,
// what it needs, and what its failure means. Specs are built from
// configuration once at host startup and never mutated.
type Spec struct {
	Name             string
	Transport        TransportKind
	Command          string
	Args             []string
	Env              map[string]string
	URL              string
	Headers          map[string]string
	Policy           FaultPolicy
	HandshakeTimeout time.Duration
	IncludeTools     []string
	ExcludeTools     []string
}

// NewSpec validates a provider config entry and builds its Spec.
// All validation failures are *ConfigError: they surface at construction
// time, before any subprocess is spawned, and are never retried.
func NewSpec(p config.Provider) (Spec, error) {
	if p.Name == "" {
		return Spec{}, &ConfigError{Field: "name", Reason: "must not be empty"}
	}

	kind := TransportKind(p.Transport)
	if p.Transport == "" {
		kind = TransportStdio
	}

	switch kind {
	case TransportStdio:
		if p.Command == "" {
			return Spec{}, &ConfigError{Provider: p.Name, Field: "command", Reason: "required for stdio providers"}
		}
	case TransportHTTP:
		if p.URL == "" {
			return Spec{}, &ConfigError{Provider: p.Name, Field: "url", Reason: "required for http providers"}
		}
	default:
		return Spec{}, &ConfigError{Provider: p.Name, Field: "transport", Reason: "must be stdio or http"}
	}

	var policy FaultPolicy
	switch p.Policy {
	case "", "optional":
		policy = PolicyOptional
	case "required":
		policy = PolicyRequired
	default:
		return Spec{}, &ConfigError{Provider: p.Name, Field: "policy", Reason: "must be required or optional"}
	}

	// Credentials are the loader's responsibility: a provider missing a
	// required key fails here, not mid-handshake.
	for _, key := range p.RequiredEnv {
		if _, inSpec := p.Env[key]; inSpec {
			continue
		}
		if _, inProc := os.LookupEnv(key); inProc {
			continue
		}
		return Spec{}, &ConfigError{Provider: p.Name, Field: "required_env", Reason: "missing " + key}
	}

	timeout := DefaultHandshakeTimeout
	if p.HandshakeTimeoutSec > 0 {
		timeout = time.Duration(p.HandshakeTimeoutSec) * time.Second
	}

	return Spec{
		Name:             p.Name,
		Transport:        kind,
		Command:          p.Command,
		Args:             p.Args,
		Env:              p.Env,
		URL:              p.URL,
		Headers:          p.Headers,
		Policy:           policy,
		HandshakeTimeout: timeout,
		IncludeTools:     p.IncludeTools,
		ExcludeTools:     p.ExcludeTools,
	}, nil
}
